package hostproc

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/midterm-hq/midterm/internal/beacon"
	"github.com/midterm-hq/midterm/internal/ctlpipe"
	"github.com/midterm-hq/midterm/internal/procmon"
	"github.com/midterm-hq/midterm/internal/ptydevice"
	"github.com/midterm-hq/midterm/internal/ring"
)

// Options configure a single TtyHostProcess run.
type Options struct {
	StateDir   string
	SessionID  string
	Shell      string
	ShellArgs  []string
	Cwd        string
	Cols, Rows int
	Env        []string
	RingBytes  int
}

// TtyHostProcess is the sole owner of one PtyDevice: it relays INPUT
// and RESIZE from the control channel into the PTY, appends PTY output
// to a scrollback ring, forwards OUTPUT/TITLE/FG_CHANGED/EXIT back to
// whichever parent is currently connected, and answers BUFFER_REQUEST
// from the ring (§4.3). The control channel listener outlives any one
// parent connection so a restarted parent can adopt this host (§4.9).
type TtyHostProcess struct {
	opts     Options
	device   ptydevice.Device
	ring     *ring.SyncRing
	listener net.Listener

	writerMu sync.RWMutex
	writer   *ctlpipe.Writer // nil when no parent is currently connected

	cols, rows int
	dimsMu     sync.Mutex

	monitor    procmon.Monitor
	lastTitle  string
	titleMu    sync.Mutex
	closedOnce sync.Once
	stopped    chan struct{}
}

const defaultRingBytes = 1 << 20 // 1 MiB scrollback per session

// Run is the entire lifetime of one mthost process: open the control
// listener, spawn the PTY, print the READY line, and loop accepting
// parent connections until CLOSE or the shell exits.
func Run(opts Options) int {
	if opts.RingBytes <= 0 {
		opts.RingBytes = defaultRingBytes
	}

	ln, address, err := Listen(opts.StateDir, opts.SessionID)
	if err != nil {
		logrus.WithError(err).Error("hostproc: open control listener")
		return 1
	}

	device, err := ptydevice.Start(ptydevice.Options{
		App:  opts.Shell,
		Args: opts.ShellArgs,
		Cwd:  opts.Cwd,
		Cols: opts.Cols,
		Rows: opts.Rows,
		Env:  opts.Env,
	})
	if err != nil {
		logrus.WithError(err).Error("hostproc: spawn pty")
		ln.Close()
		return 1
	}

	h := &TtyHostProcess{
		opts:     opts,
		device:   device,
		ring:     ring.NewSync(opts.RingBytes),
		listener: ln,
		cols:     opts.Cols,
		rows:     opts.Rows,
		stopped:  make(chan struct{}),
	}

	now := time.Now()
	_ = beacon.Write(opts.StateDir, opts.SessionID, beacon.Beacon{
		Pid: device.Pid(), Cols: opts.Cols, Rows: opts.Rows, Shell: opts.Shell,
		CreatedAt: now, ControlPipePath: address,
	})

	fmt.Fprintf(os.Stderr, "READY %d %d %d %s\n", device.Pid(), opts.Cols, opts.Rows, address)

	h.monitor = procmon.New(device.Pid())
	defer h.monitor.Close()

	go h.acceptLoop()
	go h.pumpForegroundChanges()

	h.pumpPtyOutput() // blocks for the life of the shell
	return 0
}

// acceptLoop serves one parent connection at a time; when one drops
// (parent restart, network hiccup), it waits for the next one instead
// of tearing the host down.
func (h *TtyHostProcess) acceptLoop() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			return // listener closed during shutdown
		}
		h.serveConn(conn)
	}
}

func (h *TtyHostProcess) serveConn(conn net.Conn) {
	writer := ctlpipe.NewWriter(conn)
	h.writerMu.Lock()
	h.writer = writer
	h.writerMu.Unlock()

	defer func() {
		h.writerMu.Lock()
		if h.writer == writer {
			h.writer = nil
		}
		h.writerMu.Unlock()
		conn.Close()
	}()

	reader := ctlpipe.NewReader(conn)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if err != io.EOF {
				logrus.WithError(err).Debug("hostproc: control channel read")
			}
			return
		}
		h.handleFrame(frame, writer)
	}
}

func (h *TtyHostProcess) handleFrame(frame ctlpipe.Frame, writer *ctlpipe.Writer) {
	switch frame.Type {
	case ctlpipe.Input:
		if _, err := h.device.Writer().Write(frame.Payload); err != nil {
			logrus.WithError(err).Warn("hostproc: write to pty")
		}
	case ctlpipe.Resize:
		colsU16, rowsU16, err := ctlpipe.DecodeResize(frame.Payload)
		if err != nil {
			logrus.WithError(err).Warn("hostproc: decode resize")
			return
		}
		cols, rows := int(colsU16), int(rowsU16)
		if err := h.device.Resize(cols, rows); err != nil {
			logrus.WithError(err).Warn("hostproc: resize pty")
		}
		h.setDims(cols, rows)
		// Emit an OUTPUT header refresh so clients observe the new
		// geometry in-order with the byte stream, even if the pty
		// produces no bytes in response (§4.3).
		h.emit(ctlpipe.Output, ctlpipe.EncodeOutput(colsU16, rowsU16, nil))
	case ctlpipe.BufferRequest:
		since, err := ctlpipe.DecodeU64(frame.Payload)
		if err != nil {
			logrus.WithError(err).Warn("hostproc: decode buffer request")
			return
		}
		h.replyBufferTo(writer, since)
	case ctlpipe.Close:
		h.gracefulClose()
	}
}

// closeGrace bounds how long gracefulClose waits for the shell to exit
// on its own after Hangup before escalating to Kill (§4.3). It is
// intentionally short: the parent's own Close has a much longer outer
// timeout and force-kills regardless.
const closeGrace = 1 * time.Second

// gracefulClose implements CLOSE's documented two-stage semantics: ask
// the shell to exit (SIGHUP-equivalent), then force-kill only if it
// hasn't within closeGrace.
func (h *TtyHostProcess) gracefulClose() {
	if err := h.device.Hangup(); err != nil {
		logrus.WithError(err).Debug("hostproc: hangup")
	}
	go func() {
		if err := h.device.WaitForExit(closeGrace); err != nil {
			_ = h.device.Kill()
		}
	}()
}

func (h *TtyHostProcess) currentDims() (int, int) {
	h.dimsMu.Lock()
	defer h.dimsMu.Unlock()
	return h.cols, h.rows
}

func (h *TtyHostProcess) setDims(cols, rows int) {
	h.dimsMu.Lock()
	h.cols, h.rows = cols, rows
	h.dimsMu.Unlock()
}

// emit writes a frame to whichever parent is currently connected, if
// any. A disconnected host keeps filling its ring regardless.
func (h *TtyHostProcess) emit(t ctlpipe.FrameType, payload []byte) {
	h.writerMu.RLock()
	w := h.writer
	h.writerMu.RUnlock()
	if w == nil {
		return
	}
	if err := w.WriteFrame(t, payload); err != nil {
		logrus.WithError(err).Debug("hostproc: emit frame")
	}
}

// pumpPtyOutput is the host read-loop: it appends PTY bytes to the
// ring before forwarding an OUTPUT frame, per §5's ordering guarantee.
func (h *TtyHostProcess) pumpPtyOutput() {
	buf := make([]byte, 32*1024)
	for {
		n, err := h.device.Reader().Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			h.ring.Write(chunk)
			cols, rows := h.currentDims()
			if title, ok := extractTitle(chunk); ok {
				h.maybeEmitTitle(title)
			}
			h.emit(ctlpipe.Output, ctlpipe.EncodeOutput(uint16(cols), uint16(rows), chunk))
		}
		if err != nil {
			exitCode := h.device.ExitCode()
			h.emit(ctlpipe.Exit, ctlpipe.EncodeExit(int32(exitCode)))
			h.shutdown()
			return
		}
	}
}

func (h *TtyHostProcess) maybeEmitTitle(title string) {
	h.titleMu.Lock()
	changed := title != h.lastTitle
	if changed {
		h.lastTitle = title
	}
	h.titleMu.Unlock()
	if changed {
		h.emit(ctlpipe.Title, []byte(title))
	}
}

const bufferChunkSize = 64 * 1024

func (h *TtyHostProcess) replyBufferTo(writer *ctlpipe.Writer, since uint64) {
	data, ok := h.ring.CopySince(since)
	pos := since
	if !ok {
		data = h.ring.Snapshot()
		pos = h.ring.TailPosition()
	}
	for len(data) > 0 {
		n := len(data)
		if n > bufferChunkSize {
			n = bufferChunkSize
		}
		if err := writer.WriteFrame(ctlpipe.BufferChunk, ctlpipe.EncodeBufferChunk(pos, data[:n])); err != nil {
			return
		}
		pos += uint64(n)
		data = data[n:]
	}
	_ = writer.WriteFrame(ctlpipe.BufferEnd, ctlpipe.EncodeU64(pos))
}

func (h *TtyHostProcess) pumpForegroundChanges() {
	for info := range h.monitor.Changes() {
		msg := ctlpipe.ForegroundInfoMsg{
			Pid:     uint32(info.Pid),
			Name:    info.Name,
			Cmdline: info.Cmdline,
			Cwd:     info.Cwd,
		}
		h.emit(ctlpipe.ForegroundInfo, ctlpipe.EncodeForegroundInfo(msg))
	}
}

func (h *TtyHostProcess) shutdown() {
	h.closedOnce.Do(func() {
		_ = h.device.Dispose()
		_ = h.listener.Close()
		_ = beacon.Remove(h.opts.StateDir, h.opts.SessionID)
		close(h.stopped)
	})
}

// extractTitle scans a chunk of PTY output for an OSC 0/2 title
// sequence (ESC ] 0 ; text BEL, or the ST-terminated form) and returns
// the last complete one found.
func extractTitle(chunk []byte) (string, bool) {
	const (
		esc = 0x1b
		bel = 0x07
	)
	found := ""
	ok := false
	for i := 0; i < len(chunk); i++ {
		if chunk[i] != esc || i+1 >= len(chunk) || chunk[i+1] != ']' {
			continue
		}
		j := i + 2
		if j >= len(chunk) || (chunk[j] != '0' && chunk[j] != '2') {
			continue
		}
		j++
		if j >= len(chunk) || chunk[j] != ';' {
			continue
		}
		j++
		start := j
		for j < len(chunk) && chunk[j] != bel && chunk[j] != esc {
			j++
		}
		if j < len(chunk) {
			found = string(chunk[start:j])
			ok = true
			i = j
		}
	}
	return found, ok
}
