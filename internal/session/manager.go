package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/midterm-hq/midterm/internal/beacon"
	"github.com/midterm-hq/midterm/internal/ctlpipe"
	"github.com/midterm-hq/midterm/internal/hostproc"
	"github.com/midterm-hq/midterm/internal/ring"
)

const (
	spawnTimeout       = 5 * time.Second
	closeGraceful      = 3 * time.Second
	shutdownDrain      = 8 * time.Second
	controlWriteTimeout = 2 * time.Second
)

// CreateOptions are the caller-supplied parameters for a new session (§4.4).
type CreateOptions struct {
	Cols, Rows int
	Shell      string
	Cwd        string
	Name       string
}

// Manager is the parent-side SessionManager: authoritative registry,
// sole id issuer, fan-in point for host events, fan-out point to state
// and mux subscribers (§4.4).
type Manager struct {
	stateDir    string
	ringBytes   int
	mthostPath  string
	defaultShell string
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
	nextSeq  uint64

	subMu sync.Mutex
	subs  map[*subscriber]struct{}

	closed int32
}

// NewManager constructs a Manager rooted at stateDir. mthostPath is the
// path to the mthost binary; if empty, it is resolved relative to the
// running executable.
func NewManager(stateDir string, ringBytes int, mthostPath, defaultShell string, maxSessions int) *Manager {
	if ringBytes <= 0 {
		ringBytes = 1 << 20
	}
	if mthostPath == "" {
		mthostPath = resolveMthostPath()
	}
	return &Manager{
		stateDir:     stateDir,
		ringBytes:    ringBytes,
		mthostPath:   mthostPath,
		defaultShell: defaultShell,
		maxSessions:  maxSessions,
		sessions:     make(map[string]*Session),
		subs:         make(map[*subscriber]struct{}),
	}
}

func resolveMthostPath() string {
	if p := os.Getenv("MIDTERM_MTHOST_PATH"); p != "" {
		return p
	}
	self, err := os.Executable()
	if err == nil {
		sibling := filepath.Join(filepath.Dir(self), "mthost")
		if _, statErr := os.Stat(sibling); statErr == nil {
			return sibling
		}
	}
	if p, err := exec.LookPath("mthost"); err == nil {
		return p
	}
	return "mthost"
}

// Subscribe registers a new event listener and returns its channel and
// an unsubscribe function, used by both the mux fan-out and the state
// channel publisher (§4.4).
func (m *Manager) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberQueueSize), done: make(chan struct{})}
	m.subMu.Lock()
	m.subs[sub] = struct{}{}
	m.subMu.Unlock()

	unsub := func() {
		m.subMu.Lock()
		if _, ok := m.subs[sub]; ok {
			delete(m.subs, sub)
			close(sub.done)
		}
		m.subMu.Unlock()
	}
	return sub.ch, unsub
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for sub := range m.subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		default:
			logrus.WithField("session", ev.SessionID).Warn("session: subscriber queue full, dropping event")
		}
	}
}

// List returns a snapshot of every known session, ordered by creation order.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return s, nil
}

// Create allocates an id, spawns a host, waits for READY, registers
// the session, and publishes a state delta (§4.4).
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, &LimitReached{Limit: m.maxSessions}
	}
	m.mu.Unlock()

	shell := opts.Shell
	if shell == "" {
		shell = m.defaultShell
	}
	cols, rows := clampDims(opts.Cols), clampDims(opts.Rows)

	id, err := m.nextSessionID()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(m.mthostPath, id, strconv.Itoa(cols), strconv.Itoa(rows), shell)
	if opts.Cwd != "" {
		cmd.Args = append(cmd.Args, "--cwd", opts.Cwd)
	}
	cmd.Env = append(os.Environ(), "MIDTERM_STATE_DIR="+m.stateDir)
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnFailed{Reason: "stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnFailed{Reason: "exec mthost", Err: err}
	}

	pid, address, readyErr := waitForReady(stderrPipe, spawnTimeout)
	if readyErr != nil {
		_ = cmd.Process.Kill()
		return nil, &SpawnFailed{Reason: "spawn timeout", Err: readyErr}
	}

	conn, err := hostproc.Dial(address)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, &SpawnFailed{Reason: "dial control channel", Err: err}
	}

	seq := atomic.AddUint64(&m.nextSeq, 1)
	s := &Session{
		ID:         id,
		Ring:       ring.NewSync(m.ringBytes),
		name:       opts.Name,
		shell:      shell,
		cols:       cols,
		rows:       rows,
		order:      seq,
		state:      Running,
		pid:        pid,
		createdAt:  time.Now(),
		currentDir: opts.Cwd,
		conn:       conn,
		writer:     ctlpipe.NewWriter(conn),
		doneCh:     make(chan struct{}),
	}
	if opts.Name != "" {
		s.manuallyNamed = true
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go m.fanIn(s, cmd)
	m.publish(Event{Kind: EventStateChanged, SessionID: id})

	return s, nil
}

// DiscoverExistingSessionsAsync scans the beacon directory at startup
// and adopts any host whose pid is alive and whose control channel is
// reachable; stale beacons (dead pid, or unreachable channel) are
// deleted (§4.4, §6, §4.9).
func (m *Manager) DiscoverExistingSessionsAsync() {
	for id, b := range beacon.List(m.stateDir) {
		if !beacon.PidAlive(b.Pid) {
			logrus.WithField("session", id).Info("session: pruning stale beacon (pid dead)")
			_ = beacon.Remove(m.stateDir, id)
			continue
		}
		conn, err := hostproc.Dial(b.ControlPipePath)
		if err != nil {
			logrus.WithError(err).WithField("session", id).Warn("session: adoption dial failed, pruning beacon")
			_ = beacon.Remove(m.stateDir, id)
			continue
		}
		m.adopt(id, b, conn)
	}
}

// WatchBeacons watches the beacon directory for files written after
// startup (a host that outlived a parent crash but whose beacon was
// written while this parent was already running a fresh discovery
// pass) and adopts them as they appear, until ctx is canceled.
// Failures to start the watcher are logged and non-fatal: beacon
// adoption still happens once, at startup, via
// DiscoverExistingSessionsAsync.
func (m *Manager) WatchBeacons(ctx context.Context) {
	dir := filepath.Join(m.stateDir, "sessions")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logrus.WithError(err).Warn("session: beacon watch disabled, cannot create sessions dir")
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.WithError(err).Warn("session: beacon watch disabled")
		return
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		logrus.WithError(err).Warn("session: beacon watch disabled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || filepath.Ext(ev.Name) != ".json" {
				continue
			}
			m.adoptIfNew(strings.TrimSuffix(filepath.Base(ev.Name), ".json"))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Debug("session: beacon watcher error")
		}
	}
}

func (m *Manager) adoptIfNew(id string) {
	m.mu.RLock()
	_, exists := m.sessions[id]
	m.mu.RUnlock()
	if exists {
		return
	}
	b, ok := beacon.List(m.stateDir)[id]
	if !ok || !beacon.PidAlive(b.Pid) {
		return
	}
	conn, err := hostproc.Dial(b.ControlPipePath)
	if err != nil {
		return
	}
	m.adopt(id, b, conn)
}

func (m *Manager) adopt(id string, b beacon.Beacon, conn net.Conn) {
	seq := atomic.AddUint64(&m.nextSeq, 1)
	s := &Session{
		ID:        id,
		Ring:      ring.NewSync(m.ringBytes),
		shell:     b.Shell,
		cols:      b.Cols,
		rows:      b.Rows,
		order:     seq,
		state:     Running,
		pid:       b.Pid,
		createdAt: b.CreatedAt,
		conn:      conn,
		writer:    ctlpipe.NewWriter(conn),
		doneCh:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	// Catch the mirror ring up to the host's current scrollback before
	// the fan-in loop starts delivering live OUTPUT, per §4.9.
	_ = s.writer.WriteFrame(ctlpipe.BufferRequest, ctlpipe.EncodeU64(0))

	go m.fanIn(s, nil)
	logrus.WithField("session", id).Info("session: adopted orphaned host")
	m.publish(Event{Kind: EventStateChanged, SessionID: id})
}

// maxIDCollisionRetries bounds the id-allocation loop in nextSessionID;
// at 8 bytes drawn from a 62-character alphabet, a real collision is
// astronomically unlikely, so this only guards against a broken
// generator.
const maxIDCollisionRetries = 10

// nextSessionID draws a fresh id via generateID, retrying on collision
// against the currently-registered sessions (§4.4).
func (m *Manager) nextSessionID() (string, error) {
	for attempt := 0; ; attempt++ {
		candidate, err := generateID()
		if err != nil {
			return "", &SpawnFailed{Reason: "id generation", Err: err}
		}
		m.mu.RLock()
		_, exists := m.sessions[candidate]
		m.mu.RUnlock()
		if !exists {
			return candidate, nil
		}
		if attempt >= maxIDCollisionRetries {
			return "", &SpawnFailed{Reason: "id collision retries exhausted"}
		}
	}
}

func clampDims(v int) int {
	if v < 1 {
		return 1
	}
	if v > 500 {
		return 500
	}
	return v
}

// waitForReady scans the child's stderr for "READY <pid> <cols> <rows> <address>".
func waitForReady(stderr io.Reader, timeout time.Duration) (int, string, error) {
	type result struct {
		pid     int
		address string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			var pid, cols, rows int
			var address string
			if n, _ := fmt.Sscanf(scanner.Text(), "READY %d %d %d %s", &pid, &cols, &rows, &address); n == 4 {
				ch <- result{pid: pid, address: address}
				return
			}
		}
		ch <- result{err: fmt.Errorf("session: host exited before READY")}
	}()

	select {
	case r := <-ch:
		return r.pid, r.address, r.err
	case <-time.After(timeout):
		return 0, "", fmt.Errorf("session: no READY line within %s", timeout)
	}
}

// fanIn is the one dedicated task per host that reads control-frames
// and routes them to the ring, mux fan-out, and state publisher (§4.4).
func (m *Manager) fanIn(s *Session, cmd *exec.Cmd) {
	reader := ctlpipe.NewReader(s.conn)
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			break
		}
		switch frame.Type {
		case ctlpipe.Output:
			cols, rows, data, err := ctlpipe.DecodeOutput(frame.Payload)
			if err != nil {
				continue
			}
			s.Ring.Write(data) // scrollback append happens-before fan-out, per §4.4
			s.setDims(int(cols), int(rows))
			m.publish(Event{Kind: EventOutput, SessionID: s.ID, Cols: int(cols), Rows: int(rows), Data: data})
		case ctlpipe.Title:
			s.mu.Lock()
			if !s.manuallyNamed {
				s.name = string(frame.Payload)
			}
			s.mu.Unlock()
			m.publish(Event{Kind: EventStateChanged, SessionID: s.ID})
		case ctlpipe.ForegroundInfo:
			info, err := ctlpipe.DecodeForegroundInfo(frame.Payload)
			if err != nil {
				continue
			}
			s.mu.Lock()
			s.fgPid = int(info.Pid)
			s.fgName = info.Name
			s.fgCmdline = info.Cmdline
			s.fgCwd = info.Cwd
			if info.Cwd != "" {
				s.currentDir = info.Cwd
			}
			s.mu.Unlock()
			m.publish(Event{
				Kind:      EventForegroundChange,
				SessionID: s.ID,
				Foreground: ForegroundInfo{
					Pid: int(info.Pid), Name: info.Name, Cmdline: info.Cmdline, Cwd: info.Cwd,
				},
			})
			m.publish(Event{Kind: EventStateChanged, SessionID: s.ID})
		case ctlpipe.Exit:
			code, _ := ctlpipe.DecodeExit(frame.Payload)
			s.setState(Closing, ExitReasonShellExited)
			m.publish(Event{Kind: EventExit, SessionID: s.ID, ExitCode: int(code)})
			m.publish(Event{Kind: EventStateChanged, SessionID: s.ID})
		case ctlpipe.BufferChunk:
			// Catch-up reply to the single BUFFER_REQUEST sent on adoption
			// (§4.9); chunks arrive in order, so a plain append reproduces
			// the host's scrollback into our initially-empty mirror ring.
			_, data, err := ctlpipe.DecodeBufferChunk(frame.Payload)
			if err != nil {
				continue
			}
			s.Ring.Write(data)
		case ctlpipe.BufferEnd:
			// Catch-up complete; nothing further to do.
		}
	}

	s.setState(Closing, s.exitReasonOrDefault())
	if cmd != nil {
		_ = cmd.Wait()
	}
	_ = beacon.Remove(m.stateDir, s.ID)
	s.markExited(s.exitReasonOrDefault())
	m.publish(Event{Kind: EventStateChanged, SessionID: s.ID})
}

func (s *Session) exitReasonOrDefault() ExitReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.exitReason == ExitReasonNone {
		return ExitReasonHostCrash
	}
	return s.exitReason
}

// Close sends CLOSE on the control channel; if the child does not exit
// within closeGraceful, force-kills it (§4.4).
func (m *Manager) Close(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.setState(Closing, ExitReasonNone)
	_ = s.writer.WriteFrame(ctlpipe.Close, nil)

	select {
	case <-s.Done():
	case <-time.After(closeGraceful):
		s.setState(Closing, ExitReasonForceKilled)
		_ = s.conn.Close()
		<-s.Done()
	}
	return nil
}

// Rename sets the display name; ignored if auto and the session was
// already manually named (§4.4).
func (m *Manager) Rename(id, name string, auto bool) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if auto && s.manuallyNamed {
		s.mu.Unlock()
		return nil
	}
	s.name = name
	if !auto {
		s.manuallyNamed = true
	}
	s.mu.Unlock()
	m.publish(Event{Kind: EventStateChanged, SessionID: id})
	return nil
}

// Resize forwards a new geometry to the host; the registry entry is
// updated when the host's next OUTPUT frame reports the new header
// (§4.4, §4.6). clientID/active feed the viewport
// dimension authority's stale-quiesce rule; pass active=true for calls
// that don't originate from a specific mux client (e.g. the HTTP API).
func (m *Manager) Resize(id string, cols, rows int, clientID string, active bool) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.State() != Running {
		return &ErrClosed{ID: id}
	}
	cols, rows = clampDims(cols), clampDims(rows)
	if !s.acceptResize(clientID, active) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), controlWriteTimeout)
	defer cancel()
	return writeWithTimeout(ctx, s.writer, ctlpipe.Resize, ctlpipe.EncodeResize(uint16(cols), uint16(rows)))
}

// WriteInput forwards bytes to the host unbuffered (§4.4).
func (m *Manager) WriteInput(id string, data []byte) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.State() != Running {
		return &ErrClosed{ID: id}
	}
	ctx, cancel := context.WithTimeout(context.Background(), controlWriteTimeout)
	defer cancel()
	return writeWithTimeout(ctx, s.writer, ctlpipe.Input, data)
}

func writeWithTimeout(ctx context.Context, w *ctlpipe.Writer, t ctlpipe.FrameType, payload []byte) error {
	done := make(chan error, 1)
	go func() { done <- w.WriteFrame(t, payload) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("session: control-channel write timed out")
	}
}

// DisposeAsync is cooperative shutdown: broadcast CLOSE, await up to
// shutdownDrain, then force-kill (§4.4, §5).
func (m *Manager) DisposeAsync() {
	atomic.StoreInt32(&m.closed, 1)
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		_ = s.writer.WriteFrame(ctlpipe.Close, nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			_ = s.conn.Close()
		}
	}
}
