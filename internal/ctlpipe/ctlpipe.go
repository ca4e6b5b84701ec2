// Package ctlpipe implements the length-prefixed control-channel
// protocol spoken between the parent (mt) and each child TtyHostProcess
// (mthost) over a dedicated OS pipe — never the shell's own stdio, per
// §4.3/§9. The wire shape is simple on purpose: a one-byte frame type,
// a four-byte little-endian payload length, then the payload.
package ctlpipe

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// FrameType identifies a control-channel message. Unlike the mux wire
// format these values are private to the parent/child pair spawned
// together, so they don't need to be byte-stable across versions —
// but we still fix them for clarity while the pair is talking.
type FrameType byte

const (
	Input          FrameType = 1 // P->C: bytes to forward verbatim to the PTY writer
	Resize         FrameType = 2 // P->C: u16 cols, u16 rows
	BufferRequest  FrameType = 3 // P->C: u64 since-position
	Close          FrameType = 4 // P->C: empty, graceful shutdown
	Output         FrameType = 5 // C->P: u16 cols, u16 rows, bytes
	Exit           FrameType = 6 // C->P: i32 exit code
	Title          FrameType = 7 // C->P: UTF-8 string
	ForegroundInfo FrameType = 8 // C->P: pid u32, name, cmdline, cwd (length-prefixed strings)
	BufferChunk    FrameType = 9 // C->P: u64 pos, bytes
	BufferEnd      FrameType = 10 // C->P: u64 pos
)

func (t FrameType) String() string {
	switch t {
	case Input:
		return "INPUT"
	case Resize:
		return "RESIZE"
	case BufferRequest:
		return "BUFFER_REQUEST"
	case Close:
		return "CLOSE"
	case Output:
		return "OUTPUT"
	case Exit:
		return "EXIT"
	case Title:
		return "TITLE"
	case ForegroundInfo:
		return "FG_CHANGED"
	case BufferChunk:
		return "BUFFER_CHUNK"
	case BufferEnd:
		return "BUFFER_END"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// maxFramePayload guards against a corrupt length prefix turning into
// an unbounded allocation; OUTPUT chunks are always well under this.
const maxFramePayload = 32 * 1024 * 1024

// Frame is one decoded control-channel message.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Writer serializes frames onto an underlying connection. Safe for
// concurrent use: writes are serialized by a single mutex, matching
// §5's "single writer lock on that host's control pipe" requirement.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w for frame-at-a-time writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes one frame atomically with respect to other WriteFrame calls.
func (fw *Writer) WriteFrame(t FrameType, payload []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	var header [5]byte
	header[0] = byte(t)
	binary.LittleEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := fw.w.Write(header[:]); err != nil {
		return fmt.Errorf("ctlpipe: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := fw.w.Write(payload); err != nil {
			return fmt.Errorf("ctlpipe: write payload: %w", err)
		}
	}
	return nil
}

// Reader deserializes frames from an underlying connection. Not safe
// for concurrent use — each control pipe has exactly one reader task
// per §4.4/§5.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for frame-at-a-time reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame blocks until a full frame is available, returning io.EOF
// (or a wrapped read error) when the pipe closes.
func (fr *Reader) ReadFrame() (Frame, error) {
	var header [5]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return Frame{}, err
	}
	t := FrameType(header[0])
	n := binary.LittleEndian.Uint32(header[1:])
	if n > maxFramePayload {
		return Frame{}, fmt.Errorf("ctlpipe: frame payload %d exceeds limit", n)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return Frame{}, fmt.Errorf("ctlpipe: read payload: %w", err)
		}
	}
	return Frame{Type: t, Payload: payload}, nil
}

// EncodeResize packs a RESIZE payload.
func EncodeResize(cols, rows uint16) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], cols)
	binary.LittleEndian.PutUint16(b[2:4], rows)
	return b
}

// DecodeResize unpacks a RESIZE payload.
func DecodeResize(b []byte) (cols, rows uint16, err error) {
	if len(b) < 4 {
		return 0, 0, fmt.Errorf("ctlpipe: resize payload too short (%d bytes)", len(b))
	}
	return binary.LittleEndian.Uint16(b[0:2]), binary.LittleEndian.Uint16(b[2:4]), nil
}

// EncodeOutput packs an OUTPUT payload: dims followed by the raw bytes.
func EncodeOutput(cols, rows uint16, data []byte) []byte {
	b := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint16(b[0:2], cols)
	binary.LittleEndian.PutUint16(b[2:4], rows)
	copy(b[4:], data)
	return b
}

// DecodeOutput unpacks an OUTPUT payload.
func DecodeOutput(b []byte) (cols, rows uint16, data []byte, err error) {
	if len(b) < 4 {
		return 0, 0, nil, fmt.Errorf("ctlpipe: output payload too short (%d bytes)", len(b))
	}
	cols = binary.LittleEndian.Uint16(b[0:2])
	rows = binary.LittleEndian.Uint16(b[2:4])
	return cols, rows, b[4:], nil
}

// EncodeU64 packs a single little-endian u64 payload (BUFFER_REQUEST,
// the position prefix of BUFFER_CHUNK/BUFFER_END).
func EncodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// DecodeU64 unpacks a little-endian u64 payload.
func DecodeU64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("ctlpipe: u64 payload too short (%d bytes)", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// EncodeBufferChunk packs a BUFFER_CHUNK payload: position then bytes.
func EncodeBufferChunk(pos uint64, data []byte) []byte {
	b := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint64(b[0:8], pos)
	copy(b[8:], data)
	return b
}

// DecodeBufferChunk unpacks a BUFFER_CHUNK payload.
func DecodeBufferChunk(b []byte) (pos uint64, data []byte, err error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("ctlpipe: buffer chunk payload too short (%d bytes)", len(b))
	}
	return binary.LittleEndian.Uint64(b[0:8]), b[8:], nil
}

// EncodeExit packs an EXIT payload.
func EncodeExit(code int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(code))
	return b
}

// DecodeExit unpacks an EXIT payload.
func DecodeExit(b []byte) (int32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("ctlpipe: exit payload too short (%d bytes)", len(b))
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// ForegroundInfoMsg is the decoded FG_CHANGED payload (§4.3, §4.8).
type ForegroundInfoMsg struct {
	Pid     uint32
	Name    string
	Cmdline string
	Cwd     string
}

func putLenPrefixed(b []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	b = append(b, lenBuf[:]...)
	return append(b, s...)
}

func getLenPrefixed(b []byte) (s string, rest []byte, err error) {
	if len(b) < 4 {
		return "", nil, fmt.Errorf("ctlpipe: truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	if uint32(len(b)) < n {
		return "", nil, fmt.Errorf("ctlpipe: truncated string field")
	}
	return string(b[:n]), b[n:], nil
}

// EncodeForegroundInfo packs a FG_CHANGED payload.
func EncodeForegroundInfo(m ForegroundInfoMsg) []byte {
	b := make([]byte, 0, 4+len(m.Name)+len(m.Cmdline)+len(m.Cwd)+16)
	var pidBuf [4]byte
	binary.LittleEndian.PutUint32(pidBuf[:], m.Pid)
	b = append(b, pidBuf[:]...)
	b = putLenPrefixed(b, m.Name)
	b = putLenPrefixed(b, m.Cmdline)
	b = putLenPrefixed(b, m.Cwd)
	return b
}

// DecodeForegroundInfo unpacks a FG_CHANGED payload.
func DecodeForegroundInfo(b []byte) (ForegroundInfoMsg, error) {
	if len(b) < 4 {
		return ForegroundInfoMsg{}, fmt.Errorf("ctlpipe: fg_changed payload too short")
	}
	pid := binary.LittleEndian.Uint32(b[:4])
	rest := b[4:]
	name, rest, err := getLenPrefixed(rest)
	if err != nil {
		return ForegroundInfoMsg{}, err
	}
	cmdline, rest, err := getLenPrefixed(rest)
	if err != nil {
		return ForegroundInfoMsg{}, err
	}
	cwd, _, err := getLenPrefixed(rest)
	if err != nil {
		return ForegroundInfoMsg{}, err
	}
	return ForegroundInfoMsg{Pid: pid, Name: name, Cmdline: cmdline, Cwd: cwd}, nil
}
