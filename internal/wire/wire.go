// Package wire defines the bit-exact constants shared by the mux and
// control-channel binary protocols: frame type bytes, header widths, and
// WebSocket close codes. Nothing here knows about sessions or sockets —
// it is the vocabulary internal/mux and its callers speak. The
// control channel's frame types live in internal/ctlpipe itself.
package wire

import "fmt"

// SessionIDLen is the fixed width of a session id as it appears on the
// wire: 8 printable ASCII characters, zero-padded if ever shorter.
const SessionIDLen = 8

// MuxFrameType is the first byte of every mux-channel frame.
type MuxFrameType byte

// Exact byte values per the mux wire format. Never renumber these —
// clients compiled against an older server depend on them.
const (
	MuxOutput            MuxFrameType = 0x01
	MuxInput              MuxFrameType = 0x02
	MuxResize             MuxFrameType = 0x03
	MuxResync             MuxFrameType = 0x05
	MuxBufferRequest       MuxFrameType = 0x06
	MuxCompressedOutput    MuxFrameType = 0x07
	MuxActiveHint          MuxFrameType = 0x08
	MuxPing                MuxFrameType = 0x09
	MuxForegroundChange    MuxFrameType = 0x0A
	MuxDataLoss            MuxFrameType = 0x0B
	MuxPong                MuxFrameType = 0x0C
	MuxInit                MuxFrameType = 0xFF
)

func (t MuxFrameType) String() string {
	switch t {
	case MuxOutput:
		return "OUTPUT"
	case MuxInput:
		return "INPUT"
	case MuxResize:
		return "RESIZE"
	case MuxResync:
		return "RESYNC"
	case MuxBufferRequest:
		return "BUFFER_REQUEST"
	case MuxCompressedOutput:
		return "COMPRESSED_OUTPUT"
	case MuxActiveHint:
		return "ACTIVE_HINT"
	case MuxPing:
		return "PING"
	case MuxForegroundChange:
		return "FOREGROUND_CHANGE"
	case MuxDataLoss:
		return "DATA_LOSS"
	case MuxPong:
		return "PONG"
	case MuxInit:
		return "INIT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
	}
}

// WebSocket close codes used by the mux channel (§4.5, §7).
const (
	CloseProtocolError   = 4400
	CloseAuthFailed      = 4401
	CloseServerShutdown  = 4503
)

// MinDim and MaxDim bound cols/rows per the session invariant in §3.
const (
	MinDim = 1
	MaxDim = 500
)

// ClampDim clamps a requested dimension into [MinDim, MaxDim].
func ClampDim(v int) int {
	if v < MinDim {
		return MinDim
	}
	if v > MaxDim {
		return MaxDim
	}
	return v
}

// EncodeSessionID renders a session id as its fixed 8-byte wire form,
// zero-padding on the right if the id is shorter for any reason.
func EncodeSessionID(id string) [SessionIDLen]byte {
	var out [SessionIDLen]byte
	copy(out[:], id)
	return out
}

// DecodeSessionID trims trailing zero bytes from a wire-form session id.
func DecodeSessionID(b [SessionIDLen]byte) string {
	n := SessionIDLen
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}
