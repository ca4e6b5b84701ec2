// Package mux implements the binary mux WebSocket channel: per-client
// framing, fan-out from the session manager's event stream, and the
// backpressure/coalesce policy for background sessions (§4.5).
package mux

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"

	"github.com/midterm-hq/midterm/internal/wire"
)

// Frame is one decoded mux WebSocket message: [type:u8][id:8][payload].
type Frame struct {
	Type      wire.MuxFrameType
	SessionID string
	Payload   []byte
}

const headerLen = 1 + wire.SessionIDLen

// Decode parses a raw WebSocket binary message into a Frame.
func Decode(data []byte) (Frame, error) {
	if len(data) < headerLen {
		return Frame{}, fmt.Errorf("mux: frame too short (%d bytes, want >= %d)", len(data), headerLen)
	}
	var idBytes [wire.SessionIDLen]byte
	copy(idBytes[:], data[1:headerLen])
	return Frame{
		Type:      wire.MuxFrameType(data[0]),
		SessionID: wire.DecodeSessionID(idBytes),
		Payload:   data[headerLen:],
	}, nil
}

// Encode renders a frame to its wire bytes.
func Encode(t wire.MuxFrameType, sessionID string, payload []byte) []byte {
	idBytes := wire.EncodeSessionID(sessionID)
	buf := make([]byte, 0, headerLen+len(payload))
	buf = append(buf, byte(t))
	buf = append(buf, idBytes[:]...)
	buf = append(buf, payload...)
	return buf
}

// EncodeDims renders the 4-byte cols/rows header shared by OUTPUT and
// RESIZE payloads.
func EncodeDims(cols, rows uint16) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], cols)
	binary.LittleEndian.PutUint16(buf[2:4], rows)
	return buf
}

// DecodeDims parses the 4-byte cols/rows header.
func DecodeDims(b []byte) (cols, rows uint16, err error) {
	if len(b) < 4 {
		return 0, 0, fmt.Errorf("mux: dims payload too short (%d bytes)", len(b))
	}
	return binary.LittleEndian.Uint16(b[0:2]), binary.LittleEndian.Uint16(b[2:4]), nil
}

// EncodeOutputPayload builds the [cols][rows][bytes] payload carried by
// both OUTPUT and (pre-compression) COMPRESSED_OUTPUT frames.
func EncodeOutputPayload(cols, rows uint16, data []byte) []byte {
	payload := make([]byte, 4, 4+len(data))
	binary.LittleEndian.PutUint16(payload[0:2], cols)
	binary.LittleEndian.PutUint16(payload[2:4], rows)
	return append(payload, data...)
}

// DecodeOutputPayload splits an OUTPUT (or decompressed COMPRESSED_OUTPUT)
// payload back into dimensions and terminal bytes.
func DecodeOutputPayload(b []byte) (cols, rows uint16, data []byte, err error) {
	cols, rows, err = DecodeDims(b)
	if err != nil {
		return 0, 0, nil, err
	}
	return cols, rows, b[4:], nil
}

func gzipCompress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// compressThreshold is the payload size above which OUTPUT is sent as
// COMPRESSED_OUTPUT instead (§4.5 "e.g. 1 KiB").
const compressThreshold = 1024

// encodeOutputFrame picks OUTPUT or COMPRESSED_OUTPUT depending on size;
// compression is a pure per-frame transform, safe to toggle (§9).
func encodeOutputFrame(sessionID string, cols, rows int, data []byte) []byte {
	payload := EncodeOutputPayload(uint16(cols), uint16(rows), data)
	if len(data) < compressThreshold {
		return Encode(wire.MuxOutput, sessionID, payload)
	}
	compressed, err := gzipCompress(payload)
	if err != nil || len(compressed) >= len(payload) {
		return Encode(wire.MuxOutput, sessionID, payload)
	}
	return Encode(wire.MuxCompressedOutput, sessionID, compressed)
}

func encodeU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func decodeU64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("mux: u64 payload too short (%d bytes)", len(b))
	}
	return binary.LittleEndian.Uint64(b[:8]), nil
}
