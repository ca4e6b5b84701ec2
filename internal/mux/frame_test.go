package mux

import (
	"bytes"
	"testing"

	"github.com/midterm-hq/midterm/internal/wire"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		frameType wire.MuxFrameType
		sessionID string
		payload   []byte
	}{
		{"output with payload", wire.MuxOutput, "ABCDEFGH", []byte("hello\r\n")},
		{"empty session id", wire.MuxInit, "", []byte("client-1")},
		{"short session id zero padded", wire.MuxResize, "AB", []byte{1, 2, 3, 4}},
		{"empty payload", wire.MuxBufferRequest, "ABCDEFGH", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wireBytes := Encode(tc.frameType, tc.sessionID, tc.payload)
			got, err := Decode(wireBytes)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Type != tc.frameType {
				t.Errorf("Type = %v, want %v", got.Type, tc.frameType)
			}
			if got.SessionID != tc.sessionID {
				t.Errorf("SessionID = %q, want %q", got.SessionID, tc.sessionID)
			}
			if !bytes.Equal(got.Payload, tc.payload) {
				t.Errorf("Payload = %v, want %v", got.Payload, tc.payload)
			}
		})
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	if _, err := Decode([]byte{0x01, 'A'}); err == nil {
		t.Fatal("expected error decoding too-short frame")
	}
}

func TestOutputPayloadRoundTrip(t *testing.T) {
	payload := EncodeOutputPayload(120, 30, []byte("30 120\r\n"))
	cols, rows, data, err := DecodeOutputPayload(payload)
	if err != nil {
		t.Fatalf("DecodeOutputPayload: %v", err)
	}
	if cols != 120 || rows != 30 {
		t.Errorf("dims = (%d,%d), want (120,30)", cols, rows)
	}
	if string(data) != "30 120\r\n" {
		t.Errorf("data = %q", data)
	}
}

func TestEncodeOutputFrameUsesCompressionAboveThreshold(t *testing.T) {
	small := encodeOutputFrame("ABCDEFGH", 80, 24, []byte("hi"))
	f, err := Decode(small)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Type != wire.MuxOutput {
		t.Errorf("small payload Type = %v, want OUTPUT", f.Type)
	}

	big := bytes.Repeat([]byte("x"), compressThreshold*4)
	large := encodeOutputFrame("ABCDEFGH", 80, 24, big)
	f, err = Decode(large)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Type != wire.MuxCompressedOutput {
		t.Errorf("large payload Type = %v, want COMPRESSED_OUTPUT", f.Type)
	}
	decompressed, err := gzipDecompress(f.Payload)
	if err != nil {
		t.Fatalf("gzipDecompress: %v", err)
	}
	_, _, data, err := DecodeOutputPayload(decompressed)
	if err != nil {
		t.Fatalf("DecodeOutputPayload: %v", err)
	}
	if !bytes.Equal(data, big) {
		t.Error("decompressed output does not match original")
	}
}
