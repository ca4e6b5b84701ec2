package ctlpipe

import (
	"bytes"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	cases := []struct {
		typ     FrameType
		payload []byte
	}{
		{Input, []byte("echo hi\n")},
		{Resize, EncodeResize(120, 30)},
		{BufferRequest, EncodeU64(42)},
		{Close, nil},
		{Output, EncodeOutput(80, 24, []byte("hello\r\n"))},
		{Exit, EncodeExit(-1)},
		{Title, []byte("my shell")},
		{ForegroundInfo, EncodeForegroundInfo(ForegroundInfoMsg{Pid: 123, Name: "vim", Cmdline: "vim foo.go", Cwd: "/home/x"})},
		{BufferChunk, EncodeBufferChunk(7, []byte("chunk"))},
		{BufferEnd, EncodeU64(100)},
	}

	for _, c := range cases {
		if err := w.WriteFrame(c.typ, c.payload); err != nil {
			t.Fatalf("WriteFrame(%v): %v", c.typ, err)
		}
	}

	for _, want := range cases {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame(): %v", err)
		}
		if got.Type != want.typ {
			t.Errorf("Type = %v, want %v", got.Type, want.typ)
		}
		if !bytes.Equal(got.Payload, want.payload) {
			t.Errorf("Payload = %v, want %v", got.Payload, want.payload)
		}
	}

	if _, err := r.ReadFrame(); err != io.EOF {
		t.Errorf("trailing ReadFrame() err = %v, want io.EOF", err)
	}
}

func TestDecodeResizeTooShort(t *testing.T) {
	if _, _, err := DecodeResize([]byte{1, 2}); err == nil {
		t.Error("DecodeResize with short payload: want error, got nil")
	}
}

func TestDecodeOutputSplitsDimsAndBytes(t *testing.T) {
	payload := EncodeOutput(100, 40, []byte("abc"))
	cols, rows, data, err := DecodeOutput(payload)
	if err != nil {
		t.Fatalf("DecodeOutput: %v", err)
	}
	if cols != 100 || rows != 40 || string(data) != "abc" {
		t.Errorf("DecodeOutput = (%d, %d, %q)", cols, rows, data)
	}
}

func TestForegroundInfoRoundTrip(t *testing.T) {
	want := ForegroundInfoMsg{Pid: 99, Name: "bash", Cmdline: "", Cwd: "/"}
	got, err := DecodeForegroundInfo(EncodeForegroundInfo(want))
	if err != nil {
		t.Fatalf("DecodeForegroundInfo: %v", err)
	}
	if got != want {
		t.Errorf("DecodeForegroundInfo() = %+v, want %+v", got, want)
	}
}

func TestReaderRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	// Craft an oversized length prefix directly rather than allocating it.
	buf.WriteByte(byte(Output))
	lenBuf := make([]byte, 4)
	for i := range lenBuf {
		lenBuf[i] = 0xFF
	}
	buf.Write(lenBuf)
	_ = w
	r := NewReader(&buf)
	if _, err := r.ReadFrame(); err == nil {
		t.Error("ReadFrame with oversized length: want error, got nil")
	}
}
