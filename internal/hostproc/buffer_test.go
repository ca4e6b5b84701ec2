package hostproc

import (
	"net"
	"testing"

	"github.com/midterm-hq/midterm/internal/ctlpipe"
	"github.com/midterm-hq/midterm/internal/ring"
)

func TestReplyBufferWithinCapacity(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	h := &TtyHostProcess{
		ring: ring.NewSync(1024),
	}
	h.ring.Write([]byte("hello world"))
	writer := ctlpipe.NewWriter(server)

	done := make(chan struct{})
	var frames []ctlpipe.Frame
	go func() {
		defer close(done)
		r := ctlpipe.NewReader(client)
		for {
			f, err := r.ReadFrame()
			if err != nil {
				return
			}
			frames = append(frames, f)
			if f.Type == ctlpipe.BufferEnd {
				return
			}
		}
	}()

	h.replyBufferTo(writer, 0)
	server.Close()
	<-done

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (chunk + end)", len(frames))
	}
	if frames[0].Type != ctlpipe.BufferChunk {
		t.Errorf("frame[0].Type = %v, want BufferChunk", frames[0].Type)
	}
	pos, payload, err := ctlpipe.DecodeBufferChunk(frames[0].Payload)
	if err != nil {
		t.Fatalf("DecodeBufferChunk: %v", err)
	}
	if pos != 0 {
		t.Errorf("chunk pos = %d, want 0", pos)
	}
	if string(payload) != "hello world" {
		t.Errorf("chunk payload = %q, want %q", payload, "hello world")
	}
	if frames[1].Type != ctlpipe.BufferEnd {
		t.Errorf("frame[1].Type = %v, want BufferEnd", frames[1].Type)
	}
}

func TestReplyBufferResyncsWhenEvicted(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	h := &TtyHostProcess{
		ring: ring.NewSync(8),
	}
	h.ring.Write([]byte("0123456789ABCDEF")) // 16 bytes into an 8-byte ring: position 0 is long evicted
	writer := ctlpipe.NewWriter(server)

	done := make(chan struct{})
	var frames []ctlpipe.Frame
	go func() {
		defer close(done)
		r := ctlpipe.NewReader(client)
		for {
			f, err := r.ReadFrame()
			if err != nil {
				return
			}
			frames = append(frames, f)
			if f.Type == ctlpipe.BufferEnd {
				return
			}
		}
	}()

	h.replyBufferTo(writer, 0)
	server.Close()
	<-done

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (chunk + end)", len(frames))
	}
	_, payload, err := ctlpipe.DecodeBufferChunk(frames[0].Payload)
	if err != nil {
		t.Fatalf("DecodeBufferChunk: %v", err)
	}
	if string(payload) != "89ABCDEF" {
		t.Errorf("chunk payload = %q, want last 8 bytes %q", payload, "89ABCDEF")
	}
}
