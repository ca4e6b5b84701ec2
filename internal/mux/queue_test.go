package mux

import (
	"testing"
	"time"
)

func TestEnqueueControlNeverDrops(t *testing.T) {
	q := newSessionQueue()
	for i := 0; i < maxQueueFrames+10; i++ {
		q.enqueueControl([]byte{byte(i)})
	}
	frames := q.drain("ABCDEFGH")
	if len(frames) != maxQueueFrames+10 {
		t.Fatalf("got %d control frames, want %d", len(frames), maxQueueFrames+10)
	}
}

func TestEnqueueOutputCoalescesWhenInactiveAndFull(t *testing.T) {
	q := newSessionQueue()
	done := make(chan struct{})
	for i := 0; i < maxQueueFrames+5; i++ {
		q.enqueueOutput([]byte{byte(i)}, done)
	}
	frames := q.drain("ABCDEFGH")
	// DATA_LOSS + the single coalesced-to frame.
	if len(frames) != 2 {
		t.Fatalf("got %d frames after coalesce, want 2 (DATA_LOSS + latest)", len(frames))
	}
	last := byte(maxQueueFrames + 4)
	if frames[1][0] != last {
		t.Errorf("surviving frame = %v, want latest write %d", frames[1], last)
	}
}

func TestEnqueueOutputBlocksWhenActiveAndFull(t *testing.T) {
	q := newSessionQueue()
	q.setActive(true)
	done := make(chan struct{})

	for i := 0; i < maxQueueFrames; i++ {
		q.enqueueOutput([]byte{byte(i)}, done)
	}

	blocked := make(chan struct{})
	go func() {
		q.enqueueOutput([]byte{99}, done)
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("enqueueOutput returned before queue drained; active session must backpressure")
	case <-time.After(20 * time.Millisecond):
	}

	frames := q.drain("ABCDEFGH")
	if len(frames) != maxQueueFrames {
		t.Fatalf("got %d frames, want %d", len(frames), maxQueueFrames)
	}

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue never woke after drain freed space")
	}
}

func TestDrainEmptyReturnsNil(t *testing.T) {
	q := newSessionQueue()
	if frames := q.drain("ABCDEFGH"); frames != nil {
		t.Errorf("drain on empty queue = %v, want nil", frames)
	}
}
