package mux

import (
	"testing"
	"time"

	"github.com/midterm-hq/midterm/internal/session"
)

func TestEventMailboxPushNeverBlocks(t *testing.T) {
	m := newEventMailbox()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			m.push(session.Event{SessionID: "ABCDEFGH"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push blocked with no reader draining the mailbox")
	}
}

func TestEventMailboxPopPreservesOrder(t *testing.T) {
	m := newEventMailbox()
	for i := 0; i < 5; i++ {
		m.push(session.Event{Cols: i})
	}
	for i := 0; i < 5; i++ {
		ev, ok := m.pop()
		if !ok {
			t.Fatalf("pop %d: ok = false", i)
		}
		if ev.Cols != i {
			t.Errorf("pop %d: Cols = %d, want %d", i, ev.Cols, i)
		}
	}
}

func TestEventMailboxCloseUnblocksPop(t *testing.T) {
	m := newEventMailbox()
	result := make(chan bool, 1)
	go func() {
		_, ok := m.pop()
		result <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	m.close()

	select {
	case ok := <-result:
		if ok {
			t.Error("pop returned ok=true after close with nothing queued")
		}
	case <-time.After(time.Second):
		t.Fatal("pop never woke up after close")
	}
}
