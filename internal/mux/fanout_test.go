package mux

import (
	"testing"
	"time"

	"github.com/midterm-hq/midterm/internal/session"
)

// TestStalledSessionDoesNotBlockOtherSessions is a regression test for
// the single shared dispatch loop funneling every session's events
// through one consumer: an active session whose queue is full and
// blocked on write-space must not prevent another session's events
// from reaching its own queue on the same connection (§4.5).
func TestStalledSessionDoesNotBlockOtherSessions(t *testing.T) {
	c := NewConnection(nil, nil, nil)
	sub := make(chan session.Event, maxQueueFrames*2)
	go c.dispatchLoop(sub)
	defer c.Close(0, "")

	stalled := c.sessionFor("AAAAAAAA")
	stalled.q.setActive(true)

	for i := 0; i < maxQueueFrames+5; i++ {
		sub <- session.Event{Kind: session.EventOutput, SessionID: "AAAAAAAA", Data: []byte{byte(i)}}
	}
	time.Sleep(50 * time.Millisecond) // let A's worker fill its queue and block

	sub <- session.Event{Kind: session.EventOutput, SessionID: "BBBBBBBB", Data: []byte{1}}

	other := c.sessionFor("BBBBBBBB")
	deadline := time.After(time.Second)
	for {
		if len(other.q.drain("BBBBBBBB")) > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("session B's event was never delivered while session A was stalled")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
