package mux

import (
	"sync"

	"github.com/midterm-hq/midterm/internal/session"
)

// eventMailbox is one session's pending-event queue on a connection. A
// push never blocks; sessionWorker drains it one event at a time,
// doing whatever enqueue work that event requires (including the
// blocking wait enqueueOutput applies to an active, full queue).
// Decoupling the handoff from the processing this way means one
// session stuck waiting for queue space can never stall dispatchLoop
// from handing events to any other session on the same connection (§4.5).
type eventMailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []session.Event
	closed bool
}

func newEventMailbox() *eventMailbox {
	m := &eventMailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *eventMailbox) push(ev session.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	m.cond.Signal()
}

func (m *eventMailbox) pop() (session.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.events) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.events) == 0 {
		return session.Event{}, false
	}
	ev := m.events[0]
	m.events = m.events[1:]
	return ev, true
}

func (m *eventMailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
}
