package mux

import (
	"sync"

	"github.com/midterm-hq/midterm/internal/wire"
)

// Bounded per-session send queue thresholds (§4.5): "e.g. 256 frames or
// 4 MiB, whichever first".
const (
	maxQueueFrames = 256
	maxQueueBytes  = 4 << 20
)

// sessionQueue is one ClientAttachment's per-session delivery state: a
// bounded queue of already-encoded wire frames, whether the client has
// ACTIVE_HINTed this session, and the position last streamed to it.
type sessionQueue struct {
	mu              sync.Mutex
	frames          [][]byte
	bytes           int
	active          bool
	dataLossPending bool
	lastSentPos     uint64
	lastSentKnown   bool
	spaceCh         chan struct{}
}

func newSessionQueue() *sessionQueue {
	return &sessionQueue{spaceCh: make(chan struct{}, 1)}
}

func (q *sessionQueue) full() bool {
	return len(q.frames) >= maxQueueFrames || q.bytes >= maxQueueBytes
}

func (q *sessionQueue) setActive(active bool) {
	q.mu.Lock()
	q.active = active
	q.mu.Unlock()
}

func (q *sessionQueue) isActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// enqueueOutput applies the fan-out policy: active sessions apply
// backpressure (block until the writer drains space or the connection
// closes); inactive sessions coalesce to the latest frame and mark a
// DATA_LOSS to precede the next drain (§4.5).
func (q *sessionQueue) enqueueOutput(frame []byte, done <-chan struct{}) {
	q.mu.Lock()
	for q.active && q.full() {
		q.mu.Unlock()
		select {
		case <-q.spaceCh:
		case <-done:
			return
		}
		q.mu.Lock()
	}
	if !q.active && (q.full() || q.dataLossPending) {
		q.frames, q.bytes = nil, 0
		q.dataLossPending = true
	}
	q.frames = append(q.frames, frame)
	q.bytes += len(frame)
	q.mu.Unlock()
}

// enqueueControl appends a frame unconditionally, bypassing the
// coalesce policy: FOREGROUND_CHANGE and RESYNC frames, and the single
// catch-up OUTPUT frame streamSession builds from the ring.
func (q *sessionQueue) enqueueControl(frame []byte) {
	q.mu.Lock()
	q.frames = append(q.frames, frame)
	q.bytes += len(frame)
	q.mu.Unlock()
}

// drain pops everything currently queued for sessionID, prefixed by a
// single DATA_LOSS frame if a coalesce happened since the last drain.
func (q *sessionQueue) drain(sessionID string) [][]byte {
	q.mu.Lock()
	if len(q.frames) == 0 {
		q.mu.Unlock()
		return nil
	}
	out := q.frames
	lostData := q.dataLossPending
	q.frames, q.bytes, q.dataLossPending = nil, 0, false
	q.mu.Unlock()

	select {
	case q.spaceCh <- struct{}{}:
	default:
	}

	if lostData {
		out = append([][]byte{Encode(wire.MuxDataLoss, sessionID, nil)}, out...)
	}
	return out
}

func (q *sessionQueue) markSent(pos uint64) {
	q.mu.Lock()
	q.lastSentPos, q.lastSentKnown = pos, true
	q.mu.Unlock()
}

// advanceSent bumps the tracked position by n bytes of live OUTPUT just
// queued; if no position was established yet (no catch-up ran before
// this session ever produced output), it is seeded at n.
func (q *sessionQueue) advanceSent(n int) {
	q.mu.Lock()
	q.lastSentPos += uint64(n)
	q.lastSentKnown = true
	q.mu.Unlock()
}

func (q *sessionQueue) sentPos() (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSentPos, q.lastSentKnown
}
