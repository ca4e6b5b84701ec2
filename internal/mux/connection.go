package mux

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/midterm-hq/midterm/internal/session"
	"github.com/midterm-hq/midterm/internal/wire"
)

// writeTimeout is the per-frame WebSocket send deadline; exceeding it
// drops the connection rather than stalling the writer loop forever (§5).
const writeTimeout = 10 * time.Second

// connSession bundles one session's outgoing frame queue with the
// mailbox that feeds it, so each session on a connection can be
// serviced by its own dedicated worker goroutine.
type connSession struct {
	q       *sessionQueue
	mailbox *eventMailbox
}

// Connection is one browser's mux WebSocket: it demultiplexes a single
// session.Manager event subscription into per-session queues, each
// drained by its own worker, and serializes writes back out over one
// socket (§4.5).
type Connection struct {
	ws       *websocket.Conn
	clientID string
	mgr      *session.Manager
	log      logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*connSession

	writeMu sync.Mutex
	notify  chan struct{}
	done    chan struct{}
	closeOnce sync.Once
}

// NewConnection wraps an already-upgraded WebSocket in a mux Connection.
func NewConnection(ws *websocket.Conn, mgr *session.Manager, log logrus.FieldLogger) *Connection {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Connection{
		ws:       ws,
		clientID: uuid.NewString(),
		mgr:      mgr,
		log:      log,
		sessions: make(map[string]*connSession),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Serve runs the connection's full lifecycle: INIT, initial catch-up for
// every known session, then the write/dispatch/read loops, blocking
// until the client disconnects or the connection is closed.
func (c *Connection) Serve() {
	defer c.ws.Close()

	if err := c.writeRaw(Encode(wire.MuxInit, "", []byte(c.clientID))); err != nil {
		return
	}

	for _, snap := range c.mgr.List() {
		if s, err := c.mgr.Get(snap.ID); err == nil {
			c.streamSession(s)
		}
	}

	sub, unsubscribe := c.mgr.Subscribe()
	defer unsubscribe()

	go c.writeLoop()
	go c.dispatchLoop(sub)

	c.readLoop()
	c.Close(wire.CloseProtocolError, "")
}

// Close tears the connection down exactly once, sending code/reason as
// a WebSocket close frame best-effort.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		if code != 0 {
			deadline := time.Now().Add(time.Second)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), deadline)
		}
		close(c.done)
		c.mu.Lock()
		for _, cs := range c.sessions {
			cs.mailbox.close()
		}
		c.mu.Unlock()
	})
}

// sessionFor returns this connection's per-session state, spawning its
// dedicated worker goroutine the first time a session is seen.
func (c *Connection) sessionFor(id string) *connSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.sessions[id]
	if !ok {
		cs = &connSession{q: newSessionQueue(), mailbox: newEventMailbox()}
		c.sessions[id] = cs
		go c.sessionWorker(id, cs)
	}
	return cs
}

func (c *Connection) queueFor(id string) *sessionQueue {
	return c.sessionFor(id).q
}

func (c *Connection) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// streamSession sends either the delta since this connection's last
// known position for sessionID (position 0 when none was established),
// or a RESYNC plus a fresh snapshot when that position has been evicted
// (§4.5).
func (c *Connection) streamSession(s *session.Session) {
	q := c.queueFor(s.ID)
	since, known := q.sentPos()
	if !known {
		since = 0
	}
	data, ok := s.Ring.CopySince(since)
	if !ok {
		pos := s.Ring.TailPosition()
		q.enqueueControl(Encode(wire.MuxResync, s.ID, encodeU64(pos)))
		data, _ = s.Ring.CopySince(pos)
		since = pos
	}
	cols, rows := s.Dims()
	if len(data) > 0 {
		q.enqueueControl(encodeOutputFrame(s.ID, cols, rows, data))
	}
	q.markSent(since + uint64(len(data)))
	c.wake()
}

// dispatchLoop consumes this connection's slice of the manager's event
// stream and hands each event to its session's mailbox. The handoff
// itself never blocks, so a session whose queue is stalled waiting for
// write space can never prevent another session's events from being
// dispatched (§4.5).
func (c *Connection) dispatchLoop(sub <-chan session.Event) {
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				c.Close(wire.CloseServerShutdown, "")
				return
			}
			c.sessionFor(ev.SessionID).mailbox.push(ev)
		case <-c.done:
			return
		}
	}
}

// sessionWorker is the sole goroutine that turns raw events for one
// session into queued wire frames. It is the only place that can block
// on enqueueOutput's backpressure, and it blocks only itself: every
// other session has its own worker draining its own mailbox (§4.5).
func (c *Connection) sessionWorker(id string, cs *connSession) {
	for {
		ev, ok := cs.mailbox.pop()
		if !ok {
			return
		}
		switch ev.Kind {
		case session.EventOutput:
			frame := encodeOutputFrame(ev.SessionID, ev.Cols, ev.Rows, ev.Data)
			cs.q.enqueueOutput(frame, c.done)
			cs.q.advanceSent(len(ev.Data))
			c.wake()
		case session.EventForegroundChange:
			payload, err := json.Marshal(foregroundPayload{
				Pid: ev.Foreground.Pid, Name: ev.Foreground.Name,
				Cmdline: ev.Foreground.Cmdline, Cwd: ev.Foreground.Cwd,
			})
			if err != nil {
				continue
			}
			cs.q.enqueueControl(Encode(wire.MuxForegroundChange, id, payload))
			c.wake()
		case session.EventExit, session.EventStateChanged:
			// Lifecycle changes are carried by the state channel, not mux (§4.5/§4.7).
		}
	}
}

type foregroundPayload struct {
	Pid     int    `json:"pid"`
	Name    string `json:"name"`
	Cmdline string `json:"cmdline"`
	Cwd     string `json:"cwd"`
}

// writeLoop is the sole goroutine allowed to call ws.WriteMessage,
// woken whenever any queue gains data.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.notify:
		case <-c.done:
			return
		}
		if !c.flushAll() {
			c.Close(0, "")
			return
		}
	}
}

func (c *Connection) flushAll() bool {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	queues := make([]*sessionQueue, 0, len(c.sessions))
	for id, cs := range c.sessions {
		ids = append(ids, id)
		queues = append(queues, cs.q)
	}
	c.mu.Unlock()

	for i, q := range queues {
		for _, frame := range q.drain(ids[i]) {
			if err := c.writeRaw(frame); err != nil {
				return false
			}
		}
	}
	return true
}

func (c *Connection) writeRaw(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// readLoop is the client->server half: INPUT, RESIZE, ACTIVE_HINT,
// BUFFER_REQUEST, and PING frames (§4.5).
func (c *Connection) readLoop() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		frame, err := Decode(data)
		if err != nil {
			c.log.WithError(err).Warn("mux: malformed frame")
			c.Close(wire.CloseProtocolError, err.Error())
			return
		}
		if !c.handleClientFrame(frame) {
			c.Close(wire.CloseProtocolError, "unknown frame type")
			return
		}
	}
}

func (c *Connection) handleClientFrame(frame Frame) bool {
	switch frame.Type {
	case wire.MuxInput:
		if err := c.mgr.WriteInput(frame.SessionID, frame.Payload); err != nil {
			c.log.WithError(err).WithField("session", frame.SessionID).Debug("mux: write input")
		}
	case wire.MuxResize:
		cols, rows, err := DecodeDims(frame.Payload)
		if err != nil {
			return false
		}
		active := c.queueFor(frame.SessionID).isActive()
		if err := c.mgr.Resize(frame.SessionID, int(cols), int(rows), c.clientID, active); err != nil {
			c.log.WithError(err).WithField("session", frame.SessionID).Debug("mux: resize")
		}
	case wire.MuxActiveHint:
		c.queueFor(frame.SessionID).setActive(len(frame.Payload) > 0 && frame.Payload[0] != 0)
	case wire.MuxBufferRequest:
		if s, err := c.mgr.Get(frame.SessionID); err == nil {
			c.streamSession(s)
		}
	case wire.MuxPing:
		ts, err := decodeU64(frame.Payload)
		if err != nil {
			return false
		}
		if err := c.writeRaw(Encode(wire.MuxPong, frame.SessionID, encodeU64(ts))); err != nil {
			return false
		}
	default:
		return false
	}
	return true
}
