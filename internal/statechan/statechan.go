// Package statechan implements the JSON state WebSocket: a full
// session-list snapshot on connect and on every subsequent change,
// plus an update-availability field fed by an external checker (§4.7).
package statechan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/midterm-hq/midterm/internal/session"
	"github.com/midterm-hq/midterm/internal/update"
)

// json is jsoniter's encoding/json-compatible configuration, the same
// swap gin itself offers behind its jsoniter build tag; snapshot
// payloads go out on every session-list change, so they're the
// hottest JSON path in the service.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// pingInterval/silenceTimeout implement the liveness contract in §4.7,
// grounded on the 30s-ping/pong-detect pattern in
// blaxel-ai/sandbox-api's src/mcp/transport.go.
const (
	pingInterval   = 30 * time.Second
	silenceTimeout = 90 * time.Second
)

// snapshotMessage is the wire shape sent on connect and on every change.
type snapshotMessage struct {
	Sessions []session.Snapshot `json:"sessions"`
	Update   *update.Info       `json:"update,omitempty"`
}

// Connection is one browser's state-channel WebSocket.
type Connection struct {
	ws      *websocket.Conn
	mgr     *session.Manager
	checker update.Checker
	log     logrus.FieldLogger

	writeMu sync.Mutex
	lastRx  atomic.Int64 // unix nanos, updated by the pong handler

	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection wraps an already-upgraded WebSocket. checker may be nil,
// in which case update.NoopChecker is used.
func NewConnection(ws *websocket.Conn, mgr *session.Manager, checker update.Checker, log logrus.FieldLogger) *Connection {
	if checker == nil {
		checker = update.NoopChecker{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Connection{ws: ws, mgr: mgr, checker: checker, log: log, done: make(chan struct{})}
	c.lastRx.Store(time.Now().UnixNano())
	ws.SetPongHandler(func(string) error {
		c.lastRx.Store(time.Now().UnixNano())
		return nil
	})
	return c
}

// Serve runs the connection's lifecycle: initial snapshot, then
// streaming a fresh full snapshot on every session-list change, with a
// 30s ping / 90s-silence liveness loop, until the client disconnects.
func (c *Connection) Serve() {
	defer c.ws.Close()

	if !c.sendSnapshot() {
		return
	}

	sub, unsubscribe := c.mgr.Subscribe()
	defer unsubscribe()

	go c.readLoop()
	go c.pingLoop()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Kind == session.EventStateChanged {
				if !c.sendSnapshot() {
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readLoop exists only to surface the client disconnecting (the client
// never sends commands on this channel) and to keep gorilla's control-
// frame handling (pong) wired up.
func (c *Connection) readLoop() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.Close()
			return
		}
	}
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if time.Since(time.Unix(0, c.lastRx.Load())) > silenceTimeout {
				c.log.Debug("statechan: closing idle connection")
				c.Close()
				return
			}
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) sendSnapshot() bool {
	info, err := c.checker.CheckForUpdate(context.Background())
	if err != nil {
		c.log.WithError(err).Debug("statechan: update check failed")
		info = nil
	}
	msg := snapshotMessage{Sessions: c.mgr.List(), Update: info}
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Error("statechan: marshal snapshot")
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.WithError(err).Debug("statechan: write snapshot")
		return false
	}
	return true
}
