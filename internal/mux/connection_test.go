package mux

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/midterm-hq/midterm/internal/session"
	"github.com/midterm-hq/midterm/internal/wire"
)

func newTestServer(t *testing.T, mgr *session.Manager) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		NewConnection(ws, mgr, nil).Serve()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeSendsInitFrame(t *testing.T) {
	mgr := session.NewManager(t.TempDir(), 4096, "/nonexistent", "/bin/sh", 0)
	srv := newTestServer(t, mgr)
	conn := dial(t, srv)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Type != wire.MuxInit {
		t.Errorf("Type = %v, want INIT", frame.Type)
	}
	if len(frame.Payload) == 0 {
		t.Error("INIT payload (client id) is empty")
	}
}

func TestPingReceivesPong(t *testing.T) {
	mgr := session.NewManager(t.TempDir(), 4096, "/nonexistent", "/bin/sh", 0)
	srv := newTestServer(t, mgr)
	conn := dial(t, srv)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil { // INIT
		t.Fatalf("ReadMessage (init): %v", err)
	}

	pingPayload := encodeU64(12345)
	if err := conn.WriteMessage(websocket.BinaryMessage, Encode(wire.MuxPing, "ABCDEFGH", pingPayload)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage (pong): %v", err)
	}
	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Type != wire.MuxPong {
		t.Fatalf("Type = %v, want PONG", frame.Type)
	}
	ts, err := decodeU64(frame.Payload)
	if err != nil || ts != 12345 {
		t.Errorf("PONG payload = %d, err=%v, want 12345", ts, err)
	}
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	mgr := session.NewManager(t.TempDir(), 4096, "/nonexistent", "/bin/sh", 0)
	srv := newTestServer(t, mgr)
	conn := dial(t, srv)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil { // INIT
		t.Fatalf("ReadMessage (init): %v", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection close after malformed frame")
	}
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("err = %T, want *websocket.CloseError", err)
	}
	if closeErr.Code != wire.CloseProtocolError {
		t.Errorf("close code = %d, want %d", closeErr.Code, wire.CloseProtocolError)
	}
}
