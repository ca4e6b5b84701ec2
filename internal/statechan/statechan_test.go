package statechan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/midterm-hq/midterm/internal/session"
	"github.com/midterm-hq/midterm/internal/update"
)

type fakeChecker struct {
	info *update.Info
}

func (f fakeChecker) CheckForUpdate(context.Context) (*update.Info, error) {
	return f.info, nil
}

func newTestServer(t *testing.T, mgr *session.Manager, checker update.Checker) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		NewConnection(ws, mgr, checker, nil).Serve()
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

func TestServeSendsInitialSnapshot(t *testing.T) {
	mgr := session.NewManager(t.TempDir(), 4096, "/nonexistent", "/bin/sh", 0)
	srv := newTestServer(t, mgr, update.NoopChecker{})
	conn := dial(t, srv)

	var msg snapshotMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(msg.Sessions) != 0 {
		t.Errorf("Sessions = %v, want empty", msg.Sessions)
	}
	if msg.Update != nil {
		t.Errorf("Update = %v, want nil with NoopChecker", msg.Update)
	}
}

func TestServeIncludesUpdateInfo(t *testing.T) {
	mgr := session.NewManager(t.TempDir(), 4096, "/nonexistent", "/bin/sh", 0)
	srv := newTestServer(t, mgr, fakeChecker{info: &update.Info{Version: "9.9.9"}})
	conn := dial(t, srv)

	var msg snapshotMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Update == nil || msg.Update.Version != "9.9.9" {
		t.Errorf("Update = %+v, want version 9.9.9", msg.Update)
	}
}
