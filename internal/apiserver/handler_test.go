package apiserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/midterm-hq/midterm/internal/session"
	"github.com/midterm-hq/midterm/internal/update"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	mgr := session.NewManager(t.TempDir(), 4096, "/nonexistent-mthost-binary", "/bin/sh", 0)
	return NewHandler(mgr, nil, update.NoopChecker{})
}

func TestHandleCreateSessionRejectsBadJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader("{not json"))

	h.HandleCreateSession(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleCreateSessionSpawnFailureIsServerError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/sessions",
		strings.NewReader(`{"cols":80,"rows":24}`))
	c.Request.Header.Set("Content-Type", "application/json")

	h.HandleCreateSession(c)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d (nonexistent mthost binary should fail to spawn)", w.Code, http.StatusInternalServerError)
	}
}

func TestHandleDeleteSessionNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/sessions/ABCDEFGH", nil)
	c.Params = gin.Params{{Key: "id", Value: "ABCDEFGH"}}

	h.HandleDeleteSession(c)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleResizeSessionNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/sessions/ABCDEFGH/resize",
		strings.NewReader(`{"cols":100,"rows":40}`))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "ABCDEFGH"}}

	h.HandleResizeSession(c)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleMuxWSRejectsUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mgr := session.NewManager(t.TempDir(), 4096, "/nonexistent-mthost-binary", "/bin/sh", 0)
	h := NewHandler(mgr, denyAll{}, update.NoopChecker{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws/mux", nil)

	h.HandleMuxWS(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

type denyAll struct{}

func (denyAll) Authenticate(*http.Request) bool { return false }
