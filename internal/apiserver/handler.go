// Package apiserver wires the session manager into HTTPS endpoints:
// the two WebSocket channels and the REST session CRUD surface (§6).
package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/midterm-hq/midterm/internal/mux"
	"github.com/midterm-hq/midterm/internal/session"
	"github.com/midterm-hq/midterm/internal/statechan"
	"github.com/midterm-hq/midterm/internal/update"
	"github.com/midterm-hq/midterm/internal/wire"
)

// AuthChecker validates the cookie session token carried by every
// request and WebSocket upgrade (§6). Verifying and issuing that
// token is an external collaborator's job; this core only calls the
// seam. AllowAll is a placeholder for local/dev use, never production.
type AuthChecker interface {
	Authenticate(r *http.Request) bool
}

// AllowAll accepts every request. It exists so the server is runnable
// before a real AuthChecker is wired in; swapping it is a one-line
// change at construction (see DESIGN.md).
type AllowAll struct{}

func (AllowAll) Authenticate(*http.Request) bool { return true }

// Handler owns everything an HTTP request needs to serve this core's
// endpoints.
type Handler struct {
	mgr      *session.Manager
	auth     AuthChecker
	checker  update.Checker
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewHandler constructs a Handler. auth/checker may be nil, defaulting
// to AllowAll and update.NoopChecker respectively.
func NewHandler(mgr *session.Manager, auth AuthChecker, checker update.Checker) *Handler {
	if auth == nil {
		auth = AllowAll{}
	}
	if checker == nil {
		checker = update.NoopChecker{}
	}
	return &Handler{
		mgr:     mgr,
		auth:    auth,
		checker: checker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logrus.WithField("component", "apiserver"),
	}
}

// HandleMuxWS upgrades to the binary mux channel (§4.5).
//
// @Summary Attach the multiplexed terminal I/O WebSocket
// @Router /ws/mux [get]
func (h *Handler) HandleMuxWS(c *gin.Context) {
	if !h.auth.Authenticate(c.Request) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("apiserver: mux upgrade failed")
		return
	}
	mux.NewConnection(ws, h.mgr, h.log).Serve()
}

// HandleStateWS upgrades to the JSON session-list state channel (§4.7).
//
// @Summary Attach the session-list state WebSocket
// @Router /ws/state [get]
func (h *Handler) HandleStateWS(c *gin.Context) {
	if !h.auth.Authenticate(c.Request) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("apiserver: state upgrade failed")
		return
	}
	statechan.NewConnection(ws, h.mgr, h.checker, h.log).Serve()
}

type createSessionRequest struct {
	Cols             int    `json:"cols"`
	Rows             int    `json:"rows"`
	Shell            string `json:"shell,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

type sessionResponse struct {
	ID        string `json:"id"`
	Pid       int    `json:"pid"`
	ShellType string `json:"shellType"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// HandleCreateSession creates a new terminal session.
//
// @Summary Create a session
// @Accept json
// @Produce json
// @Param request body createSessionRequest true "session parameters"
// @Success 201 {object} sessionResponse
// @Router /api/sessions [post]
func (h *Handler) HandleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.mgr.Create(session.CreateOptions{
		Cols:  wire.ClampDim(req.Cols),
		Rows:  wire.ClampDim(req.Rows),
		Shell: req.Shell,
		Cwd:   req.WorkingDirectory,
	})
	if err != nil {
		h.writeSpawnError(c, err)
		return
	}

	snap := s.Snapshot()
	c.JSON(http.StatusCreated, sessionResponse{
		ID: snap.ID, Pid: s.Pid(), ShellType: snap.ShellType, Cols: snap.Cols, Rows: snap.Rows,
	})
}

// HandleDeleteSession closes a session.
//
// @Summary Close a session
// @Param id path string true "session id"
// @Success 204
// @Router /api/sessions/{id} [delete]
func (h *Handler) HandleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.mgr.Close(id); err != nil {
		h.writeNotFoundOrError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name"`
}

// HandleRenameSession sets a session's display name.
//
// @Summary Rename a session
// @Param id path string true "session id"
// @Param auto query bool false "auto-generated rename, ignored if already manually named"
// @Param request body renameRequest true "new name"
// @Success 204
// @Router /api/sessions/{id}/name [put]
func (h *Handler) HandleRenameSession(c *gin.Context) {
	id := c.Param("id")
	auto := c.Query("auto") == "true"
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.mgr.Rename(id, req.Name, auto); err != nil {
		h.writeNotFoundOrError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// HandleResizeSession resizes a session's PTY from a non-WebSocket caller.
//
// @Summary Resize a session
// @Param id path string true "session id"
// @Param request body resizeRequest true "new dimensions"
// @Success 200 {object} resizeRequest
// @Router /api/sessions/{id}/resize [post]
func (h *Handler) HandleResizeSession(c *gin.Context) {
	id := c.Param("id")
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cols, rows := wire.ClampDim(req.Cols), wire.ClampDim(req.Rows)
	// API-initiated resizes always win over a quiesce window: there is
	// no ACTIVE_HINT concept for a plain HTTP caller (§4.6).
	if err := h.mgr.Resize(id, cols, rows, "api", true); err != nil {
		h.writeNotFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, resizeRequest{Cols: cols, Rows: rows})
}

func (h *Handler) writeSpawnError(c *gin.Context, err error) {
	switch err.(type) {
	case *session.LimitReached:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) writeNotFoundOrError(c *gin.Context, err error) {
	switch err.(type) {
	case *session.ErrNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
