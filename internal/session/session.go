package session

import (
	"net"
	"sync"
	"time"

	"github.com/midterm-hq/midterm/internal/ctlpipe"
	"github.com/midterm-hq/midterm/internal/ring"
)

// Session is the parent-side record of one shell running under one
// PTY, addressable by its 8-byte id (§1, §4.4).
type Session struct {
	ID   string
	Ring *ring.SyncRing

	mu             sync.RWMutex
	name           string
	manuallyNamed  bool
	shell          string
	cols, rows     int
	order          uint64
	state          State
	exitReason     ExitReason
	pid            int
	createdAt      time.Time
	currentDir     string
	fgPid          int
	fgName         string
	fgCmdline      string
	fgCwd          string
	lastResizeAt       time.Time
	lastResizeFrom     string
	lastResizeWasActive bool

	conn   net.Conn
	writer *ctlpipe.Writer

	doneCh    chan struct{}
	closeOnce sync.Once
}

// Snapshot is the read-only view published on the state channel (§4.7).
type Snapshot struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	TerminalTitle         string `json:"terminalTitle"`
	ShellType             string `json:"shellType"`
	Cols                  int    `json:"cols"`
	Rows                  int    `json:"rows"`
	Order                 uint64 `json:"order"`
	ManuallyNamed         bool   `json:"manuallyNamed"`
	CurrentDirectory      string `json:"currentDirectory"`
	ForegroundPid         int    `json:"foregroundPid"`
	ForegroundName        string `json:"foregroundName"`
	ForegroundCommandLine string `json:"foregroundCommandLine"`
	State                 string `json:"state"`
	ExitReason            string `json:"exitReason,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:                    s.ID,
		Name:                  s.name,
		TerminalTitle:         s.name,
		ShellType:             s.shell,
		Cols:                  s.cols,
		Rows:                  s.rows,
		Order:                 s.order,
		ManuallyNamed:         s.manuallyNamed,
		CurrentDirectory:      s.currentDir,
		ForegroundPid:         s.fgPid,
		ForegroundName:        s.fgName,
		ForegroundCommandLine: s.fgCmdline,
		State:                 s.state.String(),
		ExitReason:            string(s.exitReason),
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State, reason ExitReason) {
	s.mu.Lock()
	s.state = st
	if reason != ExitReasonNone {
		s.exitReason = reason
	}
	s.mu.Unlock()
}

func (s *Session) Dims() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cols, s.rows
}

func (s *Session) setDims(cols, rows int) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
}

// resizeQuiesceWindow is how long a non-active client's RESIZE is
// suppressed after an active client's RESIZE, per §4.6.
const resizeQuiesceWindow = 250 * time.Millisecond

// acceptResize implements the viewport dimension authority (§4.6):
// last-writer-wins, except a non-active client's request loses to a
// still-fresh active client's request. Returns false when the request
// should be silently dropped.
func (s *Session) acceptResize(clientID string, active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !active && s.lastResizeWasActive && s.lastResizeFrom != clientID &&
		time.Since(s.lastResizeAt) < resizeQuiesceWindow {
		return false
	}
	s.lastResizeAt = time.Now()
	s.lastResizeFrom = clientID
	s.lastResizeWasActive = active
	return true
}

func (s *Session) Pid() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pid
}

func (s *Session) Done() <-chan struct{} { return s.doneCh }

func (s *Session) markExited(reason ExitReason) {
	s.setState(Exited, reason)
	s.closeOnce.Do(func() { close(s.doneCh) })
}
