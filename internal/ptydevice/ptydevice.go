// Package ptydevice implements PtyDevice (§4.1): opening a PTY, spawning
// a shell attached to it, resizing, and tearing both down. It models the
// platform seam called for in §9 — "{open, read, write, resize, kill,
// wait}, one implementation per OS" — without exposing OS-specific fd or
// handle types above the seam. The Unix backend is grounded on
// blaxel-ai/sandbox-api's creack/pty usage (src/handler/terminal/terminal.go),
// generalized with the self-re-exec helper process spec's §4.1 Unix notes
// call for; the Windows backend speaks ConPTY directly.
package ptydevice

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/midterm-hq/midterm/internal/wire"
)

// SpawnError reports a failure to allocate a PTY, duplicate descriptors,
// or exec the shell. Spawn failure is fatal to the host process per §4.1.
type SpawnError struct {
	Reason string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pty spawn failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("pty spawn failed: %s", e.Reason)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ErrTerminated reports a disposed device. Resize does not return it: a
// Resize after termination is ignored and returns nil.
var ErrTerminated = errors.New("ptydevice: device terminated")

// Options configures a new shell spawn.
type Options struct {
	App        string
	Args       []string
	Cwd        string
	Cols, Rows int
	Env        []string
}

// Device is the cross-platform PTY handle. Implementations must be safe
// for Reader/Writer to be used concurrently with Resize/Kill/Dispose.
type Device interface {
	// Reader returns the read-only half of the master side.
	Reader() io.Reader
	// Writer returns the write-only half of the master side.
	Writer() io.Writer

	// Resize clamps cols/rows to [wire.MinDim, wire.MaxDim] and applies
	// them. Ignored (returns nil) after termination; ioctl failures are
	// returned for the caller to log and do not tear down the session.
	Resize(cols, rows int) error

	// Pid is the OS process id of the spawned shell.
	Pid() int
	// IsRunning reports whether the shell process is still alive.
	IsRunning() bool
	// ExitCode returns the shell's exit code once it has exited, or -1
	// while still running.
	ExitCode() int

	// Hangup asks the shell to exit on its own terms (SIGHUP-equivalent):
	// a soft request that gives exit traps and pending writes a chance
	// to run, as opposed to Kill's immediate termination.
	Hangup() error
	// Kill makes a best-effort attempt to terminate the shell's entire
	// process tree.
	Kill() error
	// WaitForExit blocks until the shell exits or the timeout elapses.
	WaitForExit(timeout time.Duration) error

	// Dispose kills the shell (so it can flush), then closes the I/O
	// streams, then closes the master descriptor. Idempotent.
	Dispose() error
}

// clampWinsize applies the §3 invariant (cols, rows in [1, 500]) to a
// resize request before any platform ioctl sees it.
func clampWinsize(cols, rows int) (int, int) {
	return wire.ClampDim(cols), wire.ClampDim(rows)
}
