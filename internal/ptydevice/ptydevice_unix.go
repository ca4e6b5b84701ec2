//go:build !windows

package ptydevice

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// unixDevice implements Device on Unix by opening a PTY pair with
// creack/pty and handing the slave off to a self-re-exec'd copy of the
// mthost binary (see RunPTYExecHelper) running `mthost --pty-exec`,
// which never returns on success — it setsid()s, opens the slave by
// path, applies the initial window size, dup2's onto fd 0/1/2, and
// execve()s the real shell. This mirrors the posix_openpt/grantpt/
// unlockpt/ptsname + helper-process contract in §4.1 without needing a
// second compiled artifact: `os.Executable()` re-invokes the same
// mthost binary in helper mode.
type unixDevice struct {
	master *os.File
	cmd    *exec.Cmd

	mu       sync.Mutex
	disposed bool
	exitCode int
}

// Start opens a PTY, spawns the shell via the pty-exec helper, and
// returns once the child process has been launched (not once the shell
// itself is ready — readiness is signalled later over the control pipe).
func Start(opts Options) (Device, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, &SpawnError{Reason: "posix_openpt/grantpt/unlockpt", Err: err}
	}

	cols, rows := clampWinsize(opts.Cols, opts.Rows)
	if err := pty.Setsize(master, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		master.Close()
		slave.Close()
		return nil, &SpawnError{Reason: "initial TIOCSWINSZ", Err: err}
	}

	self, err := os.Executable()
	if err != nil {
		master.Close()
		slave.Close()
		return nil, &SpawnError{Reason: "resolve self executable for pty-exec helper", Err: err}
	}

	helperArgs := append([]string{
		"--pty-exec", slave.Name(), strconv.Itoa(cols), strconv.Itoa(rows), opts.App,
	}, opts.Args...)
	cmd := exec.Command(self, helperArgs...)
	cmd.Dir = opts.Cwd
	cmd.Env = opts.Env
	// The helper opens the slave itself after setsid(); it does not
	// inherit our stdio.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		master.Close()
		slave.Close()
		return nil, &SpawnError{Reason: "exec pty-exec helper", Err: err}
	}

	// The slave fd belongs to the child's session now; our copy is unneeded.
	slave.Close()

	d := &unixDevice{master: master, cmd: cmd, exitCode: -1}
	go d.reap()
	return d, nil
}

func (d *unixDevice) reap() {
	err := d.cmd.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd.ProcessState != nil {
		d.exitCode = d.cmd.ProcessState.ExitCode()
	} else if err != nil {
		d.exitCode = -1
	}
}

func (d *unixDevice) Reader() io.Reader { return d.master }
func (d *unixDevice) Writer() io.Writer { return d.master }

func (d *unixDevice) Resize(cols, rows int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return nil
	}
	c, r := clampWinsize(cols, rows)
	// ioctl failures are returned for the caller to log — §4.1.
	return pty.Setsize(d.master, &pty.Winsize{Cols: uint16(c), Rows: uint16(r)})
}

func (d *unixDevice) Pid() int {
	if d.cmd.Process == nil {
		return 0
	}
	return d.cmd.Process.Pid
}

func (d *unixDevice) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.disposed && d.cmd.ProcessState == nil
}

func (d *unixDevice) ExitCode() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitCode
}

func (d *unixDevice) Hangup() error {
	if d.cmd.Process == nil {
		return nil
	}
	// Same process-group target as Kill, softer signal.
	return syscall.Kill(-d.cmd.Process.Pid, syscall.SIGHUP)
}

func (d *unixDevice) Kill() error {
	if d.cmd.Process == nil {
		return nil
	}
	pid := d.cmd.Process.Pid
	// Kill the whole process group: the helper calls setsid(), making
	// its pid the group leader, so -pid reaches every descendant.
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return d.cmd.Process.Kill()
	}
	return nil
}

func (d *unixDevice) WaitForExit(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !d.IsRunning() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if d.IsRunning() {
		return fmt.Errorf("ptydevice: wait for exit timed out after %s", timeout)
	}
	return nil
}

func (d *unixDevice) Dispose() error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return nil
	}
	d.disposed = true
	d.mu.Unlock()

	_ = d.Kill()
	_ = d.WaitForExit(2 * time.Second)
	return d.master.Close()
}
