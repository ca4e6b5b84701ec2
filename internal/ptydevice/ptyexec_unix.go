//go:build !windows

package ptydevice

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// Exit codes for RunPTYExecHelper, one per failure stage (§4.1). The
// helper never returns control to its caller on success — it ends by
// replacing its own image with the shell via execve().
const (
	ExitInvalidArgs = 64
	ExitSetsid      = 65
	ExitOpenSlave   = 66
	ExitDup2        = 67
	ExitExecvp      = 68
)

// RunPTYExecHelper implements `mthost --pty-exec <slavePath> <cols> <rows>
// <exe> [args...]`. It never returns on success: setsid() puts it in a new
// session, it opens the slave PTY by path (becoming its controlling
// terminal), applies the initial window size, dup2's the slave onto fd
// 0/1/2, and execve()s the target program. On failure it returns a small
// stage-specific exit code instead — the caller (cmd/mthost's main) is
// expected to os.Exit with it directly.
func RunPTYExecHelper(args []string) int {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "pty-exec: usage: --pty-exec <slavePath> <cols> <rows> <exe> [args...]")
		return ExitInvalidArgs
	}
	slavePath := args[0]
	cols, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pty-exec: invalid cols %q: %v\n", args[1], err)
		return ExitInvalidArgs
	}
	rows, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pty-exec: invalid rows %q: %v\n", args[2], err)
		return ExitInvalidArgs
	}
	exe := args[3]
	exeArgs := args[3:]

	if err := unix.Setsid(); err != nil {
		fmt.Fprintf(os.Stderr, "pty-exec: setsid: %v\n", err)
		return ExitSetsid
	}

	fd, err := unix.Open(slavePath, unix.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pty-exec: open %s: %v\n", slavePath, err)
		return ExitOpenSlave
	}

	// Make the slave our controlling terminal explicitly; harmless if
	// the open() above already did it implicitly (Linux).
	_ = unix.IoctlSetInt(fd, unix.TIOCSCTTY, 0)

	c, r := clampWinsize(cols, rows)
	_ = unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, &unix.Winsize{
		Row: uint16(r),
		Col: uint16(c),
	})

	for _, dst := range []int{0, 1, 2} {
		if err := unix.Dup2(fd, dst); err != nil {
			fmt.Fprintf(os.Stderr, "pty-exec: dup2(%d, %d): %v\n", fd, dst, err)
			return ExitDup2
		}
	}
	if fd > 2 {
		unix.Close(fd)
	}

	path, err := exec.LookPath(exe)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pty-exec: lookpath %s: %v\n", exe, err)
		return ExitExecvp
	}

	env := os.Environ()
	if err := syscall.Exec(path, exeArgs, env); err != nil {
		fmt.Fprintf(os.Stderr, "pty-exec: execve %s: %v\n", path, err)
		return ExitExecvp
	}
	// unreachable on success
	return 0
}
