// Command mthost is the per-session child process: it owns one PTY,
// speaks the control-channel protocol to its parent (mt), and on Unix
// doubles as its own pty-exec helper via --pty-exec (§4.3, §6).
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/midterm-hq/midterm/internal/hostproc"
	"github.com/midterm-hq/midterm/internal/ptydevice"
)

func main() {
	args := os.Args[1:]

	if len(args) > 0 && args[0] == "--pty-exec" {
		os.Exit(ptydevice.RunPTYExecHelper(args[1:]))
	}

	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mthost:", err)
		os.Exit(64)
	}

	logrus.SetFormatter(&logrus.JSONFormatter{})
	if lvl := os.Getenv("MIDTERM_LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			logrus.SetLevel(parsed)
		}
	}

	os.Exit(hostproc.Run(opts))
}

// parseArgs reads `mthost <sessionId> <cols> <rows> <shell> [--cwd ...]
// [--run-as USER]` per §6. --run-as is accepted for command-line
// compatibility but is not implemented: dropping privileges to an
// arbitrary user is out of scope.
func parseArgs(args []string) (hostproc.Options, error) {
	if len(args) < 4 {
		return hostproc.Options{}, fmt.Errorf("usage: mthost <sessionId> <cols> <rows> <shell> [--cwd DIR] [--run-as USER] [args...]")
	}

	opts := hostproc.Options{
		SessionID: args[0],
		StateDir:  os.Getenv("MIDTERM_STATE_DIR"),
		Env:       os.Environ(),
	}
	if opts.StateDir == "" {
		return opts, fmt.Errorf("MIDTERM_STATE_DIR must be set")
	}

	cols, err := strconv.Atoi(args[1])
	if err != nil {
		return opts, fmt.Errorf("invalid cols %q: %w", args[1], err)
	}
	rows, err := strconv.Atoi(args[2])
	if err != nil {
		return opts, fmt.Errorf("invalid rows %q: %w", args[2], err)
	}
	opts.Cols, opts.Rows = cols, rows
	opts.Shell = args[3]

	rest := args[4:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--cwd":
			if i+1 >= len(rest) {
				return opts, fmt.Errorf("--cwd requires a value")
			}
			opts.Cwd = rest[i+1]
			i++
		case "--run-as":
			if i+1 >= len(rest) {
				return opts, fmt.Errorf("--run-as requires a value")
			}
			logrus.WithField("user", rest[i+1]).Warn("mthost: --run-as is accepted but not implemented")
			i++
		default:
			opts.ShellArgs = append(opts.ShellArgs, rest[i])
		}
	}

	if opts.Cwd == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.Cwd = home
		}
	}
	opts.Shell = strings.TrimSpace(opts.Shell)
	return opts, nil
}
