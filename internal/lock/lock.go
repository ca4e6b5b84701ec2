// Package lock enforces the single-instance-per-state-dir invariant
// (§5, §6, §8 property 10): a second `mt` pointed at the same
// state-dir must fail fast rather than race the first for the PTY
// hosts and beacon directory.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
)

// ErrHeld is returned by Acquire when another process already holds
// the lock for this state-dir.
type ErrHeld struct {
	Path string
}

func (e *ErrHeld) Error() string {
	return fmt.Sprintf("lock: %s is held by another instance", e.Path)
}

// Lock is a held single-instance lock. Release it on shutdown; an
// abnormal process exit releases it implicitly (the OS closes the fd).
type Lock struct {
	file *os.File
	path string
}

// Path returns the lock file path used for the given state directory.
func Path(stateDir string) string {
	return filepath.Join(stateDir, "mt.lock")
}

// Acquire takes the single-instance lock rooted at stateDir, creating
// the directory if needed. It returns *ErrHeld if another live process
// already holds it.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("lock: create state dir: %w", err)
	}
	path := Path(stateDir)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}
	if err := tryLock(f); err != nil {
		f.Close()
		return nil, &ErrHeld{Path: path}
	}
	_ = f.Truncate(0)
	_, _ = f.WriteString(fmt.Sprintf("%d\n", os.Getpid()))
	return &Lock{file: f, path: path}, nil
}

// Release gives up the lock. Safe to call once; further calls are no-ops.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
