//go:build !windows

package beacon

import "golang.org/x/sys/unix"

// PidAlive reports whether pid refers to a live process, using signal
// 0 semantics: no signal delivered, only existence and permission are
// checked.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
