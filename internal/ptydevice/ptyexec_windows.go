//go:build windows

package ptydevice

import "fmt"

// RunPTYExecHelper only exists on Unix, where Start needs a tiny
// self-invoked helper process to setsid/open-slave/dup2/execve. Windows
// spawns shells directly against ConPTY, so `mthost --pty-exec` is not a
// valid invocation on this platform.
func RunPTYExecHelper(args []string) int {
	fmt.Println("pty-exec: not applicable on windows (ConPTY spawns shells directly)")
	return 1
}
