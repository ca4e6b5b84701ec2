//go:build !windows

package hostproc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Listen creates the session's AF_UNIX control socket. Any stale
// socket file left by a crashed previous instance of the same id is
// removed first.
func Listen(stateDir, sessionID string) (net.Listener, string, error) {
	dir := filepath.Join(stateDir, "sessions")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, "", fmt.Errorf("hostproc: create sessions dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".sock")
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, "", fmt.Errorf("hostproc: listen unix %s: %w", path, err)
	}
	return ln, path, nil
}

// Dial connects to a host's control socket, identified by the address
// a beacon or READY line reported.
func Dial(address string) (net.Conn, error) {
	return net.Dial("unix", address)
}
