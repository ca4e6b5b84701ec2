//go:build windows

package hostproc

import (
	"fmt"
	"net"
)

// Listen opens a loopback TCP listener on an ephemeral port. The
// returned address (host:port) is what callers dial and what gets
// stored in the beacon.
func Listen(stateDir, sessionID string) (net.Listener, string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", fmt.Errorf("hostproc: listen tcp: %w", err)
	}
	return ln, ln.Addr().String(), nil
}

// Dial connects to a host's control channel at the given host:port.
func Dial(address string) (net.Conn, error) {
	return net.Dial("tcp", address)
}
