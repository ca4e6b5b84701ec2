// Package hostproc implements the child side of the system: a single
// TtyHostProcess owning one PtyDevice, a control channel to the
// parent, a scrollback ring, and a ProcessMonitor (§4.3).
package hostproc

// The control channel is owned by the child and outlives any one
// parent connection, so a restarted parent can reconnect to an
// already-running host and adopt it (§4.9, §6). Listen and Dial are
// platform-specific:
//
// Unix: an AF_UNIX socket at <state-dir>/sessions/<id>.sock.
// Windows: a loopback TCP listener on an ephemeral port (no vetted
// named-pipe client library remains in this module's dependency set
// after dropping go-winio transitively with go-git; see DESIGN.md).
//
// Both return an address string suitable for Dial and for storing in
// the session's beacon.ControlPipePath.
