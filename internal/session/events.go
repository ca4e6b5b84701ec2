package session

// EventKind distinguishes the four things a Session's fan-in loop can
// report to subscribers (§4.4's "fan-in point... routes to (a) the
// scrollback ring, (b) the mux fan-out, (c) the state publisher").
type EventKind int

const (
	EventOutput EventKind = iota
	EventForegroundChange
	EventExit
	EventStateChanged
)

// ForegroundInfo mirrors ctlpipe.ForegroundInfoMsg without coupling
// subscribers to the wire package.
type ForegroundInfo struct {
	Pid     int
	Name    string
	Cmdline string
	Cwd     string
}

// Event is published to every subscriber registered via Manager.Subscribe.
// The scrollback ring write for EventOutput has already happened by the
// time subscribers observe the event, per §4.4's ordering guarantee.
type Event struct {
	Kind       EventKind
	SessionID  string
	Cols, Rows int
	Data       []byte
	Foreground ForegroundInfo
	ExitCode   int
}

const subscriberQueueSize = 1024

// subscriber is one registered listener's mailbox.
type subscriber struct {
	ch   chan Event
	done chan struct{}
}
