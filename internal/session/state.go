package session

// State is the lifecycle state of a [Controller].
type State int

const (
	// StateIdle means no session is running. Start is allowed.
	StateIdle State = iota

	// StateConnecting means resources are being acquired and the live
	// session is being opened.
	StateConnecting

	// StateActive means the live session is open and audio flows both ways.
	StateActive

	// StateGeneratingSummary means the live session was torn down and the
	// feedback report is being produced.
	StateGeneratingSummary

	// StateClosed is terminal: the report is available.
	StateClosed

	// StateError is terminal: the report could not be produced and
	// Snapshot.Error holds a user-facing message.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateGeneratingSummary:
		return "generating_summary"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a session. Restart is allowed from a
// terminal state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}
