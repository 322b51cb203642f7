package session

// Status is the session lifecycle state.
type Status string

const (
	// StatusRunning means a turn is in flight: the orchestrator is working
	// and events are expected.
	StatusRunning Status = "running"
	// StatusPartial means the entry agent stopped without a terminal event
	// and the workflow awaits the next user message.
	StatusPartial Status = "partial"
	// StatusComplete means the workflow finished successfully.
	StatusComplete Status = "complete"
	// StatusError means the workflow failed or was interrupted.
	StatusError Status = "error"
)

// Terminal reports whether the status ends the workflow. Only Reset leaves a
// terminal status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// AcceptsInput reports whether a new user message may start a turn.
func (s Status) AcceptsInput() bool {
	return s == StatusPartial
}

// legalTransition encodes the lifecycle edges. Reset is not a transition; it
// replaces the session identity wholesale.
func legalTransition(from, to Status) bool {
	switch from {
	case StatusRunning:
		return to == StatusPartial || to == StatusComplete || to == StatusError
	case StatusPartial:
		// A late terminal event may still land after quiescence, and a new
		// turn re-enters running.
		return to == StatusRunning || to == StatusComplete || to == StatusError
	default:
		return false
	}
}
