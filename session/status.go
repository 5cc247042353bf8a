package session

// Status is the lifecycle state of a session. Transitions are monotonic:
// starting -> running -> {completed | failed | killed}, never reversed.
type Status int

const (
	// StatusStarting is the initial state before the stream's init event.
	StatusStarting Status = iota

	// StatusRunning means the agent conversation is live.
	StatusRunning

	// StatusCompleted means the agent finished successfully.
	StatusCompleted

	// StatusFailed means the stream failed or the budget was exhausted.
	StatusFailed

	// StatusKilled means the session was aborted by an explicit kill.
	StatusKilled
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusKilled
}

// Active reports whether the session still occupies a pool slot.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning
}

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusKilled:
		return "killed"
	default:
		return "unknown"
	}
}
