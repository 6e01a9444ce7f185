// Package supervisor owns the renderer process: it keeps at most one live
// worker per session, funnels every command through it and reports frames.
package supervisor

// State represents the supervisor's lifecycle position.
type State int

const (
	// StateDisabled means no renderer exists for this platform. Every
	// operation is a no-op.
	StateDisabled State = iota

	// StateIdle means no worker is live; the next render spawns one.
	StateIdle

	// StateStarting indicates a worker process is being spawned.
	StateStarting

	// StateRunning indicates a worker process is live.
	StateRunning

	// StateStopped means Stop was called. EnsureStarted revives it.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true if a worker is live or being spawned.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning
}
