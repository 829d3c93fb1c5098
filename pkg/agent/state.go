package agent

// State is the phase of one Run invocation.
type State int

const (
	StateIdle State = iota
	StatePrefetching
	StateStreaming
	StateDraining
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrefetching:
		return "prefetching"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored
}
