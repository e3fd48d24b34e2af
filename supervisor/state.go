package supervisor

// State is the lifecycle state of a supervised process.
//
//	NotStarted -> Starting -> Ready -> Stopping -> Stopped
//	                  \-> Failed
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Alive reports whether the state still owns an OS process.
func (s State) Alive() bool {
	return s == StateStarting || s == StateReady || s == StateStopping
}
