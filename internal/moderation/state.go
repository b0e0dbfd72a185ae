package moderation

// State is a step of a single moderation job.
type State int

const (
	StateClassifying State = iota
	StateDispatched
	StatePolling
	StateNormalizing
	StatePersisted
	StateResponded
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateClassifying:
		return "CLASSIFYING"
	case StateDispatched:
		return "DISPATCHED"
	case StatePolling:
		return "POLLING"
	case StateNormalizing:
		return "NORMALIZING"
	case StatePersisted:
		return "PERSISTED"
	case StateResponded:
		return "RESPONDED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}
