package relay

// State is a stage of the per-request relay pipeline.
type State int

const (
	StateReceived State = iota
	StateValidated
	StateAuthorizationChecked
	StateSubmitted
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateValidated:
		return "validated"
	case StateAuthorizationChecked:
		return "authorization_checked"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
