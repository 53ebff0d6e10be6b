package hybrid

// State is the synchronizer's position in its lifecycle.
type State int32

const (
	Uninitialized State = iota
	Initializing
	LocalOnly
	CloudAvailable
	CloudUnavailable
	Reinitializing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case LocalOnly:
		return "local-only"
	case CloudAvailable:
		return "cloud-available"
	case CloudUnavailable:
		return "cloud-unavailable"
	case Reinitializing:
		return "reinitializing"
	default:
		return "unknown"
	}
}

// Status is the passive cloud-sync indicator shown to users.
type Status string

const (
	StatusChecking    Status = "checking"
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusLocalOnly   Status = "local-only"
)

// StatusOf projects a State onto the indicator.
func StatusOf(s State) Status {
	switch s {
	case CloudAvailable:
		return StatusAvailable
	case CloudUnavailable:
		return StatusUnavailable
	case LocalOnly:
		return StatusLocalOnly
	default:
		return StatusChecking
	}
}

// StateListener observes transitions. It runs with the synchronizer locked,
// so it must return quickly and may only call State or Status.
type StateListener func(from, to State)
