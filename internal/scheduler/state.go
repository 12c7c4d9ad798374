package scheduler

// State is a scheduler phase.
type State int

const (
	AwaitingWindow State = iota
	InitialCalibration
	MainLoop
	Draining
	Parked
)

func (s State) String() string {
	switch s {
	case AwaitingWindow:
		return "awaiting_window"
	case InitialCalibration:
		return "initial_calibration"
	case MainLoop:
		return "main_loop"
	case Draining:
		return "draining"
	case Parked:
		return "parked"
	default:
		return "unknown"
	}
}
