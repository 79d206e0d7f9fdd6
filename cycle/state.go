package cycle

// State of the acquisition loop. It only changes when the scheduler sends
// a command; the sensor never acknowledges power changes.
type State uint8

const (
	Idle State = iota
	Warmup
	ActiveReading
	Cooldown
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Warmup:
		return "warmup"
	case ActiveReading:
		return "active_reading"
	case Cooldown:
		return "cooldown"
	case ShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}
