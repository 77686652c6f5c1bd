package cycle

import "time"

// State enumerates the finite states of one sorting cycle.
type State int

const (
	Idle State = iota
	SensorEngaged
	PistonExtending
	PistonRetracting
	DeviceCheck
	RiserExtending
	ReadyForCapture
	Resetting
	Invalidated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SensorEngaged:
		return "sensor_engaged"
	case PistonExtending:
		return "piston_extending"
	case PistonRetracting:
		return "piston_retracting"
	case DeviceCheck:
		return "device_check"
	case RiserExtending:
		return "riser_extending"
	case ReadyForCapture:
		return "ready_for_capture"
	case Resetting:
		return "resetting"
	case Invalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// CycleState holds the transient timestamps of the in-progress cycle. The
// machine is its only writer; it is cleared on every reset.
type CycleState struct {
	SensorActiveAt  time.Time
	PistonActiveAt  time.Time
	PistonRetractAt time.Time
	RiserActiveAt   time.Time
	Valid           bool
}
