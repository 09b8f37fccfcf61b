package indicator

import "time"

// Pattern is an LED blink pattern.
type Pattern int

const (
	Off Pattern = iota
	// Setup blinks fast while the access point is up.
	Setup
	// Connecting blinks slowly while joining or rejoining the network.
	Connecting
	// Running is solid on.
	Running
	// Fault double-pulses when the broker is unreachable.
	Fault
)

func (p Pattern) String() string {
	switch p {
	case Off:
		return "off"
	case Setup:
		return "setup"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// Level returns the LED value (0 or 1) at elapsed time into the pattern.
func (p Pattern) Level(elapsed time.Duration) int {
	switch p {
	case Running:
		return 1
	case Setup:
		return square(elapsed, 200*time.Millisecond)
	case Connecting:
		return square(elapsed, time.Second)
	case Fault:
		phase := elapsed % (2 * time.Second)
		if phase < 150*time.Millisecond || (phase >= 300*time.Millisecond && phase < 450*time.Millisecond) {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// square is on for the first half of each period.
func square(elapsed, period time.Duration) int {
	if elapsed%period < period/2 {
		return 1
	}
	return 0
}
