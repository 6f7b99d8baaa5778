package sim

import "fmt"

// VirtualTime is the simulation's logical clock, in nanoseconds.
// It never reflects real elapsed time and is advanced only by the
// Simulation when it dispatches events.
type VirtualTime int64

const (
	Microsecond VirtualTime = 1_000
	Millisecond VirtualTime = 1_000 * Microsecond
	Second      VirtualTime = 1_000 * Millisecond
)

// Seconds returns the time as fractional seconds (for display only).
func (t VirtualTime) Seconds() float64 {
	return float64(t) / float64(Second)
}

func (t VirtualTime) String() string {
	return fmt.Sprintf("%.6fs", t.Seconds())
}
