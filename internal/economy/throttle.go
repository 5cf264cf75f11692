package economy

import "time"

// DefaultMaxClicksPerSecond caps accepted clicks per wall-clock second.
const DefaultMaxClicksPerSecond = 12

// Throttle is a per-second click bucket. The count resets whenever the
// integer Unix second changes, so bursts straddling a boundary can reach
// twice the cap. Not safe for concurrent use.
type Throttle struct {
	max    int
	second int64
	count  int
}

// NewThrottle creates a throttle accepting max clicks per second.
// max <= 0 disables the cap.
func NewThrottle(max int) *Throttle {
	return &Throttle{max: max}
}

// Allow records a click attempt at now and reports whether it is accepted.
func (t *Throttle) Allow(now time.Time) bool {
	if t.max <= 0 {
		return true
	}
	sec := now.Unix()
	if sec != t.second {
		t.second = sec
		t.count = 0
	}
	if t.count >= t.max {
		return false
	}
	t.count++
	return true
}

// Reset forgets the current bucket.
func (t *Throttle) Reset() {
	t.second = 0
	t.count = 0
}
