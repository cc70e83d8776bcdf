package engine

// SleepEvent reports an inactivity state change.
type SleepEvent int

const (
	SleepNone SleepEvent = iota
	SleepFellAsleep
	SleepWokeUp
)

// DefaultSleepTimeoutSec is the inactivity window before the avatar sleeps.
const DefaultSleepTimeoutSec = 30.0

// Sleep tracks input inactivity and emits fell-asleep/woke-up events. Not a
// background timer: the tick loop calls Update each frame and Activity
// whenever any input source fires.
type Sleep struct {
	timeout  float64
	elapsed  float64
	sleeping bool
	enabled  bool
}

// NewSleep creates the timer. A timeout of zero or less disables it.
func NewSleep(timeoutSec float64) *Sleep {
	s := &Sleep{}
	s.SetTimeout(timeoutSec)
	return s
}

// Sleeping reports whether the timer has expired without activity.
func (s *Sleep) Sleeping() bool { return s.sleeping }

// Timeout returns the configured inactivity window in seconds.
func (s *Sleep) Timeout() float64 { return s.timeout }

// SetTimeout changes the window. Disabling while asleep wakes up silently.
func (s *Sleep) SetTimeout(sec float64) {
	if sec < 0 {
		sec = 0
	}
	s.timeout = sec
	s.enabled = sec > 0
	if !s.enabled && s.sleeping {
		s.sleeping = false
		s.elapsed = 0
	}
}

// Activity resets the inactivity clock.
func (s *Sleep) Activity() { s.elapsed = 0 }

// Update advances the timer by dt seconds and returns the event when the
// sleep state flips.
func (s *Sleep) Update(dt float64) SleepEvent {
	if !s.enabled {
		return SleepNone
	}
	if s.sleeping {
		// Asleep: Activity resets elapsed, which is the wake signal.
		if s.elapsed == 0 {
			s.sleeping = false
			return SleepWokeUp
		}
		return SleepNone
	}
	s.elapsed += dt
	if s.elapsed >= s.timeout {
		s.sleeping = true
		return SleepFellAsleep
	}
	return SleepNone
}
