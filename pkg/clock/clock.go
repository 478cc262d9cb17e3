package clock

import "time"

// Clock reports elapsed real time. It is used for measuring how long real waits
// and frames take, never for the time a game observes.
type Clock interface {
	// Now returns the elapsed time since the clock's epoch
	Now() time.Duration

	// Since returns the duration elapsed since the given reading
	Since(t time.Duration) time.Duration
}

// SystemClock uses the system's monotonic clock.
type SystemClock struct {
	epoch time.Time // Cached at creation to provide stable monotonic base
}

// NewSystemClock creates a new SystemClock anchored at the current time.
func NewSystemClock() *SystemClock {
	return &SystemClock{
		epoch: time.Now(),
	}
}

// Now returns the elapsed monotonic time since epoch.
func (s *SystemClock) Now() time.Duration {
	// time.Since leverages the monotonic reading internally
	return time.Since(s.epoch)
}

// Since returns the duration elapsed since the given reading.
func (s *SystemClock) Since(t time.Duration) time.Duration {
	return s.Now() - t
}
