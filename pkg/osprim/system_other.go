//go:build !linux

package osprim

import (
	"runtime"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
)

// System is the real operating system, approximated with the Go runtime on
// platforms without the Linux clock ids.
type System struct {
	start time.Time
}

// NewSystem returns the real primitives.
func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) Now(id clock.ClockID) (clock.Timespec, error) {
	if clock.DomainOf(id).RealtimeLike() {
		return clock.FromTime(time.Now()), nil
	}
	return clock.FromDuration(time.Since(s.start)), nil
}

func (*System) Sleep(d time.Duration) error {
	if d > 0 {
		time.Sleep(d)
	}
	return nil
}

func (*System) Yield() {
	runtime.Gosched()
}

func (*System) NewCond() Cond {
	return newChanCond()
}

func (*System) NewSemaphore(initial int64) Semaphore {
	return newWeightedSemaphore(initial)
}
