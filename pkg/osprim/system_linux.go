//go:build linux

package osprim

import (
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"golang.org/x/sys/unix"
)

// System is the real operating system.
type System struct{}

// NewSystem returns the real primitives.
func NewSystem() *System {
	return &System{}
}

func (*System) Now(id clock.ClockID) (clock.Timespec, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(int32(id), &ts); err != nil {
		return clock.Timespec{}, err
	}
	return clock.Timespec{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}, nil
}

// Sleep uses nanosleep, resuming with the remaining time after EINTR. The Go
// runtime's preemption signals interrupt it routinely.
func (*System) Sleep(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	req := unix.NsecToTimespec(d.Nanoseconds())
	for {
		var rem unix.Timespec
		err := unix.Nanosleep(&req, &rem)
		if err != unix.EINTR {
			return err
		}
		req = rem
	}
}

func (*System) Yield() {
	_, _, _ = unix.RawSyscall(unix.SYS_SCHED_YIELD, 0, 0, 0)
}

func (*System) NewCond() Cond {
	return newChanCond()
}

func (*System) NewSemaphore(initial int64) Semaphore {
	return newWeightedSemaphore(initial)
}
