// Package osprim is the boundary between the timing core and the operating
// system: clocks, sleeps, yields, condition variables and semaphores.
//
// System talks to the real OS. Fake is a deterministic double whose clock only
// moves when something waits on it.
package osprim

import (
	"errors"
	"sync"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
)

var (
	// ErrTimedOut is returned by timed waits whose duration elapsed
	ErrTimedOut = errors.New("osprim: timed out")

	// ErrWouldBlock is returned by TryWait on an empty semaphore
	ErrWouldBlock = errors.New("osprim: would block")

	// ErrInterrupted is returned when a wait ended without being satisfied
	// and without timing out
	ErrInterrupted = errors.New("osprim: interrupted")
)

// Primitives is everything the interception layer may do for real.
type Primitives interface {
	// Now reads the real clock id.
	Now(id clock.ClockID) (clock.Timespec, error)

	// Sleep blocks for d. Non-positive durations return immediately.
	Sleep(d time.Duration) error

	// Yield gives up the processor once.
	Yield()

	NewCond() Cond
	NewSemaphore(initial int64) Semaphore
}

// Cond is a condition variable bound to the caller's lock at wait time.
// Waits are entered with l held and return with l held.
type Cond interface {
	Wait(l sync.Locker) error

	// TimedWait returns ErrTimedOut if not signalled within d. A
	// non-positive d is a single check.
	TimedWait(l sync.Locker, d time.Duration) error

	Signal()
	Broadcast()
}

// Semaphore is a counting semaphore.
type Semaphore interface {
	Wait() error

	// TimedWait returns ErrTimedOut if the count stayed zero for d.
	TimedWait(d time.Duration) error

	// TryWait returns ErrWouldBlock instead of waiting.
	TryWait() error

	Post()
	Value() int64
}
