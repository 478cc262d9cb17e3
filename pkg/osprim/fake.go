package osprim

import (
	"sync"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
)

// Fake is a deterministic Primitives implementation. Its real clock starts at
// the given epoch and only moves when a sleep or a timed wait runs out, so a
// 100ms timed wait returns at once with the clock 100ms later.
//
// Untimed waits still block until signalled. Signals sent while nobody waits
// are kept and satisfy the next wait, which keeps tests free of races.
type Fake struct {
	mu      sync.Mutex
	epoch   clock.Timespec
	elapsed time.Duration
	sleeps  []time.Duration
	waits   []time.Duration
	yields  int
	failNow error
}

// NewFake returns a fake whose realtime clock reads epoch and whose other
// clocks read zero.
func NewFake(epoch clock.Timespec) *Fake {
	return &Fake{epoch: epoch.Normalize()}
}

func (f *Fake) Now(id clock.ClockID) (clock.Timespec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNow != nil {
		return clock.Timespec{}, f.failNow
	}
	if clock.DomainOf(id).RealtimeLike() {
		return f.epoch.AddDuration(f.elapsed), nil
	}
	return clock.FromDuration(f.elapsed), nil
}

func (f *Fake) Sleep(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	if d > 0 {
		f.elapsed += d
	}
	return nil
}

func (f *Fake) Yield() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.yields++
}

func (f *Fake) NewCond() Cond {
	return &fakeCond{fake: f, cond: newChanCond()}
}

func (f *Fake) NewSemaphore(initial int64) Semaphore {
	return &fakeSemaphore{fake: f, sem: newWeightedSemaphore(initial)}
}

// Advance moves the real clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elapsed += d
}

// Elapsed returns how far the real clock has moved.
func (f *Fake) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elapsed
}

// Sleeps returns every duration passed to Sleep, in call order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

// Waits returns the duration of every timed cond or semaphore wait.
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

// Yields returns the number of Yield calls.
func (f *Fake) Yields() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.yields
}

// FailNow makes every Now call return err until called again with nil.
func (f *Fake) FailNow(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNow = err
}

// expire records a timed wait that ran out.
func (f *Fake) expire(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, d)
	if d > 0 {
		f.elapsed += d
	}
}

func (f *Fake) record(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, d)
}

type fakeCond struct {
	fake *Fake
	cond *chanCond

	mu     sync.Mutex
	tokens int
}

func (c *fakeCond) take() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens > 0 {
		c.tokens--
		return true
	}
	return false
}

func (c *fakeCond) Wait(l sync.Locker) error {
	c.mu.Lock()
	if c.tokens > 0 {
		c.tokens--
		c.mu.Unlock()
		return nil
	}
	ch := c.cond.enqueue()
	c.mu.Unlock()

	l.Unlock()
	<-ch
	l.Lock()
	return nil
}

func (c *fakeCond) TimedWait(l sync.Locker, d time.Duration) error {
	if c.take() {
		c.fake.record(0)
		return nil
	}
	c.fake.expire(d)
	return ErrTimedOut
}

func (c *fakeCond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cond.waiting() > 0 {
		c.cond.Signal()
		return
	}
	c.tokens++
}

func (c *fakeCond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cond.Broadcast()
}

type fakeSemaphore struct {
	fake *Fake
	sem  *weightedSemaphore
}

func (s *fakeSemaphore) Wait() error {
	return s.sem.Wait()
}

func (s *fakeSemaphore) TimedWait(d time.Duration) error {
	if err := s.sem.TryWait(); err == nil {
		s.fake.record(0)
		return nil
	}
	s.fake.expire(d)
	return ErrTimedOut
}

func (s *fakeSemaphore) TryWait() error {
	return s.sem.TryWait()
}

func (s *fakeSemaphore) Post() {
	s.sem.Post()
}

func (s *fakeSemaphore) Value() int64 {
	return s.sem.Value()
}
