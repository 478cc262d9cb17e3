package osprim

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// weightedSemaphore is a counting semaphore on top of semaphore.Weighted.
// The weighted semaphore starts with all but the initial count held, so Post
// is a Release and Wait an Acquire.
type weightedSemaphore struct {
	w     *semaphore.Weighted
	count atomic.Int64
}

func newWeightedSemaphore(initial int64) *weightedSemaphore {
	if initial < 0 {
		initial = 0
	}
	s := &weightedSemaphore{w: semaphore.NewWeighted(math.MaxInt64)}
	if !s.w.TryAcquire(math.MaxInt64 - initial) {
		panic("osprim: fresh semaphore not acquirable")
	}
	s.count.Store(initial)
	return s
}

func (s *weightedSemaphore) Wait() error {
	if err := s.w.Acquire(context.Background(), 1); err != nil {
		return ErrInterrupted
	}
	s.count.Add(-1)
	return nil
}

func (s *weightedSemaphore) TimedWait(d time.Duration) error {
	if d <= 0 {
		if err := s.TryWait(); err != nil {
			return ErrTimedOut
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	if err := s.w.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimedOut
		}
		return ErrInterrupted
	}
	s.count.Add(-1)
	return nil
}

func (s *weightedSemaphore) TryWait() error {
	if !s.w.TryAcquire(1) {
		return ErrWouldBlock
	}
	s.count.Add(-1)
	return nil
}

func (s *weightedSemaphore) Post() {
	s.count.Add(1)
	s.w.Release(1)
}

func (s *weightedSemaphore) Value() int64 {
	return s.count.Load()
}
