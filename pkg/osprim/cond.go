package osprim

import (
	"sync"
	"time"
)

// chanCond is a FIFO condition variable. Each waiter parks on its own channel
// so a timed wait can give up without consuming another waiter's signal.
type chanCond struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

func newChanCond() *chanCond {
	return &chanCond{}
}

func (c *chanCond) enqueue() chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	return ch
}

// remove drops ch from the queue. It returns false if ch was already
// signalled.
func (c *chanCond) remove(ch chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (c *chanCond) Wait(l sync.Locker) error {
	ch := c.enqueue()
	l.Unlock()
	<-ch
	l.Lock()
	return nil
}

func (c *chanCond) TimedWait(l sync.Locker, d time.Duration) error {
	ch := c.enqueue()
	l.Unlock()
	defer l.Lock()

	if d <= 0 {
		if c.remove(ch) {
			return ErrTimedOut
		}
		<-ch
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		if c.remove(ch) {
			return ErrTimedOut
		}
		// Signalled while the timer fired.
		<-ch
		return nil
	}
}

func (c *chanCond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return
	}
	close(c.waiters[0])
	c.waiters = c.waiters[1:]
}

func (c *chanCond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
}

// waiting reports the number of parked waiters.
func (c *chanCond) waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
