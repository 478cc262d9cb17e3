package osprim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeightedSemaphore_Counts(t *testing.T) {
	s := newWeightedSemaphore(2)

	assert.Equal(t, int64(2), s.Value())
	assert.NoError(t, s.Wait())
	assert.NoError(t, s.TryWait())
	assert.ErrorIs(t, s.TryWait(), ErrWouldBlock)
	assert.Zero(t, s.Value())

	s.Post()
	assert.Equal(t, int64(1), s.Value())
	assert.NoError(t, s.TimedWait(0))
	assert.ErrorIs(t, s.TimedWait(0), ErrTimedOut)
}

func TestWeightedSemaphore_TimedWait(t *testing.T) {
	s := newWeightedSemaphore(0)

	start := time.Now()
	assert.ErrorIs(t, s.TimedWait(20*time.Millisecond), ErrTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Post()
	}()
	assert.NoError(t, s.TimedWait(5*time.Second))
}

func TestWeightedSemaphore_NegativeInitial(t *testing.T) {
	s := newWeightedSemaphore(-3)
	assert.Zero(t, s.Value())
	assert.ErrorIs(t, s.TryWait(), ErrWouldBlock)
}
