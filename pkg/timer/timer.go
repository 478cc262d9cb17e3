// Package timer is the central authority for what time a game observes and
// how much time one frame consumes.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/event"
	"github.com/BYTE-6D65/timeshim/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Timer wraps the virtual clocks and advances them per frame, per credited
// wait and per explicit correction.
//
// None of its operations fail or block on anything but short critical
// sections; invalid framerates are rejected by New and SetFramerate.
type Timer struct {
	clocks *clock.VirtualClock

	// mu guards the frame state below. It may be held while taking a domain
	// lock, never the other way around.
	mu         sync.Mutex
	rate       Framerate
	variable   bool
	remainder  uint64 // nanoseconds scaled by rate.Num, always < rate.Num
	frames     uint64
	correction clock.Timespec
	armed      bool
	queries    [clock.NumTracked + 1]int
	thresholds [clock.NumTracked + 1]int

	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  event.Bus
	codec   event.Codec
}

// Option configures a Timer.
type Option func(*Timer)

// WithLogger sets the logger used for debug tracing of clock changes.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Timer) {
		t.log = log.With().Str("component", "timer").Logger()
	}
}

// WithMetrics records advances and queries to m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(t *Timer) {
		t.metrics = m
	}
}

// WithTracer publishes a trace event for every clock change to bus.
func WithTracer(bus event.Bus) Option {
	return func(t *Timer) {
		t.tracer = bus
	}
}

// WithVariableFramerate allows SetFramerate after construction.
func WithVariableFramerate(variable bool) Option {
	return func(t *Timer) {
		t.variable = variable
	}
}

// WithQueryThresholds enables auto-advance: once the main thread has read a
// domain more than n times within one frame, one frame's worth of time is
// added. Zero or negative disables a domain.
func WithQueryThresholds(thresholds map[clock.Domain]int) Option {
	return func(t *Timer) {
		for d, n := range thresholds {
			if d >= clock.DomainRealtime && d <= clock.DomainUntracked {
				t.thresholds[d] = n
			}
		}
	}
}

// New creates a timer running at rate with the clocks set to initial.
// Domains missing from initial start at zero.
func New(rate Framerate, initial map[clock.Domain]clock.Timespec, opts ...Option) (*Timer, error) {
	if err := rate.Validate(); err != nil {
		return nil, err
	}

	t := &Timer{
		clocks: clock.NewVirtualClock(initial),
		rate:   rate,
		log:    zerolog.Nop(),
		codec:  event.JSONCodec{},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// ClockToType maps an OS clock id to the domain serving it. Unknown ids are
// served by the untracked domain, which reads realtime.
func (t *Timer) ClockToType(id clock.ClockID) clock.Domain {
	return clock.DomainOf(id)
}

// GetTicks returns the virtual time of domain d. Realtime-like reads first
// consume any armed one-shot correction. DomainTime is truncated to whole
// seconds. mainThread marks reads that count toward auto-advance.
func (t *Timer) GetTicks(d clock.Domain, mainThread bool) clock.Timespec {
	if t.metrics != nil {
		t.metrics.TimeQueries.WithLabelValues(d.String()).Inc()
	}

	var autoAdvance, correction clock.Timespec
	t.mu.Lock()
	if mainThread && d >= 0 && int(d) < len(t.thresholds) && t.thresholds[d] > 0 {
		t.queries[d]++
		if t.queries[d] > t.thresholds[d] {
			t.queries[d] = 0
			autoAdvance = clock.FromDuration(t.rate.FrameDuration())
		}
	}
	if d.RealtimeLike() && t.armed {
		correction = t.correction
		t.correction = clock.Timespec{}
		t.armed = false
	}
	t.mu.Unlock()

	if !autoAdvance.IsZero() {
		if t.metrics != nil {
			t.metrics.QueryAutoAdvance.WithLabelValues(d.String()).Inc()
		}
		t.log.Debug().Stringer("domain", d).Stringer("delta", autoAdvance).Msg("query threshold reached, advancing")
		t.advanceAll(autoAdvance, "query", event.TypeTimerFakeAdvance)
	}
	if !correction.IsZero() {
		t.advanceAll(correction, "correction", event.TypeTimerFakeAdvance)
	}

	ts := t.clocks.Read(d)
	if d == clock.DomainTime {
		ts = ts.Truncate()
	}
	return ts
}

// Peek reads domain d without counting the read or consuming a correction.
// Used to interpret deadlines, never to answer the game.
func (t *Timer) Peek(d clock.Domain) clock.Timespec {
	return t.clocks.Read(d)
}

// AddDelay credits delta to every domain, in lieu of a real wait.
// Non-positive deltas are ignored so the clocks stay monotonic.
func (t *Timer) AddDelay(delta time.Duration) {
	if delta <= 0 {
		return
	}
	t.advanceAll(clock.FromDuration(delta), "delay", event.TypeTimerDelay)
}

// FakeAdvanceTimer has the same effect as AddDelay but marks the advance as an
// explicit correction rather than a measured wait.
func (t *Timer) FakeAdvanceTimer(delta time.Duration) {
	if delta <= 0 {
		return
	}
	t.advanceAll(clock.FromDuration(delta), "fake", event.TypeTimerFakeAdvance)
}

// FakeAdvanceTimerFrame advances every domain by exactly one frame.
//
// Each call adds 1e9*Den to a remainder kept in units of 1/Num nanoseconds and
// moves the whole nanoseconds into the clocks, so after N frames the clocks
// have moved by exactly floor(N*1e9*Den/Num) nanoseconds.
func (t *Timer) FakeAdvanceTimerFrame() {
	t.mu.Lock()
	t.remainder += uint64(clock.NanosPerSecond) * uint64(t.rate.Den)
	inc := t.remainder / uint64(t.rate.Num)
	t.remainder %= uint64(t.rate.Num)
	t.frames++
	frame := t.frames
	t.queries = [clock.NumTracked + 1]int{}

	delta := clock.Timespec{Nsec: int64(inc)}.Normalize()
	for _, d := range clock.Domains {
		t.clocks.Advance(d, delta)
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.FramesTotal.Inc()
		t.metrics.VirtualAdvance.WithLabelValues("frame").Add(delta.Duration().Seconds())
	}
	t.trace(event.TypeTimerFrame, "frame", event.AdvancePayload{Delta: delta, Frame: frame})
}

// ArmCorrection registers a one-shot advance applied on the next realtime-like
// read. Arming twice before a read accumulates.
func (t *Timer) ArmCorrection(delta time.Duration) {
	if delta <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.correction = t.correction.Add(clock.FromDuration(delta))
	t.armed = true
}

// SetTime hard-sets domain d, used when a movie or savestate restores its
// recorded time.
func (t *Timer) SetTime(d clock.Domain, ts clock.Timespec) {
	t.clocks.Set(d, ts)
	t.log.Debug().Stringer("domain", d).Stringer("value", ts).Msg("clock set")
	t.trace(event.TypeTimerSet, d.String(), event.AdvancePayload{Delta: ts, Frame: t.Frames()})
}

// SetFramerate changes the frame duration. Only allowed when the timer was
// built with variable framerate. The sub-nanosecond remainder is rescaled.
func (t *Timer) SetFramerate(rate Framerate) error {
	if err := rate.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	if !t.variable {
		t.mu.Unlock()
		return ErrFramerateLocked
	}
	t.remainder = t.remainder * uint64(rate.Num) / uint64(t.rate.Num)
	t.rate = rate
	frame := t.frames
	t.mu.Unlock()

	t.log.Debug().Stringer("rate", rate).Uint64("frame", frame).Msg("framerate changed")
	t.trace(event.TypeTimerFramerate, rate.String(), nil)
	return nil
}

// Framerate returns the current framerate.
func (t *Timer) Framerate() Framerate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// Frames returns the number of frame boundaries processed.
func (t *Timer) Frames() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Snapshot returns every tracked domain's virtual time.
func (t *Timer) Snapshot() map[clock.Domain]clock.Timespec {
	return t.clocks.Snapshot()
}

func (t *Timer) advanceAll(delta clock.Timespec, source, eventType string) {
	for _, d := range clock.Domains {
		t.clocks.Advance(d, delta)
	}

	if t.metrics != nil {
		t.metrics.VirtualAdvance.WithLabelValues(source).Add(delta.Duration().Seconds())
	}
	t.log.Trace().Str("source", source).Stringer("delta", delta).Msg("advance")
	t.trace(eventType, source, event.AdvancePayload{Delta: delta, Frame: t.Frames()})
}

func (t *Timer) trace(eventType, source string, payload any) {
	if t.tracer == nil {
		return
	}

	evt, err := event.New(eventType, source, t.clocks.Read(clock.DomainMonotonic), payload, t.codec)
	if err != nil {
		t.log.Debug().Err(err).Str("type", eventType).Msg("trace encode failed")
		return
	}
	if err := t.tracer.Publish(context.Background(), *evt); err != nil {
		t.log.Debug().Err(err).Str("type", eventType).Msg("trace publish failed")
	}
}
