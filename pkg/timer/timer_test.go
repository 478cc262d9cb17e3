package timer

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/event"
	"github.com/BYTE-6D65/timeshim/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTimer(t *testing.T, rate Framerate, opts ...Option) *Timer {
	t.Helper()
	tm, err := New(rate, map[clock.Domain]clock.Timespec{
		clock.DomainRealtime:  {Sec: 1_700_000_000},
		clock.DomainMonotonic: {Sec: 1},
		clock.DomainTime:      {Sec: 1_700_000_000},
	}, opts...)
	require.NoError(t, err)
	return tm
}

func TestNew_RejectsInvalidFramerate(t *testing.T) {
	_, err := New(Framerate{Num: 60, Den: 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidFramerate)

	_, err = New(Framerate{Num: 0, Den: 1}, nil)
	assert.ErrorIs(t, err, ErrInvalidFramerate)
}

func TestFakeAdvanceTimerFrame_Integer(t *testing.T) {
	tm := newTimer(t, Framerate{Num: 60, Den: 1})
	start := tm.GetTicks(clock.DomainMonotonic, false)

	for i := 0; i < 60; i++ {
		tm.FakeAdvanceTimerFrame()
	}

	elapsed := tm.GetTicks(clock.DomainMonotonic, false).Sub(start)
	// 60 frames of 16666666.67ns: the remainder carries, so exactly one second.
	assert.Equal(t, clock.Timespec{Sec: 1}, elapsed)
	assert.Equal(t, uint64(60), tm.Frames())
}

func TestFakeAdvanceTimerFrame_NTSCExact(t *testing.T) {
	rate := Framerate{Num: 30000, Den: 1001}
	tm := newTimer(t, rate)
	start := tm.GetTicks(clock.DomainMonotonic, false)

	const frames = 10000
	for i := 0; i < frames; i++ {
		tm.FakeAdvanceTimerFrame()
	}
	elapsed := tm.GetTicks(clock.DomainMonotonic, false).Sub(start)

	// Exact: frames * Den / Num seconds, floored to the nanosecond.
	exact := new(big.Rat).SetFrac64(frames*int64(rate.Den), int64(rate.Num))
	exact.Mul(exact, big.NewRat(int64(time.Second), 1))
	wantNs := new(big.Int).Quo(exact.Num(), exact.Denom())

	gotNs := big.NewInt(elapsed.Sec*clock.NanosPerSecond + elapsed.Nsec)
	assert.Zero(t, wantNs.Cmp(gotNs), "want %s ns, got %s ns", wantNs, gotNs)
	assert.Equal(t, int64(333_666_666_666), gotNs.Int64())
}

func TestFakeAdvanceTimerFrame_AllDomains(t *testing.T) {
	tm := newTimer(t, Framerate{Num: 1, Den: 1})
	before := tm.Snapshot()
	tm.FakeAdvanceTimerFrame()
	after := tm.Snapshot()

	for _, d := range clock.Domains {
		assert.Equal(t, clock.Timespec{Sec: 1}, after[d].Sub(before[d]), "domain %s", d)
	}
}

func TestAddDelay_Additivity(t *testing.T) {
	a := 900 * time.Millisecond
	b := 200 * time.Millisecond

	split := newTimer(t, Framerate{Num: 60, Den: 1})
	split.SetTime(clock.DomainMonotonic, clock.Timespec{})
	split.AddDelay(a)
	split.AddDelay(b)

	single := newTimer(t, Framerate{Num: 60, Den: 1})
	single.SetTime(clock.DomainMonotonic, clock.Timespec{})
	single.AddDelay(a + b)

	got := split.GetTicks(clock.DomainMonotonic, false)
	assert.Equal(t, clock.Timespec{Sec: 1, Nsec: 100_000_000}, got)
	assert.Equal(t, single.GetTicks(clock.DomainMonotonic, false), got)
}

func TestAddDelay_IgnoresNonPositive(t *testing.T) {
	tm := newTimer(t, Framerate{Num: 60, Den: 1})
	before := tm.Snapshot()
	tm.AddDelay(0)
	tm.AddDelay(-time.Second)
	tm.FakeAdvanceTimer(-time.Second)
	assert.Equal(t, before, tm.Snapshot())
}

func TestFakeAdvanceTimer_SameEffectAsAddDelay(t *testing.T) {
	a := newTimer(t, Framerate{Num: 60, Den: 1})
	b := newTimer(t, Framerate{Num: 60, Den: 1})
	a.AddDelay(1234 * time.Microsecond)
	b.FakeAdvanceTimer(1234 * time.Microsecond)
	assert.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestGetTicks_TimeDomainTruncates(t *testing.T) {
	tm := newTimer(t, Framerate{Num: 60, Den: 1})
	tm.AddDelay(1500 * time.Millisecond)

	got := tm.GetTicks(clock.DomainTime, false)
	assert.Equal(t, clock.Timespec{Sec: 1_700_000_001}, got)
}

func TestGetTicks_UntrackedReadsRealtime(t *testing.T) {
	tm := newTimer(t, Framerate{Num: 60, Den: 1})
	d := tm.ClockToType(clock.ClockID(99))
	assert.Equal(t, clock.DomainUntracked, d)
	assert.Equal(t, tm.GetTicks(clock.DomainRealtime, false), tm.GetTicks(d, false))
}

func TestArmCorrection_OneShotOnRealtime(t *testing.T) {
	tm := newTimer(t, Framerate{Num: 60, Den: 1})
	mono := tm.GetTicks(clock.DomainMonotonic, false)

	tm.ArmCorrection(250 * time.Millisecond)

	// Monotonic reads do not consume the correction.
	assert.Equal(t, mono, tm.GetTicks(clock.DomainMonotonic, false))

	real1 := tm.GetTicks(clock.DomainRealtime, false)
	assert.Equal(t, clock.Timespec{Sec: 1_700_000_000, Nsec: 250_000_000}, real1)

	real2 := tm.GetTicks(clock.DomainRealtime, false)
	assert.Equal(t, real1, real2, "correction must apply only once")
}

func TestQueryThreshold_AutoAdvance(t *testing.T) {
	tm := newTimer(t, Framerate{Num: 50, Den: 1},
		WithQueryThresholds(map[clock.Domain]int{clock.DomainMonotonic: 3}))

	start := tm.GetTicks(clock.DomainMonotonic, false)

	// Worker reads never count.
	for i := 0; i < 10; i++ {
		tm.GetTicks(clock.DomainMonotonic, false)
	}
	assert.Equal(t, start, tm.GetTicks(clock.DomainMonotonic, false))

	var last clock.Timespec
	for i := 0; i < 4; i++ {
		last = tm.GetTicks(clock.DomainMonotonic, true)
	}
	assert.Equal(t, clock.Timespec{Nsec: 20_000_000}, last.Sub(start))

	// A frame boundary resets the counter.
	tm.GetTicks(clock.DomainMonotonic, true)
	tm.FakeAdvanceTimerFrame()
	before := tm.GetTicks(clock.DomainMonotonic, true)
	after := tm.GetTicks(clock.DomainMonotonic, true)
	assert.Equal(t, before, after)
}

func TestSetFramerate(t *testing.T) {
	fixed := newTimer(t, Framerate{Num: 60, Den: 1})
	assert.ErrorIs(t, fixed.SetFramerate(Framerate{Num: 30, Den: 1}), ErrFramerateLocked)

	variable := newTimer(t, Framerate{Num: 60, Den: 1}, WithVariableFramerate(true))
	require.NoError(t, variable.SetFramerate(Framerate{Num: 30, Den: 1}))
	assert.Equal(t, Framerate{Num: 30, Den: 1}, variable.Framerate())
	assert.ErrorIs(t, variable.SetFramerate(Framerate{Num: 30}), ErrInvalidFramerate)

	start := variable.GetTicks(clock.DomainMonotonic, false)
	variable.FakeAdvanceTimerFrame()
	assert.Equal(t, clock.Timespec{Nsec: 33_333_333}, variable.GetTicks(clock.DomainMonotonic, false).Sub(start))
}

func TestSetTime(t *testing.T) {
	tm := newTimer(t, Framerate{Num: 60, Den: 1})
	tm.SetTime(clock.DomainRealtime, clock.Timespec{Sec: 42, Nsec: 7})
	assert.Equal(t, clock.Timespec{Sec: 42, Nsec: 7}, tm.GetTicks(clock.DomainRealtime, false))
}

func TestMonotonicity_Concurrent(t *testing.T) {
	tm := newTimer(t, Framerate{Num: 60, Den: 1})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					tm.AddDelay(time.Millisecond)
					tm.FakeAdvanceTimerFrame()
				}
			}
		}()
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last clock.Timespec
			for j := 0; j < 5000; j++ {
				cur := tm.GetTicks(clock.DomainMonotonic, false)
				if cur.Before(last) {
					t.Errorf("monotonic time went backward: %v -> %v", last, cur)
					return
				}
				last = cur
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestTimer_Metrics(t *testing.T) {
	m := telemetry.InitMetrics(prometheus.NewRegistry())
	tm := newTimer(t, Framerate{Num: 60, Den: 1}, WithMetrics(m))

	tm.FakeAdvanceTimerFrame()
	tm.AddDelay(500 * time.Millisecond)
	tm.GetTicks(clock.DomainRealtime, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal))
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.VirtualAdvance.WithLabelValues("delay")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TimeQueries.WithLabelValues("realtime")))
}

func TestTimer_Tracer(t *testing.T) {
	bus := event.NewInMemoryBus()
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), event.Filter{Types: []string{"timer.*"}})
	require.NoError(t, err)

	tm := newTimer(t, Framerate{Num: 60, Den: 1}, WithTracer(bus))
	tm.FakeAdvanceTimerFrame()
	tm.AddDelay(time.Millisecond)

	first := <-sub.Events()
	assert.Equal(t, event.TypeTimerFrame, first.Type)
	var p event.AdvancePayload
	require.NoError(t, first.DecodePayload(&p, event.JSONCodec{}))
	assert.Equal(t, uint64(1), p.Frame)
	assert.Equal(t, clock.Timespec{Nsec: 16_666_666}, p.Delta)

	second := <-sub.Events()
	assert.Equal(t, event.TypeTimerDelay, second.Type)
}

func TestPeek_HasNoSideEffects(t *testing.T) {
	tm := newTimer(t, Framerate{Num: 50, Den: 1}, WithQueryThresholds(map[clock.Domain]int{
		clock.DomainRealtime: 1,
	}))
	tm.ArmCorrection(time.Second)

	before := tm.Peek(clock.DomainRealtime)
	for i := 0; i < 5; i++ {
		assert.Equal(t, before, tm.Peek(clock.DomainRealtime))
	}

	assert.Equal(t, before.AddDuration(time.Second), tm.GetTicks(clock.DomainRealtime, false),
		"the armed correction must survive peeks")
}
