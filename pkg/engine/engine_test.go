package engine

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/event"
	"github.com/BYTE-6D65/timeshim/pkg/hooks"
	"github.com/BYTE-6D65/timeshim/pkg/osprim"
	"github.com/BYTE-6D65/timeshim/pkg/policy"
	"github.com/BYTE-6D65/timeshim/pkg/telemetry"
	"github.com/BYTE-6D65/timeshim/pkg/threads"
	"github.com/BYTE-6D65/timeshim/pkg/timer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, cfg Config, opts ...EngineOption) (*Engine, *osprim.Fake) {
	t.Helper()
	fake := osprim.NewFake(clock.Timespec{Sec: 1_700_000_000})
	eng, err := New(cfg, append([]EngineOption{WithPrimitives(fake)}, opts...)...)
	require.NoError(t, err)
	return eng, fake
}

func TestNew(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	assert.NotNil(t, eng.Timer())
	assert.NotNil(t, eng.Threads())
	assert.NotNil(t, eng.Hooks())
	assert.NotNil(t, eng.Layer())
	assert.NotNil(t, eng.Recorder())
	assert.Nil(t, eng.Tracer(), "tracing is off by default")
	assert.Equal(t, timer.Framerate{Num: 60, Den: 1}, eng.Timer().Framerate())
}

func TestNew_DefaultPrimitivesAreReal(t *testing.T) {
	eng, err := New(DefaultConfig())
	require.NoError(t, err)

	_, ok := eng.prims.(*osprim.System)
	assert.True(t, ok, "Expected default primitives to be *osprim.System")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Framerate = timer.Framerate{Num: 60}

	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, timer.ErrInvalidFramerate)
}

func TestNew_InitialClocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRealtime = clock.Timespec{Sec: 1_600_000_000, Nsec: 5}
	cfg.InitialMonotonic = clock.Timespec{Sec: 42}

	eng, _ := newTestEngine(t, cfg)

	assert.Equal(t, cfg.InitialRealtime, eng.Timer().Peek(clock.DomainRealtime))
	assert.Equal(t, cfg.InitialMonotonic, eng.Timer().Peek(clock.DomainMonotonic))
	assert.Equal(t, int64(1_600_000_000), eng.Timer().GetTicks(clock.DomainTime, false).Sec)
}

func TestNew_InitialClocksFromOS(t *testing.T) {
	fake := osprim.NewFake(clock.Timespec{Sec: 1_700_000_000})
	fake.Advance(3 * time.Second)

	eng, err := New(DefaultConfig(), WithPrimitives(fake))
	require.NoError(t, err)

	assert.Equal(t, clock.Timespec{Sec: 1_700_000_003}, eng.Timer().Peek(clock.DomainRealtime))
	assert.Equal(t, clock.Timespec{Sec: 3}, eng.Timer().Peek(clock.DomainMonotonic))
	assert.Equal(t, int64(1_700_000_003), eng.Timer().GetTicks(clock.DomainTime, false).Sec)
}

func TestNew_InitialClocksReadError(t *testing.T) {
	fake := osprim.NewFake(clock.Timespec{Sec: 1_700_000_000})
	fake.FailNow(osprim.ErrInterrupted)

	_, err := New(DefaultConfig(), WithPrimitives(fake))
	assert.ErrorIs(t, err, osprim.ErrInterrupted)
}

func TestEngine_FrameBoundary(t *testing.T) {
	eng, fake := newTestEngine(t, DefaultConfig())

	for i := 0; i < 60; i++ {
		fake.Advance(10 * time.Millisecond)
		eng.FrameBoundary()
	}

	assert.Equal(t, clock.Timespec{Sec: 1}, eng.Timer().Peek(clock.DomainMonotonic))

	last, ok := eng.Recorder().Last()
	require.True(t, ok)
	assert.Equal(t, uint64(60), last.Frame)
	assert.Equal(t, clock.Timespec{Sec: 1}, last.Virtual)
	assert.Equal(t, 600*time.Millisecond, last.RealElapsed)
	assert.Equal(t, 10*time.Millisecond, last.RealDelta)
	assert.InDelta(t, float64(16_666_666), float64(last.VirtualDelta), 1)
}

func TestEngine_FrameSnapshotIncludesCredit(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())
	mainID, err := eng.Threads().Register(threads.KindMain, "main")
	require.NoError(t, err)

	eng.FrameBoundary()
	require.NoError(t, eng.Layer().Nanosleep(threads.Caller{ID: mainID}, 5*time.Millisecond))
	snap := eng.FrameBoundary()

	assert.Equal(t, 5*time.Millisecond+16_666_667*time.Nanosecond, snap.VirtualDelta)
}

func TestEngine_EndToEndFinite(t *testing.T) {
	eng, fake := newTestEngine(t, DefaultConfig())
	mainID, err := eng.Threads().Register(threads.KindMain, "main")
	require.NoError(t, err)

	cond := fake.NewCond()
	var mu sync.Mutex
	start := eng.Timer().Peek(clock.DomainMonotonic)
	now, _ := fake.Now(clock.ClockMonotonic)

	mu.Lock()
	err = eng.Layer().CondTimedWait(threads.Caller{ID: mainID}, cond, &mu, now.AddDuration(2*time.Second), clock.ClockMonotonic)
	mu.Unlock()

	assert.ErrorIs(t, err, osprim.ErrTimedOut)
	assert.Equal(t, 100*time.Millisecond, fake.Elapsed())
	assert.Equal(t, 1900*time.Millisecond, eng.Timer().Peek(clock.DomainMonotonic).Sub(start).Duration())
}

func TestEngine_SetGameEnablesHooks(t *testing.T) {
	eng, fake := newTestEngine(t, DefaultConfig())
	mainID, err := eng.Threads().Register(threads.KindMain, "main")
	require.NoError(t, err)
	caller := threads.Caller{ID: mainID}

	eng.Layer().SchedYield(caller)
	assert.True(t, eng.Timer().Peek(clock.DomainMonotonic).IsZero())

	eng.SetGame("gamemaker")
	eng.Layer().SchedYield(caller)
	assert.Equal(t, clock.Timespec{Nsec: 1_000_000}, eng.Timer().Peek(clock.DomainMonotonic))
	assert.Equal(t, 2, fake.Yields())
}

func TestEngine_Reconfigure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VariableFramerate = true
	eng, _ := newTestEngine(t, cfg)

	next := DefaultConfig()
	next.Framerate = timer.Framerate{Num: 30, Den: 1}
	next.WaitPolicy = policy.ModeNever
	next.Game = "unity"
	next.Hooks = []hooks.Entry{{Name: "extra", Site: hooks.SiteClock, Effect: hooks.EffectAdvance, Delta: time.Millisecond}}

	require.NoError(t, eng.Reconfigure(next))

	assert.Equal(t, timer.Framerate{Num: 30, Den: 1}, eng.Timer().Framerate())
	assert.Equal(t, policy.ModeNever, eng.Layer().Policies().Wait)
	assert.Equal(t, "unity", eng.Hooks().Game())
	assert.Len(t, eng.Hooks().Entries(), len(hooks.DefaultEntries())+1)
	assert.True(t, eng.Config().VariableFramerate, "construction-time fields survive")
}

func TestEngine_ReconfigureLockedFramerate(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	next := DefaultConfig()
	next.Framerate = timer.Framerate{Num: 30, Den: 1}
	next.WaitPolicy = policy.ModeNever

	err := eng.Reconfigure(next)
	assert.ErrorIs(t, err, timer.ErrFramerateLocked)
	assert.Equal(t, policy.ModeFinite, eng.Layer().Policies().Wait, "nothing applied")
	assert.Equal(t, policy.ModeFinite, eng.Config().WaitPolicy)
}

func TestEngine_ReconfigureRejectsInvalid(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())

	next := DefaultConfig()
	next.SleepPolicy = policy.Mode(77)
	assert.ErrorIs(t, eng.Reconfigure(next), ErrInvalidConfig)
	assert.Equal(t, policy.ModeAlways, eng.Layer().Policies().Sleep)
}

func TestEngine_ThreadMetrics(t *testing.T) {
	m := telemetry.InitMetrics(prometheus.NewRegistry())
	eng, _ := newTestEngine(t, DefaultConfig(), WithMetrics(m))

	id, err := eng.Threads().Register(threads.KindWorker, "audio")
	require.NoError(t, err)
	_, err = eng.Threads().Register(threads.KindMain, "main")
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ThreadsLive))

	require.NoError(t, eng.Threads().Exit(id))
	require.NoError(t, eng.Threads().Join(id))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThreadsLive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ThreadTransitions.WithLabelValues("register")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThreadTransitions.WithLabelValues("join")))
}

func TestEngine_TraceEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceEvents = true
	eng, _ := newTestEngine(t, cfg)
	require.NotNil(t, eng.Tracer())

	sub, err := eng.Tracer().Subscribe(context.Background(), event.Filter{Types: []string{"thread.*"}})
	require.NoError(t, err)

	_, err = eng.Threads().Register(threads.KindMain, "main")
	require.NoError(t, err)

	evt := <-sub.Events()
	var payload event.ThreadPayload
	require.NoError(t, evt.DecodePayload(&payload, event.JSONCodec{}))
	assert.Equal(t, "register", payload.Event)
	assert.Equal(t, "main", payload.Name)
	assert.Equal(t, "running", payload.To)

	require.NoError(t, eng.Shutdown(context.Background()))
	assert.ErrorIs(t, eng.Tracer().Publish(context.Background(), evt), event.ErrBusClosed)
}

func TestEngine_ExternalTracerNotClosed(t *testing.T) {
	bus := event.NewInMemoryBus()
	defer bus.Close()

	eng, _ := newTestEngine(t, DefaultConfig(), WithTracer(bus))
	require.NoError(t, eng.Shutdown(context.Background()))

	evt, err := event.New("test.event", "test", clock.Timespec{}, nil, event.JSONCodec{})
	require.NoError(t, err)
	assert.NoError(t, bus.Publish(context.Background(), *evt))
}

func TestEngine_ShutdownBoundsWaits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WaitPolicy = policy.ModeFullInfinite
	eng, fake := newTestEngine(t, cfg)
	id, err := eng.Threads().Register(threads.KindWorker, "loader")
	require.NoError(t, err)

	require.NoError(t, eng.Shutdown(context.Background()))
	assert.True(t, eng.Threads().IsProcessExiting())

	sem := fake.NewSemaphore(0)
	assert.ErrorIs(t, eng.Layer().SemWait(threads.Caller{ID: id}, sem), osprim.ErrInterrupted)
}

func TestEngine_ShutdownCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceEvents = true
	eng, _ := newTestEngine(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	// Close is fast, so either outcome is acceptable; it must not hang.
	_ = eng.Shutdown(ctx)
}

func TestEngine_Uptime(t *testing.T) {
	eng, fake := newTestEngine(t, DefaultConfig())
	fake.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, eng.Uptime())
}

func TestEngine_DumpRecorder(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())
	eng.FrameBoundary()

	var buf bytes.Buffer
	require.NoError(t, eng.Recorder().Dump(&buf))
	assert.Contains(t, buf.String(), "[frame 1]")
	assert.Contains(t, buf.String(), "=== Goroutine Profile ===")
}
