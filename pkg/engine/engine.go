// Package engine wires the timing core together: one timer, one thread
// registry, one hook table and one interception layer, configured from a
// single Config.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/event"
	"github.com/BYTE-6D65/timeshim/pkg/hooks"
	"github.com/BYTE-6D65/timeshim/pkg/intercept"
	"github.com/BYTE-6D65/timeshim/pkg/osprim"
	"github.com/BYTE-6D65/timeshim/pkg/telemetry"
	"github.com/BYTE-6D65/timeshim/pkg/threads"
	"github.com/BYTE-6D65/timeshim/pkg/timer"
	"github.com/rs/zerolog"
)

// Engine is the process-wide timing core. Construct one per injected process
// and pass it by pointer.
type Engine struct {
	cfg atomic.Pointer[Config]

	timer    *timer.Timer
	threads  *threads.Registry
	hooks    *hooks.Table
	layer    *intercept.Layer
	prims    osprim.Primitives
	recorder *FlightRecorder

	tracer      event.Bus
	ownsTracer  bool
	metrics     *telemetry.Metrics
	log         zerolog.Logger
	reconfigure sync.Mutex

	// frame bookkeeping, guarded by frameMu
	frameMu     sync.Mutex
	realStart   clock.Timespec
	lastReal    clock.Timespec
	lastVirtual clock.Timespec
}

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// WithLogger sets the logger handed to every component.
func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = log
	}
}

// WithMetrics records to m instead of leaving metrics off.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer publishes trace events to bus. The engine does not close it.
func WithTracer(bus event.Bus) EngineOption {
	return func(e *Engine) {
		e.tracer = bus
	}
}

// WithPrimitives replaces the real OS primitives, typically with an
// osprim.Fake.
func WithPrimitives(p osprim.Primitives) EngineOption {
	return func(e *Engine) {
		e.prims = p
	}
}

// WithRegistry supplies the thread registry.
func WithRegistry(reg *threads.Registry) EngineOption {
	return func(e *Engine) {
		e.threads = reg
	}
}

// New creates an engine from cfg.
// Defaults:
// - Primitives: osprim.System
// - Registry: empty threads.Registry
// - Tracer: an InMemoryBus when cfg.TraceEvents is set, otherwise none
// - Logger: zerolog.Nop
func New(cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.prims == nil {
		e.prims = osprim.NewSystem()
	}
	if e.threads == nil {
		e.threads = threads.NewRegistry()
	}
	if e.tracer == nil && cfg.TraceEvents {
		e.tracer = event.NewInMemoryBus(event.WithBufferSize(1024))
		e.ownsTracer = true
	}

	thresholds, _ := cfg.queryThresholds()
	timerOpts := []timer.Option{
		timer.WithLogger(e.log),
		timer.WithVariableFramerate(cfg.VariableFramerate),
		timer.WithQueryThresholds(thresholds),
	}
	layerOpts := []intercept.Option{
		intercept.WithLogger(e.log),
		intercept.WithPolicies(policiesOf(cfg)),
	}
	if e.metrics != nil {
		timerOpts = append(timerOpts, timer.WithMetrics(e.metrics))
		layerOpts = append(layerOpts, intercept.WithMetrics(e.metrics))
	}
	if e.tracer != nil {
		timerOpts = append(timerOpts, timer.WithTracer(e.tracer))
		layerOpts = append(layerOpts, intercept.WithTracer(e.tracer))
	}

	initial, err := cfg.initialClocks(e.prims.Now)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	tm, err := timer.New(cfg.Framerate, initial, timerOpts...)
	if err != nil {
		return nil, fmt.Errorf("engine: timer: %w", err)
	}
	e.timer = tm

	table, err := hooks.NewTable(cfg.HookEntries()...)
	if err != nil {
		return nil, fmt.Errorf("engine: hooks: %w", err)
	}
	table.SetGame(cfg.Game)
	e.hooks = table

	layerOpts = append(layerOpts, intercept.WithHooks(table))
	e.layer = intercept.New(tm, e.prims, e.threads, layerOpts...)

	e.recorder = NewFlightRecorder(cfg.FlightRecorderSize)
	e.threads.OnTransition(e.onThreadTransition)

	now, err := e.prims.Now(clock.ClockMonotonic)
	if err != nil {
		return nil, fmt.Errorf("engine: read monotonic clock: %w", err)
	}
	e.realStart, e.lastReal = now, now
	e.lastVirtual = tm.Peek(clock.DomainMonotonic)

	e.cfg.Store(&cfg)
	e.log.Info().
		Stringer("framerate", cfg.Framerate).
		Stringer("sleep_policy", cfg.SleepPolicy).
		Stringer("wait_policy", cfg.WaitPolicy).
		Str("game", cfg.Game).
		Msg("timing engine started")

	return e, nil
}

func policiesOf(cfg Config) intercept.Policies {
	return intercept.Policies{
		Sleep:   cfg.SleepPolicy,
		Wait:    cfg.WaitPolicy,
		Quantum: cfg.FiniteQuantum,
	}
}

// Timer returns the deterministic timer.
func (e *Engine) Timer() *timer.Timer {
	return e.timer
}

// Threads returns the thread registry.
func (e *Engine) Threads() *threads.Registry {
	return e.threads
}

// Hooks returns the hook table.
func (e *Engine) Hooks() *hooks.Table {
	return e.hooks
}

// Layer returns the interception layer game calls go through.
func (e *Engine) Layer() *intercept.Layer {
	return e.layer
}

// Tracer returns the trace bus, or nil when tracing is off.
func (e *Engine) Tracer() event.Bus {
	return e.tracer
}

// Primitives returns the OS primitives the engine forwards real waits to.
func (e *Engine) Primitives() osprim.Primitives {
	return e.prims
}

// Recorder returns the frame flight recorder.
func (e *Engine) Recorder() *FlightRecorder {
	return e.recorder
}

// Config returns the configuration in force.
func (e *Engine) Config() Config {
	return *e.cfg.Load()
}

// SetGame is the hook point for engine detection. Until it is called with a
// non-empty name, the hook table is not consulted.
func (e *Engine) SetGame(game string) {
	e.hooks.SetGame(game)
	e.log.Info().Str("game", game).Msg("game detected")
}

// FrameBoundary advances virtual time by one frame and records a snapshot.
// The display loop calls it once per logical frame.
func (e *Engine) FrameBoundary() FrameSnapshot {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()

	e.timer.FakeAdvanceTimerFrame()

	virtual := e.timer.Peek(clock.DomainMonotonic)
	realNow, err := e.prims.Now(clock.ClockMonotonic)
	if err != nil {
		e.log.Warn().Err(err).Msg("read monotonic clock at frame boundary")
		realNow = e.lastReal
	}

	snap := FrameSnapshot{
		Frame:        e.timer.Frames(),
		Virtual:      virtual,
		VirtualDelta: virtual.Sub(e.lastVirtual).Duration(),
		RealElapsed:  realNow.Sub(e.realStart).Duration(),
		RealDelta:    realNow.Sub(e.lastReal).Duration(),
		NumGoroutine: captureGoroutines(),
		LiveThreads:  e.threads.Count(),
	}
	e.lastVirtual, e.lastReal = virtual, realNow

	e.recorder.Record(snap)
	return snap
}

// Reconfigure applies a changed configuration atomically: either every part
// takes effect or none does. The framerate may only change when variable
// framerate was enabled at construction; initial clock values and tracing
// are fixed for the engine's lifetime.
func (e *Engine) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.reconfigure.Lock()
	defer e.reconfigure.Unlock()

	old := e.Config()
	if cfg.Framerate != old.Framerate {
		if err := e.timer.SetFramerate(cfg.Framerate); err != nil {
			return fmt.Errorf("engine: reconfigure: %w", err)
		}
	}
	if err := e.hooks.Replace(cfg.HookEntries()); err != nil {
		return fmt.Errorf("engine: reconfigure: %w", err)
	}
	if cfg.Game != old.Game {
		e.hooks.SetGame(cfg.Game)
	}
	e.layer.SetPolicies(policiesOf(cfg))

	// Fixed at construction.
	cfg.VariableFramerate = old.VariableFramerate
	cfg.InitialRealtime = old.InitialRealtime
	cfg.InitialMonotonic = old.InitialMonotonic
	cfg.TimeQueryThresholds = old.TimeQueryThresholds
	cfg.TraceEvents = old.TraceEvents
	cfg.FlightRecorderSize = old.FlightRecorderSize

	e.cfg.Store(&cfg)
	e.log.Info().Msg("configuration reloaded")
	return nil
}

// Shutdown marks the process as exiting, so new waits take the bounded path,
// and closes the trace bus if the engine created it.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.threads.SetExiting(true)
	e.log.Info().Uint64("frames", e.timer.Frames()).Msg("timing engine shutting down")

	if !e.ownsTracer {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.tracer.Close()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("tracer shutdown: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
	}
}

func (e *Engine) onThreadTransition(rec threads.Record, from threads.State, ev threads.Event) {
	name := string(ev)
	if ev == "" {
		name = "register"
	}

	if e.metrics != nil {
		e.metrics.ThreadTransitions.WithLabelValues(name).Inc()
		switch {
		case ev == "":
			e.metrics.ThreadsLive.Inc()
		case rec.State == threads.StateReclaimed:
			e.metrics.ThreadsLive.Dec()
		}
	}

	e.log.Debug().
		Uint64("thread", uint64(rec.ID)).
		Str("name", rec.Name).
		Stringer("kind", rec.Kind).
		Str("event", name).
		Str("state", string(rec.State)).
		Msg("thread transition")

	if e.tracer == nil {
		return
	}
	evt, err := event.New(event.TypeThreadLifecycle, "threads", e.timer.Peek(clock.DomainMonotonic), event.ThreadPayload{
		Thread: uint64(rec.ID),
		Name:   rec.Name,
		Kind:   rec.Kind.String(),
		Event:  name,
		From:   string(from),
		To:     string(rec.State),
	}, event.JSONCodec{})
	if err != nil {
		e.log.Debug().Err(err).Msg("thread trace encode failed")
		return
	}
	if err := e.tracer.Publish(context.Background(), *evt); err != nil {
		e.log.Debug().Err(err).Msg("thread trace publish failed")
	}
}

// Uptime is real monotonic time since the engine started.
func (e *Engine) Uptime() time.Duration {
	now, err := e.prims.Now(clock.ClockMonotonic)
	if err != nil {
		return 0
	}
	return now.Sub(e.realStart).Duration()
}
