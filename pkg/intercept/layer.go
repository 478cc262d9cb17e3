// Package intercept is the sleep, wait and time-query glue between a game's
// calls and the timing core.
//
// Every call is classified through threads.Info, passes the hook table, is
// planned by policy.Decide, waits for real through osprim for the planned
// duration with the same kind of primitive, and credits the rest to the timer.
package intercept

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/event"
	"github.com/BYTE-6D65/timeshim/pkg/hooks"
	"github.com/BYTE-6D65/timeshim/pkg/osprim"
	"github.com/BYTE-6D65/timeshim/pkg/policy"
	"github.com/BYTE-6D65/timeshim/pkg/telemetry"
	"github.com/BYTE-6D65/timeshim/pkg/threads"
	"github.com/BYTE-6D65/timeshim/pkg/timer"
	"github.com/rs/zerolog"
)

// Policies are the policy modes in force. Sleeps and waits are governed
// separately.
type Policies struct {
	Sleep   policy.Mode
	Wait    policy.Mode
	Quantum time.Duration
}

// DefaultPolicies converts main-thread sleeps to virtual time entirely and
// bounds main-thread waits to one quantum.
func DefaultPolicies() Policies {
	return Policies{
		Sleep:   policy.ModeAlways,
		Wait:    policy.ModeFinite,
		Quantum: policy.DefaultQuantum,
	}
}

// Layer intercepts time queries, sleeps and waits. It is safe for concurrent
// use by any number of game threads.
type Layer struct {
	timer   *timer.Timer
	prims   osprim.Primitives
	threads threads.Info
	hooks   *hooks.Table

	policies atomic.Pointer[Policies]

	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  event.Bus
	codec   event.Codec
}

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the logger for decisions and corrections.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Layer) {
		l.log = log.With().Str("component", "intercept").Logger()
	}
}

// WithMetrics records decisions, waits and hook hits to m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Layer) {
		l.metrics = m
	}
}

// WithTracer publishes a trace event per decision and per hook hit.
func WithTracer(bus event.Bus) Option {
	return func(l *Layer) {
		l.tracer = bus
	}
}

// WithHooks installs the game-specific hook table.
func WithHooks(table *hooks.Table) Option {
	return func(l *Layer) {
		l.hooks = table
	}
}

// WithPolicies sets the initial policy modes.
func WithPolicies(p Policies) Option {
	return func(l *Layer) {
		l.policies.Store(&p)
	}
}

// New builds a layer over t that waits through prims and classifies callers
// with info.
func New(t *timer.Timer, prims osprim.Primitives, info threads.Info, opts ...Option) *Layer {
	l := &Layer{
		timer:   t,
		prims:   prims,
		threads: info,
		log:     zerolog.Nop(),
		codec:   event.JSONCodec{},
	}
	defaults := DefaultPolicies()
	l.policies.Store(&defaults)

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// SetPolicies swaps the policy modes. Calls already in progress finish under
// the modes they started with.
func (l *Layer) SetPolicies(p Policies) {
	l.policies.Store(&p)
	l.log.Info().Stringer("sleep", p.Sleep).Stringer("wait", p.Wait).Dur("quantum", p.Quantum).Msg("policies changed")
}

// Policies returns the modes in force.
func (l *Layer) Policies() Policies {
	return *l.policies.Load()
}

// call is the classification of one intercepted call.
type call struct {
	caller threads.Caller
	site   hooks.Site
	main   bool
	name   string
}

func (l *Layer) classify(c threads.Caller, site hooks.Site) call {
	return call{
		caller: c,
		site:   site,
		main:   l.threads.IsMainThread(c.ID),
		name:   l.threads.ThreadName(c.ID),
	}
}

// applyHooks runs the advance and correction entries matching cl and returns
// the serialize entries for the caller to honor.
func (l *Layer) applyHooks(cl call) []hooks.Entry {
	if l.hooks == nil {
		return nil
	}

	var serialize []hooks.Entry
	for _, e := range l.hooks.Lookup(cl.site, cl.name, cl.main) {
		switch e.Effect {
		case hooks.EffectAdvance:
			l.timer.FakeAdvanceTimer(e.Delta)
		case hooks.EffectCorrectNextRead:
			l.timer.ArmCorrection(e.Delta)
		case hooks.EffectSerialize:
			serialize = append(serialize, e)
		}

		if l.metrics != nil {
			l.metrics.HookHits.WithLabelValues(e.Name).Inc()
		}
		l.log.Debug().Str("hook", e.Name).Str("site", string(cl.site)).Uint64("thread", uint64(cl.caller.ID)).Msg("hook applied")
		l.trace(event.TypeHookApplied, string(cl.site), event.HookPayload{
			Hook:   e.Name,
			Site:   string(cl.site),
			Effect: e.Effect.String(),
			Thread: uint64(cl.caller.ID),
			Delta:  e.Delta,
		})
	}
	return serialize
}

// serialize takes the gates of entries in table order and returns the
// function releasing them in reverse.
func (l *Layer) serialize(entries []hooks.Entry) func() {
	if len(entries) == 0 {
		return func() {}
	}

	var releases []func()
	for _, e := range entries {
		release, err := l.hooks.Serialize(context.Background(), e)
		if err != nil {
			l.log.Warn().Err(err).Str("hook", e.Name).Msg("serialize gate unavailable")
			continue
		}
		releases = append(releases, release)
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}

// request builds a policy request. mode and quantum come from the same
// Policies snapshot.
func (l *Layer) request(mode policy.Mode, quantum time.Duration, cl call, want time.Duration, unbounded bool) policy.Request {
	return policy.Request{
		Mode:       mode,
		Requested:  want,
		Unbounded:  unbounded,
		MainThread: cl.main,
		Exiting:    l.threads.IsProcessExiting(),
		Native:     cl.caller.Native,
		Quantum:    quantum,
	}
}

// credit adds d to virtual time on behalf of a wait.
func (l *Layer) credit(d time.Duration) {
	if d > 0 {
		l.timer.AddDelay(d)
	}
}

// deadline turns an absolute deadline on clock id into a relative wait,
// reinterpreting deadlines computed from virtual time.
func (l *Layer) deadline(abs clock.Timespec, id clock.ClockID) (time.Duration, error) {
	realNow, err := l.prims.Now(id)
	if err != nil {
		return 0, err
	}

	virtualNow := l.timer.Peek(l.timer.ClockToType(id))
	corrected, changed := policy.CorrectDeadline(abs, realNow, virtualNow)
	if changed {
		l.log.Debug().
			Stringer("deadline", abs).
			Stringer("corrected", corrected).
			Stringer("real_now", realNow).
			Msg("deadline computed from virtual time, re-based")
	}
	return policy.Remaining(corrected, realNow), nil
}

// record reports one finished decision to metrics, logs and the tracer.
func (l *Layer) record(cl call, d policy.Decision, requested time.Duration, waited time.Duration, credited time.Duration, outcome string) {
	if l.metrics != nil {
		site := string(cl.site)
		l.metrics.WaitDecisions.WithLabelValues(site, d.Mode.String(), outcome).Inc()
		l.metrics.RealWait.WithLabelValues(site).Observe(waited.Seconds())
		if credited > 0 {
			l.metrics.VirtualCredit.WithLabelValues(site).Observe(credited.Seconds())
		}
	}

	l.log.Trace().
		Str("site", string(cl.site)).
		Uint64("thread", uint64(cl.caller.ID)).
		Stringer("mode", d.Mode).
		Dur("requested", requested).
		Dur("real_wait", d.RealWait).
		Dur("credit", credited).
		Str("outcome", outcome).
		Msg("wait decided")

	l.trace(event.TypeWaitDecision, string(cl.site), event.DecisionPayload{
		Thread:    uint64(cl.caller.ID),
		Mode:      d.Mode.String(),
		Requested: requested,
		RealWait:  d.RealWait,
		Unbounded: d.Unbounded,
		Credit:    credited,
		Outcome:   outcome,
	})
}

func (l *Layer) trace(eventType, source string, payload any) {
	if l.tracer == nil {
		return
	}

	evt, err := event.New(eventType, source, l.timer.Peek(clock.DomainMonotonic), payload, l.codec)
	if err != nil {
		l.log.Debug().Err(err).Str("type", eventType).Msg("trace encode failed")
		return
	}
	if err := l.tracer.Publish(context.Background(), *evt); err != nil {
		l.log.Debug().Err(err).Str("type", eventType).Msg("trace publish failed")
	}
}
