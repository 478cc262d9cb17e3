package intercept

import (
	"errors"
	"sync"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/hooks"
	"github.com/BYTE-6D65/timeshim/pkg/osprim"
	"github.com/BYTE-6D65/timeshim/pkg/policy"
	"github.com/BYTE-6D65/timeshim/pkg/telemetry"
	"github.com/BYTE-6D65/timeshim/pkg/threads"
)

// primitive adapts a condition variable or semaphore to the executor.
type primitive struct {
	bounded func(d time.Duration) error
	forever func() error

	// interrupted is returned when an untimed wait gives up. Condition
	// variables may wake spuriously, semaphores report EINTR.
	interrupted error
}

func condPrimitive(cond osprim.Cond, mu sync.Locker) primitive {
	return primitive{
		bounded:     func(d time.Duration) error { return cond.TimedWait(mu, d) },
		forever:     func() error { return cond.Wait(mu) },
		interrupted: nil,
	}
}

func semPrimitive(sem osprim.Semaphore) primitive {
	return primitive{
		bounded:     sem.TimedWait,
		forever:     sem.Wait,
		interrupted: osprim.ErrInterrupted,
	}
}

// CondWait intercepts pthread_cond_wait. It is entered with mu held and
// returns with mu held. A nil result may be a spurious wakeup.
func (l *Layer) CondWait(c threads.Caller, cond osprim.Cond, mu sync.Locker) error {
	if c.Native {
		return cond.Wait(mu)
	}
	cl := l.classify(c, hooks.SiteCondWait)
	l.applyHooks(cl)
	return l.wait(cl, 0, true, condPrimitive(cond, mu))
}

// CondTimedWait intercepts pthread_cond_timedwait with an absolute deadline
// on clock id. It returns osprim.ErrTimedOut when the wait is reported as
// expired.
func (l *Layer) CondTimedWait(c threads.Caller, cond osprim.Cond, mu sync.Locker, abs clock.Timespec, id clock.ClockID) error {
	want, err := l.remaining(c, abs, id)
	if err != nil {
		return err
	}
	if c.Native {
		return cond.TimedWait(mu, want)
	}
	cl := l.classify(c, hooks.SiteCondTimedWait)
	l.applyHooks(cl)
	return l.wait(cl, want, false, condPrimitive(cond, mu))
}

// SemWait intercepts sem_wait.
func (l *Layer) SemWait(c threads.Caller, sem osprim.Semaphore) error {
	if c.Native {
		return sem.Wait()
	}
	cl := l.classify(c, hooks.SiteSemWait)
	l.applyHooks(cl)
	return l.wait(cl, 0, true, semPrimitive(sem))
}

// SemTimedWait intercepts sem_timedwait, whose deadline is on CLOCK_REALTIME.
func (l *Layer) SemTimedWait(c threads.Caller, sem osprim.Semaphore, abs clock.Timespec) error {
	want, err := l.remaining(c, abs, clock.ClockRealtime)
	if err != nil {
		return err
	}
	if c.Native {
		return sem.TimedWait(want)
	}
	cl := l.classify(c, hooks.SiteSemTimedWait)
	l.applyHooks(cl)
	return l.wait(cl, want, false, semPrimitive(sem))
}

// SemTryWait intercepts sem_trywait. It never blocks, so no policy applies.
func (l *Layer) SemTryWait(c threads.Caller, sem osprim.Semaphore) error {
	if !c.Native {
		l.applyHooks(l.classify(c, hooks.SiteSemTryWait))
	}
	return sem.TryWait()
}

// remaining converts an absolute deadline to a relative wait. Native callers
// get no reinterpretation.
func (l *Layer) remaining(c threads.Caller, abs clock.Timespec, id clock.ClockID) (time.Duration, error) {
	if c.Native {
		now, err := l.prims.Now(id)
		if err != nil {
			return 0, err
		}
		return policy.Remaining(abs, now), nil
	}
	return l.deadline(abs, id)
}

// wait executes a policy decision against p.
func (l *Layer) wait(cl call, want time.Duration, unbounded bool, p primitive) error {
	pol := l.Policies()
	d := policy.Decide(l.request(pol.Wait, pol.Quantum, cl, want, unbounded))

	if d.Skip {
		l.record(cl, d, want, 0, 0, "skip")
		if unbounded {
			return p.interrupted
		}
		return osprim.ErrTimedOut
	}

	l.credit(d.CreditUpfront)

	sw := telemetry.NewStopwatch()
	var err error
	if d.Unbounded {
		err = p.forever()
	} else {
		err = p.bounded(d.RealWait)
	}

	if d.PassThrough || !errors.Is(err, osprim.ErrTimedOut) {
		l.record(cl, d, want, sw.Elapsed(), d.CreditUpfront, outcomeOf(err))
		return err
	}

	// The planned real wait ran out unsatisfied.
	l.credit(d.Credit)

	switch d.Fallback {
	case policy.FallbackInterrupt:
		l.record(cl, d, want, sw.Elapsed(), d.TotalCredit(), "interrupt")
		return p.interrupted
	case policy.FallbackWait:
		err = p.forever()
		l.record(cl, d, want, sw.Elapsed(), d.TotalCredit(), "wait")
		return err
	default:
		l.record(cl, d, want, sw.Elapsed(), d.TotalCredit(), "timeout")
		return osprim.ErrTimedOut
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "satisfied"
	case errors.Is(err, osprim.ErrTimedOut):
		return "timeout"
	case errors.Is(err, osprim.ErrInterrupted):
		return "interrupt"
	default:
		return "error"
	}
}
