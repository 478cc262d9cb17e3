package intercept

import (
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/hooks"
	"github.com/BYTE-6D65/timeshim/pkg/policy"
	"github.com/BYTE-6D65/timeshim/pkg/telemetry"
	"github.com/BYTE-6D65/timeshim/pkg/threads"
)

// Nanosleep intercepts a relative nanosleep.
func (l *Layer) Nanosleep(c threads.Caller, d time.Duration) error {
	return l.sleep(c, hooks.SiteNanosleep, d)
}

// Usleep intercepts usleep.
func (l *Layer) Usleep(c threads.Caller, usec uint32) error {
	return l.sleep(c, hooks.SiteUsleep, time.Duration(usec)*time.Microsecond)
}

// Sleep intercepts sleep(3).
func (l *Layer) Sleep(c threads.Caller, seconds uint32) error {
	return l.sleep(c, hooks.SiteSleep, time.Duration(seconds)*time.Second)
}

// ClockNanosleep intercepts clock_nanosleep. Absolute deadlines go through
// the same reinterpretation as timed waits. A clock the OS rejects fails
// before anything is slept or credited.
func (l *Layer) ClockNanosleep(c threads.Caller, id clock.ClockID, absolute bool, ts clock.Timespec) error {
	if absolute {
		want, err := l.remaining(c, ts, id)
		if err != nil {
			return err
		}
		return l.sleep(c, hooks.SiteNanosleep, want)
	}
	if _, err := l.prims.Now(id); err != nil {
		return err
	}
	return l.sleep(c, hooks.SiteNanosleep, ts.Duration())
}

// SchedYield always yields for real. It only moves virtual time when a hook
// asks for a fixed nudge.
func (l *Layer) SchedYield(c threads.Caller) {
	if c.Native {
		l.prims.Yield()
		return
	}

	cl := l.classify(c, hooks.SiteSchedYield)
	release := l.serialize(l.applyHooks(cl))
	defer release()

	l.prims.Yield()
}

// sleep plans and performs one sleep. A sleep has nothing to signal it, so
// it always ends by running out; the planned credit is then added.
func (l *Layer) sleep(c threads.Caller, site hooks.Site, want time.Duration) error {
	if want < 0 {
		want = 0
	}
	if c.Native {
		return l.prims.Sleep(want)
	}

	cl := l.classify(c, site)
	release := l.serialize(l.applyHooks(cl))
	defer release()

	pol := l.Policies()
	d := policy.Decide(l.request(pol.Sleep, pol.Quantum, cl, want, false))

	if d.Skip {
		l.record(cl, d, want, 0, 0, "skip")
		return nil
	}

	l.credit(d.CreditUpfront)

	sw := telemetry.NewStopwatch()
	var err error
	switch {
	case d.Unbounded, d.RealWait <= 0:
		// Nothing left to wait for; let other threads run.
		l.prims.Yield()
	default:
		err = l.prims.Sleep(d.RealWait)
	}
	waited := sw.Elapsed()

	if err != nil {
		l.record(cl, d, want, waited, d.CreditUpfront, "error")
		return err
	}
	if d.PassThrough {
		l.record(cl, d, want, waited, 0, "passthrough")
		return nil
	}

	l.credit(d.Credit)
	l.record(cl, d, want, waited, d.TotalCredit(), "timeout")
	return nil
}
