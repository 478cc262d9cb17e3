package intercept

import (
	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/hooks"
	"github.com/BYTE-6D65/timeshim/pkg/threads"
)

// ClocksPerSec is the unit clock() reports in.
const ClocksPerSec = 1_000_000

// ClockGettime answers clock_gettime. Ids the OS rejects return the OS error
// unchanged. Ids it accepts but the shim does not track read realtime.
func (l *Layer) ClockGettime(c threads.Caller, id clock.ClockID) (clock.Timespec, error) {
	if c.Native {
		return l.prims.Now(id)
	}

	domain := l.timer.ClockToType(id)
	if domain == clock.DomainUntracked {
		if _, err := l.prims.Now(id); err != nil {
			return clock.Timespec{}, err
		}
	}

	return l.query(c, hooks.SiteClockGettime, domain), nil
}

// Gettimeofday answers gettimeofday at microsecond resolution.
func (l *Layer) Gettimeofday(c threads.Caller) (clock.Timespec, error) {
	var ts clock.Timespec
	if c.Native {
		var err error
		if ts, err = l.prims.Now(clock.ClockRealtime); err != nil {
			return clock.Timespec{}, err
		}
	} else {
		ts = l.query(c, hooks.SiteGettimeofday, clock.DomainRealtime)
	}

	ts.Nsec -= ts.Nsec % 1000
	return ts, nil
}

// Time answers time() in whole seconds.
func (l *Layer) Time(c threads.Caller) (int64, error) {
	if c.Native {
		ts, err := l.prims.Now(clock.ClockRealtime)
		if err != nil {
			return 0, err
		}
		return ts.Sec, nil
	}
	return l.query(c, hooks.SiteTime, clock.DomainTime).Sec, nil
}

// Clock answers clock() in ClocksPerSec units of process time.
func (l *Layer) Clock(c threads.Caller) (int64, error) {
	var ts clock.Timespec
	if c.Native {
		var err error
		if ts, err = l.prims.Now(clock.ClockProcessCPUTimeID); err != nil {
			return 0, err
		}
	} else {
		ts = l.query(c, hooks.SiteClock, clock.DomainProcess)
	}
	return ts.Sec*ClocksPerSec + ts.Nsec/(clock.NanosPerSecond/ClocksPerSec), nil
}

func (l *Layer) query(c threads.Caller, site hooks.Site, domain clock.Domain) clock.Timespec {
	cl := l.classify(c, site)
	l.applyHooks(cl)
	return l.timer.GetTicks(domain, cl.main)
}
