package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimespec is returned by ParseTimespec.
var ErrInvalidTimespec = errors.New("clock: invalid timespec")

// NanosPerSecond is the carry boundary for Timespec.Nsec.
const NanosPerSecond = int64(time.Second)

// Timespec is a (seconds, nanoseconds) pair, the shape every intercepted clock
// query returns. Values produced by this package always have Nsec in [0, 1e9).
type Timespec struct {
	Sec  int64 `json:"sec" toml:"sec"`
	Nsec int64 `json:"nsec" toml:"nsec"`
}

// FromDuration converts a duration to a normalized Timespec.
func FromDuration(d time.Duration) Timespec {
	return Timespec{Nsec: int64(d)}.Normalize()
}

// FromTime converts a wall-clock time to a Timespec relative to the Unix epoch.
func FromTime(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// Normalize carries or borrows so that Nsec lies in [0, 1e9).
func (ts Timespec) Normalize() Timespec {
	if ts.Nsec >= NanosPerSecond || ts.Nsec < 0 {
		ts.Sec += ts.Nsec / NanosPerSecond
		ts.Nsec %= NanosPerSecond
	}
	if ts.Nsec < 0 {
		ts.Sec--
		ts.Nsec += NanosPerSecond
	}
	return ts
}

// Add returns ts + o, normalized.
func (ts Timespec) Add(o Timespec) Timespec {
	return Timespec{Sec: ts.Sec + o.Sec, Nsec: ts.Nsec + o.Nsec}.Normalize()
}

// Sub returns ts - o, normalized.
func (ts Timespec) Sub(o Timespec) Timespec {
	return Timespec{Sec: ts.Sec - o.Sec, Nsec: ts.Nsec - o.Nsec}.Normalize()
}

// AddDuration returns ts advanced by d.
func (ts Timespec) AddDuration(d time.Duration) Timespec {
	return ts.Add(FromDuration(d))
}

// Compare returns -1, 0 or +1 depending on whether ts is before, equal to or
// after o. Both operands must be normalized.
func (ts Timespec) Compare(o Timespec) int {
	switch {
	case ts.Sec < o.Sec:
		return -1
	case ts.Sec > o.Sec:
		return 1
	case ts.Nsec < o.Nsec:
		return -1
	case ts.Nsec > o.Nsec:
		return 1
	}
	return 0
}

// Before reports whether ts is strictly earlier than o.
func (ts Timespec) Before(o Timespec) bool {
	return ts.Compare(o) < 0
}

// IsZero reports whether ts is the zero value.
func (ts Timespec) IsZero() bool {
	return ts.Sec == 0 && ts.Nsec == 0
}

// IsNegative reports whether ts denotes a negative amount of time.
func (ts Timespec) IsNegative() bool {
	return ts.Normalize().Sec < 0
}

// Duration converts ts to a time.Duration, saturating at the representable
// bounds instead of overflowing.
func (ts Timespec) Duration() time.Duration {
	ts = ts.Normalize()
	const maxSec = int64(1<<63-1) / NanosPerSecond
	if ts.Sec >= maxSec {
		return time.Duration(1<<63 - 1)
	}
	if ts.Sec < -maxSec {
		return time.Duration(-1 << 63)
	}
	return time.Duration(ts.Sec*NanosPerSecond + ts.Nsec)
}

// Truncate drops the sub-second part, the granularity of time().
func (ts Timespec) Truncate() Timespec {
	return Timespec{Sec: ts.Normalize().Sec}
}

// Time converts ts to a wall-clock time.Time in UTC.
func (ts Timespec) Time() time.Time {
	return time.Unix(ts.Sec, ts.Nsec).UTC()
}

func (ts Timespec) String() string {
	ts = ts.Normalize()
	return fmt.Sprintf("%d.%09d", ts.Sec, ts.Nsec)
}

// ParseTimespec parses "sec" or "sec.frac" as printed by String, with up to
// nine fractional digits.
func ParseTimespec(s string) (Timespec, error) {
	secPart, fracPart, hasFrac := strings.Cut(strings.TrimSpace(s), ".")

	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil || sec < 0 {
		return Timespec{}, fmt.Errorf("%w: %q", ErrInvalidTimespec, s)
	}
	if !hasFrac {
		return Timespec{Sec: sec}, nil
	}

	if fracPart == "" || len(fracPart) > 9 {
		return Timespec{}, fmt.Errorf("%w: %q", ErrInvalidTimespec, s)
	}
	nsec, err := strconv.ParseInt(fracPart+strings.Repeat("0", 9-len(fracPart)), 10, 64)
	if err != nil || nsec < 0 {
		return Timespec{}, fmt.Errorf("%w: %q", ErrInvalidTimespec, s)
	}
	return Timespec{Sec: sec, Nsec: nsec}, nil
}
