package policy

import (
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
)

// Envelope for deciding that an absolute deadline was computed against the
// virtual clock instead of the real one. A legitimate real wait of more than
// MaxAhead is misclassified; the heuristic is kept as is.
const (
	MaxAhead  = 10 * time.Second
	MaxBehind = 1 * time.Second
)

// CorrectDeadline reinterprets an absolute deadline that was evidently
// computed from virtual time. If abs lies more than MaxAhead in the future or
// more than MaxBehind in the past of realNow, it is re-based as
// realNow + (abs - virtualNow). The second result reports whether that happened.
func CorrectDeadline(abs, realNow, virtualNow clock.Timespec) (clock.Timespec, bool) {
	rel := abs.Sub(realNow).Duration()
	if rel <= MaxAhead && rel >= -MaxBehind {
		return abs, false
	}
	return realNow.Add(abs.Sub(virtualNow)), true
}

// Remaining returns how long until abs, measured from now, clamped at zero.
func Remaining(abs, now clock.Timespec) time.Duration {
	d := abs.Sub(now).Duration()
	if d < 0 {
		return 0
	}
	return d
}
