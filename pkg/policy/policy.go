// Package policy decides, for every intercepted blocking call, how much is
// satisfied by a real wait and how much by virtual time credit.
//
// Decide is a pure function: each call is decided from the mode current at
// that moment and the facts about the caller passed in the Request.
package policy

import "time"

// DefaultQuantum is the bounded real wait used by FINITE and FULL, and by
// untimed waits during shutdown.
const DefaultQuantum = 100 * time.Millisecond

// Request describes one blocking call.
type Request struct {
	Mode Mode

	// Requested is the relative wait asked for, after deadline correction.
	// Ignored when Unbounded is set. Negative values are treated as zero.
	Requested time.Duration

	// Unbounded marks untimed waits (cond_wait, sem_wait).
	Unbounded bool

	MainThread bool
	Exiting    bool

	// Native marks calls made by the shim itself.
	Native bool

	// Quantum overrides DefaultQuantum when positive.
	Quantum time.Duration
}

// Fallback says what happens when the bounded real wait ends unsatisfied.
type Fallback int

const (
	// FallbackTimeout reports a timeout to the caller.
	FallbackTimeout Fallback = iota
	// FallbackInterrupt reports an interruption (EINTR, or a spurious wakeup
	// for condition variables). Used for untimed waits, which cannot time out.
	FallbackInterrupt
	// FallbackWait blocks on the primitive without bound.
	FallbackWait
)

func (f Fallback) String() string {
	switch f {
	case FallbackTimeout:
		return "timeout"
	case FallbackInterrupt:
		return "interrupt"
	case FallbackWait:
		return "wait"
	default:
		return "unknown"
	}
}

// Decision is the plan for one blocking call:
//
//  1. if Skip, leave the primitive untouched and report a timeout;
//  2. credit CreditUpfront;
//  3. wait for real, without bound if Unbounded, else for at most RealWait
//     (zero means a single non-blocking attempt);
//  4. if that wait is unsatisfied, credit Credit and apply Fallback.
type Decision struct {
	// Mode is the mode that produced the decision, after overrides.
	Mode Mode

	// PassThrough means the real primitive gets the caller's own deadline.
	PassThrough bool

	Skip          bool
	CreditUpfront time.Duration
	Unbounded     bool
	RealWait      time.Duration
	Credit        time.Duration
	Fallback      Fallback
}

// TotalCredit is the most virtual time the decision can add.
func (d Decision) TotalCredit() time.Duration {
	return d.CreditUpfront + d.Credit
}

// Decide computes the plan for req. It never fails.
func Decide(req Request) Decision {
	quantum := req.Quantum
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	want := req.Requested
	if want < 0 {
		want = 0
	}

	mode := req.Mode
	if req.Native || !mode.Valid() {
		mode = ModeNative
	}

	if mode == ModeNative {
		return passThrough(ModeNative, req.Unbounded, want)
	}

	// Shutdown: prefer advancing time over blocking, so waits whose
	// counterpart thread is gone cannot hold up the exit.
	if req.Exiting {
		if req.Unbounded {
			return Decision{Mode: mode, RealWait: quantum, Fallback: FallbackInterrupt}
		}
		d := Decision{Mode: mode, Fallback: FallbackTimeout}
		if req.MainThread {
			d.Credit = want
		}
		return d
	}

	switch mode {
	case ModeNoWait:
		return Decision{Mode: mode, Skip: true, Fallback: FallbackTimeout}

	case ModeNever:
		return poll(mode, req.Unbounded)

	case ModeMainThreadOnly:
		if req.MainThread {
			return poll(mode, req.Unbounded)
		}
		return passThrough(mode, req.Unbounded, want)
	}

	// The remaining modes credit virtual time. Only the main thread may move
	// the clocks; others go to the real primitive with their own deadline.
	if !req.MainThread {
		return passThrough(mode, req.Unbounded, want)
	}

	switch mode {
	case ModeAlways:
		if req.Unbounded {
			return Decision{Mode: mode, Unbounded: true}
		}
		return Decision{Mode: mode, Credit: want, Fallback: FallbackTimeout}

	case ModeFullInfinite:
		if req.Unbounded {
			return Decision{Mode: mode, Unbounded: true}
		}
		return Decision{Mode: mode, CreditUpfront: want, Unbounded: true}

	case ModeFinite:
		if req.Unbounded {
			return Decision{Mode: mode, RealWait: quantum, Fallback: FallbackInterrupt}
		}
		bounded := min(want, quantum)
		return Decision{Mode: mode, RealWait: bounded, Credit: want - bounded, Fallback: FallbackTimeout}

	case ModeFull:
		if req.Unbounded {
			return Decision{Mode: mode, RealWait: quantum, Fallback: FallbackWait}
		}
		bounded := min(want, quantum)
		return Decision{Mode: mode, RealWait: bounded, Credit: want - bounded, Fallback: FallbackWait}
	}

	return passThrough(ModeNative, req.Unbounded, want)
}

func passThrough(mode Mode, unbounded bool, want time.Duration) Decision {
	if unbounded {
		return Decision{Mode: mode, PassThrough: true, Unbounded: true}
	}
	return Decision{Mode: mode, PassThrough: true, RealWait: want, Fallback: FallbackTimeout}
}

func poll(mode Mode, unbounded bool) Decision {
	if unbounded {
		return Decision{Mode: mode, Fallback: FallbackInterrupt}
	}
	return Decision{Mode: mode, Fallback: FallbackTimeout}
}
