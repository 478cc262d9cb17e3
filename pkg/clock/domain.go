package clock

// Domain is one of the virtual clocks a game can observe.
type Domain int

const (
	// DomainRealtime backs gettimeofday and CLOCK_REALTIME-like clocks.
	DomainRealtime Domain = iota
	// DomainMonotonic backs CLOCK_MONOTONIC-like clocks. It never goes backward.
	DomainMonotonic
	// DomainProcess backs clock() and the CPU-time clocks.
	DomainProcess
	// DomainTime backs time(), read at whole-second granularity.
	DomainTime
	// DomainUntracked is reported for clock ids the shim does not know. It reads
	// the realtime value.
	DomainUntracked
)

// NumTracked is the number of domains that own a stored value.
const NumTracked = int(DomainTime) + 1

// Domains lists the tracked domains in storage order.
var Domains = [NumTracked]Domain{DomainRealtime, DomainMonotonic, DomainProcess, DomainTime}

func (d Domain) String() string {
	switch d {
	case DomainRealtime:
		return "realtime"
	case DomainMonotonic:
		return "monotonic"
	case DomainProcess:
		return "process"
	case DomainTime:
		return "time"
	case DomainUntracked:
		return "untracked"
	default:
		return "unknown"
	}
}

// RealtimeLike reports whether d follows the wall clock. One-shot corrections
// only apply to these domains.
func (d Domain) RealtimeLike() bool {
	return d == DomainRealtime || d == DomainTime || d == DomainUntracked
}

// storage maps a domain to its stored clock; untracked reads realtime.
func (d Domain) storage() Domain {
	if d < DomainRealtime || d > DomainTime {
		return DomainRealtime
	}
	return d
}

// ParseDomain resolves a domain name as printed by Domain.String.
func ParseDomain(s string) (Domain, bool) {
	for _, d := range []Domain{DomainRealtime, DomainMonotonic, DomainProcess, DomainTime, DomainUntracked} {
		if d.String() == s {
			return d, true
		}
	}
	return DomainUntracked, false
}

// ClockID is an OS clock identifier as passed to clock_gettime. Values follow
// the Linux ABI.
type ClockID int32

const (
	ClockRealtime         ClockID = 0
	ClockMonotonic        ClockID = 1
	ClockProcessCPUTimeID ClockID = 2
	ClockThreadCPUTimeID  ClockID = 3
	ClockMonotonicRaw     ClockID = 4
	ClockRealtimeCoarse   ClockID = 5
	ClockMonotonicCoarse  ClockID = 6
	ClockBoottime         ClockID = 7
	ClockRealtimeAlarm    ClockID = 8
	ClockBoottimeAlarm    ClockID = 9
	ClockTAI              ClockID = 11
)

var clockDomains = map[ClockID]Domain{
	ClockRealtime:         DomainRealtime,
	ClockRealtimeCoarse:   DomainRealtime,
	ClockRealtimeAlarm:    DomainRealtime,
	ClockTAI:              DomainRealtime,
	ClockMonotonic:        DomainMonotonic,
	ClockMonotonicRaw:     DomainMonotonic,
	ClockMonotonicCoarse:  DomainMonotonic,
	ClockBoottime:         DomainMonotonic,
	ClockBoottimeAlarm:    DomainMonotonic,
	ClockProcessCPUTimeID: DomainProcess,
	ClockThreadCPUTimeID:  DomainProcess,
}

// DomainOf maps an OS clock id to the domain that serves it. Unknown ids map to
// DomainUntracked.
func DomainOf(id ClockID) Domain {
	if d, ok := clockDomains[id]; ok {
		return d
	}
	return DomainUntracked
}
