package clock

import "sync"

// VirtualClock holds one logical time value per tracked domain.
//
// Each domain's (Sec, Nsec) pair sits behind its own lock so a reader never
// observes a half-updated value, and a long advance of one domain never stalls
// readers of another. The normalize-carry step is not a single atomic
// operation, which is why this is a lock and not an atomic counter.
type VirtualClock struct {
	domains [NumTracked]domainValue
}

type domainValue struct {
	mu sync.RWMutex
	ts Timespec
}

// NewVirtualClock creates a clock with every domain set from initial.
// Domains missing from initial start at zero.
func NewVirtualClock(initial map[Domain]Timespec) *VirtualClock {
	v := &VirtualClock{}
	for d, ts := range initial {
		v.Set(d, ts)
	}
	return v
}

// Read returns the current value of d. Untracked domains read realtime.
func (v *VirtualClock) Read(d Domain) Timespec {
	dv := &v.domains[d.storage()]
	dv.mu.RLock()
	defer dv.mu.RUnlock()
	return dv.ts
}

// Advance adds delta to d and returns the new value.
func (v *VirtualClock) Advance(d Domain, delta Timespec) Timespec {
	dv := &v.domains[d.storage()]
	dv.mu.Lock()
	defer dv.mu.Unlock()
	dv.ts = dv.ts.Add(delta)
	return dv.ts
}

// Set hard-sets d. Only used at attach time and when a savestate is loaded.
func (v *VirtualClock) Set(d Domain, ts Timespec) {
	dv := &v.domains[d.storage()]
	dv.mu.Lock()
	defer dv.mu.Unlock()
	dv.ts = ts.Normalize()
}

// Snapshot returns every tracked domain's value. Domains are read one at a
// time, so the snapshot is only consistent per domain.
func (v *VirtualClock) Snapshot() map[Domain]Timespec {
	out := make(map[Domain]Timespec, NumTracked)
	for _, d := range Domains {
		out[d] = v.Read(d)
	}
	return out
}
