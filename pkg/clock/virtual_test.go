package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualClock_InitialValues(t *testing.T) {
	v := NewVirtualClock(map[Domain]Timespec{
		DomainRealtime:  {1_700_000_000, 0},
		DomainMonotonic: {100, 0},
	})

	assert.Equal(t, Timespec{1_700_000_000, 0}, v.Read(DomainRealtime))
	assert.Equal(t, Timespec{100, 0}, v.Read(DomainMonotonic))
	assert.Equal(t, Timespec{}, v.Read(DomainProcess))
	assert.Equal(t, v.Read(DomainRealtime), v.Read(DomainUntracked))
}

func TestVirtualClock_AdvanceNegativeBorrows(t *testing.T) {
	v := NewVirtualClock(map[Domain]Timespec{DomainRealtime: {10, 100}})

	got := v.Advance(DomainRealtime, Timespec{0, -200})
	assert.Equal(t, Timespec{9, 999_999_900}, got)
	assert.Equal(t, got, v.Read(DomainRealtime))
}

func TestVirtualClock_SetNormalizes(t *testing.T) {
	v := NewVirtualClock(nil)
	v.Set(DomainMonotonic, Timespec{1, 2_000_000_001})
	assert.Equal(t, Timespec{3, 1}, v.Read(DomainMonotonic))
}

func TestVirtualClock_ConcurrentAdvance(t *testing.T) {
	v := NewVirtualClock(nil)

	const workers = 8
	const perWorker = 1000
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				v.Advance(DomainMonotonic, Timespec{0, 300_000_000})
			}
		}()
	}

	// Readers run alongside writers and must only ever see normalized,
	// non-decreasing values.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var last Timespec
		for i := 0; i < 10_000; i++ {
			cur := v.Read(DomainMonotonic)
			if cur.Nsec < 0 || cur.Nsec >= NanosPerSecond {
				t.Errorf("torn read: %+v", cur)
				return
			}
			if cur.Before(last) {
				t.Errorf("monotonic read went backward: %v -> %v", last, cur)
				return
			}
			last = cur
		}
	}()

	wg.Wait()
	<-done

	want := Timespec{Nsec: workers * perWorker * 300_000_000}.Normalize()
	require.Equal(t, want, v.Read(DomainMonotonic))
}

func TestVirtualClock_Snapshot(t *testing.T) {
	v := NewVirtualClock(map[Domain]Timespec{DomainTime: {5, 0}})
	snap := v.Snapshot()
	assert.Len(t, snap, NumTracked)
	assert.Equal(t, Timespec{5, 0}, snap[DomainTime])
}
