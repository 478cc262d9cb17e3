package engine

import (
	"fmt"
	"io"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
)

// FlightRecorder keeps the last N frame snapshots in a ring buffer so a
// desync can be traced back to the frames before it.
type FlightRecorder struct {
	snapshots []FrameSnapshot
	index     int
	count     int
	size      int
	mu        sync.Mutex
}

// FrameSnapshot is the timing state at one frame boundary.
type FrameSnapshot struct {
	Frame uint64 `json:"frame"`

	// Virtual is the virtual monotonic time after the frame advanced.
	Virtual clock.Timespec `json:"virtual"`

	// VirtualDelta is virtual time added since the previous boundary,
	// frame advance included.
	VirtualDelta time.Duration `json:"virtual_delta,format:nano"`

	// RealElapsed is real monotonic time since the engine started.
	RealElapsed time.Duration `json:"real_elapsed,format:nano"`

	// RealDelta is real time since the previous boundary.
	RealDelta time.Duration `json:"real_delta,format:nano"`

	NumGoroutine int `json:"goroutines"`
	LiveThreads  int `json:"live_threads"`
}

// NewFlightRecorder creates a flight recorder with the given ring buffer size.
func NewFlightRecorder(size int) *FlightRecorder {
	if size <= 0 {
		size = 120 // Default
	}

	return &FlightRecorder{
		snapshots: make([]FrameSnapshot, size),
		size:      size,
	}
}

// Record adds a snapshot to the ring buffer.
func (fr *FlightRecorder) Record(snap FrameSnapshot) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	fr.snapshots[fr.index] = snap
	fr.index = (fr.index + 1) % fr.size
	if fr.count < fr.size {
		fr.count++
	}
}

// Snapshots returns the recorded snapshots, oldest first.
func (fr *FlightRecorder) Snapshots() []FrameSnapshot {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	out := make([]FrameSnapshot, 0, fr.count)
	start := (fr.index - fr.count + fr.size) % fr.size
	for i := 0; i < fr.count; i++ {
		out = append(out, fr.snapshots[(start+i)%fr.size])
	}
	return out
}

// Last returns the most recent snapshot.
func (fr *FlightRecorder) Last() (FrameSnapshot, bool) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if fr.count == 0 {
		return FrameSnapshot{}, false
	}
	return fr.snapshots[(fr.index-1+fr.size)%fr.size], true
}

// Dump writes the recorded frames and a goroutine profile to w. Threads stuck
// in a wait show up in the profile.
func (fr *FlightRecorder) Dump(w io.Writer) error {
	snapshots := fr.Snapshots()

	fmt.Fprintf(w, "=== Flight Recorder Dump ===\n")
	fmt.Fprintf(w, "Generated: %s\n\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "Last %d frames:\n\n", len(snapshots))

	for _, snap := range snapshots {
		fmt.Fprintf(w, "[frame %d] virtual %s (+%s) | real %s (+%s) | goroutines %d | threads %d\n",
			snap.Frame,
			snap.Virtual,
			snap.VirtualDelta,
			snap.RealElapsed,
			snap.RealDelta,
			snap.NumGoroutine,
			snap.LiveThreads)
	}

	if len(snapshots) == 0 {
		fmt.Fprintf(w, "(No frames recorded yet)\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "=== Goroutine Profile ===\n")
	if goroutine := pprof.Lookup("goroutine"); goroutine != nil {
		if err := goroutine.WriteTo(w, 2); err != nil { // debug=2 for full stacks
			return fmt.Errorf("engine: write goroutine profile: %w", err)
		}
	} else {
		fmt.Fprintf(w, "Goroutine profile not available\n")
	}

	return nil
}

func captureGoroutines() int {
	return runtime.NumGoroutine()
}
