package scenario

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/engine"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Report contains the results of one scenario run.
type Report struct {
	Scenario    Scenario `json:"scenario"`
	Framerate   string   `json:"framerate"`
	SleepPolicy string   `json:"sleep_policy"`
	WaitPolicy  string   `json:"wait_policy"`
	Frames      int      `json:"frames"`
	Workers     int      `json:"workers"`

	VirtualElapsed time.Duration `json:"virtual_elapsed,format:nano"`
	RealElapsed    time.Duration `json:"real_elapsed,format:nano"`

	// Speedup is virtual time per unit of real time.
	Speedup float64 `json:"speedup"`

	// FrameReal summarises the real time spent per frame.
	FrameReal LatencyStats `json:"frame_real"`

	MainWaits   WaitStats `json:"main_waits"`
	WorkerWaits WaitStats `json:"worker_waits"`

	GCCount     uint32  `json:"gc_count"`
	AllocatedMB float64 `json:"allocated_mb"`

	Snapshots []engine.FrameSnapshot `json:"snapshots,omitempty"`
}

// LatencyStats is a distribution summary of per-frame durations.
type LatencyStats struct {
	Min    time.Duration `json:"min,format:nano"`
	Max    time.Duration `json:"max,format:nano"`
	Mean   time.Duration `json:"mean,format:nano"`
	Median time.Duration `json:"median,format:nano"`
	P90    time.Duration `json:"p90,format:nano"`
	P95    time.Duration `json:"p95,format:nano"`
	P99    time.Duration `json:"p99,format:nano"`
	StdDev time.Duration `json:"stddev,format:nano"`
	Jitter time.Duration `json:"jitter,format:nano"`
}

// WaitStats counts intercepted waits by outcome.
type WaitStats struct {
	Completed int64 `json:"completed"`
	TimedOut  int64 `json:"timed_out"`
}

func calculateStats(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var total time.Duration
	for _, s := range sorted {
		total += s
	}
	mean := total / time.Duration(len(sorted))

	var sumSquaredDiff float64
	for _, s := range sorted {
		diff := float64(s - mean)
		sumSquaredDiff += diff * diff
	}
	stdDev := time.Duration(math.Sqrt(sumSquaredDiff / float64(len(sorted))))

	// Jitter is the mean absolute change between consecutive frames.
	var jitter time.Duration
	if len(samples) > 1 {
		var totalJitter time.Duration
		for i := 1; i < len(samples); i++ {
			diff := samples[i] - samples[i-1]
			if diff < 0 {
				diff = -diff
			}
			totalJitter += diff
		}
		jitter = totalJitter / time.Duration(len(samples)-1)
	}

	return LatencyStats{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   mean,
		Median: sorted[len(sorted)*50/100],
		P90:    sorted[len(sorted)*90/100],
		P95:    sorted[len(sorted)*95/100],
		P99:    sorted[len(sorted)*99/100],
		StdDev: stdDev,
		Jitter: jitter,
	}
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	return json.MarshalWrite(w, r, jsontext.WithIndent("  "))
}

// Format returns a human-readable summary of r.
func Format(r *Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Timing Report - %s scenario\n\n", r.Scenario)
	fmt.Fprintf(&sb, "Framerate:  %s\n", r.Framerate)
	fmt.Fprintf(&sb, "Policies:   sleep=%s wait=%s\n", r.SleepPolicy, r.WaitPolicy)
	fmt.Fprintf(&sb, "Frames:     %d\n", r.Frames)
	if r.Workers > 0 {
		fmt.Fprintf(&sb, "Workers:    %d\n", r.Workers)
	}
	sb.WriteString("\n")

	sb.WriteString("Time:\n")
	fmt.Fprintf(&sb, "  Virtual:  %v\n", r.VirtualElapsed.Round(time.Millisecond))
	fmt.Fprintf(&sb, "  Real:     %v\n", r.RealElapsed.Round(time.Millisecond))
	fmt.Fprintf(&sb, "  Speedup:  %.1fx\n\n", r.Speedup)

	sb.WriteString("Real time per frame:\n")
	fmt.Fprintf(&sb, "  Min:      %v\n", r.FrameReal.Min)
	fmt.Fprintf(&sb, "  Max:      %v\n", r.FrameReal.Max)
	fmt.Fprintf(&sb, "  Mean:     %v\n", r.FrameReal.Mean)
	fmt.Fprintf(&sb, "  Median:   %v\n", r.FrameReal.Median)
	fmt.Fprintf(&sb, "  P90:      %v\n", r.FrameReal.P90)
	fmt.Fprintf(&sb, "  P99:      %v\n", r.FrameReal.P99)
	fmt.Fprintf(&sb, "  StdDev:   %v\n", r.FrameReal.StdDev)
	fmt.Fprintf(&sb, "  Jitter:   %v\n\n", r.FrameReal.Jitter)

	sb.WriteString("Waits:\n")
	fmt.Fprintf(&sb, "  Main:     %d completed, %d timed out\n", r.MainWaits.Completed, r.MainWaits.TimedOut)
	if r.Workers > 0 {
		fmt.Fprintf(&sb, "  Workers:  %d completed, %d timed out\n", r.WorkerWaits.Completed, r.WorkerWaits.TimedOut)
	}
	sb.WriteString("\n")

	sb.WriteString("GC:\n")
	fmt.Fprintf(&sb, "  Collections: %d\n", r.GCCount)
	fmt.Fprintf(&sb, "  Allocated:   %.2f MB\n", r.AllocatedMB)

	return sb.String()
}
