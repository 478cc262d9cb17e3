package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the timing shim.
type Metrics struct {
	// Timer Metrics
	FramesTotal      prometheus.Counter
	VirtualAdvance   *prometheus.CounterVec
	TimeQueries      *prometheus.CounterVec
	QueryAutoAdvance *prometheus.CounterVec

	// Wait Metrics
	WaitDecisions *prometheus.CounterVec
	RealWait      *prometheus.HistogramVec
	VirtualCredit *prometheus.HistogramVec
	HookHits      *prometheus.CounterVec

	// Thread Metrics
	ThreadsLive       prometheus.Gauge
	ThreadTransitions *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
)

// InitMetrics initializes the Prometheus metrics.
// This should be called once at startup before any metrics are recorded.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	// Waits range from a zero-timeout poll to multi-second game sleeps
	// Buckets: 10µs, 100µs, 1ms, 5ms, 10ms, 17ms, 33ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
	waitBuckets := []float64{
		0.00001,
		0.0001,
		0.001,
		0.005,
		0.01,
		0.017, // one 60 fps frame
		0.033, // one 30 fps frame
		0.05,
		0.1,
		0.25,
		0.5,
		1,
		2.5,
		5,
		10,
	}

	m := &Metrics{
		FramesTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "timeshim_frames_total",
				Help: "Total number of frame boundaries that advanced virtual time",
			},
		),

		VirtualAdvance: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeshim_virtual_advance_seconds_total",
				Help: "Virtual time added to the clocks, by cause",
			},
			[]string{"source"},
		),

		TimeQueries: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeshim_time_queries_total",
				Help: "Number of virtual clock reads, by domain",
			},
			[]string{"domain"},
		),

		QueryAutoAdvance: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeshim_query_auto_advance_total",
				Help: "Times the main thread polled a clock past its threshold and time was advanced",
			},
			[]string{"domain"},
		),

		WaitDecisions: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeshim_wait_decisions_total",
				Help: "Blocking calls decided by the wait policy",
			},
			[]string{"site", "mode", "outcome"},
		),

		RealWait: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timeshim_real_wait_seconds",
				Help:    "Real time spent blocked in the underlying primitive",
				Buckets: waitBuckets,
			},
			[]string{"site"},
		),

		VirtualCredit: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timeshim_virtual_credit_seconds",
				Help:    "Virtual time credited in lieu of a real wait",
				Buckets: waitBuckets,
			},
			[]string{"site"},
		),

		HookHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeshim_hook_hits_total",
				Help: "Game-specific hook entries applied",
			},
			[]string{"hook"},
		),

		ThreadsLive: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "timeshim_threads_live",
				Help: "Threads registered and not yet reclaimed",
			},
		),

		ThreadTransitions: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "timeshim_thread_transitions_total",
				Help: "Thread lifecycle transitions",
			},
			[]string{"event"},
		),
	}

	defaultMetrics = m
	return m
}

// Default returns the default metrics instance.
// If InitMetrics hasn't been called, it will initialize with the default registry.
func Default() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics(nil)
	}
	return defaultMetrics
}

// Stopwatch is a helper for timing real waits.
type Stopwatch struct {
	start time.Time
}

// NewStopwatch creates a new stopwatch starting now.
func NewStopwatch() *Stopwatch {
	return &Stopwatch{start: time.Now()}
}

// Observe records the elapsed time in seconds to the given histogram.
func (s *Stopwatch) Observe(histogram prometheus.Observer) {
	histogram.Observe(time.Since(s.start).Seconds())
}

// Elapsed returns the time elapsed since the stopwatch started.
func (s *Stopwatch) Elapsed() time.Duration {
	return time.Since(s.start)
}
