// Package scenario drives a simulated game loop through the timing engine and
// measures how far virtual time runs ahead of real time.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/engine"
	"github.com/BYTE-6D65/timeshim/pkg/intercept"
	"github.com/BYTE-6D65/timeshim/pkg/osprim"
	"github.com/BYTE-6D65/timeshim/pkg/threads"
	"golang.org/x/sync/errgroup"
)

// Scenario names a simulated workload.
type Scenario string

const (
	// ScenarioFrameLoop sleeps one frame on the main thread per frame.
	ScenarioFrameLoop Scenario = "frame-loop"
	// ScenarioTimedWait waits two seconds on an unsignalled condition per frame.
	ScenarioTimedWait Scenario = "timed-wait"
	// ScenarioWorkers runs the frame loop and feeds a pool of job workers.
	ScenarioWorkers Scenario = "workers"
)

const (
	// WorkerThreadName matches the built-in Unity job worker hooks.
	WorkerThreadName = "Job.Worker"

	DefaultWorkers = 4

	timedWaitSpan = 2 * time.Second
	workerPoll    = 50 * time.Millisecond
	workerJobUsec = 500
)

var (
	ErrUnknownScenario = errors.New("scenario: unknown scenario")
	ErrInvalidOptions  = errors.New("scenario: invalid options")
)

// Scenarios lists every scenario in menu order.
func Scenarios() []Scenario {
	return []Scenario{ScenarioFrameLoop, ScenarioTimedWait, ScenarioWorkers}
}

// Parse resolves a scenario name.
func Parse(s string) (Scenario, error) {
	for _, sc := range Scenarios() {
		if string(sc) == s {
			return sc, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScenario, s)
}

// Describe returns a one-line description for menus and help text.
func (s Scenario) Describe() string {
	switch s {
	case ScenarioFrameLoop:
		return "main thread sleeps one frame per frame"
	case ScenarioTimedWait:
		return "main thread waits 2s on a condition nobody signals"
	case ScenarioWorkers:
		return "frame loop feeding a pool of Job.Worker threads"
	}
	return "unknown"
}

// ProgressCallback is called after every frame boundary.
type ProgressCallback func(frame, totalFrames int, snap engine.FrameSnapshot)

// Options sizes a run.
type Options struct {
	Frames   int
	Workers  int // ScenarioWorkers only; DefaultWorkers when zero
	Progress ProgressCallback

	// Clock measures the run's wall time. Defaults to a clock.SystemClock.
	Clock clock.Clock
}

type waitCounters struct {
	completed atomic.Int64
	timedOut  atomic.Int64
}

// Run executes sc against eng and returns its report. The main and worker
// threads are registered with the engine's registry for the duration of the
// run and reclaimed afterwards.
func Run(ctx context.Context, eng *engine.Engine, sc Scenario, opts Options) (*Report, error) {
	if _, err := Parse(string(sc)); err != nil {
		return nil, err
	}
	if opts.Frames <= 0 {
		return nil, fmt.Errorf("%w: frames must be positive, got %d", ErrInvalidOptions, opts.Frames)
	}
	workers := 0
	if sc == ScenarioWorkers {
		workers = opts.Workers
		if workers <= 0 {
			workers = DefaultWorkers
		}
	}

	reg := eng.Threads()
	mainID, err := reg.Register(threads.KindMain, "main")
	if err != nil {
		return nil, fmt.Errorf("scenario: register main thread: %w", err)
	}
	registered := []threads.ID{mainID}
	defer func() {
		for _, id := range registered {
			retire(reg, id)
		}
	}()
	for j := 0; j < workers; j++ {
		id, err := reg.Register(threads.KindWorker, WorkerThreadName)
		if err != nil {
			return nil, fmt.Errorf("scenario: register worker: %w", err)
		}
		registered = append(registered, id)
	}

	runtime.GC()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	wall := opts.Clock
	if wall == nil {
		wall = clock.NewSystemClock()
	}
	start := eng.Timer().Peek(clock.DomainMonotonic)
	realStart := wall.Now()

	r := &runner{
		eng:   eng,
		layer: eng.Layer(),
		prims: eng.Primitives(),
		opts:  opts,
		snaps: make([]engine.FrameSnapshot, 0, opts.Frames),
	}
	work := r.prims.NewSemaphore(0)
	var done atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range registered[1:] {
		caller := threads.Caller{ID: id}
		g.Go(func() error {
			return r.worker(gctx, caller, work, &done)
		})
	}
	g.Go(func() error {
		defer func() {
			done.Store(true)
			for j := 0; j < workers; j++ {
				work.Post()
			}
		}()
		return r.frames(gctx, sc, threads.Caller{ID: mainID}, work, workers)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	realElapsed := wall.Since(realStart)
	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	cfg := eng.Config()
	report := &Report{
		Scenario:       sc,
		Framerate:      cfg.Framerate.String(),
		SleepPolicy:    cfg.SleepPolicy.String(),
		WaitPolicy:     cfg.WaitPolicy.String(),
		Frames:         len(r.snaps),
		Workers:        workers,
		VirtualElapsed: eng.Timer().Peek(clock.DomainMonotonic).Sub(start).Duration(),
		RealElapsed:    realElapsed,
		FrameReal:      calculateStats(realDeltas(r.snaps)),
		MainWaits: WaitStats{
			Completed: r.main.completed.Load(),
			TimedOut:  r.main.timedOut.Load(),
		},
		WorkerWaits: WaitStats{
			Completed: r.pool.completed.Load(),
			TimedOut:  r.pool.timedOut.Load(),
		},
		GCCount:     after.NumGC - before.NumGC,
		AllocatedMB: float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024),
		Snapshots:   r.snaps,
	}
	if realElapsed > 0 {
		report.Speedup = float64(report.VirtualElapsed) / float64(realElapsed)
	}
	return report, nil
}

type runner struct {
	eng   *engine.Engine
	layer *intercept.Layer
	prims osprim.Primitives
	opts  Options

	snaps []engine.FrameSnapshot
	main  waitCounters
	pool  waitCounters
}

// frames is the main thread's loop: one unit of scenario work, then a frame
// boundary.
func (r *runner) frames(ctx context.Context, sc Scenario, c threads.Caller, work osprim.Semaphore, workers int) error {
	frameDur := r.eng.Timer().Framerate().FrameDuration()
	cond := r.prims.NewCond()
	var mu sync.Mutex

	for i := 0; i < r.opts.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := r.layer.ClockGettime(c, clock.ClockMonotonic); err != nil {
			return fmt.Errorf("scenario: frame %d: %w", i, err)
		}

		switch sc {
		case ScenarioTimedWait:
			if err := r.timedWait(c, cond, &mu); err != nil {
				return fmt.Errorf("scenario: frame %d: %w", i, err)
			}
		case ScenarioWorkers:
			for j := 0; j < workers; j++ {
				work.Post()
			}
			fallthrough
		default:
			if err := r.layer.Nanosleep(c, frameDur); err != nil {
				return fmt.Errorf("scenario: frame %d: %w", i, err)
			}
		}

		snap := r.eng.FrameBoundary()
		r.snaps = append(r.snaps, snap)
		if r.opts.Progress != nil {
			r.opts.Progress(i+1, r.opts.Frames, snap)
		}
	}
	return nil
}

func (r *runner) timedWait(c threads.Caller, cond osprim.Cond, mu *sync.Mutex) error {
	now, err := r.layer.ClockGettime(c, clock.ClockMonotonic)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	err = r.layer.CondTimedWait(c, cond, mu, now.AddDuration(timedWaitSpan), clock.ClockMonotonic)
	switch {
	case err == nil:
		r.main.completed.Add(1)
	case errors.Is(err, osprim.ErrTimedOut):
		r.main.timedOut.Add(1)
	default:
		return err
	}
	return nil
}

// worker takes one job per post until the main loop finishes.
func (r *runner) worker(ctx context.Context, c threads.Caller, work osprim.Semaphore, done *atomic.Bool) error {
	for !done.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}

		now, err := r.layer.ClockGettime(c, clock.ClockRealtime)
		if err != nil {
			return err
		}
		err = r.layer.SemTimedWait(c, work, now.AddDuration(workerPoll))
		switch {
		case err == nil:
			r.pool.completed.Add(1)
			if err := r.layer.Usleep(c, workerJobUsec); err != nil {
				return err
			}
		case errors.Is(err, osprim.ErrTimedOut), errors.Is(err, osprim.ErrInterrupted):
			r.pool.timedOut.Add(1)
			r.layer.SchedYield(c)
		default:
			return err
		}
	}
	return nil
}

func retire(reg *threads.Registry, id threads.ID) {
	if err := reg.Exit(id); err != nil {
		return
	}
	_ = reg.Join(id)
}

func realDeltas(snaps []engine.FrameSnapshot) []time.Duration {
	out := make([]time.Duration, len(snaps))
	for i, s := range snaps {
		out[i] = s.RealDelta
	}
	return out
}
