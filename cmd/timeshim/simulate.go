package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/BYTE-6D65/timeshim/pkg/engine"
	"github.com/BYTE-6D65/timeshim/pkg/event"
	"github.com/BYTE-6D65/timeshim/pkg/osprim"
	"github.com/BYTE-6D65/timeshim/pkg/policy"
	"github.com/BYTE-6D65/timeshim/pkg/scenario"
	"github.com/BYTE-6D65/timeshim/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type simulateFlags struct {
	scenario    string
	frames      int
	workers     int
	format      string
	fake        bool
	sleepPolicy string
	waitPolicy  string
	game        string
	trace       bool
	dump        bool
}

var simFlags simulateFlags

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a scenario headless and print its timing report",
	Example: `  # 300 frames of the worker pool scenario as JSON
  timeshim simulate --scenario workers --frames 300

  # Instant run against fake OS primitives, text report
  timeshim simulate --scenario timed-wait --fake --format text`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return runSimulate(ctx, cmd.OutOrStdout(), log, simFlags)
	},
}

func init() {
	flags := simulateCmd.Flags()
	flags.StringVarP(&simFlags.scenario, "scenario", "s", string(scenario.ScenarioFrameLoop), "scenario: frame-loop, timed-wait or workers")
	flags.IntVarP(&simFlags.frames, "frames", "n", 120, "number of frames to run")
	flags.IntVar(&simFlags.workers, "workers", scenario.DefaultWorkers, "worker threads for the workers scenario")
	flags.StringVarP(&simFlags.format, "format", "o", "json", "report format: json or text")
	flags.BoolVar(&simFlags.fake, "fake", false, "use fake OS primitives so real waits take no time")
	flags.StringVar(&simFlags.sleepPolicy, "sleep-policy", "", "override the sleep policy")
	flags.StringVar(&simFlags.waitPolicy, "wait-policy", "", "override the wait policy")
	flags.StringVar(&simFlags.game, "game", "", "game name for hook matching")
	flags.BoolVar(&simFlags.trace, "trace", false, "publish trace events and log a per-type count")
	flags.BoolVar(&simFlags.dump, "dump", false, "append a flight recorder dump to the text report")
}

func runSimulate(ctx context.Context, out io.Writer, log zerolog.Logger, f simulateFlags) error {
	sc, err := scenario.Parse(f.scenario)
	if err != nil {
		return err
	}
	if f.format != "json" && f.format != "text" {
		return fmt.Errorf("unknown format %q (want json or text)", f.format)
	}

	cfg, err := engine.Load(configPath)
	if err != nil {
		return err
	}
	if err := applyOverrides(&cfg, f); err != nil {
		return err
	}

	eng, err := newEngine(cfg, log, f.fake)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("engine shutdown")
		}
	}()

	var counts <-chan map[string]int
	if f.trace && eng.Tracer() != nil {
		if counts, err = countTraces(ctx, eng.Tracer()); err != nil {
			return err
		}
	}

	log.Info().
		Str("scenario", string(sc)).
		Int("frames", f.frames).
		Bool("fake", f.fake).
		Msg("simulation started")

	report, err := scenario.Run(ctx, eng, sc, scenario.Options{
		Frames:  f.frames,
		Workers: f.workers,
	})
	if err != nil {
		return fmt.Errorf("simulate %s: %w", sc, err)
	}

	log.Info().
		Dur("virtual", report.VirtualElapsed).
		Dur("real", report.RealElapsed).
		Float64("speedup", report.Speedup).
		Msg("simulation complete")

	if counts != nil {
		if err := eng.Tracer().Close(); err != nil {
			log.Warn().Err(err).Msg("close trace bus")
		}
		for typ, n := range <-counts {
			log.Info().Str("type", typ).Int("count", n).Msg("trace events")
		}
	}

	if f.format == "json" {
		return scenario.WriteJSON(out, report)
	}
	if _, err := io.WriteString(out, scenario.Format(report)); err != nil {
		return err
	}
	if f.dump {
		return eng.Recorder().Dump(out)
	}
	return nil
}

func applyOverrides(cfg *engine.Config, f simulateFlags) error {
	if f.sleepPolicy != "" {
		m, err := policy.ParseMode(f.sleepPolicy)
		if err != nil {
			return fmt.Errorf("--sleep-policy: %w", err)
		}
		cfg.SleepPolicy = m
	}
	if f.waitPolicy != "" {
		m, err := policy.ParseMode(f.waitPolicy)
		if err != nil {
			return fmt.Errorf("--wait-policy: %w", err)
		}
		cfg.WaitPolicy = m
	}
	if f.game != "" {
		cfg.Game = f.game
	}
	if f.trace {
		cfg.TraceEvents = true
	}
	return nil
}

// newEngine builds an engine with its own metrics registry, optionally on
// fake OS primitives.
func newEngine(cfg engine.Config, log zerolog.Logger, fake bool) (*engine.Engine, error) {
	opts := []engine.EngineOption{
		engine.WithLogger(log),
		engine.WithMetrics(telemetry.InitMetrics(prometheus.NewRegistry())),
	}
	if fake {
		opts = append(opts, engine.WithPrimitives(osprim.NewFake(cfg.InitialRealtime)))
	}
	return engine.New(cfg, opts...)
}

// countTraces drains bus until it closes and delivers the per-type totals.
func countTraces(ctx context.Context, bus event.Bus) (<-chan map[string]int, error) {
	sub, err := bus.Subscribe(ctx, event.Filter{})
	if err != nil {
		return nil, fmt.Errorf("subscribe to traces: %w", err)
	}

	result := make(chan map[string]int, 1)
	go func() {
		counts := make(map[string]int)
		for evt := range sub.Events() {
			counts[evt.Type]++
		}
		result <- counts
	}()
	return result, nil
}
