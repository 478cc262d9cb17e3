package engine

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/hooks"
	"github.com/BYTE-6D65/timeshim/pkg/policy"
	"github.com/BYTE-6D65/timeshim/pkg/timer"
	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig wraps every configuration problem.
var ErrInvalidConfig = errors.New("engine: invalid config")

// Config holds every tunable of the timing core.
// Values can be set via:
//  1. Code (programmatic configuration)
//  2. Environment variables (TIMESHIM_*)
//  3. Config file (TOML, see LoadFile)
//
// Precedence: Code > Env Vars > Config File > Defaults
type Config struct {
	// Frame pacing
	Framerate         timer.Framerate `env:"TIMESHIM_FRAMERATE" default:"60/1" toml:"framerate"`
	VariableFramerate bool            `env:"TIMESHIM_VARIABLE_FRAMERATE" default:"false" toml:"variable_framerate"`

	// Wait policies
	SleepPolicy   policy.Mode   `env:"TIMESHIM_SLEEP_POLICY" default:"ALWAYS" toml:"sleep_policy"`
	WaitPolicy    policy.Mode   `env:"TIMESHIM_WAIT_POLICY" default:"FINITE" toml:"wait_policy"`
	FiniteQuantum time.Duration `env:"TIMESHIM_FINITE_QUANTUM" default:"100ms" toml:"finite_quantum"`

	// Restored clock values, usually from a movie header. Zero means read the
	// OS clock when the engine starts.
	InitialRealtime  clock.Timespec `env:"TIMESHIM_INITIAL_REALTIME" default:"0" toml:"initial_realtime"`
	InitialMonotonic clock.Timespec `env:"TIMESHIM_INITIAL_MONOTONIC" default:"0" toml:"initial_monotonic"`

	// Main-thread reads of a domain per frame before time is nudged forward,
	// keyed by domain name. Zero disables.
	TimeQueryThresholds map[string]int `env:"TIMESHIM_QUERY_THRESHOLDS" default:"" toml:"time_query_thresholds"`

	// Game-specific hooks
	Game         string        `env:"TIMESHIM_GAME" default:"" toml:"game"`
	BuiltinHooks bool          `env:"TIMESHIM_BUILTIN_HOOKS" default:"true" toml:"builtin_hooks"`
	Hooks        []hooks.Entry `toml:"hooks"`

	// Tracing
	TraceEvents        bool `env:"TIMESHIM_TRACE_EVENTS" default:"false" toml:"trace_events"`
	FlightRecorderSize int  `env:"TIMESHIM_FLIGHT_RECORDER_SIZE" default:"120" toml:"flight_recorder_size"`
}

// DefaultConfig returns the configuration used when nothing is set: 60 fps,
// main-thread sleeps fully virtual, main-thread waits bounded to 100ms.
func DefaultConfig() Config {
	return Config{
		Framerate:         timer.Framerate{Num: 60, Den: 1},
		VariableFramerate: false,

		SleepPolicy:   policy.ModeAlways,
		WaitPolicy:    policy.ModeFinite,
		FiniteQuantum: policy.DefaultQuantum,

		BuiltinHooks: true,

		TraceEvents:        false,
		FlightRecorderSize: 120,
	}
}

// LoadFromEnv loads configuration from environment variables.
// Returns a Config with defaults, overridden by any TIMESHIM_* env vars found.
func LoadFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile loads defaults overridden by the TOML file at path. Unknown keys
// are rejected.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyFile(path); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Load applies defaults, then the file at path if path is not empty, then
// the environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%w: %s: unknown keys %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	return nil
}

// applyEnv overrides fields from getenv. Malformed values are errors rather
// than silently ignored, since a wrong policy changes a run's timing.
func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []error
	bad := func(key, v string, err error) {
		errs = append(errs, fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, key, v, err))
	}

	// Frame pacing
	if v := getenv("TIMESHIM_FRAMERATE"); v != "" {
		if f, err := timer.ParseFramerate(v); err == nil {
			c.Framerate = f
		} else {
			bad("TIMESHIM_FRAMERATE", v, err)
		}
	}
	if v := getenv("TIMESHIM_VARIABLE_FRAMERATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.VariableFramerate = b
		} else {
			bad("TIMESHIM_VARIABLE_FRAMERATE", v, err)
		}
	}

	// Policies
	if v := getenv("TIMESHIM_SLEEP_POLICY"); v != "" {
		if m, err := policy.ParseMode(v); err == nil {
			c.SleepPolicy = m
		} else {
			bad("TIMESHIM_SLEEP_POLICY", v, err)
		}
	}
	if v := getenv("TIMESHIM_WAIT_POLICY"); v != "" {
		if m, err := policy.ParseMode(v); err == nil {
			c.WaitPolicy = m
		} else {
			bad("TIMESHIM_WAIT_POLICY", v, err)
		}
	}
	if v := getenv("TIMESHIM_FINITE_QUANTUM"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.FiniteQuantum = d
		} else {
			bad("TIMESHIM_FINITE_QUANTUM", v, err)
		}
	}

	// Initial clocks
	if v := getenv("TIMESHIM_INITIAL_REALTIME"); v != "" {
		if ts, err := clock.ParseTimespec(v); err == nil {
			c.InitialRealtime = ts
		} else {
			bad("TIMESHIM_INITIAL_REALTIME", v, err)
		}
	}
	if v := getenv("TIMESHIM_INITIAL_MONOTONIC"); v != "" {
		if ts, err := clock.ParseTimespec(v); err == nil {
			c.InitialMonotonic = ts
		} else {
			bad("TIMESHIM_INITIAL_MONOTONIC", v, err)
		}
	}
	if v := getenv("TIMESHIM_QUERY_THRESHOLDS"); v != "" {
		if m, err := parseThresholds(v); err == nil {
			c.TimeQueryThresholds = m
		} else {
			bad("TIMESHIM_QUERY_THRESHOLDS", v, err)
		}
	}

	// Hooks
	if v := getenv("TIMESHIM_GAME"); v != "" {
		c.Game = v
	}
	if v := getenv("TIMESHIM_BUILTIN_HOOKS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.BuiltinHooks = b
		} else {
			bad("TIMESHIM_BUILTIN_HOOKS", v, err)
		}
	}

	// Tracing
	if v := getenv("TIMESHIM_TRACE_EVENTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.TraceEvents = b
		} else {
			bad("TIMESHIM_TRACE_EVENTS", v, err)
		}
	}
	if v := getenv("TIMESHIM_FLIGHT_RECORDER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FlightRecorderSize = n
		} else {
			bad("TIMESHIM_FLIGHT_RECORDER_SIZE", v, err)
		}
	}

	return errors.Join(errs...)
}

// parseThresholds parses "realtime=100,monotonic=50".
func parseThresholds(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, pair := range strings.Split(s, ",") {
		name, count, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("expected domain=count, got %q", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return nil, err
		}
		out[strings.TrimSpace(name)] = n
	}
	return out, nil
}

// Validate checks that configuration values are sensible. Every problem is
// reported, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}

	if err := c.Framerate.Validate(); err != nil {
		add(err)
	}
	if !c.SleepPolicy.Valid() {
		add(fmt.Errorf("sleep policy: %w: %d", policy.ErrUnknownMode, int(c.SleepPolicy)))
	}
	if !c.WaitPolicy.Valid() {
		add(fmt.Errorf("wait policy: %w: %d", policy.ErrUnknownMode, int(c.WaitPolicy)))
	}
	if c.FiniteQuantum <= 0 {
		add(fmt.Errorf("finite quantum must be positive, got %s", c.FiniteQuantum))
	}
	if c.InitialRealtime.IsNegative() || c.InitialMonotonic.IsNegative() {
		add(errors.New("initial clock values must not be negative"))
	}
	if _, err := c.queryThresholds(); err != nil {
		add(err)
	}
	if _, err := hooks.NewTable(c.HookEntries()...); err != nil {
		add(err)
	}
	if c.FlightRecorderSize < 0 {
		add(fmt.Errorf("flight recorder size must be >= 0, got %d", c.FlightRecorderSize))
	}

	return errors.Join(errs...)
}

// HookEntries is the effective hook table: the built-in entries when enabled,
// followed by the configured ones.
func (c *Config) HookEntries() []hooks.Entry {
	var entries []hooks.Entry
	if c.BuiltinHooks {
		entries = append(entries, hooks.DefaultEntries()...)
	}
	return append(entries, c.Hooks...)
}

func (c *Config) queryThresholds() (map[clock.Domain]int, error) {
	out := make(map[clock.Domain]int, len(c.TimeQueryThresholds))
	for name, n := range c.TimeQueryThresholds {
		d, ok := clock.ParseDomain(name)
		if !ok {
			return nil, fmt.Errorf("unknown clock domain %q in query thresholds", name)
		}
		if n < 0 {
			return nil, fmt.Errorf("query threshold for %s must be >= 0, got %d", name, n)
		}
		out[d] = n
	}
	return out, nil
}

// initialClocks returns the starting virtual clock values. Unset values are
// taken from now.
func (c *Config) initialClocks(now func(clock.ClockID) (clock.Timespec, error)) (map[clock.Domain]clock.Timespec, error) {
	realtime, monotonic := c.InitialRealtime, c.InitialMonotonic
	if realtime.IsZero() {
		ts, err := now(clock.ClockRealtime)
		if err != nil {
			return nil, fmt.Errorf("read realtime clock: %w", err)
		}
		realtime = ts
	}
	if monotonic.IsZero() {
		ts, err := now(clock.ClockMonotonic)
		if err != nil {
			return nil, fmt.Errorf("read monotonic clock: %w", err)
		}
		monotonic = ts
	}
	return map[clock.Domain]clock.Timespec{
		clock.DomainRealtime:  realtime,
		clock.DomainMonotonic: monotonic,
		clock.DomainTime:      realtime,
	}, nil
}

// String returns a human-readable summary of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf(`Timeshim Configuration:
  Frame Pacing:
    Framerate: %s (%.3f fps, %s per frame)
    Variable:  %t

  Policies:
    Sleep:   %s
    Wait:    %s
    Quantum: %s

  Initial Clocks:
    Realtime:  %s
    Monotonic: %s
    Query Thresholds: %s

  Hooks:
    Game:     %s
    Builtin:  %t
    Entries:  %d

  Tracing:
    Events:          %t
    Flight Recorder: %d frames
`,
		c.Framerate, c.Framerate.FPS(), c.Framerate.FrameDuration(),
		c.VariableFramerate,
		c.SleepPolicy,
		c.WaitPolicy,
		c.FiniteQuantum,
		c.InitialRealtime,
		c.InitialMonotonic,
		formatThresholds(c.TimeQueryThresholds),
		formatGame(c.Game),
		c.BuiltinHooks,
		len(c.HookEntries()),
		c.TraceEvents,
		c.FlightRecorderSize,
	)
}

func formatThresholds(m map[string]int) string {
	if len(m) == 0 {
		return "off"
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, m[name])
	}
	return strings.Join(parts, ",")
}

func formatGame(game string) string {
	if game == "" {
		return "not detected"
	}
	return game
}
