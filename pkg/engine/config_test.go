package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/BYTE-6D65/timeshim/pkg/hooks"
	"github.com/BYTE-6D65/timeshim/pkg/policy"
	"github.com/BYTE-6D65/timeshim/pkg/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, policy.ModeAlways, cfg.SleepPolicy)
	assert.Equal(t, policy.ModeFinite, cfg.WaitPolicy)
	assert.Equal(t, 100*time.Millisecond, cfg.FiniteQuantum)
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Framerate = timer.Framerate{}
	cfg.WaitPolicy = policy.Mode(-1)
	cfg.FiniteQuantum = 0
	cfg.TimeQueryThresholds = map[string]int{"sundial": 3}
	cfg.Hooks = []hooks.Entry{{Name: "broken", Site: "poll", Effect: hooks.EffectAdvance, Delta: 1}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, timer.ErrInvalidFramerate)
	assert.ErrorIs(t, err, policy.ErrUnknownMode)
	assert.ErrorIs(t, err, hooks.ErrUnknownSite)
	assert.Contains(t, err.Error(), "finite quantum")
	assert.Contains(t, err.Error(), "sundial")
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		"TIMESHIM_FRAMERATE":            "30000/1001",
		"TIMESHIM_VARIABLE_FRAMERATE":   "true",
		"TIMESHIM_SLEEP_POLICY":         "never",
		"TIMESHIM_WAIT_POLICY":          "full-infinite",
		"TIMESHIM_FINITE_QUANTUM":       "25ms",
		"TIMESHIM_INITIAL_REALTIME":     "1600000000.5",
		"TIMESHIM_QUERY_THRESHOLDS":     "realtime=100, monotonic=50",
		"TIMESHIM_GAME":                 "unity",
		"TIMESHIM_BUILTIN_HOOKS":        "false",
		"TIMESHIM_TRACE_EVENTS":         "1",
		"TIMESHIM_FLIGHT_RECORDER_SIZE": "16",
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, timer.Framerate{Num: 30000, Den: 1001}, cfg.Framerate)
	assert.True(t, cfg.VariableFramerate)
	assert.Equal(t, policy.ModeNever, cfg.SleepPolicy)
	assert.Equal(t, policy.ModeFullInfinite, cfg.WaitPolicy)
	assert.Equal(t, 25*time.Millisecond, cfg.FiniteQuantum)
	assert.Equal(t, clock.Timespec{Sec: 1_600_000_000, Nsec: 500_000_000}, cfg.InitialRealtime)
	assert.Equal(t, map[string]int{"realtime": 100, "monotonic": 50}, cfg.TimeQueryThresholds)
	assert.Equal(t, "unity", cfg.Game)
	assert.False(t, cfg.BuiltinHooks)
	assert.Empty(t, cfg.HookEntries())
	assert.True(t, cfg.TraceEvents)
	assert.Equal(t, 16, cfg.FlightRecorderSize)
}

func TestConfig_ApplyEnvReportsBadValues(t *testing.T) {
	env := map[string]string{
		"TIMESHIM_FRAMERATE":    "fast",
		"TIMESHIM_WAIT_POLICY":  "SOMETIMES",
		"TIMESHIM_TRACE_EVENTS": "maybe",
	}

	cfg := DefaultConfig()
	err := cfg.applyEnv(func(k string) string { return env[k] })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, policy.ErrUnknownMode)
	assert.Contains(t, err.Error(), "TIMESHIM_FRAMERATE")
	assert.Contains(t, err.Error(), "TIMESHIM_TRACE_EVENTS")

	assert.Equal(t, DefaultConfig().Framerate, cfg.Framerate, "bad values leave defaults")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TIMESHIM_WAIT_POLICY", "NATIVE")
	t.Setenv("TIMESHIM_GAME", "godot")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, policy.ModeNative, cfg.WaitPolicy)
	assert.Equal(t, "godot", cfg.Game)
}

const sampleTOML = `
framerate = "50/1"
variable_framerate = true
sleep_policy = "FINITE"
wait_policy = "main_thread_only"
finite_quantum = "40ms"
game = "celeste"
builtin_hooks = false

[initial_realtime]
sec = 1600000000
nsec = 250

[time_query_thresholds]
realtime = 200

[[hooks]]
name = "celeste-yield"
game = "celeste"
site = "sched_yield"
effect = "advance"
delta = "2ms"
main_only = true

[[hooks]]
name = "celeste-workers"
thread = "Worker"
site = "usleep"
effect = "serialize"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeshim.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, timer.Framerate{Num: 50, Den: 1}, cfg.Framerate)
	assert.True(t, cfg.VariableFramerate)
	assert.Equal(t, policy.ModeFinite, cfg.SleepPolicy)
	assert.Equal(t, policy.ModeMainThreadOnly, cfg.WaitPolicy)
	assert.Equal(t, 40*time.Millisecond, cfg.FiniteQuantum)
	assert.Equal(t, clock.Timespec{Sec: 1_600_000_000, Nsec: 250}, cfg.InitialRealtime)
	assert.Equal(t, map[string]int{"realtime": 200}, cfg.TimeQueryThresholds)
	assert.Equal(t, "celeste", cfg.Game)

	require.Len(t, cfg.Hooks, 2)
	assert.Equal(t, hooks.Entry{
		Name:     "celeste-yield",
		Game:     "celeste",
		Site:     hooks.SiteSchedYield,
		Effect:   hooks.EffectAdvance,
		Delta:    2 * time.Millisecond,
		MainOnly: true,
	}, cfg.Hooks[0])
	assert.Equal(t, hooks.EffectSerialize, cfg.Hooks[1].Effect)
	assert.Equal(t, cfg.Hooks, cfg.HookEntries())
}

func TestLoadFile_UnknownKey(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "framerate = \"60/1\"\nframe_rate = 30\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "frame_rate")
}

func TestLoadFile_BadValue(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "wait_policy = \"SOMETIMES\"\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, sampleTOML)
	t.Setenv("TIMESHIM_WAIT_POLICY", "NEVER")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, policy.ModeNever, cfg.WaitPolicy)
	assert.Equal(t, timer.Framerate{Num: 50, Den: 1}, cfg.Framerate, "file value kept")
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeQueryThresholds = map[string]int{"time": 5, "realtime": 10}
	s := cfg.String()

	assert.True(t, strings.HasPrefix(s, "Timeshim Configuration:"))
	assert.Contains(t, s, "Framerate: 60/1")
	assert.Contains(t, s, "Sleep:   ALWAYS")
	assert.Contains(t, s, "Wait:    FINITE")
	assert.Contains(t, s, "realtime=10,time=5")
	assert.Contains(t, s, "not detected")
}
