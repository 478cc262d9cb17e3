// Package hooks holds the table of game-specific timing hacks.
//
// The table is plain data: each entry names a call site, optionally a game
// and a thread name, and one fixed effect. Matching is by exact string
// comparison. Nothing in the table is consulted until a game has been
// detected and passed to SetGame.
package hooks

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownSite   = errors.New("hooks: unknown site")
	ErrUnknownEffect = errors.New("hooks: unknown effect")
	ErrInvalidEntry  = errors.New("hooks: invalid entry")
)

// Site names an intercepted call.
type Site string

const (
	SiteNanosleep     Site = "nanosleep"
	SiteUsleep        Site = "usleep"
	SiteSleep         Site = "sleep"
	SiteSchedYield    Site = "sched_yield"
	SiteCondWait      Site = "cond_wait"
	SiteCondTimedWait Site = "cond_timedwait"
	SiteSemWait       Site = "sem_wait"
	SiteSemTimedWait  Site = "sem_timedwait"
	SiteSemTryWait    Site = "sem_trywait"
	SiteClockGettime  Site = "clock_gettime"
	SiteGettimeofday  Site = "gettimeofday"
	SiteTime          Site = "time"
	SiteClock         Site = "clock"
)

var sites = []Site{
	SiteNanosleep, SiteUsleep, SiteSleep, SiteSchedYield,
	SiteCondWait, SiteCondTimedWait,
	SiteSemWait, SiteSemTimedWait, SiteSemTryWait,
	SiteClockGettime, SiteGettimeofday, SiteTime, SiteClock,
}

// Sites lists every known site.
func Sites() []Site {
	return append([]Site(nil), sites...)
}

// Valid reports whether s is a known site.
func (s Site) Valid() bool {
	for _, known := range sites {
		if s == known {
			return true
		}
	}
	return false
}

// Sleeps reports whether s is a plain sleep, the only sites serialization
// wraps.
func (s Site) Sleeps() bool {
	return s == SiteNanosleep || s == SiteUsleep || s == SiteSleep || s == SiteSchedYield
}

// Effect is what a matching entry does.
type Effect int

const (
	// EffectAdvance advances virtual time by exactly Delta at the site.
	EffectAdvance Effect = iota + 1
	// EffectCorrectNextRead arms a one-shot correction of Delta, applied on
	// the next realtime-like clock read.
	EffectCorrectNextRead
	// EffectSerialize runs matching threads' sleeps one at a time, in
	// arrival order.
	EffectSerialize
)

var effectNames = map[Effect]string{
	EffectAdvance:         "advance",
	EffectCorrectNextRead: "correct_next_read",
	EffectSerialize:       "serialize",
}

func (e Effect) String() string {
	if name, ok := effectNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Effect(%d)", int(e))
}

// ParseEffect resolves an effect name as printed by Effect.String.
func ParseEffect(s string) (Effect, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for e, name := range effectNames {
		if name == norm {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEffect, s)
}

// MarshalText implements encoding.TextMarshaler.
func (e Effect) MarshalText() ([]byte, error) {
	if _, ok := effectNames[e]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEffect, int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Effect) UnmarshalText(text []byte) error {
	parsed, err := ParseEffect(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Entry is one named hack.
type Entry struct {
	Name string `toml:"name" json:"name"`

	// Game restricts the entry to one detected game. Empty matches any
	// detected game.
	Game string `toml:"game" json:"game,omitempty"`

	// Thread restricts the entry to threads with this exact name.
	Thread string `toml:"thread" json:"thread,omitempty"`

	Site     Site          `toml:"site" json:"site"`
	Effect   Effect        `toml:"effect" json:"effect"`
	Delta    time.Duration `toml:"delta" json:"delta,omitempty"`
	MainOnly bool          `toml:"main_only" json:"main_only,omitempty"`
}

// Validate checks that the entry can be applied.
func (e Entry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidEntry)
	}
	if !e.Site.Valid() {
		return fmt.Errorf("%w %q in entry %s", ErrUnknownSite, e.Site, e.Name)
	}

	switch e.Effect {
	case EffectAdvance, EffectCorrectNextRead:
		if e.Delta <= 0 {
			return fmt.Errorf("%w: entry %s needs a positive delta", ErrInvalidEntry, e.Name)
		}
	case EffectSerialize:
		if e.Thread == "" {
			return fmt.Errorf("%w: entry %s needs a thread name", ErrInvalidEntry, e.Name)
		}
		if !e.Site.Sleeps() {
			return fmt.Errorf("%w: entry %s can only serialize sleeps", ErrInvalidEntry, e.Name)
		}
	default:
		return fmt.Errorf("%w %d in entry %s", ErrUnknownEffect, int(e.Effect), e.Name)
	}
	return nil
}

func (e Entry) matches(game string, site Site, thread string, main bool) bool {
	if e.Site != site {
		return false
	}
	if e.Game != "" && e.Game != game {
		return false
	}
	if e.Thread != "" && e.Thread != thread {
		return false
	}
	if e.MainOnly && !main {
		return false
	}
	return true
}

// DefaultEntries is the built-in table.
func DefaultEntries() []Entry {
	return []Entry{
		{
			// Busy-waits on sched_yield until the clock moves.
			Name:     "gamemaker-yield-nudge",
			Game:     "gamemaker",
			Site:     SiteSchedYield,
			Effect:   EffectAdvance,
			Delta:    time.Millisecond,
			MainOnly: true,
		},
		{
			Name:   "unity-job-workers",
			Game:   "unity",
			Thread: "Job.Worker",
			Site:   SiteNanosleep,
			Effect: EffectSerialize,
		},
		{
			Name:   "unity-job-workers-yield",
			Game:   "unity",
			Thread: "Job.Worker",
			Site:   SiteSchedYield,
			Effect: EffectSerialize,
		},
		{
			// Frame pacing reads gettimeofday once per frame and expects
			// at least one millisecond between reads.
			Name:     "godot-frame-pacing",
			Game:     "godot",
			Site:     SiteGettimeofday,
			Effect:   EffectCorrectNextRead,
			Delta:    time.Millisecond,
			MainOnly: true,
		},
	}
}
