package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode is returned when a configured policy name is not recognized.
var ErrUnknownMode = errors.New("policy: unknown mode")

// Mode selects how blocking calls are split between real waiting and virtual
// time credit.
type Mode int

const (
	// ModeNever polls the primitive once and never credits time.
	ModeNever Mode = iota
	// ModeMainThreadOnly polls on the main thread and passes other threads
	// through to the real primitive.
	ModeMainThreadOnly
	// ModeAlways polls once and credits the whole requested wait.
	ModeAlways
	// ModeFullInfinite credits the whole requested wait, then blocks without
	// bound until the primitive is satisfied.
	ModeFullInfinite
	// ModeFinite waits at most one quantum, then credits the rest and times out.
	ModeFinite
	// ModeFull waits one quantum, credits the rest, then blocks without bound.
	ModeFull
	// ModeNative passes every call through unchanged.
	ModeNative
	// ModeNoWait never touches the primitive and reports a timeout.
	ModeNoWait
)

var modeNames = [...]string{
	ModeNever:          "NEVER",
	ModeMainThreadOnly: "MAIN_THREAD_ONLY",
	ModeAlways:         "ALWAYS",
	ModeFullInfinite:   "FULL_INFINITE",
	ModeFinite:         "FINITE",
	ModeFull:           "FULL",
	ModeNative:         "NATIVE",
	ModeNoWait:         "NO_WAIT",
}

// Modes lists every mode in declaration order.
func Modes() []Mode {
	modes := make([]Mode, len(modeNames))
	for i := range modeNames {
		modes[i] = Mode(i)
	}
	return modes
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// Valid reports whether m is one of the declared modes.
func (m Mode) Valid() bool {
	return m >= 0 && int(m) < len(modeNames)
}

// ParseMode resolves a mode name. Matching ignores case and treats '-' and
// '_' alike, so "main-thread-only" parses.
func ParseMode(s string) (Mode, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, name := range modeNames {
		if name == norm {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
