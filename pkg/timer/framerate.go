package timer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidFramerate = errors.New("timer: framerate numerator and denominator must be positive")
	ErrFramerateLocked  = errors.New("timer: framerate can only change when variable framerate is enabled")
)

// Framerate is a rational frames-per-second value, Num/Den. NTSC rates such as
// 30000/1001 are represented exactly.
type Framerate struct {
	Num uint32
	Den uint32
}

// Validate rejects zero numerators and denominators.
func (f Framerate) Validate() error {
	if f.Num == 0 || f.Den == 0 {
		return fmt.Errorf("%w: got %d/%d", ErrInvalidFramerate, f.Num, f.Den)
	}
	return nil
}

// FrameDuration returns the nominal length of one frame, rounded down to the
// nanosecond. The timer itself never accumulates this rounded value.
func (f Framerate) FrameDuration() time.Duration {
	if f.Num == 0 {
		return 0
	}
	return time.Duration(uint64(time.Second) * uint64(f.Den) / uint64(f.Num))
}

// FPS returns the framerate as a float, for display only.
func (f Framerate) FPS() float64 {
	if f.Den == 0 {
		return 0
	}
	return float64(f.Num) / float64(f.Den)
}

func (f Framerate) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// ParseFramerate parses "num/den" or a bare integer "num".
func ParseFramerate(s string) (Framerate, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		den = "1"
	}

	n, err := strconv.ParseUint(strings.TrimSpace(num), 10, 32)
	if err != nil {
		return Framerate{}, fmt.Errorf("timer: parse framerate %q: %w", s, err)
	}
	d, err := strconv.ParseUint(strings.TrimSpace(den), 10, 32)
	if err != nil {
		return Framerate{}, fmt.Errorf("timer: parse framerate %q: %w", s, err)
	}

	f := Framerate{Num: uint32(n), Den: uint32(d)}
	return f, f.Validate()
}

// MarshalText implements encoding.TextMarshaler so config files can use "60/1".
func (f Framerate) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Framerate) UnmarshalText(text []byte) error {
	parsed, err := ParseFramerate(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
