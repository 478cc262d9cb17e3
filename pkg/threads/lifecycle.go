package threads

import (
	"errors"
	"fmt"
)

// State is a thread's lifecycle state.
type State string

// Event triggers a lifecycle transition.
type Event string

const (
	StateRunning   State = "running"
	StateZombie    State = "zombie"    // exited, not yet joined
	StateReclaimed State = "reclaimed" // record dropped from the registry
)

const (
	EventExit   Event = "exit"
	EventJoin   Event = "join"
	EventDetach Event = "detach"
)

var (
	ErrUnknownThread     = errors.New("threads: unknown thread")
	ErrInvalidTransition = errors.New("threads: invalid transition")
	ErrMainThreadExists  = errors.New("threads: main thread already registered")
)

// transition is one row of the lifecycle table. The guard sees the record
// before the transition is applied.
type transition struct {
	to    func(r *Record) State
	guard func(r *Record) error
}

func notDetached(r *Record) error {
	if r.Detached {
		return fmt.Errorf("%w: thread %d is detached", ErrInvalidTransition, r.ID)
	}
	return nil
}

var lifecycle = map[State]map[Event]transition{
	StateRunning: {
		EventExit: {
			to: func(r *Record) State {
				// Nobody will join a detached thread, so its record goes immediately.
				if r.Detached {
					return StateReclaimed
				}
				return StateZombie
			},
		},
		EventDetach: {
			to:    func(*Record) State { return StateRunning },
			guard: notDetached,
		},
	},
	StateZombie: {
		EventJoin: {
			to:    func(*Record) State { return StateReclaimed },
			guard: notDetached,
		},
		EventDetach: {
			to:    func(*Record) State { return StateReclaimed },
			guard: notDetached,
		},
	},
}

// next resolves the state r moves to on ev, or an error if the table has no
// such row or its guard rejects it.
func next(r *Record, ev Event) (State, error) {
	row, ok := lifecycle[r.State][ev]
	if !ok {
		return r.State, fmt.Errorf("%w: no %s from %s (thread %d)", ErrInvalidTransition, ev, r.State, r.ID)
	}
	if row.guard != nil {
		if err := row.guard(r); err != nil {
			return r.State, err
		}
	}
	return row.to(r), nil
}
