package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Table is the hook lookup table. It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries []Entry
	game    string
	gates   map[string]*semaphore.Weighted
}

// NewTable validates entries and builds a table. No game is set.
func NewTable(entries ...Entry) (*Table, error) {
	if err := validate(entries); err != nil {
		return nil, err
	}
	return &Table{
		entries: append([]Entry(nil), entries...),
		gates:   make(map[string]*semaphore.Weighted),
	}, nil
}

func validate(entries []Entry) error {
	var errs []error
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate entry %s", ErrInvalidEntry, e.Name))
		}
		seen[e.Name] = true
	}
	return errors.Join(errs...)
}

// SetGame records the detected game. An empty name switches the table off.
func (t *Table) SetGame(game string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.game = game
}

// Game returns the detected game, or "".
func (t *Table) Game() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.game
}

// Replace swaps in a new entry set. Serialization gates of entries that keep
// their name survive.
func (t *Table) Replace(entries []Entry) error {
	if err := validate(entries); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append([]Entry(nil), entries...)
	return nil
}

// Entries returns a copy of the table.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Entry(nil), t.entries...)
}

// Lookup returns the entries that apply to a call at site from the named
// thread, in table order. It returns nil when no game is set.
func (t *Table) Lookup(site Site, thread string, main bool) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.game == "" {
		return nil
	}

	var out []Entry
	for _, e := range t.entries {
		if e.matches(t.game, site, thread, main) {
			out = append(out, e)
		}
	}
	return out
}

// Serialize waits for the entry's gate and returns the function that releases
// it. Waiters are admitted in arrival order.
func (t *Table) Serialize(ctx context.Context, e Entry) (func(), error) {
	gate := t.gate(e.Name)
	if err := gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { gate.Release(1) }, nil
}

func (t *Table) gate(name string) *semaphore.Weighted {
	t.mu.RLock()
	gate, ok := t.gates[name]
	t.mu.RUnlock()
	if ok {
		return gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gate, ok = t.gates[name]; !ok {
		gate = semaphore.NewWeighted(1)
		t.gates[name] = gate
	}
	return gate
}
