package threads

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// TransitionHook is called after every lifecycle change, outside the
// registry lock.
type TransitionHook func(rec Record, from State, ev Event)

// Registry is the thread-safe table of live threads.
type Registry struct {
	mu      sync.RWMutex
	threads map[ID]*Record
	nextID  ID
	main    ID // zero when no main thread is alive
	hooks   []TransitionHook

	exiting atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		threads: make(map[ID]*Record),
	}
}

// OnTransition registers a hook called on every registration and transition.
func (r *Registry) OnTransition(hook TransitionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Register records a newly created thread and returns its ID. At most one
// main thread may be alive at a time.
func (r *Registry) Register(kind Kind, name string) (ID, error) {
	r.mu.Lock()
	if kind == KindMain && r.main != 0 {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w (thread %d)", ErrMainThreadExists, r.main)
	}

	r.nextID++
	rec := &Record{
		ID:    r.nextID,
		Name:  name,
		Kind:  kind,
		State: StateRunning,
	}
	r.threads[rec.ID] = rec
	if kind == KindMain {
		r.main = rec.ID
	}
	snapshot := *rec
	hooks := r.hooks
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(snapshot, "", "")
	}
	return snapshot.ID, nil
}

// SetName assigns a human-readable name, as pthread_setname_np does.
func (r *Registry) SetName(id ID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.threads[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownThread, id)
	}
	rec.Name = name
	return nil
}

// Exit marks id as exited. Detached threads are reclaimed immediately.
func (r *Registry) Exit(id ID) error {
	return r.trigger(id, EventExit)
}

// Join reclaims an exited, joinable thread.
func (r *Registry) Join(id ID) error {
	return r.trigger(id, EventJoin)
}

// Detach marks id as detached, reclaiming it if it already exited.
func (r *Registry) Detach(id ID) error {
	return r.trigger(id, EventDetach)
}

func (r *Registry) trigger(id ID, ev Event) error {
	r.mu.Lock()
	rec, ok := r.threads[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownThread, id)
	}

	to, err := next(rec, ev)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	from := rec.State
	rec.State = to
	if ev == EventDetach {
		rec.Detached = true
	}
	if ev == EventExit && r.main == id {
		r.main = 0
	}
	if to == StateReclaimed {
		delete(r.threads, id)
	}
	snapshot := *rec
	hooks := r.hooks
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(snapshot, from, ev)
	}
	return nil
}

// Get returns a copy of id's record.
func (r *Registry) Get(id ID) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.threads[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns all known records ordered by ID.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]Record, 0, len(r.threads))
	for _, rec := range r.threads {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

// Count returns the number of records not yet reclaimed.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}

// MainThread returns the live main thread, if any.
func (r *Registry) MainThread() (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.main, r.main != 0
}

// IsMainThread implements Info.
func (r *Registry) IsMainThread(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id != 0 && id == r.main
}

// ThreadName implements Info.
func (r *Registry) ThreadName(id ID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.threads[id]; ok {
		return rec.Name
	}
	return ""
}

// SetExiting flags the start of process teardown.
func (r *Registry) SetExiting(exiting bool) {
	r.exiting.Store(exiting)
}

// IsProcessExiting implements Info.
func (r *Registry) IsProcessExiting() bool {
	return r.exiting.Load()
}
