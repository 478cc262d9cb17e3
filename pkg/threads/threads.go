// Package threads tracks the game's live threads and classifies them.
//
// The registry is a collaborator of the timing core: the wait policy only asks
// it whether a caller is the main thread, what the caller is named, and whether
// the process is shutting down.
package threads

// ID identifies a registered thread. IDs are assigned by the Registry and are
// never reused within one process.
type ID uint64

// Kind classifies a thread.
type Kind int

const (
	KindWorker Kind = iota
	KindMain
)

func (k Kind) String() string {
	if k == KindMain {
		return "main"
	}
	return "worker"
}

// Record is a snapshot of one thread's bookkeeping.
type Record struct {
	ID       ID     `json:"id"`
	Name     string `json:"name,omitempty"`
	Kind     Kind   `json:"kind"`
	State    State  `json:"state"`
	Detached bool   `json:"detached"`
}

// Caller is passed into every intercepted call. Native marks calls the shim
// itself makes, which must reach the real primitive untouched.
type Caller struct {
	ID     ID
	Native bool
}

// Info is the read-only view the timing core needs.
type Info interface {
	// IsMainThread reports whether id drives the game's frame loop
	IsMainThread(id ID) bool

	// ThreadName returns the name assigned to id, or "" if none
	ThreadName(id ID) string

	// IsProcessExiting reports whether process teardown has begun
	IsProcessExiting() bool
}
