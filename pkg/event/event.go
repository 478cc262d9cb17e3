package event

import (
	"time"

	"github.com/BYTE-6D65/timeshim/pkg/clock"
	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
)

// Trace event types published by the timing core.
const (
	TypeTimerFrame       = "timer.frame"
	TypeTimerDelay       = "timer.delay"
	TypeTimerFakeAdvance = "timer.fake_advance"
	TypeTimerSet         = "timer.set"
	TypeTimerFramerate   = "timer.framerate"
	TypeWaitDecision     = "wait.decision"
	TypeHookApplied      = "wait.hook"
	TypeThreadLifecycle  = "thread.lifecycle"
)

// Event is a trace record of something the timing core did. Traces are for
// debugging desyncs; nothing in the core consumes them.
type Event struct {
	// ID is a unique identifier for this event instance
	ID string `json:"id"`

	// Type is a namespaced event type (e.g., "timer.frame", "wait.decision")
	Type string `json:"type"`

	// Source identifies the call site or component that emitted the event
	Source string `json:"source"`

	// Timestamp is the real wall-clock time the event was created
	Timestamp time.Time `json:"timestamp"`

	// Virtual is the virtual monotonic time when the event was created
	Virtual clock.Timespec `json:"virtual"`

	// Data contains the serialized payload (use codec to marshal/unmarshal)
	Data []byte `json:"data,omitempty"`

	// Metadata provides additional context for filtering and debugging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Codec defines how to serialize and deserialize event payloads.
type Codec interface {
	// Marshal converts a payload struct to bytes
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a payload struct
	Unmarshal(data []byte, v any) error
}

// JSONCodec implements Codec with the json v2 experiment package.
type JSONCodec struct{}

// Marshal converts a payload to JSON bytes.
func (c JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes JSON bytes into a payload.
func (c JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// New creates an event with a generated ID and the current real timestamp.
func New(eventType, source string, virtual clock.Timespec, payload any, codec Codec) (*Event, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = codec.Marshal(payload); err != nil {
			return nil, err
		}
	}

	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Virtual:   virtual,
		Data:      data,
	}, nil
}

// WithMetadata adds metadata key-value pairs to the event.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// DecodePayload deserializes the event data into the provided struct.
func (e *Event) DecodePayload(v any, codec Codec) error {
	if len(e.Data) == 0 {
		return nil
	}
	return codec.Unmarshal(e.Data, v)
}

// AdvancePayload describes a change to the virtual clocks.
type AdvancePayload struct {
	Delta clock.Timespec `json:"delta"`
	Frame uint64         `json:"frame"`
}

// DecisionPayload describes one wait-policy decision and its outcome.
type DecisionPayload struct {
	Thread    uint64        `json:"thread"`
	Mode      string        `json:"mode"`
	Requested time.Duration `json:"requested,format:nano"`
	RealWait  time.Duration `json:"real_wait,format:nano"`
	Unbounded bool          `json:"unbounded"`
	Credit    time.Duration `json:"credit,format:nano"`
	Outcome   string        `json:"outcome"`
}

// HookPayload describes a game-specific hook that fired.
type HookPayload struct {
	Hook   string        `json:"hook"`
	Site   string        `json:"site"`
	Effect string        `json:"effect"`
	Thread uint64        `json:"thread"`
	Delta  time.Duration `json:"delta,format:nano"`
}

// ThreadPayload describes a thread lifecycle transition.
type ThreadPayload struct {
	Thread uint64 `json:"thread"`
	Name   string `json:"name,omitempty"`
	Kind   string `json:"kind"`
	Event  string `json:"event"`
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
}
