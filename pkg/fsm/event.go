package fsm

import "time"

// Reserved event names. Transition tables are keyed by plain strings so the
// engine never needs reflection over a concrete event type; these two names
// are the only ones the engine itself assigns meaning to.
const (
	// EventTimeout names the synthetic event a Scheduler delivers when an
	// armed per-state timeout fires.
	EventTimeout = "__timeout__"

	// EventGeneric is the conventional name for untyped, string-addressed
	// events coming from callers that have no richer taxonomy.
	EventGeneric = "__generic__"
)

// Event is the envelope the transition engine dispatches on. Name is looked
// up against the current state's transition table; Payload and Params are
// opaque to the engine and exist purely for the recorder to serialize.
type Event struct {
	Name      string
	Timestamp time.Time
	Payload   interface{}
	Params    map[string]interface{}

	// CorrelationID ties this event to an external request or trace. When
	// empty, the record carries the machine's own correlation ID instead.
	CorrelationID string
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(name string, payload interface{}) Event {
	return Event{Name: name, Timestamp: time.Now(), Payload: payload}
}

// WithCorrelationID returns a copy of e carrying the given correlation ID.
func (e Event) WithCorrelationID(id string) Event {
	e.CorrelationID = id
	return e
}

// WithParams returns a copy of e carrying params, used by callers that want
// the event's attributes captured in the transition record independently of
// the payload itself.
func (e Event) WithParams(params map[string]interface{}) Event {
	e.Params = params
	return e
}

func newTimeoutEvent(armedInState StateName) Event {
	return Event{
		Name:      EventTimeout,
		Timestamp: time.Now(),
		Payload:   nil,
		Params:    map[string]interface{}{"armedInState": string(armedInState)},
	}
}
