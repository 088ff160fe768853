package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates every state transition a task store reports to its
// subscribers. Keeping the list small and explicit prevents accidental
// proliferation of loosely defined event names.
type EventType string

const (
	TasksLoaded      EventType = "TasksLoaded"
	TaskAdded        EventType = "TaskAdded"
	TaskToggled      EventType = "TaskToggled"
	TaskRemoved      EventType = "TaskRemoved"
	CompletedCleared EventType = "CompletedCleared"
	PersistFailed    EventType = "PersistFailed"
)

// Event represents a single occurrence in the system. It is intentionally
// lightweight; any structured payloads are stored in the Payload field.
type Event struct {
	ID        string    // optional explicit identifier; generated by New
	Type      EventType // required
	Timestamp time.Time // auto-populated by New
	Payload   any       // optional, type asserted by subscribers
}

// New stamps an event with a fresh id and the supplied time.
func New(typ EventType, at time.Time, payload any) Event {
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: at,
		Payload:   payload,
	}
}

// Validate performs cheap sanity checks for callers that need stronger
// contracts than the zero-value guarantees.
func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("events: missing type")
	}
	return nil
}

// TaskPayload describes the task a single-task event refers to.
type TaskPayload struct {
	TaskID    string
	Text      string
	Completed bool
}

// ClearedPayload lists the tasks dropped by a bulk clear, in collection order.
type ClearedPayload struct {
	TaskIDs []string
}

// LoadPayload accompanies TasksLoaded, which only Reload emits, and only when
// the reloaded list differs from the one in memory.
type LoadPayload struct {
	Key   string
	Count int
}

// PersistPayload reports a best-effort write that did not reach storage.
type PersistPayload struct {
	Key string
	Err error
}
