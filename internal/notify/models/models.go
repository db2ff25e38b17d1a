// Package models defines the events the core hands to collaborators.
// Delivery is at-least-once after the producing transaction commits;
// consumers are expected to be idempotent.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "examen/pkg/domain-errors"
)

// Event names. The prefix before the dot is the category and selects the
// topic the relay produces to.
const (
	EventVersionCreated           = "version.created"
	EventVersionSubmitted         = "version.submitted"
	EventVersionApproved          = "version.approved"
	EventVersionRevisionRequested = "version.revision_requested"

	EventSLABreachingSoon = "sla.breaching_soon"
	EventSLABreached      = "sla.breached"

	EventPhaseStarted    = "phase.started"
	EventPhaseCompleted  = "phase.completed"
	EventPhaseOverridden = "phase.overridden"
	EventPhaseSkipped    = "phase.skipped"
)

// Event is one outbound notification. Payload must be JSON-marshalable; the
// outbox persists it as JSONB.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	SubjectID  string         `json:"subject_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent constructs an event. The type must carry a category prefix
// ("category.name") so the relay can route it.
func NewEvent(eventType, subjectID string, payload map[string]any, occurredAt time.Time) (Event, error) {
	if eventType == "" || !strings.Contains(eventType, ".") {
		return Event{}, dErrors.New(dErrors.CodeInvalidInput, "event type must be category.name")
	}
	if subjectID == "" {
		return Event{}, dErrors.New(dErrors.CodeInvalidInput, "event subject cannot be empty")
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		SubjectID:  subjectID,
		Payload:    payload,
		OccurredAt: occurredAt,
	}, nil
}

// Category returns the routing prefix of the event type.
func (e Event) Category() string {
	if i := strings.IndexByte(e.Type, '.'); i > 0 {
		return e.Type[:i]
	}
	return e.Type
}

// Categories lists every routing prefix the core emits. The relay derives
// its topic set from this.
func Categories() []string {
	return []string{"phase", "version", "sla"}
}

// OutboxEntry is one staged event. Seq is assigned by the store and fixes
// dispatch order; DispatchedAt stays nil until the relay confirms delivery.
type OutboxEntry struct {
	Seq          int64
	Event        Event
	DispatchedAt *time.Time
}
