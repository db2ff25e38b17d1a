package models

import (
	"time"

	"github.com/google/uuid"

	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// SubjectType names the kind of entity an audit entry describes.
type SubjectType string

const (
	SubjectPhase         SubjectType = "phase"
	SubjectActivity      SubjectType = "activity"
	SubjectEntityVersion SubjectType = "entity_version"
	SubjectSLA           SubjectType = "sla"
)

// validSubjectTypes is the single source of truth for subject types.
var validSubjectTypes = map[SubjectType]bool{
	SubjectPhase:         true,
	SubjectActivity:      true,
	SubjectEntityVersion: true,
	SubjectSLA:           true,
}

// ParseSubjectType constructs a SubjectType from external input.
func ParseSubjectType(s string) (SubjectType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject_type cannot be empty")
	}
	t := SubjectType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown subject_type")
	}
	return t, nil
}

// IsValid checks if the subject type is one of the supported values.
func (t SubjectType) IsValid() bool {
	return validSubjectTypes[t]
}

// String returns the wire representation.
func (t SubjectType) String() string {
	return string(t)
}

// SystemActor is the actor recorded on machine-originated entries (SLA
// sweeps, automatic rules with no propagated human actor).
var SystemActor = id.ActorID(uuid.MustParse("00000000-0000-0000-0000-000000000001"))

// Entry is one immutable audit record. Entries are append-only: never
// mutated, never deleted. Seq is assigned by the store and orders entries
// globally; history reads page by it.
//
// Invariants:
//   - SubjectType is one of the supported values
//   - SubjectID, ToState and Trigger are non-empty
//   - ActorID is set (SystemActor for machine-originated entries)
//   - Timestamp is immutable after construction
type Entry struct {
	ID          id.EntryID  `json:"id"`
	Seq         int64       `json:"seq"`
	Timestamp   time.Time   `json:"timestamp"`
	ActorID     id.ActorID  `json:"actor_id"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   string      `json:"subject_id"`
	FromState   string      `json:"from_state"`
	ToState     string      `json:"to_state"`
	Trigger     string      `json:"trigger"`
	Context     string      `json:"context,omitempty"`
	RequestID   string      `json:"request_id,omitempty"`
	ClientInfo  string      `json:"client_info,omitempty"`
}

// NewEntry validates and constructs an audit entry. FromState may be empty
// for creation events; everything else is required.
func NewEntry(
	subjectType SubjectType,
	subjectID string,
	fromState, toState, trigger string,
	actorID id.ActorID,
	now time.Time,
) (*Entry, error) {
	if !subjectType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "audit entry requires a valid subject type")
	}
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "audit entry requires a subject id")
	}
	if toState == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "audit entry requires a to_state")
	}
	if trigger == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "audit entry requires a trigger")
	}
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "audit entry requires an actor")
	}
	return &Entry{
		ID:          id.NewEntryID(),
		Timestamp:   now,
		ActorID:     actorID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		FromState:   fromState,
		ToState:     toState,
		Trigger:     trigger,
	}, nil
}
