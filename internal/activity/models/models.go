// Package models defines activity instances: the controllable units of work
// inside one phase, totally ordered by position.
package models

import (
	"fmt"
	"time"

	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// Kind classifies what an activity does within its phase.
type Kind string

const (
	KindStart    Kind = "START"
	KindTask     Kind = "TASK"
	KindReview   Kind = "REVIEW"
	KindApproval Kind = "APPROVAL"
	KindComplete Kind = "COMPLETE"
)

var validKinds = map[Kind]bool{
	KindStart:    true,
	KindTask:     true,
	KindReview:   true,
	KindApproval: true,
	KindComplete: true,
}

// ParseKind constructs a Kind from external input.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !validKinds[k] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid activity kind: %q", s)
	}
	return k, nil
}

func (k Kind) IsValid() bool {
	return validKinds[k]
}

func (k Kind) String() string {
	return string(k)
}

// Status is the state of one activity instance.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusSkipped    Status = "skipped"
)

// validStatusTransitions is the coarse legality map; the per-trigger rule
// table narrows it further. not_started can move straight to completed
// because submission and approval complete review activities nobody
// manually started. Only reset moves an activity backward.
var validStatusTransitions = map[Status][]Status{
	StatusNotStarted: {StatusActive, StatusCompleted, StatusSkipped},
	StatusActive:     {StatusCompleted, StatusBlocked, StatusSkipped},
	StatusBlocked:    {StatusActive},
	StatusCompleted:  {StatusNotStarted},
	StatusSkipped:    {},
}

// ParseStatus constructs a Status from external input.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid activity status: %q", s)
	}
	return st, nil
}

func (s Status) IsValid() bool {
	_, ok := validStatusTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving to the target status is legal.
func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range validStatusTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsDone reports whether the activity no longer blocks phase completion.
func (s Status) IsDone() bool {
	return s == StatusCompleted || s == StatusSkipped
}

func (s Status) String() string {
	return string(s)
}

// Trigger names the event that may move an activity. Manual triggers carry
// a human click; auto triggers arrive from the version manager; reset is
// the single backward move.
type Trigger string

const (
	TriggerManualStart    Trigger = "manual_start"
	TriggerManualComplete Trigger = "manual_complete"
	TriggerManualSkip     Trigger = "manual_skip"
	TriggerReset          Trigger = "reset"
	TriggerOnSubmission   Trigger = "auto_on_submission"
	TriggerOnApproval     Trigger = "auto_on_approval"
)

var validTriggers = map[Trigger]bool{
	TriggerManualStart:    true,
	TriggerManualComplete: true,
	TriggerManualSkip:     true,
	TriggerReset:          true,
	TriggerOnSubmission:   true,
	TriggerOnApproval:     true,
}

// ParseTrigger constructs a Trigger from external input.
func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(s)
	if !validTriggers[t] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid trigger: %q", s)
	}
	return t, nil
}

func (t Trigger) String() string {
	return string(t)
}

// Instance is one activity within one phase instance.
//
// Invariants:
//   - Position is unique within the phase; activities form a total order
//   - An activity may become active only when every ordinally-prior
//     required activity is done
//   - Instances are never deleted; reset re-enters not_started and the
//     audit trail keeps the old run
type Instance struct {
	ID          id.ActivityID `json:"id"`
	PhaseID     id.PhaseID    `json:"phase_id"`
	Name        string        `json:"name"`
	Kind        Kind          `json:"kind"`
	Status      Status        `json:"status"`
	Position    int           `json:"position"`
	Optional    bool          `json:"optional"`
	EntityType  id.EntityType `json:"entity_type,omitempty"`
	EntityID    id.EntityID   `json:"entity_id,omitempty"`
	SkipReason  string        `json:"skip_reason,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CompletedBy *id.ActorID   `json:"completed_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	RowVersion  int64         `json:"-"`

	// Derived on read, never persisted.
	CanStart       bool   `json:"can_start"`
	CanComplete    bool   `json:"can_complete"`
	BlockingReason string `json:"blocking_reason,omitempty"`
}

// NewInstance builds a not_started activity for a phase.
func NewInstance(phaseID id.PhaseID, name string, kind Kind, position int, optional bool, entityType id.EntityType, entityID id.EntityID, now time.Time) (*Instance, error) {
	if phaseID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "phase id cannot be empty")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "activity name cannot be empty")
	}
	if !kind.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid activity kind: %q", kind)
	}
	if position < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "activity position starts at 1")
	}
	return &Instance{
		ID:         id.NewActivityID(),
		PhaseID:    phaseID,
		Name:       name,
		Kind:       kind,
		Status:     StatusNotStarted,
		Position:   position,
		Optional:   optional,
		EntityType: entityType,
		EntityID:   entityID,
		CreatedAt:  now,
		UpdatedAt:  now,
		RowVersion: 1,
	}, nil
}

// BlocksStartOf reports whether this activity stands in the way of starting
// later ones. Optional activities never block; required ones block until
// they are done.
func (a *Instance) BlocksStartOf() bool {
	return !a.Optional && !a.Status.IsDone()
}

// StartBlockers scans the phase's activities for the reason target cannot
// start yet. Empty reason means the way is clear.
func StartBlockers(target *Instance, siblings []*Instance) string {
	for _, sib := range siblings {
		if sib.ID == target.ID || sib.Position >= target.Position {
			continue
		}
		if sib.BlocksStartOf() {
			return fmt.Sprintf("previous activity %q not completed", sib.Name)
		}
	}
	return ""
}

// ApplyStart activates the activity.
func (a *Instance) ApplyStart(now time.Time) {
	a.Status = StatusActive
	a.StartedAt = &now
	a.UpdatedAt = now
}

// ApplyComplete finishes the activity.
func (a *Instance) ApplyComplete(actor id.ActorID, now time.Time) {
	a.Status = StatusCompleted
	a.CompletedAt = &now
	a.CompletedBy = &actor
	if a.StartedAt == nil {
		a.StartedAt = &now
	}
	a.UpdatedAt = now
}

// ApplySkip marks an optional activity as deliberately not performed.
func (a *Instance) ApplySkip(reason string, now time.Time) {
	a.Status = StatusSkipped
	a.SkipReason = reason
	a.UpdatedAt = now
}

// ApplyReset re-enters not_started, wiping the completed run. The audit
// trail keeps what happened; the instance itself starts over.
func (a *Instance) ApplyReset(now time.Time) {
	a.Status = StatusNotStarted
	a.StartedAt = nil
	a.CompletedAt = nil
	a.CompletedBy = nil
	a.UpdatedAt = now
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate persisted state through the returned pointer.
func (a *Instance) Clone() *Instance {
	c := *a
	if a.StartedAt != nil {
		t := *a.StartedAt
		c.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	if a.CompletedBy != nil {
		actor := *a.CompletedBy
		c.CompletedBy = &actor
	}
	return &c
}

// Describe is the audit-context summary for this activity.
func (a *Instance) Describe() string {
	return fmt.Sprintf("activity %q (%s, position %d)", a.Name, a.Kind, a.Position)
}
