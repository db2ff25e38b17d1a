// Package models defines the phase instance and its lifecycle. A phase is
// one stage of a testing cycle for one cycle-report pair; the orchestrator
// is the only writer.
package models

import (
	"fmt"
	"time"

	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// Status is the lifecycle state of one phase instance.
// Invariant: transitions only along validStatusTransitions; completed and
// skipped are terminal.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusSkipped    Status = "skipped"
)

// validStatusTransitions is the authority on legal phase moves. Override
// lands a blocked phase directly on completed; nothing reopens a finished
// phase.
var validStatusTransitions = map[Status][]Status{
	StatusNotStarted: {StatusInProgress, StatusSkipped},
	StatusInProgress: {StatusCompleted, StatusBlocked},
	StatusBlocked:    {StatusInProgress, StatusCompleted},
	StatusCompleted:  {},
	StatusSkipped:    {},
}

// ParsePhaseStatus constructs a Status from external input.
func ParsePhaseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown phase status %q", s)
	}
	return st, nil
}

// IsValid checks the status against the known set.
func (s Status) IsValid() bool {
	_, ok := validStatusTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving to target is legal from s.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range validStatusTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsDone reports whether the phase needs no further work. Skipped phases
// satisfy the predecessor requirement of the next phase just as completed
// ones do.
func (s Status) IsDone() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// String returns the wire representation.
func (s Status) String() string { return string(s) }

// PhaseInstance is one phase of one cycle-report pair. At most one instance
// exists per (cycle, report, name); rows are created lazily when a phase is
// first started or skipped.
type PhaseInstance struct {
	ID       id.PhaseID   `json:"id"`
	CycleID  id.CycleID   `json:"cycle_id"`
	ReportID id.ReportID  `json:"report_id"`
	Name     id.PhaseName `json:"name"`
	Status   Status       `json:"status"`

	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	StartedBy   *id.ActorID `json:"started_by,omitempty"`
	CompletedBy *id.ActorID `json:"completed_by,omitempty"`

	// Set only by an administrative override; permanent evidence that
	// activity checks were bypassed.
	OverrideReason string `json:"override_reason,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	RowVersion int64     `json:"-"`
}

// NewPhaseInstance constructs a not-yet-started phase instance.
//
// Errors: CodeInvalidInput when the cycle, report or phase name is missing
// or unknown.
func NewPhaseInstance(cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, now time.Time) (*PhaseInstance, error) {
	if cycleID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "phase requires a cycle")
	}
	if reportID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "phase requires a report")
	}
	if !name.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown phase %q", name)
	}
	return &PhaseInstance{
		ID:         id.NewPhaseID(),
		CycleID:    cycleID,
		ReportID:   reportID,
		Name:       name,
		Status:     StatusNotStarted,
		CreatedAt:  now,
		UpdatedAt:  now,
		RowVersion: 1,
	}, nil
}

// ApplyStart moves the phase into progress. Callers check transition
// legality and phase ordering first.
func (p *PhaseInstance) ApplyStart(actor id.ActorID, now time.Time) {
	p.Status = StatusInProgress
	p.StartedAt = &now
	p.StartedBy = &actor
	p.UpdatedAt = now
}

// ApplyComplete finishes the phase after all its activities are done.
func (p *PhaseInstance) ApplyComplete(actor id.ActorID, now time.Time) {
	p.Status = StatusCompleted
	p.CompletedAt = &now
	p.CompletedBy = &actor
	p.UpdatedAt = now
}

// ApplyOverride force-completes the phase, recording who bypassed the
// activity checks and why.
func (p *PhaseInstance) ApplyOverride(actor id.ActorID, reason string, now time.Time) {
	p.Status = StatusCompleted
	p.CompletedAt = &now
	p.CompletedBy = &actor
	p.OverrideReason = reason
	p.UpdatedAt = now
}

// ApplySkip marks a never-started phase as deliberately left out.
func (p *PhaseInstance) ApplySkip(now time.Time) {
	p.Status = StatusSkipped
	p.UpdatedAt = now
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (p *PhaseInstance) Clone() *PhaseInstance {
	if p == nil {
		return nil
	}
	out := *p
	if p.StartedAt != nil {
		t := *p.StartedAt
		out.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	if p.StartedBy != nil {
		a := *p.StartedBy
		out.StartedBy = &a
	}
	if p.CompletedBy != nil {
		a := *p.CompletedBy
		out.CompletedBy = &a
	}
	return &out
}

// Describe renders a short human-readable identity for errors and logs.
func (p *PhaseInstance) Describe() string {
	return fmt.Sprintf("phase %s for %s/%s", p.Name, p.CycleID, p.ReportID)
}
