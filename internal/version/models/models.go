// Package models defines the versioned-artifact aggregate: numbered,
// immutable-once-decided versions of the deliverable each phase produces.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// Status is the lifecycle state of one entity version.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPendingApproval   Status = "pending_approval"
	StatusApproved          Status = "approved"
	StatusRevisionRequested Status = "revision_requested"
	StatusSuperseded        Status = "superseded"
)

// validStatusTransitions is the single source of truth for the version
// lifecycle. Review is never skipped: a draft must pass through
// pending_approval, and an approved version only leaves that state when a
// newer version is approved over it. revision_requested and superseded are
// terminal; revision continues on a fresh version that records this one as
// its parent.
var validStatusTransitions = map[Status][]Status{
	StatusDraft:             {StatusPendingApproval},
	StatusPendingApproval:   {StatusApproved, StatusRevisionRequested},
	StatusApproved:          {StatusSuperseded},
	StatusRevisionRequested: {},
	StatusSuperseded:        {},
}

// ParseStatus constructs a Status from external input.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid version status: %q", s)
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

// IsOpen reports whether the version is still in flight. At most one open
// version may exist per entity at a time.
func (s Status) IsOpen() bool {
	return s == StatusDraft || s == StatusPendingApproval
}

func (s Status) String() string {
	return string(s)
}

// Decision is an approver's verdict on a pending version.
type Decision string

const (
	DecisionApprove         Decision = "approve"
	DecisionRequestRevision Decision = "request_revision"
)

// ParseDecision constructs a Decision from external input.
func ParseDecision(s string) (Decision, error) {
	d := Decision(s)
	if d != DecisionApprove && d != DecisionRequestRevision {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid decision: %q", s)
	}
	return d, nil
}

func (d Decision) String() string {
	return string(d)
}

// requiredPayloadKeys maps each entity type to the top-level payload key it
// must carry. A sample batch without a "samples" list is not a sample batch.
var requiredPayloadKeys = map[id.EntityType]string{
	id.EntityAttributes:       "attributes",
	id.EntityScopingDecisions: "decisions",
	id.EntitySamples:          "samples",
	id.EntityAssignments:      "assignments",
	id.EntityObservations:     "observations",
	id.EntityReportDraft:      "sections",
}

// EntityVersion is one numbered version of a phase's versioned artifact.
//
// Invariants:
//   - Number is monotonic per (EntityType, EntityID), starts at 1, no gaps
//   - At most one version per entity is open (draft or pending_approval)
//   - At most one version per entity carries IsLatest; its status is always
//     draft, pending_approval or approved
//   - Payload and PayloadDigest never change after construction; a revision
//     is a new version, never an edit
//   - RowVersion guards every update: writers carry the counter they read
//     and lose with a conflict when it moved underneath them
type EntityVersion struct {
	ID            id.VersionID   `json:"id"`
	EntityType    id.EntityType  `json:"entity_type"`
	EntityID      id.EntityID    `json:"entity_id"`
	Number        int            `json:"version_number"`
	Status        Status         `json:"status"`
	IsLatest      bool           `json:"is_latest"`
	ParentID      *id.VersionID  `json:"parent_version_id,omitempty"`
	Payload       map[string]any `json:"payload"`
	PayloadDigest string         `json:"payload_digest"`
	Reason        string         `json:"reason,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	CreatedBy     id.ActorID     `json:"created_by"`
	SubmittedBy   *id.ActorID    `json:"submitted_by,omitempty"`
	DecidedBy     *id.ActorID    `json:"decided_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	SubmittedAt   *time.Time     `json:"submitted_at,omitempty"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
	RowVersion    int64          `json:"-"`
}

// NewVersion builds a draft for the given entity. The store assigns Number
// on insert; ParentID points at the version this one revises, nil for the
// first version of an entity.
func NewVersion(entityType id.EntityType, entityID id.EntityID, author id.ActorID, payload map[string]any, reason string, parentID *id.VersionID, now time.Time) (*EntityVersion, error) {
	if entityType.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entity type cannot be empty")
	}
	if entityID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entity id cannot be empty")
	}
	if author.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "author cannot be empty")
	}
	if len(payload) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payload cannot be empty")
	}
	if key, ok := requiredPayloadKeys[entityType]; ok {
		if _, present := payload[key]; !present {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s payload must contain %q", entityType, key)
		}
	}
	digest, err := DigestPayload(payload)
	if err != nil {
		return nil, err
	}
	return &EntityVersion{
		ID:            id.NewVersionID(),
		EntityType:    entityType,
		EntityID:      entityID,
		Status:        StatusDraft,
		IsLatest:      true,
		ParentID:      parentID,
		Payload:       payload,
		PayloadDigest: digest,
		Reason:        reason,
		CreatedBy:     author,
		CreatedAt:     now,
		UpdatedAt:     now,
		RowVersion:    1,
	}, nil
}

// DigestPayload returns the hex SHA-256 of the payload's JSON encoding.
// encoding/json emits map keys in sorted order, so the digest is stable
// across insertion order.
func DigestPayload(payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "payload is not JSON-encodable")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// CanSubmit checks that the version can move to pending_approval.
// Use with ApplySubmit inside a transaction callback.
func (v *EntityVersion) CanSubmit() error {
	if !v.Status.CanTransitionTo(StatusPendingApproval) {
		return dErrors.Newf(dErrors.CodeInvalidState, "version %d is %s, only a draft can be submitted", v.Number, v.Status)
	}
	return nil
}

// ApplySubmit transitions the version to pending_approval.
// Call CanSubmit first to validate the transition.
func (v *EntityVersion) ApplySubmit(submitter id.ActorID, now time.Time) {
	v.Status = StatusPendingApproval
	v.SubmittedBy = &submitter
	v.SubmittedAt = &now
	v.UpdatedAt = now
}

// CanDecide checks that the version is awaiting a decision.
// Use with ApplyApprove or ApplyRevisionRequested inside a transaction
// callback.
func (v *EntityVersion) CanDecide() error {
	if v.Status != StatusPendingApproval {
		return dErrors.Newf(dErrors.CodeInvalidState, "version %d is %s, only a pending version can be decided", v.Number, v.Status)
	}
	return nil
}

// ApplyApprove marks the version approved. The caller supersedes the prior
// approved version for the same entity in the same transaction.
func (v *EntityVersion) ApplyApprove(approver id.ActorID, notes string, now time.Time) {
	v.Status = StatusApproved
	v.DecidedBy = &approver
	v.DecidedAt = &now
	v.Notes = notes
	v.UpdatedAt = now
}

// ApplyRevisionRequested closes the version awaiting a fresh draft. The
// entity has no latest version until that draft is created with this one as
// parent.
func (v *EntityVersion) ApplyRevisionRequested(approver id.ActorID, notes string, now time.Time) {
	v.Status = StatusRevisionRequested
	v.DecidedBy = &approver
	v.DecidedAt = &now
	v.Notes = notes
	v.IsLatest = false
	v.UpdatedAt = now
}

// ApplySuperseded retires a previously approved version after a newer one
// is approved over it.
func (v *EntityVersion) ApplySuperseded(now time.Time) {
	v.Status = StatusSuperseded
	v.IsLatest = false
	v.UpdatedAt = now
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate persisted state through the returned pointer.
func (v *EntityVersion) Clone() *EntityVersion {
	c := *v
	if v.Payload != nil {
		c.Payload = make(map[string]any, len(v.Payload))
		for k, val := range v.Payload {
			c.Payload[k] = val
		}
	}
	if v.ParentID != nil {
		p := *v.ParentID
		c.ParentID = &p
	}
	if v.SubmittedBy != nil {
		a := *v.SubmittedBy
		c.SubmittedBy = &a
	}
	if v.DecidedBy != nil {
		a := *v.DecidedBy
		c.DecidedBy = &a
	}
	if v.SubmittedAt != nil {
		t := *v.SubmittedAt
		c.SubmittedAt = &t
	}
	if v.DecidedAt != nil {
		t := *v.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// Describe is the audit-context summary for this version.
func (v *EntityVersion) Describe() string {
	return fmt.Sprintf("%s %s v%d", v.EntityType, v.EntityID, v.Number)
}
