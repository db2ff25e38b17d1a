// Package service implements the version manager: numbered artifact
// versions moving through draft, review and approval, with at most one open
// version per entity at a time.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	auditmodels "examen/internal/audit/models"
	auditservice "examen/internal/audit/service"
	notifymodels "examen/internal/notify/models"
	"examen/internal/version/metrics"
	"examen/internal/version/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
	"examen/pkg/platform/sentinel"
	"examen/pkg/requestcontext"
)

var tracer = otel.Tracer("examen/version")

// Trigger names handed to the Advancer on submission and approval.
const (
	TriggerOnSubmission = "auto_on_submission"
	TriggerOnApproval   = "auto_on_approval"
)

// Store persists entity versions.
type Store interface {
	CreateIfNoOpenDraft(ctx context.Context, v *models.EntityVersion) error
	Get(ctx context.Context, versionID id.VersionID) (*models.EntityVersion, error)
	ByNumber(ctx context.Context, entityType id.EntityType, entityID id.EntityID, number int) (*models.EntityVersion, error)
	NewestByEntity(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error)
	Latest(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error)
	ApprovedVersion(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error)
	ListByEntity(ctx context.Context, entityType id.EntityType, entityID id.EntityID) ([]*models.EntityVersion, error)
	Update(ctx context.Context, v *models.EntityVersion) error
}

// StoreTx runs a function inside one storage transaction.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Auditor records state transitions in the audit trail.
type Auditor interface {
	Record(ctx context.Context, req auditservice.RecordRequest) (id.EntryID, error)
}

// Publisher hands events to the notification outbox. Implementations write
// inside the caller's transaction; dispatch happens after commit.
type Publisher interface {
	Publish(ctx context.Context, event notifymodels.Event) error
}

// Advancer reacts to submission and approval so review and approval
// activities move without a manual click. Implementations swallow the
// no-matching-activity case; a returned error aborts the whole transaction.
type Advancer interface {
	AutoAdvance(ctx context.Context, entityType id.EntityType, entityID id.EntityID, trigger string) error
}

// Manager owns the lifecycle of versioned artifacts.
type Manager struct {
	store     Store
	storeTx   StoreTx
	audit     Auditor
	publisher Publisher
	advancer  Advancer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPublisher sets the outbox publisher.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithAdvancer sets the activity advancer notified on submit and approve.
func WithAdvancer(a Advancer) Option {
	return func(m *Manager) { m.advancer = a }
}

// WithMetrics sets the version metrics. Nil metrics no-op.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager constructs a version manager.
func NewManager(store Store, storeTx StoreTx, audit Auditor, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		storeTx: storeTx,
		audit:   audit,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRequest carries the inputs for a new draft version.
type CreateRequest struct {
	EntityType id.EntityType
	EntityID   id.EntityID
	Author     id.ActorID
	Payload    map[string]any
	Reason     string
}

// Create opens a new draft version for the entity. The draft takes the next
// version number and records the previous newest version as its parent.
// Fails with CodeConflict while another version of the entity is still open;
// the caller resolves that version first.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.EntityVersion, error) {
	ctx, span := tracer.Start(ctx, "version.create", trace.WithAttributes(
		attribute.String("entity_type", req.EntityType.String()),
		attribute.String("entity_id", req.EntityID.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	var created *models.EntityVersion
	err := m.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		var parentID *id.VersionID
		newest, err := m.store.NewestByEntity(ctx, req.EntityType, req.EntityID)
		switch {
		case err == nil:
			parentID = &newest.ID
		case errors.Is(err, sentinel.ErrNotFound):
		default:
			return dErrors.Wrap(err, dErrors.CodePersistence, "read newest version")
		}

		v, err := models.NewVersion(req.EntityType, req.EntityID, req.Author, req.Payload, req.Reason, parentID, now)
		if err != nil {
			return err
		}
		if err := m.store.CreateIfNoOpenDraft(ctx, v); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeConflict, "%s %s already has an open version", req.EntityType, req.EntityID)
			}
			return dErrors.Wrap(err, dErrors.CodePersistence, "create version")
		}
		if err := m.record(ctx, v, "", models.StatusDraft, "version_created", req.Author, v.Describe()); err != nil {
			return err
		}
		if err := m.publish(ctx, notifymodels.EventVersionCreated, v, nil); err != nil {
			return err
		}
		created = v
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("version", created.Number))
	m.metrics.IncrementCreated(created.EntityType.String())
	return created, nil
}

// Submit moves a draft to pending_approval and nudges the matching review
// activity forward.
func (m *Manager) Submit(ctx context.Context, versionID id.VersionID, submitter id.ActorID) (*models.EntityVersion, error) {
	ctx, span := tracer.Start(ctx, "version.submit", trace.WithAttributes(
		attribute.String("version_id", versionID.String()),
	))
	defer span.End()

	if submitter.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "submitter cannot be empty")
	}
	now := requestcontext.Now(ctx)
	var submitted *models.EntityVersion
	err := m.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		v, err := m.get(ctx, versionID)
		if err != nil {
			return err
		}
		if err := v.CanSubmit(); err != nil {
			return err
		}
		v.ApplySubmit(submitter, now)
		if err := m.update(ctx, v); err != nil {
			return err
		}
		if err := m.record(ctx, v, models.StatusDraft, models.StatusPendingApproval, "version_submitted", submitter, v.Describe()); err != nil {
			return err
		}
		if err := m.publish(ctx, notifymodels.EventVersionSubmitted, v, nil); err != nil {
			return err
		}
		if err := m.advance(ctx, v, TriggerOnSubmission); err != nil {
			return err
		}
		submitted = v
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return submitted, nil
}

// DecideRequest carries an approver's verdict on a pending version.
type DecideRequest struct {
	VersionID id.VersionID
	Approver  id.ActorID
	Decision  models.Decision
	Notes     string
}

// Decide resolves a pending version. Approval supersedes the entity's prior
// approved version in the same transaction and nudges the matching approval
// activity forward; a revision request closes the version and leaves the
// entity awaiting a fresh draft that records this version as its parent.
func (m *Manager) Decide(ctx context.Context, req DecideRequest) (*models.EntityVersion, error) {
	ctx, span := tracer.Start(ctx, "version.decide", trace.WithAttributes(
		attribute.String("version_id", req.VersionID.String()),
		attribute.String("decision", req.Decision.String()),
	))
	defer span.End()

	if req.Approver.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "approver cannot be empty")
	}
	if _, err := models.ParseDecision(req.Decision.String()); err != nil {
		return nil, err
	}
	started := time.Now()
	now := requestcontext.Now(ctx)
	var decided *models.EntityVersion
	err := m.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		v, err := m.get(ctx, req.VersionID)
		if err != nil {
			return err
		}
		if err := v.CanDecide(); err != nil {
			return err
		}

		if req.Decision == models.DecisionApprove {
			if err := m.supersedePrior(ctx, v, req.Approver, now); err != nil {
				return err
			}
			v.ApplyApprove(req.Approver, req.Notes, now)
			if err := m.update(ctx, v); err != nil {
				return err
			}
			if err := m.record(ctx, v, models.StatusPendingApproval, models.StatusApproved, "version_approved", req.Approver, v.Describe()); err != nil {
				return err
			}
			if err := m.publish(ctx, notifymodels.EventVersionApproved, v, nil); err != nil {
				return err
			}
			if err := m.advance(ctx, v, TriggerOnApproval); err != nil {
				return err
			}
		} else {
			v.ApplyRevisionRequested(req.Approver, req.Notes, now)
			if err := m.update(ctx, v); err != nil {
				return err
			}
			if err := m.record(ctx, v, models.StatusPendingApproval, models.StatusRevisionRequested, "version_revision_requested", req.Approver, v.Describe()); err != nil {
				return err
			}
			if err := m.publish(ctx, notifymodels.EventVersionRevisionRequested, v, nil); err != nil {
				return err
			}
		}
		decided = v
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	m.metrics.IncrementDecision(req.Decision.String(), decided.EntityType.String())
	m.metrics.ObserveDecide(time.Since(started))
	m.logger.InfoContext(ctx, "version decided",
		"entity_type", decided.EntityType.String(),
		"entity_id", decided.EntityID.String(),
		"version", decided.Number,
		"decision", req.Decision.String(),
	)
	return decided, nil
}

// supersedePrior retires the entity's previously approved version, if any.
// The retired version gets its own audit entry so its state chain replays
// cleanly.
func (m *Manager) supersedePrior(ctx context.Context, v *models.EntityVersion, actor id.ActorID, now time.Time) error {
	prior, err := m.store.ApprovedVersion(ctx, v.EntityType, v.EntityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "read approved version")
	}
	prior.ApplySuperseded(now)
	if err := m.update(ctx, prior); err != nil {
		return err
	}
	detail := fmt.Sprintf("%s superseded by v%d", prior.Describe(), v.Number)
	return m.record(ctx, prior, models.StatusApproved, models.StatusSuperseded, "version_superseded", actor, detail)
}

// RevertRequest asks for a past version's payload to become a new draft.
type RevertRequest struct {
	EntityType id.EntityType
	EntityID   id.EntityID
	ToNumber   int
	Actor      id.ActorID
	Reason     string
}

// Revert opens a new draft carrying the payload of an earlier version.
// History is never rewritten: the target version stays untouched and the
// draft takes the next number, so the trail shows the round trip.
func (m *Manager) Revert(ctx context.Context, req RevertRequest) (*models.EntityVersion, error) {
	ctx, span := tracer.Start(ctx, "version.revert", trace.WithAttributes(
		attribute.String("entity_type", req.EntityType.String()),
		attribute.String("entity_id", req.EntityID.String()),
		attribute.Int("to_version", req.ToNumber),
	))
	defer span.End()

	if req.Actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "actor cannot be empty")
	}
	now := requestcontext.Now(ctx)
	var created *models.EntityVersion
	err := m.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		target, err := m.store.ByNumber(ctx, req.EntityType, req.EntityID, req.ToNumber)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "%s %s has no version %d", req.EntityType, req.EntityID, req.ToNumber)
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "read version")
		}
		newest, err := m.store.NewestByEntity(ctx, req.EntityType, req.EntityID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "read newest version")
		}

		reason := req.Reason
		if reason == "" {
			reason = fmt.Sprintf("revert to v%d", target.Number)
		}
		v, err := models.NewVersion(req.EntityType, req.EntityID, req.Actor, target.Payload, reason, &newest.ID, now)
		if err != nil {
			return err
		}
		if err := m.store.CreateIfNoOpenDraft(ctx, v); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeConflict, "%s %s already has an open version", req.EntityType, req.EntityID)
			}
			return dErrors.Wrap(err, dErrors.CodePersistence, "create version")
		}
		detail := fmt.Sprintf("%s restores payload of v%d", v.Describe(), target.Number)
		if err := m.record(ctx, v, "", models.StatusDraft, "version_reverted", req.Actor, detail); err != nil {
			return err
		}
		if err := m.publish(ctx, notifymodels.EventVersionCreated, v, map[string]any{"reverted_from": target.Number}); err != nil {
			return err
		}
		created = v
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	m.metrics.IncrementCreated(created.EntityType.String())
	return created, nil
}

// History returns all versions of the entity, newest first. An unknown
// entity yields an empty list.
func (m *Manager) History(ctx context.Context, entityType id.EntityType, entityID id.EntityID) ([]*models.EntityVersion, error) {
	versions, err := m.store.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "list versions")
	}
	return versions, nil
}

// Latest returns the entity's current version: its open draft or pending
// version if one exists, otherwise its approved version. After a revision
// request there is no latest version until the next draft is created.
func (m *Manager) Latest(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error) {
	v, err := m.store.Latest(ctx, entityType, entityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "%s %s has no current version", entityType, entityID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "read latest version")
	}
	return v, nil
}

// Compare diffs the payloads of two versions of the same entity. Pure read;
// nothing is mutated.
func (m *Manager) Compare(ctx context.Context, fromID, toID id.VersionID) (*models.Diff, error) {
	from, err := m.get(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := m.get(ctx, toID)
	if err != nil {
		return nil, err
	}
	return models.ComputeDiff(from, to)
}

func (m *Manager) get(ctx context.Context, versionID id.VersionID) (*models.EntityVersion, error) {
	v, err := m.store.Get(ctx, versionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "version %s not found", versionID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "read version")
	}
	return v, nil
}

func (m *Manager) update(ctx context.Context, v *models.EntityVersion) error {
	err := m.store.Update(ctx, v)
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Newf(dErrors.CodeConflict, "%s was modified concurrently, retry from a fresh read", v.Describe())
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "version %s not found", v.ID)
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodePersistence, "update version")
	}
	return nil
}

func (m *Manager) record(ctx context.Context, v *models.EntityVersion, from, to models.Status, trigger string, actor id.ActorID, detail string) error {
	_, err := m.audit.Record(ctx, auditservice.RecordRequest{
		SubjectType: auditmodels.SubjectEntityVersion,
		SubjectID:   v.ID.String(),
		FromState:   from.String(),
		ToState:     to.String(),
		Trigger:     trigger,
		ActorID:     actor,
		Context:     detail,
	})
	return err
}

func (m *Manager) publish(ctx context.Context, eventType string, v *models.EntityVersion, extra map[string]any) error {
	if m.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"entity_type": v.EntityType.String(),
		"entity_id":   v.EntityID.String(),
		"version":     v.Number,
		"status":      v.Status.String(),
		"digest":      v.PayloadDigest,
	}
	for k, val := range extra {
		payload[k] = val
	}
	event, err := notifymodels.NewEvent(eventType, v.ID.String(), payload, requestcontext.Now(ctx))
	if err != nil {
		return err
	}
	return m.publisher.Publish(ctx, event)
}

func (m *Manager) advance(ctx context.Context, v *models.EntityVersion, trigger string) error {
	if m.advancer == nil {
		return nil
	}
	return m.advancer.AutoAdvance(ctx, v.EntityType, v.EntityID, trigger)
}
