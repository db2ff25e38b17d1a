// Package service implements the activity state manager. Each activity is a
// small state machine; the transitions a trigger may perform live in a rule
// table so automation behaves identically across phases.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"examen/internal/activity/config"
	"examen/internal/activity/models"
	auditmodels "examen/internal/audit/models"
	auditservice "examen/internal/audit/service"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
	"examen/pkg/platform/sentinel"
	"examen/pkg/requestcontext"
)

var tracer = otel.Tracer("examen/activity")

// ResetTrigger is the audit trigger for backward moves. Forward transitions
// record their own trigger name; every entry a reset produces, cascaded or
// not, carries this one so history never confuses rework with progress.
const ResetTrigger = "activity_reset"

// Store persists activity instances.
type Store interface {
	CreateAll(ctx context.Context, list []*models.Instance) error
	Get(ctx context.Context, activityID id.ActivityID) (*models.Instance, error)
	ListByPhase(ctx context.Context, phaseID id.PhaseID) ([]*models.Instance, error)
	ListByEntity(ctx context.Context, entityType id.EntityType, entityID id.EntityID) ([]*models.Instance, error)
	Update(ctx context.Context, a *models.Instance) error
}

// StoreTx runs a function inside one storage transaction.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Auditor records state transitions in the audit trail.
type Auditor interface {
	Record(ctx context.Context, req auditservice.RecordRequest) (id.EntryID, error)
}

// VersionGate reports the approval state of an activity's linked artifact.
// Approval-kind activities may only complete once the gate reports approved.
type VersionGate interface {
	// ApprovalState returns whether the entity's current version is approved
	// and the number of that version. No version at all reports (false, 0).
	ApprovalState(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (approved bool, number int, err error)
}

// PhaseHook learns when every activity of a phase is completed or skipped.
// Implementations tolerate re-notification; a returned error aborts the
// transaction that finished the last activity.
type PhaseHook interface {
	OnAllActivitiesDone(ctx context.Context, phaseID id.PhaseID, actor id.ActorID) error
}

// Manager drives activity transitions and enforces their ordering.
type Manager struct {
	store   Store
	storeTx StoreTx
	audit   Auditor
	rules   config.Rules
	gate    VersionGate
	hook    PhaseHook
	logger  *slog.Logger
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

// WithRules replaces the default transition table.
func WithRules(rules config.Rules) Option {
	return func(m *Manager) {
		if rules != nil {
			m.rules = rules
		}
	}
}

// WithVersionGate sets the approval gate consulted before an approval
// activity may complete.
func WithVersionGate(gate VersionGate) Option {
	return func(m *Manager) { m.gate = gate }
}

// WithPhaseHook sets the callback fired when a phase's last open activity
// finishes.
func WithPhaseHook(hook PhaseHook) Option {
	return func(m *Manager) { m.hook = hook }
}

// NewManager constructs an activity manager with the default rule table.
func NewManager(store Store, storeTx StoreTx, audit Auditor, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		storeTx: storeTx,
		audit:   audit,
		rules:   config.Default(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Blueprint describes one activity to materialize when a phase starts.
type Blueprint struct {
	Name       string
	Kind       models.Kind
	Optional   bool
	EntityType id.EntityType
	EntityID   id.EntityID
}

// CreateForPhase materializes the phase's activities from blueprints, in
// order, positions starting at 1. All instances begin not_started; the
// orchestrator starts the first one explicitly. Called inside the phase
// start transaction; a second materialization of the same phase fails with
// CodeConflict.
func (m *Manager) CreateForPhase(ctx context.Context, phaseID id.PhaseID, blueprints []Blueprint) ([]*models.Instance, error) {
	if len(blueprints) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "phase needs at least one activity")
	}
	now := requestcontext.Now(ctx)
	list := make([]*models.Instance, 0, len(blueprints))
	for i, b := range blueprints {
		a, err := models.NewInstance(phaseID, b.Name, b.Kind, i+1, b.Optional, b.EntityType, b.EntityID, now)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}

	err := m.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		if err := m.store.CreateAll(ctx, list); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeConflict, "phase %s already has activities", phaseID)
			}
			return dErrors.Wrap(err, dErrors.CodePersistence, "create activities")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Get returns one activity with its derived flags.
func (m *Manager) Get(ctx context.Context, activityID id.ActivityID) (*models.Instance, error) {
	a, err := m.get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	siblings, err := m.listByPhase(ctx, a.PhaseID)
	if err != nil {
		return nil, err
	}
	if err := m.decorate(ctx, a, siblings); err != nil {
		return nil, err
	}
	return a, nil
}

// ListByPhase returns the phase's activities in position order, with their
// derived flags.
func (m *Manager) ListByPhase(ctx context.Context, phaseID id.PhaseID) ([]*models.Instance, error) {
	list, err := m.listByPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if err := m.decorate(ctx, a, list); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Start activates an activity. Blocked with a reason while any prior
// required activity is still open.
func (m *Manager) Start(ctx context.Context, activityID id.ActivityID, actor id.ActorID) (*models.Instance, error) {
	ctx, span := tracer.Start(ctx, "activity.start", trace.WithAttributes(
		attribute.String("activity_id", activityID.String()),
	))
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "actor cannot be empty")
	}
	now := requestcontext.Now(ctx)
	var started *models.Instance
	err := m.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := m.get(ctx, activityID)
		if err != nil {
			return err
		}
		from := a.Status
		if _, err := m.resolve(models.TriggerManualStart, a); err != nil {
			return err
		}
		siblings, err := m.listByPhase(ctx, a.PhaseID)
		if err != nil {
			return err
		}
		if reason := models.StartBlockers(a, siblings); reason != "" {
			return dErrors.New(dErrors.CodeBlocked, reason)
		}

		a.ApplyStart(now)
		if err := m.update(ctx, a); err != nil {
			return err
		}
		if err := m.record(ctx, a, from, a.Status, models.TriggerManualStart.String(), actor, a.Describe()); err != nil {
			return err
		}
		started = a
		return m.decorate(ctx, a, siblings)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return started, nil
}

// Complete finishes an active activity. Approval-kind activities are gated
// on the linked artifact having an approved current version; everything else
// completes on the actor's say-so. Finishing the phase's last open activity
// fires the phase hook inside the same transaction.
func (m *Manager) Complete(ctx context.Context, activityID id.ActivityID, actor id.ActorID) (*models.Instance, error) {
	ctx, span := tracer.Start(ctx, "activity.complete", trace.WithAttributes(
		attribute.String("activity_id", activityID.String()),
	))
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "actor cannot be empty")
	}
	now := requestcontext.Now(ctx)
	var completed *models.Instance
	err := m.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := m.get(ctx, activityID)
		if err != nil {
			return err
		}
		from := a.Status
		if _, err := m.resolve(models.TriggerManualComplete, a); err != nil {
			return err
		}
		if err := m.checkApprovalGate(ctx, a); err != nil {
			return err
		}

		a.ApplyComplete(actor, now)
		if err := m.update(ctx, a); err != nil {
			return err
		}
		if err := m.record(ctx, a, from, a.Status, models.TriggerManualComplete.String(), actor, a.Describe()); err != nil {
			return err
		}
		if err := m.firePhaseHookIfDone(ctx, a.PhaseID, actor); err != nil {
			return err
		}
		completed = a
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return completed, nil
}

// Skip marks an optional activity as deliberately not performed. Required
// activities cannot be skipped. Skipping the phase's last open activity
// fires the phase hook.
func (m *Manager) Skip(ctx context.Context, activityID id.ActivityID, actor id.ActorID, reason string) (*models.Instance, error) {
	ctx, span := tracer.Start(ctx, "activity.skip", trace.WithAttributes(
		attribute.String("activity_id", activityID.String()),
	))
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "actor cannot be empty")
	}
	now := requestcontext.Now(ctx)
	var skipped *models.Instance
	err := m.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := m.get(ctx, activityID)
		if err != nil {
			return err
		}
		if !a.Optional {
			return dErrors.Newf(dErrors.CodeBlocked, "%s is required and cannot be skipped", a.Describe())
		}
		from := a.Status
		if _, err := m.resolve(models.TriggerManualSkip, a); err != nil {
			return err
		}

		a.ApplySkip(reason, now)
		if err := m.update(ctx, a); err != nil {
			return err
		}
		detail := a.Describe()
		if reason != "" {
			detail = fmt.Sprintf("%s skipped: %s", a.Describe(), reason)
		}
		if err := m.record(ctx, a, from, a.Status, models.TriggerManualSkip.String(), actor, detail); err != nil {
			return err
		}
		if err := m.firePhaseHookIfDone(ctx, a.PhaseID, actor); err != nil {
			return err
		}
		skipped = a
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return skipped, nil
}

// Reset moves a completed activity back to not_started, and cascades: every
// later activity in the phase that was completed goes back with it, keeping
// the ordering invariant intact. This is the only backward move. Each
// affected activity gets its own audit entry under the reset trigger.
// Returns the affected activities in position order.
func (m *Manager) Reset(ctx context.Context, activityID id.ActivityID, actor id.ActorID) ([]*models.Instance, error) {
	ctx, span := tracer.Start(ctx, "activity.reset", trace.WithAttributes(
		attribute.String("activity_id", activityID.String()),
	))
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "actor cannot be empty")
	}
	now := requestcontext.Now(ctx)
	var affected []*models.Instance
	err := m.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := m.get(ctx, activityID)
		if err != nil {
			return err
		}
		if _, err := m.resolve(models.TriggerReset, a); err != nil {
			return err
		}
		siblings, err := m.listByPhase(ctx, a.PhaseID)
		if err != nil {
			return err
		}

		a.ApplyReset(now)
		if err := m.update(ctx, a); err != nil {
			return err
		}
		if err := m.record(ctx, a, models.StatusCompleted, a.Status, ResetTrigger, actor, a.Describe()); err != nil {
			return err
		}
		affected = append(affected, a)

		for _, sib := range siblings {
			if sib.Position <= a.Position || sib.Status != models.StatusCompleted {
				continue
			}
			sib.ApplyReset(now)
			if err := m.update(ctx, sib); err != nil {
				return err
			}
			detail := fmt.Sprintf("%s reset in cascade from %q", sib.Describe(), a.Name)
			if err := m.record(ctx, sib, models.StatusCompleted, sib.Status, ResetTrigger, actor, detail); err != nil {
				return err
			}
			affected = append(affected, sib)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	m.logger.InfoContext(ctx, "activities reset",
		"activity_id", activityID.String(),
		"affected", len(affected),
	)
	return affected, nil
}

// AutoAdvance reacts to a version event by moving the review or approval
// activities bound to the artifact, without a manual click. Activities with
// no matching rule, or held back by an unfinished prior activity, are left
// alone; the version operation must not fail because the checklist lags.
// Satisfies the version manager's Advancer port.
func (m *Manager) AutoAdvance(ctx context.Context, entityType id.EntityType, entityID id.EntityID, trigger string) error {
	ctx, span := tracer.Start(ctx, "activity.auto_advance", trace.WithAttributes(
		attribute.String("entity_type", entityType.String()),
		attribute.String("entity_id", entityID.String()),
		attribute.String("trigger", trigger),
	))
	defer span.End()

	trig, err := models.ParseTrigger(trigger)
	if err != nil {
		return err
	}
	if trig != models.TriggerOnSubmission && trig != models.TriggerOnApproval {
		return dErrors.Newf(dErrors.CodeInvalidInput, "%s is not an automatic trigger", trig)
	}
	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		actor = auditmodels.SystemActor
	}
	now := requestcontext.Now(ctx)

	err = m.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		list, err := m.store.ListByEntity(ctx, entityType, entityID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "list activities by entity")
		}
		for _, a := range list {
			to, ok := m.rules.Resolve(trig, a.Status, a.Kind)
			if !ok {
				continue
			}
			siblings, err := m.listByPhase(ctx, a.PhaseID)
			if err != nil {
				return err
			}
			if reason := models.StartBlockers(a, siblings); reason != "" {
				m.logger.WarnContext(ctx, "auto-advance held back",
					"activity_id", a.ID.String(),
					"trigger", trig.String(),
					"reason", reason,
				)
				continue
			}

			from := a.Status
			switch to {
			case models.StatusCompleted:
				a.ApplyComplete(actor, now)
			case models.StatusActive:
				a.ApplyStart(now)
			default:
				return dErrors.Newf(dErrors.CodeInvariantViolation, "rule %s -> %s not supported for automatic triggers", from, to)
			}
			if err := m.update(ctx, a); err != nil {
				return err
			}
			if err := m.record(ctx, a, from, a.Status, trig.String(), actor, a.Describe()); err != nil {
				return err
			}
			if a.Status.IsDone() {
				if err := m.firePhaseHookIfDone(ctx, a.PhaseID, actor); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// resolve looks the trigger up in the rule table and checks the move against
// the status machine.
func (m *Manager) resolve(trig models.Trigger, a *models.Instance) (models.Status, error) {
	to, ok := m.rules.Resolve(trig, a.Status, a.Kind)
	if !ok {
		return "", dErrors.Newf(dErrors.CodeInvalidState, "%s does not permit %s from status %s", a.Describe(), trig, a.Status)
	}
	if !a.Status.CanTransitionTo(to) {
		return "", dErrors.Newf(dErrors.CodeInvariantViolation, "rule %s -> %s is not a legal status transition", a.Status, to)
	}
	return to, nil
}

// checkApprovalGate blocks completion of an approval activity until the
// linked artifact's current version is approved.
func (m *Manager) checkApprovalGate(ctx context.Context, a *models.Instance) error {
	if a.Kind != models.KindApproval || a.EntityType == "" || m.gate == nil {
		return nil
	}
	approved, number, err := m.gate.ApprovalState(ctx, a.EntityType, a.EntityID)
	if err != nil {
		return err
	}
	if approved {
		return nil
	}
	return dErrors.New(dErrors.CodeBlocked, approvalReason(number))
}

func approvalReason(number int) string {
	if number > 0 {
		return fmt.Sprintf("awaiting approval on version %d", number)
	}
	return "no version submitted for approval"
}

// decorate fills the derived flags from the activity's siblings.
func (m *Manager) decorate(ctx context.Context, a *models.Instance, siblings []*models.Instance) error {
	a.CanStart = false
	a.CanComplete = false
	a.BlockingReason = ""

	if a.Status == models.StatusNotStarted {
		if reason := models.StartBlockers(a, siblings); reason != "" {
			a.BlockingReason = reason
		} else {
			a.CanStart = true
		}
	}
	if a.Status != models.StatusActive {
		return nil
	}
	if a.Kind == models.KindApproval && a.EntityType != "" && m.gate != nil {
		approved, number, err := m.gate.ApprovalState(ctx, a.EntityType, a.EntityID)
		if err != nil {
			return err
		}
		if !approved {
			a.BlockingReason = approvalReason(number)
			return nil
		}
	}
	a.CanComplete = true
	return nil
}

// firePhaseHookIfDone notifies the orchestrator once no activity in the
// phase remains open.
func (m *Manager) firePhaseHookIfDone(ctx context.Context, phaseID id.PhaseID, actor id.ActorID) error {
	if m.hook == nil {
		return nil
	}
	siblings, err := m.listByPhase(ctx, phaseID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if !sib.Status.IsDone() {
			return nil
		}
	}
	return m.hook.OnAllActivitiesDone(ctx, phaseID, actor)
}

func (m *Manager) get(ctx context.Context, activityID id.ActivityID) (*models.Instance, error) {
	a, err := m.store.Get(ctx, activityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "activity %s not found", activityID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "read activity")
	}
	return a, nil
}

func (m *Manager) listByPhase(ctx context.Context, phaseID id.PhaseID) ([]*models.Instance, error) {
	list, err := m.store.ListByPhase(ctx, phaseID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "list activities")
	}
	return list, nil
}

func (m *Manager) update(ctx context.Context, a *models.Instance) error {
	err := m.store.Update(ctx, a)
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Newf(dErrors.CodeConflict, "%s was modified concurrently, retry from a fresh read", a.Describe())
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "activity %s not found", a.ID)
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodePersistence, "update activity")
	}
	return nil
}

func (m *Manager) record(ctx context.Context, a *models.Instance, from, to models.Status, trigger string, actor id.ActorID, detail string) error {
	_, err := m.audit.Record(ctx, auditservice.RecordRequest{
		SubjectType: auditmodels.SubjectActivity,
		SubjectID:   a.ID.String(),
		FromState:   from.String(),
		ToState:     to.String(),
		Trigger:     trigger,
		ActorID:     actor,
		Context:     detail,
	})
	return err
}
