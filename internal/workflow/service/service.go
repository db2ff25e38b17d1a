// Package service implements the phase orchestrator. It owns the fixed
// phase sequence of a cycle-report: starting a phase checks its
// predecessor, arms the SLA clock and materializes the phase's activities;
// completion is driven by the activity manager once every activity is done.
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
	"golang.org/x/sync/errgroup"

	activitymodels "examen/internal/activity/models"
	activityservice "examen/internal/activity/service"
	auditmodels "examen/internal/audit/models"
	auditservice "examen/internal/audit/service"
	notifymodels "examen/internal/notify/models"
	slamodels "examen/internal/sla/models"
	"examen/internal/workflow/config"
	"examen/internal/workflow/metrics"
	"examen/internal/workflow/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
	"examen/pkg/platform/sentinel"
	"examen/pkg/requestcontext"
)

var tracer = otel.Tracer("examen/workflow")

// Audit trigger names for phase transitions. OverrideTrigger is the
// distinguished name the administrative escape hatch writes, so a bypassed
// phase is forever recognizable in history.
const (
	StartTrigger    = "phase_started"
	CompleteTrigger = "phase_completed"
	OverrideTrigger = "manual_override"
	SkipTrigger     = "phase_skipped"
)

// Store persists phase instances.
type Store interface {
	Create(ctx context.Context, p *models.PhaseInstance) error
	Get(ctx context.Context, phaseID id.PhaseID) (*models.PhaseInstance, error)
	GetByName(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName) (*models.PhaseInstance, error)
	ListByCycleReport(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) ([]*models.PhaseInstance, error)
	Update(ctx context.Context, p *models.PhaseInstance) error
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

// ActivityManager is the slice of the activity manager the orchestrator
// drives: materializing a phase's activities, kicking off the first one and
// reading them back for completion checks and snapshots.
type ActivityManager interface {
	CreateForPhase(ctx context.Context, phaseID id.PhaseID, blueprints []activityservice.Blueprint) ([]*activitymodels.Instance, error)
	Start(ctx context.Context, activityID id.ActivityID, actor id.ActorID) (*activitymodels.Instance, error)
	ListByPhase(ctx context.Context, phaseID id.PhaseID) ([]*activitymodels.Instance, error)
}

// SLATracker arms and stops deadline clocks and evaluates their standing.
type SLATracker interface {
	StartClock(ctx context.Context, phaseID id.PhaseID, phaseName id.PhaseName, cycleID id.CycleID, reportID id.ReportID, startedAt time.Time) (*slamodels.Clock, error)
	StopClock(ctx context.Context, phaseID id.PhaseID, at time.Time) (*slamodels.Clock, error)
	Check(ctx context.Context, phaseID id.PhaseID) (*slamodels.Check, error)
}

// SnapshotCache caches rendered status snapshots. A miss is
// sentinel.ErrNotFound; all cache failures are soft.
type SnapshotCache interface {
	Get(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) (*models.Snapshot, error)
	Set(ctx context.Context, snap *models.Snapshot) error
	Invalidate(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) error
}

// Orchestrator drives phases through their lifecycle and assembles the
// cycle-report status read model.
type Orchestrator struct {
	store      Store
	storeTx    StoreTx
	audit      Auditor
	activities ActivityManager
	templates  config.Templates
	sla        SLATracker
	publisher  Publisher
	cache      SnapshotCache
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTemplates replaces the default phase templates.
func WithTemplates(templates config.Templates) Option {
	return func(o *Orchestrator) {
		if templates != nil {
			o.templates = templates
		}
	}
}

// WithSLA sets the deadline tracker. Without one, phases run unclocked.
func WithSLA(sla SLATracker) Option {
	return func(o *Orchestrator) { o.sla = sla }
}

// WithPublisher sets the outbox publisher.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithCache sets the status snapshot cache.
func WithCache(c SnapshotCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithMetrics sets the orchestrator metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator constructs a phase orchestrator with the default
// templates.
func NewOrchestrator(store Store, storeTx StoreTx, audit Auditor, activities ActivityManager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		storeTx:    storeTx,
		audit:      audit,
		activities: activities,
		templates:  config.Default(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ArtifactID derives the entity id a phase's versioned artifact lives
// under. Everything that touches the artifact, version ingest included,
// must use the same derivation or auto-advance cannot find the activities.
// Cycle and report ids need to stay short enough for the combined id to fit
// the entity id limit.
func ArtifactID(cycleID id.CycleID, reportID id.ReportID, entityType id.EntityType) id.EntityID {
	return id.EntityID(fmt.Sprintf("%s.%s.%s", cycleID, reportID, entityType))
}

// StartPhase opens one phase of a cycle-report. The immediate predecessor
// must be completed or skipped, except for parallel-eligible phases, which
// may open while the predecessor is still in progress. On success the SLA
// clock is armed, the phase's activities exist and the opening activity is
// active, all in one transaction.
//
// Errors: CodePrerequisite on ordering violations, CodeInvalidState when
// the phase already ran, CodeConflict when two starts race.
func (o *Orchestrator) StartPhase(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, actor id.ActorID) (*models.PhaseInstance, error) {
	ctx, span := tracer.Start(ctx, "workflow.start_phase", trace.WithAttributes(
		attribute.String("cycle_id", cycleID.String()),
		attribute.String("report_id", reportID.String()),
		attribute.String("phase", name.String()),
	))
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "actor cannot be empty")
	}
	template, ok := o.templates.Get(name)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown phase %q", name)
	}

	now := requestcontext.Now(ctx)
	var started *models.PhaseInstance
	err := o.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		if err := o.checkPrerequisite(ctx, cycleID, reportID, name, template); err != nil {
			return err
		}

		inst, fresh, err := o.instanceForStart(ctx, cycleID, reportID, name, now)
		if err != nil {
			return err
		}
		inst.ApplyStart(actor, now)
		if fresh {
			err = o.create(ctx, inst)
		} else {
			err = o.update(ctx, inst)
		}
		if err != nil {
			return err
		}

		if o.sla != nil {
			if _, err := o.sla.StartClock(ctx, inst.ID, name, cycleID, reportID, now); err != nil {
				return err
			}
		}

		materialized, err := o.activities.CreateForPhase(ctx, inst.ID, o.blueprints(template, cycleID, reportID))
		if err != nil {
			return err
		}
		if _, err := o.activities.Start(ctx, materialized[0].ID, actor); err != nil {
			return err
		}

		if err := o.record(ctx, inst, models.StatusNotStarted, models.StatusInProgress, StartTrigger, actor, inst.Describe()); err != nil {
			return err
		}
		if err := o.publish(ctx, notifymodels.EventPhaseStarted, inst, now, nil); err != nil {
			return err
		}
		started = inst
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	o.metrics.IncrementTransition(name.String(), models.StatusInProgress.String())
	o.invalidateSnapshot(ctx, cycleID, reportID)
	o.logger.InfoContext(ctx, "phase started",
		"cycle_id", cycleID, "report_id", reportID, "phase", name)
	return started, nil
}

// CompletePhase closes a phase once every activity is completed or skipped.
// The usual path is automatic, through the activity manager's hook; this
// entry point serves manual retries when the automatic close was rejected.
func (o *Orchestrator) CompletePhase(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, actor id.ActorID) (*models.PhaseInstance, error) {
	ctx, span := tracer.Start(ctx, "workflow.complete_phase", trace.WithAttributes(
		attribute.String("cycle_id", cycleID.String()),
		attribute.String("report_id", reportID.String()),
		attribute.String("phase", name.String()),
	))
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "actor cannot be empty")
	}
	now := requestcontext.Now(ctx)
	var completed *models.PhaseInstance
	err := o.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		inst, err := o.getByName(ctx, cycleID, reportID, name)
		if err != nil {
			return err
		}
		if inst.Status != models.StatusInProgress {
			return dErrors.Newf(dErrors.CodeInvalidState, "%s cannot complete from %s", inst.Describe(), inst.Status)
		}

		list, err := o.activities.ListByPhase(ctx, inst.ID)
		if err != nil {
			return err
		}
		for _, a := range list {
			if !a.Status.IsDone() {
				return dErrors.Newf(dErrors.CodeBlocked, "activity %q is not finished", a.Name)
			}
		}

		if err := o.finish(ctx, inst, actor, CompleteTrigger, inst.Describe(), now); err != nil {
			return err
		}
		completed = inst
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	o.metrics.IncrementTransition(name.String(), models.StatusCompleted.String())
	o.invalidateSnapshot(ctx, cycleID, reportID)
	return completed, nil
}

// HandleActivitiesDone closes a phase whose last open activity just
// finished. The activity manager calls this through its phase hook, inside
// the transaction that completed the activity; a phase that is already
// closed is left alone.
func (o *Orchestrator) HandleActivitiesDone(ctx context.Context, phaseID id.PhaseID, actor id.ActorID) error {
	ctx, span := tracer.Start(ctx, "workflow.activities_done", trace.WithAttributes(
		attribute.String("phase_id", phaseID.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	var inst *models.PhaseInstance
	err := o.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := o.get(ctx, phaseID)
		if err != nil {
			return err
		}
		if !p.Status.CanTransitionTo(models.StatusCompleted) {
			return nil
		}
		if err := o.finish(ctx, p, actor, CompleteTrigger, "all activities finished", now); err != nil {
			return err
		}
		inst = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if inst != nil {
		o.metrics.IncrementTransition(inst.Name.String(), models.StatusCompleted.String())
		o.invalidateSnapshot(ctx, inst.CycleID, inst.ReportID)
		o.logger.InfoContext(ctx, "phase completed",
			"cycle_id", inst.CycleID, "report_id", inst.ReportID, "phase", inst.Name)
	}
	return nil
}

// OverridePhase force-completes a phase, bypassing the activity checks. The
// reason is mandatory and lands in the instance, the audit trail and the
// outbound event, so the bypass stays visible everywhere.
func (o *Orchestrator) OverridePhase(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, actor id.ActorID, reason string) (*models.PhaseInstance, error) {
	ctx, span := tracer.Start(ctx, "workflow.override_phase", trace.WithAttributes(
		attribute.String("cycle_id", cycleID.String()),
		attribute.String("report_id", reportID.String()),
		attribute.String("phase", name.String()),
	))
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "actor cannot be empty")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "override requires a reason")
	}

	now := requestcontext.Now(ctx)
	var overridden *models.PhaseInstance
	err := o.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		inst, err := o.getByName(ctx, cycleID, reportID, name)
		if err != nil {
			return err
		}
		if inst.Status != models.StatusInProgress && inst.Status != models.StatusBlocked {
			return dErrors.Newf(dErrors.CodeInvalidState, "%s cannot be overridden from %s", inst.Describe(), inst.Status)
		}

		from := inst.Status
		inst.ApplyOverride(actor, reason, now)
		if err := o.update(ctx, inst); err != nil {
			return err
		}
		if err := o.stopClock(ctx, inst.ID, now); err != nil {
			return err
		}
		if err := o.record(ctx, inst, from, inst.Status, OverrideTrigger, actor, reason); err != nil {
			return err
		}
		if err := o.publish(ctx, notifymodels.EventPhaseOverridden, inst, now, map[string]any{"reason": reason}); err != nil {
			return err
		}
		overridden = inst
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	o.metrics.IncrementTransition(name.String(), models.StatusCompleted.String())
	o.invalidateSnapshot(ctx, cycleID, reportID)
	o.logger.InfoContext(ctx, "phase overridden",
		"cycle_id", cycleID, "report_id", reportID, "phase", name, "reason", reason)
	return overridden, nil
}

// SkipPhase marks a never-started phase as deliberately left out. Skipped
// phases satisfy their successor's prerequisite and leave the completion
// denominator.
func (o *Orchestrator) SkipPhase(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, actor id.ActorID, reason string) (*models.PhaseInstance, error) {
	ctx, span := tracer.Start(ctx, "workflow.skip_phase", trace.WithAttributes(
		attribute.String("cycle_id", cycleID.String()),
		attribute.String("report_id", reportID.String()),
		attribute.String("phase", name.String()),
	))
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "actor cannot be empty")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "skip requires a reason")
	}
	if !name.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown phase %q", name)
	}

	now := requestcontext.Now(ctx)
	var skipped *models.PhaseInstance
	err := o.storeTx.RunInTx(ctx, func(ctx context.Context) error {
		inst, fresh, err := o.instanceForStart(ctx, cycleID, reportID, name, now)
		if err != nil {
			return err
		}
		inst.ApplySkip(now)
		if fresh {
			err = o.create(ctx, inst)
		} else {
			err = o.update(ctx, inst)
		}
		if err != nil {
			return err
		}

		if err := o.record(ctx, inst, models.StatusNotStarted, models.StatusSkipped, SkipTrigger, actor, reason); err != nil {
			return err
		}
		if err := o.publish(ctx, notifymodels.EventPhaseSkipped, inst, now, map[string]any{"reason": reason}); err != nil {
			return err
		}
		skipped = inst
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	o.metrics.IncrementTransition(name.String(), models.StatusSkipped.String())
	o.invalidateSnapshot(ctx, cycleID, reportID)
	return skipped, nil
}

// Status assembles the full read model of a cycle-report: every phase in
// process order with its activities and SLA standing, plus the completion
// percentage. Served from cache when possible.
func (o *Orchestrator) Status(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) (*models.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "workflow.status", trace.WithAttributes(
		attribute.String("cycle_id", cycleID.String()),
		attribute.String("report_id", reportID.String()),
	))
	defer span.End()

	if o.cache != nil {
		snap, err := o.cache.Get(ctx, cycleID, reportID)
		switch {
		case err == nil:
			o.metrics.IncrementCacheHit()
			return snap, nil
		case errors.Is(err, sentinel.ErrNotFound):
		default:
			o.logger.WarnContext(ctx, "snapshot cache read failed", "error", err)
		}
		o.metrics.IncrementCacheMiss()
	}

	begin := time.Now()
	phases, err := o.assemblePhases(ctx, cycleID, reportID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	statuses := make([]models.Status, len(phases))
	for i, p := range phases {
		statuses[i] = p.Status
	}
	snap := &models.Snapshot{
		CycleID:     cycleID,
		ReportID:    reportID,
		Phases:      phases,
		Completion:  models.CompletionPercentage(statuses),
		GeneratedAt: requestcontext.Now(ctx),
	}
	o.metrics.ObserveSnapshot(time.Since(begin))

	if o.cache != nil {
		if err := o.cache.Set(ctx, snap); err != nil {
			o.logger.WarnContext(ctx, "snapshot cache write failed", "error", err)
		}
	}
	return snap, nil
}

// CompletionPercentage reports how far the cycle-report has progressed.
// Pure read over the phase rows; phases never materialized count as
// not_started.
func (o *Orchestrator) CompletionPercentage(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) (float64, error) {
	instances, err := o.store.ListByCycleReport(ctx, cycleID, reportID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistence, "list phases")
	}

	byName := make(map[id.PhaseName]models.Status, len(instances))
	for _, inst := range instances {
		byName[inst.Name] = inst.Status
	}
	ordered := id.OrderedPhases()
	statuses := make([]models.Status, len(ordered))
	for i, name := range ordered {
		statuses[i] = models.StatusNotStarted
		if s, ok := byName[name]; ok {
			statuses[i] = s
		}
	}
	return models.CompletionPercentage(statuses), nil
}

// assemblePhases builds the per-phase slices of the snapshot, fanning the
// activity and SLA reads out per materialized phase.
func (o *Orchestrator) assemblePhases(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) ([]models.PhaseStatus, error) {
	instances, err := o.store.ListByCycleReport(ctx, cycleID, reportID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "list phases")
	}
	byName := make(map[id.PhaseName]*models.PhaseInstance, len(instances))
	for _, inst := range instances {
		byName[inst.Name] = inst
	}

	ordered := id.OrderedPhases()
	phases := make([]models.PhaseStatus, len(ordered))
	for i, name := range ordered {
		phases[i] = models.PhaseStatus{Name: name, Status: models.StatusNotStarted}
		if inst, ok := byName[name]; ok {
			phases[i].Status = inst.Status
			phases[i].Instance = inst
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range phases {
		if phases[i].Instance == nil {
			continue
		}
		g.Go(func() error {
			inst := phases[i].Instance
			list, err := o.activities.ListByPhase(gctx, inst.ID)
			if err != nil {
				return err
			}
			phases[i].Activities = list

			if o.sla == nil {
				return nil
			}
			check, err := o.sla.Check(gctx, inst.ID)
			switch {
			case dErrors.HasCode(err, dErrors.CodeNotFound):
				return nil
			case err != nil:
				return err
			}
			phases[i].SLA = models.SLAStatusFromCheck(check)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return phases, nil
}

// finish closes an in-flight phase: state, clock, audit and event in the
// caller's transaction.
func (o *Orchestrator) finish(ctx context.Context, inst *models.PhaseInstance, actor id.ActorID, trigger, detail string, now time.Time) error {
	from := inst.Status
	inst.ApplyComplete(actor, now)
	if err := o.update(ctx, inst); err != nil {
		return err
	}
	if err := o.stopClock(ctx, inst.ID, now); err != nil {
		return err
	}
	if err := o.record(ctx, inst, from, inst.Status, trigger, actor, detail); err != nil {
		return err
	}
	return o.publish(ctx, notifymodels.EventPhaseCompleted, inst, now, nil)
}

// checkPrerequisite enforces the phase order. The first phase has no
// predecessor; a parallel-eligible phase accepts a predecessor that is
// still in progress.
func (o *Orchestrator) checkPrerequisite(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, template config.Template) error {
	ord := name.Ordinal()
	if ord <= 0 {
		return nil
	}
	pred := id.OrderedPhases()[ord-1]

	prior, err := o.store.GetByName(ctx, cycleID, reportID, pred)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodePrerequisite, "phase %s requires %s to be completed first", name, pred)
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "read predecessor phase")
	}

	if prior.Status.IsDone() {
		return nil
	}
	if template.Parallel && prior.Status == models.StatusInProgress {
		return nil
	}
	return dErrors.Newf(dErrors.CodePrerequisite, "phase %s requires %s to be completed first", name, pred)
}

// instanceForStart returns the row to transition out of not_started,
// creating it lazily. fresh reports whether the row still needs an insert.
func (o *Orchestrator) instanceForStart(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, now time.Time) (inst *models.PhaseInstance, fresh bool, err error) {
	existing, err := o.store.GetByName(ctx, cycleID, reportID, name)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		inst, err = models.NewPhaseInstance(cycleID, reportID, name, now)
		if err != nil {
			return nil, false, err
		}
		return inst, true, nil
	case err != nil:
		return nil, false, dErrors.Wrap(err, dErrors.CodePersistence, "read phase")
	}
	if existing.Status != models.StatusNotStarted {
		return nil, false, dErrors.Newf(dErrors.CodeInvalidState, "%s is already %s", existing.Describe(), existing.Status)
	}
	return existing, false, nil
}

// blueprints shapes a template into the activity manager's input, binding
// review and approval activities to the phase's artifact.
func (o *Orchestrator) blueprints(template config.Template, cycleID id.CycleID, reportID id.ReportID) []activityservice.Blueprint {
	out := make([]activityservice.Blueprint, 0, len(template.Activities))
	for _, bp := range template.Activities {
		b := activityservice.Blueprint{Name: bp.Name, Kind: bp.Kind, Optional: bp.Optional}
		if !template.Entity.IsNil() && (bp.Kind == activitymodels.KindReview || bp.Kind == activitymodels.KindApproval) {
			b.EntityType = template.Entity
			b.EntityID = ArtifactID(cycleID, reportID, template.Entity)
		}
		out = append(out, b)
	}
	return out
}

// stopClock stops the phase's SLA clock. A phase without a budget has no
// clock; that is not an error.
func (o *Orchestrator) stopClock(ctx context.Context, phaseID id.PhaseID, at time.Time) error {
	if o.sla == nil {
		return nil
	}
	_, err := o.sla.StopClock(ctx, phaseID, at)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return err
	}
	return nil
}

func (o *Orchestrator) invalidateSnapshot(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Invalidate(ctx, cycleID, reportID); err != nil {
		o.logger.WarnContext(ctx, "snapshot cache invalidation failed",
			"cycle_id", cycleID, "report_id", reportID, "error", err)
	}
}

func (o *Orchestrator) get(ctx context.Context, phaseID id.PhaseID) (*models.PhaseInstance, error) {
	p, err := o.store.Get(ctx, phaseID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Newf(dErrors.CodeNotFound, "phase %s does not exist", phaseID)
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "read phase")
	}
	return p, nil
}

func (o *Orchestrator) getByName(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName) (*models.PhaseInstance, error) {
	p, err := o.store.GetByName(ctx, cycleID, reportID, name)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Newf(dErrors.CodeNotFound, "phase %s has not been started for %s/%s", name, cycleID, reportID)
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "read phase")
	}
	return p, nil
}

func (o *Orchestrator) create(ctx context.Context, p *models.PhaseInstance) error {
	err := o.store.Create(ctx, p)
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Newf(dErrors.CodeConflict, "%s was started concurrently, retry from a fresh read", p.Describe())
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodePersistence, "create phase")
	}
	return nil
}

func (o *Orchestrator) update(ctx context.Context, p *models.PhaseInstance) error {
	err := o.store.Update(ctx, p)
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Newf(dErrors.CodeConflict, "%s was modified concurrently, retry from a fresh read", p.Describe())
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "phase %s does not exist", p.ID)
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodePersistence, "update phase")
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, p *models.PhaseInstance, from, to models.Status, trigger string, actor id.ActorID, detail string) error {
	_, err := o.audit.Record(ctx, auditservice.RecordRequest{
		SubjectType: auditmodels.SubjectPhase,
		SubjectID:   p.ID.String(),
		FromState:   from.String(),
		ToState:     to.String(),
		Trigger:     trigger,
		ActorID:     actor,
		Context:     detail,
	})
	return err
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, p *models.PhaseInstance, now time.Time, extra map[string]any) error {
	if o.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"phase":     p.Name.String(),
		"cycle_id":  p.CycleID.String(),
		"report_id": p.ReportID.String(),
		"status":    p.Status.String(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	event, err := notifymodels.NewEvent(eventType, p.ID.String(), payload, now)
	if err != nil {
		return err
	}
	return o.publisher.Publish(ctx, event)
}
