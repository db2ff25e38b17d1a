// Package service implements the SLA tracker: clocks started when phases
// start, deadline evaluation, and idempotent breach detection.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	auditmodels "examen/internal/audit/models"
	auditservice "examen/internal/audit/service"
	notifymodels "examen/internal/notify/models"
	"examen/internal/sla/config"
	"examen/internal/sla/metrics"
	"examen/internal/sla/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
	"examen/pkg/platform/sentinel"
	"examen/pkg/requestcontext"
)

// Store persists clocks and breaches.
type Store interface {
	CreateClock(ctx context.Context, clock *models.Clock) error
	ClockByPhase(ctx context.Context, phaseID id.PhaseID) (*models.Clock, error)
	ActiveClocks(ctx context.Context) ([]*models.Clock, error)
	TransitionClock(ctx context.Context, clockID uuid.UUID, to models.ClockState, at time.Time, from ...models.ClockState) (*models.Clock, error)
	CreateBreachIfAbsent(ctx context.Context, breach *models.Breach) (bool, error)
	BreachByPhase(ctx context.Context, phaseID id.PhaseID) (*models.Breach, error)
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

// Tracker owns SLA clocks for phase instances.
type Tracker struct {
	store     Store
	storeTx   StoreTx
	audit     Auditor
	publisher Publisher
	rules     config.Rules
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) {
		t.publisher = p
	}
}

// WithNow sets the clock source for deadline evaluation.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker constructs a Tracker.
func NewTracker(store Store, storeTx StoreTx, audit Auditor, rules config.Rules, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		storeTx: storeTx,
		audit:   audit,
		rules:   rules,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartClock creates the running clock for a freshly started phase. Called
// inside the orchestrator's transaction; the clock and the phase transition
// commit together. Phases without a configured budget get no clock.
func (t *Tracker) StartClock(ctx context.Context, phaseID id.PhaseID, phaseName id.PhaseName, cycleID id.CycleID, reportID id.ReportID, startedAt time.Time) (*models.Clock, error) {
	cfg, ok := t.rules.For(phaseName)
	if !ok {
		t.logger.DebugContext(ctx, "no sla budget for phase", "phase", phaseName.String())
		return nil, nil
	}

	clock, err := models.NewClock(phaseID, phaseName, cycleID, reportID, cfg, startedAt)
	if err != nil {
		return nil, err
	}

	if err := t.store.CreateClock(ctx, clock); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "sla clock already exists for phase")
		}
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "sla store unavailable")
	}

	if _, err := t.audit.Record(ctx, auditservice.RecordRequest{
		SubjectType: auditmodels.SubjectSLA,
		SubjectID:   phaseID.String(),
		FromState:   "",
		ToState:     models.ClockRunning.String(),
		Trigger:     "clock_started",
		ActorID:     t.actor(ctx),
	}); err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "sla clock started",
		"phase", phaseName.String(),
		"phase_id", phaseID.String(),
		"deadline", clock.Deadline,
	)
	return clock, nil
}

// StopClock retires the clock when its phase completes or is skipped. Called
// inside the orchestrator's transaction. Phases without a clock and already
// stopped clocks are no-ops.
func (t *Tracker) StopClock(ctx context.Context, phaseID id.PhaseID, at time.Time) (*models.Clock, error) {
	clock, err := t.store.ClockByPhase(ctx, phaseID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "sla store unavailable")
	}
	if clock.State == models.ClockStopped {
		return clock, nil
	}

	fromState := clock.State
	stopped, err := t.store.TransitionClock(ctx, clock.ID, models.ClockStopped, at,
		models.ClockRunning, models.ClockWarned, models.ClockBreached)
	if errors.Is(err, sentinel.ErrConflict) {
		// A concurrent stop won; report the settled clock.
		return t.store.ClockByPhase(ctx, phaseID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "sla store unavailable")
	}

	if _, err := t.audit.Record(ctx, auditservice.RecordRequest{
		SubjectType: auditmodels.SubjectSLA,
		SubjectID:   phaseID.String(),
		FromState:   fromState.String(),
		ToState:     models.ClockStopped.String(),
		Trigger:     "clock_stopped",
		ActorID:     t.actor(ctx),
	}); err != nil {
		return nil, err
	}
	return stopped, nil
}

// Check classifies the phase's clock against the current time. Pure except
// on first transitions: entering breaching_soon flips the clock to warned,
// and the first breach writes exactly one breach record, one audit entry,
// and one event. Re-checking a breached clock is a no-op.
func (t *Tracker) Check(ctx context.Context, phaseID id.PhaseID) (*models.Check, error) {
	clock, err := t.store.ClockByPhase(ctx, phaseID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no sla clock for phase")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "sla store unavailable")
	}

	now := t.now()
	check := &models.Check{
		PhaseID:   clock.PhaseID,
		PhaseName: clock.PhaseName,
		Deadline:  clock.Deadline,
		WarnAt:    clock.WarnAt,
		Remaining: clock.Deadline.Sub(now),
	}

	// A stopped clock reports its final outcome and never mutates again.
	if clock.State == models.ClockStopped {
		check.State = models.CheckOK
		if _, err := t.store.BreachByPhase(ctx, phaseID); err == nil {
			check.State = models.CheckBreached
			check.Escalate = clock.Escalate
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodePersistence, "sla store unavailable")
		}
		if clock.StoppedAt != nil {
			check.Remaining = clock.Deadline.Sub(*clock.StoppedAt)
		}
		return check, nil
	}

	check.State = clock.Evaluate(now)
	switch check.State {
	case models.CheckBreachingSoon:
		if clock.State == models.ClockRunning {
			if err := t.markWarned(ctx, clock, now); err != nil {
				return nil, err
			}
		}
	case models.CheckBreached:
		check.Escalate = clock.Escalate
		if clock.State != models.ClockBreached {
			if err := t.markBreached(ctx, clock, now); err != nil {
				return nil, err
			}
		}
	}
	return check, nil
}

// Sweep evaluates every active clock. Failures on individual clocks are
// logged and do not stop the sweep.
func (t *Tracker) Sweep(ctx context.Context) error {
	started := time.Now()
	defer func() {
		t.metrics.ObserveSweep(time.Since(started))
	}()

	clocks, err := t.store.ActiveClocks(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "sla store unavailable")
	}

	for _, clock := range clocks {
		if _, err := t.Check(ctx, clock.PhaseID); err != nil {
			t.logger.ErrorContext(ctx, "sla check failed during sweep",
				"phase_id", clock.PhaseID.String(),
				"error", err,
			)
		}
	}
	return nil
}

// markWarned flips a running clock to warned and emits the breaching_soon
// event. Losing the flip race to another checker is benign.
func (t *Tracker) markWarned(ctx context.Context, clock *models.Clock, now time.Time) error {
	return t.storeTx.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := t.store.TransitionClock(txCtx, clock.ID, models.ClockWarned, now, models.ClockRunning)
		if errors.Is(err, sentinel.ErrConflict) {
			return nil
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "sla store unavailable")
		}

		if _, err := t.audit.Record(txCtx, auditservice.RecordRequest{
			SubjectType: auditmodels.SubjectSLA,
			SubjectID:   clock.PhaseID.String(),
			FromState:   models.ClockRunning.String(),
			ToState:     models.ClockWarned.String(),
			Trigger:     "sla_warning",
			ActorID:     t.actor(ctx),
		}); err != nil {
			return err
		}

		if err := t.publish(txCtx, notifymodels.EventSLABreachingSoon, clock, now); err != nil {
			return err
		}

		t.metrics.IncrementWarning(clock.PhaseName.String())
		t.logger.InfoContext(ctx, "sla clock entered breaching_soon",
			"phase", clock.PhaseName.String(),
			"phase_id", clock.PhaseID.String(),
			"deadline", clock.Deadline,
		)
		return nil
	})
}

// markBreached records the first breach: breach row, clock state, audit
// entry, and event commit atomically. The breach row's uniqueness arbitrates
// concurrent detections; only the creator emits.
func (t *Tracker) markBreached(ctx context.Context, clock *models.Clock, now time.Time) error {
	return t.storeTx.RunInTx(ctx, func(txCtx context.Context) error {
		created, err := t.store.CreateBreachIfAbsent(txCtx, &models.Breach{
			ID:         uuid.New(),
			ClockID:    clock.ID,
			PhaseID:    clock.PhaseID,
			Deadline:   clock.Deadline,
			BreachedAt: now,
			Escalated:  clock.Escalate,
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "sla store unavailable")
		}
		if !created {
			return nil
		}

		fromState := clock.State
		if _, err := t.store.TransitionClock(txCtx, clock.ID, models.ClockBreached, now,
			models.ClockRunning, models.ClockWarned); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodePersistence, "sla store unavailable")
		}

		if _, err := t.audit.Record(txCtx, auditservice.RecordRequest{
			SubjectType: auditmodels.SubjectSLA,
			SubjectID:   clock.PhaseID.String(),
			FromState:   fromState.String(),
			ToState:     models.ClockBreached.String(),
			Trigger:     "sla_breach",
			ActorID:     t.actor(ctx),
		}); err != nil {
			return err
		}

		if err := t.publish(txCtx, notifymodels.EventSLABreached, clock, now); err != nil {
			return err
		}

		t.metrics.IncrementBreach(clock.PhaseName.String())
		t.logger.WarnContext(ctx, "sla breached",
			"phase", clock.PhaseName.String(),
			"phase_id", clock.PhaseID.String(),
			"deadline", clock.Deadline,
			"escalate", clock.Escalate,
		)
		return nil
	})
}

func (t *Tracker) publish(ctx context.Context, eventType string, clock *models.Clock, now time.Time) error {
	if t.publisher == nil {
		return nil
	}
	event, err := notifymodels.NewEvent(eventType, clock.PhaseID.String(), map[string]any{
		"phase":     clock.PhaseName.String(),
		"cycle_id":  clock.CycleID.String(),
		"report_id": clock.ReportID.String(),
		"deadline":  clock.Deadline,
		"escalate":  clock.Escalate,
	}, now)
	if err != nil {
		return err
	}
	return t.publisher.Publish(ctx, event)
}

// actor returns the acting principal, falling back to the system actor for
// sweeper-originated transitions.
func (t *Tracker) actor(ctx context.Context) id.ActorID {
	if actor := requestcontext.ActorID(ctx); !actor.IsNil() {
		return actor
	}
	return auditmodels.SystemActor
}
