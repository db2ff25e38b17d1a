//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"examen/internal/sla/models"
	slaStore "examen/internal/sla/store/postgres"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
	"examen/pkg/platform/tx"
	"examen/pkg/testutil/containers"
)

type SLAPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *slaStore.Store
}

func TestSLAPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(SLAPostgresSuite))
}

func (s *SLAPostgresSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = slaStore.New(s.postgres.DB)
}

func (s *SLAPostgresSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "sla_breaches", "sla_clocks")
	s.Require().NoError(err)
}

func (s *SLAPostgresSuite) newClock(phaseName id.PhaseName, cfg models.Config, startedAt time.Time) *models.Clock {
	cycleID, err := id.ParseCycleID("cycle-2025")
	s.Require().NoError(err)
	reportID, err := id.ParseReportID("rep-1")
	s.Require().NoError(err)

	clock, err := models.NewClock(id.NewPhaseID(), phaseName, cycleID, reportID, cfg, startedAt)
	s.Require().NoError(err)
	return clock
}

// TestCreateAndGetRoundTrip verifies every clock column survives a write/read
// cycle, including the derived deadline and warn threshold.
func (s *SLAPostgresSuite) TestCreateAndGetRoundTrip() {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)
	clock := s.newClock(id.PhasePlanning, models.Config{Hours: 40, BusinessHoursOnly: true, Escalate: true}, started)

	s.Require().NoError(s.store.CreateClock(ctx, clock))

	got, err := s.store.ClockByPhase(ctx, clock.PhaseID)
	s.Require().NoError(err)
	s.Equal(clock.ID, got.ID)
	s.Equal(clock.PhaseID, got.PhaseID)
	s.Equal(id.PhasePlanning, got.PhaseName)
	s.Equal("cycle-2025", got.CycleID.String())
	s.Equal("rep-1", got.ReportID.String())
	s.Equal(clock.StartedAt.UTC(), got.StartedAt.UTC())
	s.Equal(clock.Deadline.UTC(), got.Deadline.UTC())
	s.Equal(clock.WarnAt.UTC(), got.WarnAt.UTC())
	s.True(got.BusinessHours)
	s.True(got.Escalate)
	s.Equal(models.ClockRunning, got.State)
	s.Nil(got.StoppedAt)
}

// TestCreateDuplicatePhaseConflicts verifies the phase_id unique constraint
// turns a second start into ErrConflict instead of a second clock.
func (s *SLAPostgresSuite) TestCreateDuplicatePhaseConflicts() {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)
	clock := s.newClock(id.PhaseScoping, models.Config{Hours: 40}, started)

	s.Require().NoError(s.store.CreateClock(ctx, clock))

	dup, err := models.NewClock(clock.PhaseID, clock.PhaseName, clock.CycleID, clock.ReportID, models.Config{Hours: 40}, started)
	s.Require().NoError(err)
	err = s.store.CreateClock(ctx, dup)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	got, err := s.store.ClockByPhase(ctx, clock.PhaseID)
	s.Require().NoError(err)
	s.Equal(clock.ID, got.ID)
}

func (s *SLAPostgresSuite) TestClockByPhaseMissing() {
	_, err := s.store.ClockByPhase(context.Background(), id.NewPhaseID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestActiveClocksFiltersAndOrders verifies the sweep query returns only
// running and warned clocks, nearest deadline first.
func (s *SLAPostgresSuite) TestActiveClocksFiltersAndOrders() {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)

	late := s.newClock(id.PhasePlanning, models.Config{Hours: 120}, started)
	soon := s.newClock(id.PhaseScoping, models.Config{Hours: 8}, started)
	warned := s.newClock(id.PhaseSampleSelect, models.Config{Hours: 40}, started)
	stopped := s.newClock(id.PhaseTestExecution, models.Config{Hours: 40}, started)

	for _, c := range []*models.Clock{late, soon, warned, stopped} {
		s.Require().NoError(s.store.CreateClock(ctx, c))
	}
	_, err := s.store.TransitionClock(ctx, warned.ID, models.ClockWarned, started.Add(time.Hour), models.ClockRunning)
	s.Require().NoError(err)
	_, err = s.store.TransitionClock(ctx, stopped.ID, models.ClockStopped, started.Add(time.Hour), models.ClockRunning, models.ClockWarned)
	s.Require().NoError(err)

	active, err := s.store.ActiveClocks(ctx)
	s.Require().NoError(err)
	s.Require().Len(active, 3)
	s.Equal(soon.ID, active[0].ID)
	s.Equal(warned.ID, active[1].ID)
	s.Equal(late.ID, active[2].ID)
}

// TestTransitionGuardsOnCurrentState verifies the conditional UPDATE settles
// races: the state moves once, a repeat with a stale from set conflicts, and
// unknown clocks report not found.
func (s *SLAPostgresSuite) TestTransitionGuardsOnCurrentState() {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)
	clock := s.newClock(id.PhasePlanning, models.Config{Hours: 40}, started)
	s.Require().NoError(s.store.CreateClock(ctx, clock))

	at := started.Add(33 * time.Hour).Truncate(time.Microsecond)
	moved, err := s.store.TransitionClock(ctx, clock.ID, models.ClockWarned, at, models.ClockRunning)
	s.Require().NoError(err)
	s.Equal(models.ClockWarned, moved.State)
	s.Nil(moved.StoppedAt)

	_, err = s.store.TransitionClock(ctx, clock.ID, models.ClockWarned, at, models.ClockRunning)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	stoppedAt := started.Add(35 * time.Hour).Truncate(time.Microsecond)
	stopped, err := s.store.TransitionClock(ctx, clock.ID, models.ClockStopped, stoppedAt, models.ClockRunning, models.ClockWarned)
	s.Require().NoError(err)
	s.Equal(models.ClockStopped, stopped.State)
	s.Require().NotNil(stopped.StoppedAt)
	s.Equal(stoppedAt, stopped.StoppedAt.UTC())

	_, err = s.store.TransitionClock(ctx, uuid.New(), models.ClockWarned, at, models.ClockRunning)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestBreachInsertIsIdempotent verifies the clock_id unique constraint makes
// repeated breach detection record exactly one row.
func (s *SLAPostgresSuite) TestBreachInsertIsIdempotent() {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)
	clock := s.newClock(id.PhaseTestReport, models.Config{Hours: 40, Escalate: true}, started)
	s.Require().NoError(s.store.CreateClock(ctx, clock))

	breachedAt := started.Add(41 * time.Hour).Truncate(time.Microsecond)
	breach := &models.Breach{
		ID:         uuid.New(),
		ClockID:    clock.ID,
		PhaseID:    clock.PhaseID,
		Deadline:   clock.Deadline,
		BreachedAt: breachedAt,
		Escalated:  true,
	}

	created, err := s.store.CreateBreachIfAbsent(ctx, breach)
	s.Require().NoError(err)
	s.True(created)

	again := *breach
	again.ID = uuid.New()
	created, err = s.store.CreateBreachIfAbsent(ctx, &again)
	s.Require().NoError(err)
	s.False(created)

	got, err := s.store.BreachByPhase(ctx, clock.PhaseID)
	s.Require().NoError(err)
	s.Equal(breach.ID, got.ID)
	s.Equal(clock.ID, got.ClockID)
	s.Equal(breachedAt, got.BreachedAt.UTC())
	s.True(got.Escalated)
}

func (s *SLAPostgresSuite) TestBreachByPhaseMissing() {
	_, err := s.store.BreachByPhase(context.Background(), id.NewPhaseID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestCreateRollsBackWithTransaction verifies a clock written inside an
// aborted transaction never becomes visible. Clock creation joins the
// phase-start transaction and must vanish with it.
func (s *SLAPostgresSuite) TestCreateRollsBackWithTransaction() {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)
	clock := s.newClock(id.PhasePlanning, models.Config{Hours: 40}, started)

	dbTx, err := s.postgres.DB.BeginTx(ctx, &sql.TxOptions{})
	s.Require().NoError(err)

	txCtx := tx.WithTx(ctx, dbTx)
	s.Require().NoError(s.store.CreateClock(txCtx, clock))
	s.Require().NoError(dbTx.Rollback())

	_, err = s.store.ClockByPhase(ctx, clock.PhaseID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
