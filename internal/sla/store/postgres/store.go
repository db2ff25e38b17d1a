// Package postgres persists SLA clocks and breaches.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"examen/internal/sla/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
	"examen/pkg/platform/tx"
)

// Store reads and writes through tx.Executor so clock creation can join the
// phase-start transaction.
type Store struct {
	db *sql.DB
}

// New constructs a store over the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const clockColumns = `id, phase_id, phase_name, cycle_id, report_id, started_at,
	deadline, warn_at, business_hours, escalate, state, stopped_at, created_at, updated_at`

// CreateClock inserts the clock. The phase_id unique constraint arbitrates
// duplicate starts; the loser sees ErrConflict.
func (s *Store) CreateClock(ctx context.Context, clock *models.Clock) error {
	const q = `
		INSERT INTO sla_clocks (
			id, phase_id, phase_name, cycle_id, report_id, started_at,
			deadline, warn_at, business_hours, escalate, state, stopped_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (phase_id) DO NOTHING`

	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, q,
		clock.ID,
		clock.PhaseID.String(),
		clock.PhaseName.String(),
		clock.CycleID.String(),
		clock.ReportID.String(),
		clock.StartedAt,
		clock.Deadline,
		clock.WarnAt,
		clock.BusinessHours,
		clock.Escalate,
		clock.State.String(),
		clock.StoppedAt,
		clock.CreatedAt,
		clock.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create sla clock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create sla clock: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

// ClockByPhase returns the phase's clock.
func (s *Store) ClockByPhase(ctx context.Context, phaseID id.PhaseID) (*models.Clock, error) {
	q := `SELECT ` + clockColumns + ` FROM sla_clocks WHERE phase_id = $1`

	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, q, phaseID.String())
	clock, err := scanClock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sla clock: %w", err)
	}
	return clock, nil
}

// ActiveClocks returns every clock the sweeper still needs to look at.
func (s *Store) ActiveClocks(ctx context.Context) ([]*models.Clock, error) {
	q := `SELECT ` + clockColumns + ` FROM sla_clocks WHERE state = ANY($1) ORDER BY deadline ASC`

	active := pq.Array([]string{models.ClockRunning.String(), models.ClockWarned.String()})
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, q, active)
	if err != nil {
		return nil, fmt.Errorf("list active sla clocks: %w", err)
	}
	defer rows.Close()

	var out []*models.Clock
	for rows.Next() {
		clock, err := scanClock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sla clock: %w", err)
		}
		out = append(out, clock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sla clocks: %w", err)
	}
	return out, nil
}

// TransitionClock conditionally moves the clock to a new state. A state
// mismatch reports ErrConflict; racing checkers settle on one winner.
func (s *Store) TransitionClock(ctx context.Context, clockID uuid.UUID, to models.ClockState, at time.Time, from ...models.ClockState) (*models.Clock, error) {
	q := `
		UPDATE sla_clocks
		SET state = $1,
		    stopped_at = CASE WHEN $1 = 'stopped' THEN $2 ELSE stopped_at END,
		    updated_at = $2
		WHERE id = $3 AND state = ANY($4)
		RETURNING ` + clockColumns

	fromStates := make([]string, len(from))
	for i, f := range from {
		fromStates[i] = f.String()
	}

	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, q, to.String(), at, clockID, pq.Array(fromStates))
	clock, err := scanClock(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Missing row and lost race look the same to the UPDATE; look again.
		var state string
		probe := tx.Executor(ctx, s.db).QueryRowContext(ctx, `SELECT state FROM sla_clocks WHERE id = $1`, clockID)
		if probeErr := probe.Scan(&state); errors.Is(probeErr, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		} else if probeErr != nil {
			return nil, fmt.Errorf("transition sla clock: %w", probeErr)
		}
		return nil, sentinel.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("transition sla clock: %w", err)
	}
	return clock, nil
}

// CreateBreachIfAbsent inserts the breach unless the clock already has one.
func (s *Store) CreateBreachIfAbsent(ctx context.Context, breach *models.Breach) (bool, error) {
	const q = `
		INSERT INTO sla_breaches (id, clock_id, phase_id, deadline, breached_at, escalated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (clock_id) DO NOTHING`

	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, q,
		breach.ID,
		breach.ClockID,
		breach.PhaseID.String(),
		breach.Deadline,
		breach.BreachedAt,
		breach.Escalated,
	)
	if err != nil {
		return false, fmt.Errorf("create sla breach: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create sla breach: %w", err)
	}
	return affected > 0, nil
}

// BreachByPhase returns the phase's breach record, if any.
func (s *Store) BreachByPhase(ctx context.Context, phaseID id.PhaseID) (*models.Breach, error) {
	const q = `
		SELECT id, clock_id, phase_id, deadline, breached_at, escalated
		FROM sla_breaches WHERE phase_id = $1`

	var (
		breach   models.Breach
		rawPhase string
	)
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, q, phaseID.String())
	err := row.Scan(&breach.ID, &breach.ClockID, &rawPhase, &breach.Deadline, &breach.BreachedAt, &breach.Escalated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sla breach: %w", err)
	}
	parsed, err := id.ParsePhaseID(rawPhase)
	if err != nil {
		return nil, fmt.Errorf("scan sla breach phase id: %w", err)
	}
	breach.PhaseID = parsed
	return &breach, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClock(row rowScanner) (*models.Clock, error) {
	var (
		clock    models.Clock
		rawPhase string
		rawName  string
		rawCycle string
		rawRept  string
		rawState string
	)
	if err := row.Scan(
		&clock.ID,
		&rawPhase,
		&rawName,
		&rawCycle,
		&rawRept,
		&clock.StartedAt,
		&clock.Deadline,
		&clock.WarnAt,
		&clock.BusinessHours,
		&clock.Escalate,
		&rawState,
		&clock.StoppedAt,
		&clock.CreatedAt,
		&clock.UpdatedAt,
	); err != nil {
		return nil, err
	}

	phaseID, err := id.ParsePhaseID(rawPhase)
	if err != nil {
		return nil, fmt.Errorf("scan clock phase id: %w", err)
	}
	phaseName, err := id.ParsePhaseName(rawName)
	if err != nil {
		return nil, fmt.Errorf("scan clock phase name: %w", err)
	}
	cycleID, err := id.ParseCycleID(rawCycle)
	if err != nil {
		return nil, fmt.Errorf("scan clock cycle id: %w", err)
	}
	reportID, err := id.ParseReportID(rawRept)
	if err != nil {
		return nil, fmt.Errorf("scan clock report id: %w", err)
	}
	state, err := models.ParseClockState(rawState)
	if err != nil {
		return nil, fmt.Errorf("scan clock state: %w", err)
	}

	clock.PhaseID = phaseID
	clock.PhaseName = phaseName
	clock.CycleID = cycleID
	clock.ReportID = reportID
	clock.State = state
	return &clock, nil
}
