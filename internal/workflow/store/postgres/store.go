// Package postgres persists phase instances.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"

	"examen/internal/workflow/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
	"examen/pkg/platform/tx"
)

const phaseColumns = `id, cycle_id, report_id, name, status, started_at,
	completed_at, started_by, completed_by, override_reason, row_version,
	created_at, updated_at`

// Store persists phase instances in PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a phase store backed by db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new phase instance. The schema enforces one instance per
// (cycle, report, name); a second writer racing on the same slot surfaces
// as sentinel.ErrConflict.
func (s *Store) Create(ctx context.Context, p *models.PhaseInstance) error {
	query := fmt.Sprintf(`INSERT INTO phase_instances (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, phaseColumns)

	_, err := tx.Executor(ctx, s.db).ExecContext(ctx, query,
		p.ID, p.CycleID, p.ReportID, p.Name, p.Status, p.StartedAt,
		p.CompletedAt, p.StartedBy, p.CompletedBy, p.OverrideReason, p.RowVersion,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert phase: %w", err)
	}
	return nil
}

// Get returns the phase instance with the given id.
func (s *Store) Get(ctx context.Context, phaseID id.PhaseID) (*models.PhaseInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM phase_instances WHERE id = $1`, phaseColumns)
	return s.queryOne(ctx, query, phaseID)
}

// GetByName returns one phase of a cycle-report.
func (s *Store) GetByName(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName) (*models.PhaseInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM phase_instances
		WHERE cycle_id = $1 AND report_id = $2 AND name = $3`, phaseColumns)
	return s.queryOne(ctx, query, cycleID, reportID, name)
}

// ListByCycleReport returns every materialized phase of a cycle-report in
// process order.
func (s *Store) ListByCycleReport(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) ([]*models.PhaseInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM phase_instances
		WHERE cycle_id = $1 AND report_id = $2`, phaseColumns)
	out, err := s.queryMany(ctx, query, cycleID, reportID)
	if err != nil {
		return nil, err
	}
	// Process order is not lexical, so sort after the scan.
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name.Ordinal() < out[j].Name.Ordinal()
	})
	return out, nil
}

// Update persists the mutable fields of a modified phase guarded by its row
// version. On success the instance's RowVersion is advanced in place.
func (s *Store) Update(ctx context.Context, p *models.PhaseInstance) error {
	query := `UPDATE phase_instances SET
			status = $1, started_at = $2, started_by = $3, completed_at = $4,
			completed_by = $5, override_reason = $6, updated_at = $7,
			row_version = row_version + 1
		WHERE id = $8 AND row_version = $9`

	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, query,
		p.Status, p.StartedAt, p.StartedBy, p.CompletedAt,
		p.CompletedBy, p.OverrideReason, p.UpdatedAt, p.ID, p.RowVersion,
	)
	if err != nil {
		return fmt.Errorf("update phase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update phase: rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		probe := `SELECT EXISTS (SELECT 1 FROM phase_instances WHERE id = $1)`
		if err := tx.Executor(ctx, s.db).QueryRowContext(ctx, probe, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update phase: probe: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	p.RowVersion++
	return nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*models.PhaseInstance, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, query, args...)
	p, err := scanPhase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query phase: %w", err)
	}
	return p, nil
}

func (s *Store) queryMany(ctx context.Context, query string, args ...any) ([]*models.PhaseInstance, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()

	var out []*models.PhaseInstance
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phases: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPhase(row scanner) (*models.PhaseInstance, error) {
	var (
		p           models.PhaseInstance
		rawID       string
		rawName     string
		rawStatus   string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		startedBy   sql.NullString
		completedBy sql.NullString
	)
	err := row.Scan(
		&rawID, &p.CycleID, &p.ReportID, &rawName, &rawStatus, &startedAt,
		&completedAt, &startedBy, &completedBy, &p.OverrideReason, &p.RowVersion,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.ID, err = id.ParsePhaseID(rawID); err != nil {
		return nil, err
	}
	if p.Name, err = id.ParsePhaseName(rawName); err != nil {
		return nil, err
	}
	if p.Status, err = models.ParsePhaseStatus(rawStatus); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		p.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	if startedBy.Valid {
		actor, err := id.ParseActorID(startedBy.String)
		if err != nil {
			return nil, err
		}
		p.StartedBy = &actor
	}
	if completedBy.Valid {
		actor, err := id.ParseActorID(completedBy.String)
		if err != nil {
			return nil, err
		}
		p.CompletedBy = &actor
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
