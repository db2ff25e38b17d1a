// Package postgres persists activity instances.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"examen/internal/activity/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
	"examen/pkg/platform/tx"
)

const activityColumns = `id, phase_id, name, kind, status, position, optional,
	entity_type, entity_id, skip_reason, started_at, completed_at, completed_by,
	row_version, created_at, updated_at`

// Store persists activity instances in PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates an activity store backed by db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateAll inserts a batch of activities. Uniqueness of position and name
// within the phase is enforced by the schema; a violation surfaces as
// sentinel.ErrConflict. Callers run this inside a transaction so a late
// conflict rolls back the earlier rows.
func (s *Store) CreateAll(ctx context.Context, list []*models.Instance) error {
	query := fmt.Sprintf(`INSERT INTO activity_instances (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, activityColumns)

	for _, a := range list {
		_, err := tx.Executor(ctx, s.db).ExecContext(ctx, query,
			a.ID, a.PhaseID, a.Name, a.Kind, a.Status, a.Position, a.Optional,
			a.EntityType, a.EntityID, a.SkipReason, a.StartedAt, a.CompletedAt, a.CompletedBy,
			a.RowVersion, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert activity: %w", err)
		}
	}
	return nil
}

// Get returns the activity with the given id.
func (s *Store) Get(ctx context.Context, activityID id.ActivityID) (*models.Instance, error) {
	query := fmt.Sprintf(`SELECT %s FROM activity_instances WHERE id = $1`, activityColumns)
	return s.queryOne(ctx, query, activityID)
}

// ListByPhase returns the phase's activities in position order.
func (s *Store) ListByPhase(ctx context.Context, phaseID id.PhaseID) ([]*models.Instance, error) {
	query := fmt.Sprintf(`SELECT %s FROM activity_instances
		WHERE phase_id = $1 ORDER BY position`, activityColumns)
	return s.queryMany(ctx, query, phaseID)
}

// ListByEntity returns every activity bound to the given artifact.
func (s *Store) ListByEntity(ctx context.Context, entityType id.EntityType, entityID id.EntityID) ([]*models.Instance, error) {
	query := fmt.Sprintf(`SELECT %s FROM activity_instances
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at, position`, activityColumns)
	return s.queryMany(ctx, query, entityType, entityID)
}

// Update persists the mutable fields of a modified activity guarded by its
// row version. On success the instance's RowVersion is advanced in place.
func (s *Store) Update(ctx context.Context, a *models.Instance) error {
	query := `UPDATE activity_instances SET
			status = $1, skip_reason = $2, started_at = $3, completed_at = $4,
			completed_by = $5, updated_at = $6, row_version = row_version + 1
		WHERE id = $7 AND row_version = $8`

	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, query,
		a.Status, a.SkipReason, a.StartedAt, a.CompletedAt,
		a.CompletedBy, a.UpdatedAt, a.ID, a.RowVersion,
	)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update activity: rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		probe := `SELECT EXISTS (SELECT 1 FROM activity_instances WHERE id = $1)`
		if err := tx.Executor(ctx, s.db).QueryRowContext(ctx, probe, a.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update activity: probe: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	a.RowVersion++
	return nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*models.Instance, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, query, args...)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	return a, nil
}

func (s *Store) queryMany(ctx context.Context, query string, args ...any) ([]*models.Instance, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var out []*models.Instance
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (*models.Instance, error) {
	var (
		a           models.Instance
		rawID       string
		rawPhase    string
		rawKind     string
		rawStatus   string
		rawEntity   string
		rawEntityID string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		completedBy sql.NullString
	)
	err := row.Scan(
		&rawID, &rawPhase, &a.Name, &rawKind, &rawStatus, &a.Position, &a.Optional,
		&rawEntity, &rawEntityID, &a.SkipReason, &startedAt, &completedAt, &completedBy,
		&a.RowVersion, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if a.ID, err = id.ParseActivityID(rawID); err != nil {
		return nil, err
	}
	if a.PhaseID, err = id.ParsePhaseID(rawPhase); err != nil {
		return nil, err
	}
	if a.Kind, err = models.ParseKind(rawKind); err != nil {
		return nil, err
	}
	if a.Status, err = models.ParseStatus(rawStatus); err != nil {
		return nil, err
	}
	a.EntityType = id.EntityType(rawEntity)
	a.EntityID = id.EntityID(rawEntityID)
	if startedAt.Valid {
		t := startedAt.Time
		a.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	if completedBy.Valid {
		actor, err := id.ParseActorID(completedBy.String)
		if err != nil {
			return nil, err
		}
		a.CompletedBy = &actor
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
