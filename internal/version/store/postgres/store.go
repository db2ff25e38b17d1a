// Package postgres persists entity versions.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"examen/internal/version/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
	"examen/pkg/platform/tx"
)

// Store reads and writes through tx.Executor so every mutation can join the
// service's transaction alongside its audit entry and outbox event.
type Store struct {
	db *sql.DB
}

// New constructs a store over the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const versionColumns = `id, entity_type, entity_id, version_number, status, is_latest,
	parent_version_id, payload, payload_digest, reason, notes,
	created_by, submitted_by, decided_by,
	created_at, submitted_at, decided_at, updated_at, row_version`

// CreateIfNoOpenDraft inserts v with the next version number for its entity
// and hands the latest flag to it. The partial unique index over open
// versions arbitrates racing creates: the loser's insert hits the conflict
// target and reports ErrConflict. Runs the flag handoff and the insert as
// two statements, so it must be called inside a transaction.
func (s *Store) CreateIfNoOpenDraft(ctx context.Context, v *models.EntityVersion) error {
	ex := tx.Executor(ctx, s.db)

	const clear = `
		UPDATE entity_versions SET is_latest = FALSE
		WHERE entity_type = $1 AND entity_id = $2 AND is_latest`
	if _, err := ex.ExecContext(ctx, clear, v.EntityType.String(), v.EntityID.String()); err != nil {
		return fmt.Errorf("clear latest flag: %w", err)
	}

	payload, err := json.Marshal(v.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	const insert = `
		INSERT INTO entity_versions (
			id, entity_type, entity_id, version_number, status, is_latest,
			parent_version_id, payload, payload_digest, reason, notes,
			created_by, created_at, updated_at, row_version
		)
		SELECT $1, $2, $3, COALESCE(MAX(version_number), 0) + 1, $4, TRUE,
			$5, $6, $7, $8, $9, $10, $11, $12, 1
		FROM entity_versions
		WHERE entity_type = $2 AND entity_id = $3
		ON CONFLICT (entity_type, entity_id) WHERE status IN ('draft', 'pending_approval') DO NOTHING
		RETURNING version_number`

	var parent any
	if v.ParentID != nil {
		parent = v.ParentID.String()
	}
	err = ex.QueryRowContext(ctx, insert,
		v.ID.String(),
		v.EntityType.String(),
		v.EntityID.String(),
		v.Status.String(),
		parent,
		payload,
		v.PayloadDigest,
		v.Reason,
		v.Notes,
		v.CreatedBy.String(),
		v.CreatedAt,
		v.UpdatedAt,
	).Scan(&v.Number)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	v.IsLatest = true
	v.RowVersion = 1
	return nil
}

// Get returns the version by id.
func (s *Store) Get(ctx context.Context, versionID id.VersionID) (*models.EntityVersion, error) {
	q := `SELECT ` + versionColumns + ` FROM entity_versions WHERE id = $1`
	return s.queryOne(ctx, q, versionID.String())
}

// ByNumber returns the version of the entity carrying the given number.
func (s *Store) ByNumber(ctx context.Context, entityType id.EntityType, entityID id.EntityID, number int) (*models.EntityVersion, error) {
	q := `SELECT ` + versionColumns + ` FROM entity_versions
		WHERE entity_type = $1 AND entity_id = $2 AND version_number = $3`
	return s.queryOne(ctx, q, entityType.String(), entityID.String(), number)
}

// NewestByEntity returns the highest-numbered version of the entity
// regardless of status.
func (s *Store) NewestByEntity(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error) {
	q := `SELECT ` + versionColumns + ` FROM entity_versions
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY version_number DESC LIMIT 1`
	return s.queryOne(ctx, q, entityType.String(), entityID.String())
}

// Latest returns the version carrying the latest flag, if any.
func (s *Store) Latest(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error) {
	q := `SELECT ` + versionColumns + ` FROM entity_versions
		WHERE entity_type = $1 AND entity_id = $2 AND is_latest`
	return s.queryOne(ctx, q, entityType.String(), entityID.String())
}

// ApprovedVersion returns the entity's currently approved version, if any.
func (s *Store) ApprovedVersion(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error) {
	q := `SELECT ` + versionColumns + ` FROM entity_versions
		WHERE entity_type = $1 AND entity_id = $2 AND status = 'approved'`
	return s.queryOne(ctx, q, entityType.String(), entityID.String())
}

// ListByEntity returns all versions of the entity, newest first.
func (s *Store) ListByEntity(ctx context.Context, entityType id.EntityType, entityID id.EntityID) ([]*models.EntityVersion, error) {
	q := `SELECT ` + versionColumns + ` FROM entity_versions
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY version_number DESC`

	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, q, entityType.String(), entityID.String())
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*models.EntityVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return out, nil
}

// Update writes the mutable columns conditionally on the row version counter
// being unchanged. Zero rows means either the version vanished or a
// concurrent writer got there first; a probe read tells the two apart.
func (s *Store) Update(ctx context.Context, v *models.EntityVersion) error {
	const q = `
		UPDATE entity_versions
		SET status = $1, is_latest = $2, notes = $3,
			submitted_by = $4, submitted_at = $5,
			decided_by = $6, decided_at = $7,
			updated_at = $8, row_version = row_version + 1
		WHERE id = $9 AND row_version = $10`

	ex := tx.Executor(ctx, s.db)

	var submittedBy, decidedBy any
	if v.SubmittedBy != nil {
		submittedBy = v.SubmittedBy.String()
	}
	if v.DecidedBy != nil {
		decidedBy = v.DecidedBy.String()
	}
	res, err := ex.ExecContext(ctx, q,
		v.Status.String(),
		v.IsLatest,
		v.Notes,
		submittedBy,
		v.SubmittedAt,
		decidedBy,
		v.DecidedAt,
		v.UpdatedAt,
		v.ID.String(),
		v.RowVersion,
	)
	if err != nil {
		return fmt.Errorf("update version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update version: %w", err)
	}
	if n == 0 {
		var exists bool
		probe := `SELECT EXISTS (SELECT 1 FROM entity_versions WHERE id = $1)`
		if err := ex.QueryRowContext(ctx, probe, v.ID.String()).Scan(&exists); err != nil {
			return fmt.Errorf("probe version: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	v.RowVersion++
	return nil
}

func (s *Store) queryOne(ctx context.Context, q string, args ...any) (*models.EntityVersion, error) {
	v, err := scanVersion(tx.Executor(ctx, s.db).QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// isUniqueViolation reports whether err is a duplicate-key error. The open
// partial index is the named arbiter, but a racing insert can instead trip
// the (entity_type, entity_id, version_number) unique when both writers
// computed the same next number; either way the loser retries.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*models.EntityVersion, error) {
	var (
		v           models.EntityVersion
		rawID       string
		rawType     string
		rawEntity   string
		rawStatus   string
		rawParent   sql.NullString
		rawPayload  []byte
		rawCreator  string
		rawSubmit   sql.NullString
		rawDecider  sql.NullString
		submittedAt sql.NullTime
		decidedAt   sql.NullTime
	)
	err := row.Scan(
		&rawID,
		&rawType,
		&rawEntity,
		&v.Number,
		&rawStatus,
		&v.IsLatest,
		&rawParent,
		&rawPayload,
		&v.PayloadDigest,
		&v.Reason,
		&v.Notes,
		&rawCreator,
		&rawSubmit,
		&rawDecider,
		&v.CreatedAt,
		&submittedAt,
		&decidedAt,
		&v.UpdatedAt,
		&v.RowVersion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan version: %w", err)
	}

	if v.ID, err = id.ParseVersionID(rawID); err != nil {
		return nil, fmt.Errorf("scan version id: %w", err)
	}
	if v.EntityType, err = id.ParseEntityType(rawType); err != nil {
		return nil, fmt.Errorf("scan entity type: %w", err)
	}
	if v.EntityID, err = id.ParseEntityID(rawEntity); err != nil {
		return nil, fmt.Errorf("scan entity id: %w", err)
	}
	if v.Status, err = models.ParseStatus(rawStatus); err != nil {
		return nil, fmt.Errorf("scan status: %w", err)
	}
	if rawParent.Valid {
		parent, err := id.ParseVersionID(rawParent.String)
		if err != nil {
			return nil, fmt.Errorf("scan parent version id: %w", err)
		}
		v.ParentID = &parent
	}
	if v.CreatedBy, err = id.ParseActorID(rawCreator); err != nil {
		return nil, fmt.Errorf("scan created by: %w", err)
	}
	if rawSubmit.Valid {
		actor, err := id.ParseActorID(rawSubmit.String)
		if err != nil {
			return nil, fmt.Errorf("scan submitted by: %w", err)
		}
		v.SubmittedBy = &actor
	}
	if rawDecider.Valid {
		actor, err := id.ParseActorID(rawDecider.String)
		if err != nil {
			return nil, fmt.Errorf("scan decided by: %w", err)
		}
		v.DecidedBy = &actor
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		v.SubmittedAt = &t
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		v.DecidedAt = &t
	}
	if len(rawPayload) > 0 {
		if err := json.Unmarshal(rawPayload, &v.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &v, nil
}
