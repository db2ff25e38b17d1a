// Package postgres persists the audit trail in the audit_entries table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"examen/internal/audit/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/tx"
)

// Store writes entries through tx.Executor so an Append issued inside a
// transaction joins it and rolls back with the state change it describes.
type Store struct {
	db *sql.DB
}

// New constructs a store over the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts the entry and fills in the database-assigned sequence
// number. The trigger column is named trigger_name because TRIGGER is a
// reserved word.
func (s *Store) Append(ctx context.Context, entry *models.Entry) error {
	const q = `
		INSERT INTO audit_entries (
			id, ts, actor_id, subject_type, subject_id,
			from_state, to_state, trigger_name, context, request_id, client_info
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq`

	row := tx.Executor(ctx, s.db).QueryRowContext(ctx, q,
		entry.ID.String(),
		entry.Timestamp,
		entry.ActorID.String(),
		entry.SubjectType.String(),
		entry.SubjectID,
		entry.FromState,
		entry.ToState,
		entry.Trigger,
		entry.Context,
		entry.RequestID,
		entry.ClientInfo,
	)
	if err := row.Scan(&entry.Seq); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListBySubject pages through the subject's trail in sequence order.
func (s *Store) ListBySubject(ctx context.Context, subjectType models.SubjectType, subjectID string, afterSeq int64, limit int) ([]*models.Entry, error) {
	const q = `
		SELECT seq, id, ts, actor_id, subject_type, subject_id,
		       from_state, to_state, trigger_name, context, request_id, client_info
		FROM audit_entries
		WHERE subject_type = $1 AND subject_id = $2 AND seq > $3
		ORDER BY seq ASC
		LIMIT $4`

	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, q, subjectType.String(), subjectID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (*models.Entry, error) {
	var (
		entry       models.Entry
		rawID       string
		rawActor    string
		rawSubjType string
	)
	if err := rows.Scan(
		&entry.Seq,
		&rawID,
		&entry.Timestamp,
		&rawActor,
		&rawSubjType,
		&entry.SubjectID,
		&entry.FromState,
		&entry.ToState,
		&entry.Trigger,
		&entry.Context,
		&entry.RequestID,
		&entry.ClientInfo,
	); err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	entryID, err := id.ParseEntryID(rawID)
	if err != nil {
		return nil, fmt.Errorf("scan audit entry id: %w", err)
	}
	actorID, err := id.ParseActorID(rawActor)
	if err != nil {
		return nil, fmt.Errorf("scan audit actor id: %w", err)
	}
	subjectType, err := models.ParseSubjectType(rawSubjType)
	if err != nil {
		return nil, fmt.Errorf("scan audit subject type: %w", err)
	}

	entry.ID = entryID
	entry.ActorID = actorID
	entry.SubjectType = subjectType
	return &entry, nil
}
