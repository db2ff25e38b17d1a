// Package postgres persists the notification outbox.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"examen/internal/notify/models"
	"examen/pkg/platform/sentinel"
	"examen/pkg/platform/tx"
)

// Store writes through tx.Executor so an Enqueue issued inside a service
// transaction commits or rolls back with the state change it announces.
type Store struct {
	db *sql.DB
}

// New constructs a store over the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Enqueue stages the event for dispatch. A second event with the same ID
// trips the unique constraint and reports ErrConflict.
func (s *Store) Enqueue(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	const q = `
		INSERT INTO notify_outbox (event_id, category, event_type, subject_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = tx.Executor(ctx, s.db).ExecContext(ctx, q,
		event.ID.String(),
		event.Category(),
		event.Type,
		event.SubjectID,
		payload,
		event.OccurredAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// Pending returns undispatched entries oldest first, at most limit of them.
// The partial index over undispatched rows keeps this cheap as the table
// grows.
func (s *Store) Pending(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	const q = `
		SELECT id, event_id, event_type, subject_id, payload, occurred_at
		FROM notify_outbox
		WHERE dispatched_at IS NULL
		ORDER BY id ASC
		LIMIT $1`

	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	var out []models.OutboxEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending events: %w", err)
	}
	return out, nil
}

// MarkDispatched settles the given entries. Already-settled rows are left
// untouched so a retried settle is harmless.
func (s *Store) MarkDispatched(ctx context.Context, seqs []int64, at time.Time) error {
	if len(seqs) == 0 {
		return nil
	}

	const q = `
		UPDATE notify_outbox SET dispatched_at = $1
		WHERE id = ANY($2) AND dispatched_at IS NULL`

	if _, err := tx.Executor(ctx, s.db).ExecContext(ctx, q, at, pq.Array(seqs)); err != nil {
		return fmt.Errorf("mark events dispatched: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanEntry(rows *sql.Rows) (models.OutboxEntry, error) {
	var (
		entry      models.OutboxEntry
		rawID      string
		rawPayload []byte
	)
	if err := rows.Scan(
		&entry.Seq,
		&rawID,
		&entry.Event.Type,
		&entry.Event.SubjectID,
		&rawPayload,
		&entry.Event.OccurredAt,
	); err != nil {
		return models.OutboxEntry{}, fmt.Errorf("scan outbox entry: %w", err)
	}

	eventID, err := uuid.Parse(rawID)
	if err != nil {
		return models.OutboxEntry{}, fmt.Errorf("scan outbox event id: %w", err)
	}
	entry.Event.ID = eventID

	if len(rawPayload) > 0 {
		if err := json.Unmarshal(rawPayload, &entry.Event.Payload); err != nil {
			return models.OutboxEntry{}, fmt.Errorf("decode event payload: %w", err)
		}
	}
	return entry, nil
}
