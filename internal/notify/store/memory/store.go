// Package memory holds the in-memory outbox used by unit tests and the
// broker-less dev mode, where staged events accumulate without a relay.
package memory

import (
	"context"
	"sync"
	"time"

	"examen/internal/notify/models"
	"examen/pkg/platform/sentinel"
)

// Store is an append-only outbox guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	entries []models.OutboxEntry
	nextSeq int64
}

// New constructs an empty store.
func New() *Store {
	return &Store{}
}

// Enqueue stages the event and assigns it the next sequence number. A
// second event with the same ID reports ErrConflict.
func (s *Store) Enqueue(ctx context.Context, event models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].Event.ID == event.ID {
			return sentinel.ErrConflict
		}
	}

	s.nextSeq++
	s.entries = append(s.entries, models.OutboxEntry{Seq: s.nextSeq, Event: event})
	return nil
}

// Pending returns undispatched entries oldest first, at most limit of them.
func (s *Store) Pending(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.OutboxEntry
	for i := range s.entries {
		if s.entries[i].DispatchedAt != nil {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkDispatched settles the given entries. Sequence numbers that are
// unknown or already settled are ignored so a retried settle is harmless.
func (s *Store) MarkDispatched(ctx context.Context, seqs []int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seq := range seqs {
		for i := range s.entries {
			if s.entries[i].Seq == seq && s.entries[i].DispatchedAt == nil {
				t := at
				s.entries[i].DispatchedAt = &t
			}
		}
	}
	return nil
}

// Len reports the total number of staged entries, dispatched included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
