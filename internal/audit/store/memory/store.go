// Package memory holds the in-memory audit store used by unit tests and the
// zero-dependency dev mode.
package memory

import (
	"context"
	"sync"

	"examen/internal/audit/models"
)

// Store is an append-only slice guarded by a mutex. Entries are copied on
// write and on read so callers can never mutate the trail.
type Store struct {
	mu      sync.RWMutex
	entries []models.Entry
	nextSeq int64
}

// New constructs an empty store.
func New() *Store {
	return &Store{}
}

// Append assigns the next sequence number and stores a copy of the entry.
func (s *Store) Append(ctx context.Context, entry *models.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	entry.Seq = s.nextSeq
	s.entries = append(s.entries, *entry)
	return nil
}

// ListBySubject returns entries for the subject with Seq > afterSeq in
// ascending order, at most limit of them.
func (s *Store) ListBySubject(ctx context.Context, subjectType models.SubjectType, subjectID string, afterSeq int64, limit int) ([]*models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Entry
	for i := range s.entries {
		e := s.entries[i]
		if e.Seq <= afterSeq || e.SubjectType != subjectType || e.SubjectID != subjectID {
			continue
		}
		copied := e
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Len reports the total number of entries across all subjects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
