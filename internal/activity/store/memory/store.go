// Package memory provides an in-memory activity store for tests and
// single-process runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"examen/internal/activity/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
)

// Store keeps activity instances in process memory. All methods are safe
// for concurrent use.
type Store struct {
	mu        sync.RWMutex
	instances map[id.ActivityID]*models.Instance
	byPhase   map[id.PhaseID][]id.ActivityID
}

// New creates an empty activity store.
func New() *Store {
	return &Store{
		instances: make(map[id.ActivityID]*models.Instance),
		byPhase:   make(map[id.PhaseID][]id.ActivityID),
	}
}

// RunInTx executes fn directly; the memory store has no transactions.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// CreateAll inserts a batch of activities atomically. A duplicate id,
// or a position or name already taken within the phase, rejects the
// whole batch with sentinel.ErrConflict.
func (s *Store) CreateAll(ctx context.Context, list []*models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := make(map[id.PhaseID]map[int]bool)
	names := make(map[id.PhaseID]map[string]bool)
	for _, existing := range s.instances {
		if taken[existing.PhaseID] == nil {
			taken[existing.PhaseID] = make(map[int]bool)
			names[existing.PhaseID] = make(map[string]bool)
		}
		taken[existing.PhaseID][existing.Position] = true
		names[existing.PhaseID][existing.Name] = true
	}
	for _, a := range list {
		if _, ok := s.instances[a.ID]; ok {
			return sentinel.ErrConflict
		}
		if taken[a.PhaseID][a.Position] || names[a.PhaseID][a.Name] {
			return sentinel.ErrConflict
		}
		if taken[a.PhaseID] == nil {
			taken[a.PhaseID] = make(map[int]bool)
			names[a.PhaseID] = make(map[string]bool)
		}
		taken[a.PhaseID][a.Position] = true
		names[a.PhaseID][a.Name] = true
	}

	for _, a := range list {
		s.instances[a.ID] = a.Clone()
		s.byPhase[a.PhaseID] = append(s.byPhase[a.PhaseID], a.ID)
	}
	return nil
}

// Get returns the activity with the given id.
func (s *Store) Get(ctx context.Context, activityID id.ActivityID) (*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.instances[activityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return a.Clone(), nil
}

// ListByPhase returns the phase's activities in position order.
func (s *Store) ListByPhase(ctx context.Context, phaseID id.PhaseID) ([]*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Instance, 0, len(s.byPhase[phaseID]))
	for _, activityID := range s.byPhase[phaseID] {
		out = append(out, s.instances[activityID].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// ListByEntity returns every activity bound to the given artifact,
// oldest phase first then position order.
func (s *Store) ListByEntity(ctx context.Context, entityType id.EntityType, entityID id.EntityID) ([]*models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Instance
	for _, a := range s.instances {
		if a.EntityType == entityType && a.EntityID == entityID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

// Update persists a modified activity guarded by its row version.
func (s *Store) Update(ctx context.Context, a *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[a.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.RowVersion != a.RowVersion {
		return sentinel.ErrConflict
	}
	a.RowVersion++
	s.instances[a.ID] = a.Clone()
	return nil
}

// Len reports how many activities the store holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}
