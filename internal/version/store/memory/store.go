// Package memory holds the in-memory version store used by unit tests and
// the zero-dependency dev mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"examen/internal/version/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
)

type entityKey struct {
	entityType id.EntityType
	entityID   id.EntityID
}

// Store keeps versions under one mutex. Values are cloned in and out so
// callers never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	versions map[id.VersionID]*models.EntityVersion
	byEntity map[entityKey][]id.VersionID
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		versions: make(map[id.VersionID]*models.EntityVersion),
		byEntity: make(map[entityKey][]id.VersionID),
	}
}

// RunInTx executes fn directly. The in-memory store's operations are
// individually atomic, which is all the unit tests rely on.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// CreateIfNoOpenDraft inserts v with the next version number for its entity.
// The check and the insert happen under one lock, so of two racing creates
// exactly one wins; the loser reports a conflict. The prior latest holder,
// if any, loses its flag to the new draft.
func (s *Store) CreateIfNoOpenDraft(ctx context.Context, v *models.EntityVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{entityType: v.EntityType, entityID: v.EntityID}
	highest := 0
	for _, vid := range s.byEntity[key] {
		existing := s.versions[vid]
		if existing.Status.IsOpen() {
			return sentinel.ErrConflict
		}
		if existing.Number > highest {
			highest = existing.Number
		}
	}

	v.Number = highest + 1
	for _, vid := range s.byEntity[key] {
		s.versions[vid].IsLatest = false
	}
	v.IsLatest = true
	s.versions[v.ID] = v.Clone()
	s.byEntity[key] = append(s.byEntity[key], v.ID)
	return nil
}

// Get returns the version by id.
func (s *Store) Get(ctx context.Context, versionID id.VersionID) (*models.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[versionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return v.Clone(), nil
}

// ByNumber returns the version of the entity carrying the given number.
func (s *Store) ByNumber(ctx context.Context, entityType id.EntityType, entityID id.EntityID, number int) (*models.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, vid := range s.byEntity[entityKey{entityType: entityType, entityID: entityID}] {
		if v := s.versions[vid]; v.Number == number {
			return v.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// NewestByEntity returns the highest-numbered version of the entity
// regardless of status.
func (s *Store) NewestByEntity(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *models.EntityVersion
	for _, vid := range s.byEntity[entityKey{entityType: entityType, entityID: entityID}] {
		v := s.versions[vid]
		if newest == nil || v.Number > newest.Number {
			newest = v
		}
	}
	if newest == nil {
		return nil, sentinel.ErrNotFound
	}
	return newest.Clone(), nil
}

// Latest returns the version carrying the IsLatest flag, if any.
func (s *Store) Latest(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, vid := range s.byEntity[entityKey{entityType: entityType, entityID: entityID}] {
		if v := s.versions[vid]; v.IsLatest {
			return v.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ApprovedVersion returns the entity's currently approved version, if any.
func (s *Store) ApprovedVersion(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, vid := range s.byEntity[entityKey{entityType: entityType, entityID: entityID}] {
		if v := s.versions[vid]; v.Status == models.StatusApproved {
			return v.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListByEntity returns all versions of the entity, newest first.
func (s *Store) ListByEntity(ctx context.Context, entityType id.EntityType, entityID id.EntityID) ([]*models.EntityVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byEntity[entityKey{entityType: entityType, entityID: entityID}]
	out := make([]*models.EntityVersion, 0, len(ids))
	for _, vid := range ids {
		out = append(out, s.versions[vid].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

// Update writes v conditionally on its row version counter being unchanged.
// A concurrent writer that got there first surfaces as a conflict; the
// caller retries from a fresh read.
func (s *Store) Update(ctx context.Context, v *models.EntityVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.versions[v.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.RowVersion != v.RowVersion {
		return sentinel.ErrConflict
	}
	v.RowVersion++
	s.versions[v.ID] = v.Clone()
	return nil
}

// Len reports the number of stored versions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions)
}
