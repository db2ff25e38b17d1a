// Package memory provides an in-memory phase store for tests and local
// runs. Copy-in/copy-out; no shared pointers with callers.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"examen/internal/workflow/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
)

// Store keeps phase instances keyed by id with a uniqueness index on
// (cycle, report, name), mirroring the relational schema.
type Store struct {
	mu        sync.RWMutex
	instances map[id.PhaseID]*models.PhaseInstance
	byName    map[string]id.PhaseID
}

// New creates an empty in-memory phase store.
func New() *Store {
	return &Store{
		instances: make(map[id.PhaseID]*models.PhaseInstance),
		byName:    make(map[string]id.PhaseID),
	}
}

// RunInTx satisfies the transactional interface. Memory writes are atomic
// per call, so fn simply runs; a failed multi-write cannot roll back.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func nameKey(cycleID id.CycleID, reportID id.ReportID, name id.PhaseName) string {
	return fmt.Sprintf("%s/%s/%s", cycleID, reportID, name)
}

// Create stores a new phase instance.
//
// Errors: sentinel.ErrConflict when the (cycle, report, name) slot is taken.
func (s *Store) Create(ctx context.Context, p *models.PhaseInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nameKey(p.CycleID, p.ReportID, p.Name)
	if _, taken := s.byName[key]; taken {
		return sentinel.ErrConflict
	}
	if _, taken := s.instances[p.ID]; taken {
		return sentinel.ErrConflict
	}

	s.instances[p.ID] = p.Clone()
	s.byName[key] = p.ID
	return nil
}

// Get returns the phase instance by id.
//
// Errors: sentinel.ErrNotFound when no instance exists.
func (s *Store) Get(ctx context.Context, phaseID id.PhaseID) (*models.PhaseInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.instances[phaseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

// GetByName returns the phase instance for one phase of a cycle-report.
//
// Errors: sentinel.ErrNotFound when the phase has never been materialized.
func (s *Store) GetByName(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName) (*models.PhaseInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	phaseID, ok := s.byName[nameKey(cycleID, reportID, name)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.instances[phaseID].Clone(), nil
}

// ListByCycleReport returns every materialized phase of a cycle-report in
// process order. Phases never started are simply absent.
func (s *Store) ListByCycleReport(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) ([]*models.PhaseInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PhaseInstance
	for _, p := range s.instances {
		if p.CycleID == cycleID && p.ReportID == reportID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name.Ordinal() < out[j].Name.Ordinal()
	})
	return out, nil
}

// Update persists a mutated phase instance under optimistic concurrency.
// The given RowVersion must match the stored one; on success both stored
// and given instances carry the incremented version.
//
// Errors: sentinel.ErrNotFound for unknown ids, sentinel.ErrConflict when
// the row version does not match.
func (s *Store) Update(ctx context.Context, p *models.PhaseInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.RowVersion != p.RowVersion {
		return sentinel.ErrConflict
	}

	p.RowVersion++
	s.instances[p.ID] = p.Clone()
	return nil
}

// Len reports how many phase instances are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}
