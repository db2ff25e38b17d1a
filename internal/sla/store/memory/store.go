// Package memory holds the in-memory SLA store used by unit tests and the
// zero-dependency dev mode.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"examen/internal/sla/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
)

// Store keeps clocks and breaches under one mutex. Values are copied in and
// out so callers never share memory with the store.
type Store struct {
	mu             sync.RWMutex
	clocksByPhase  map[id.PhaseID]*models.Clock
	breachesByClck map[uuid.UUID]*models.Breach
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		clocksByPhase:  make(map[id.PhaseID]*models.Clock),
		breachesByClck: make(map[uuid.UUID]*models.Breach),
	}
}

// RunInTx executes fn directly. The in-memory store's operations are
// individually atomic, which is all the unit tests rely on.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// CreateClock stores a clock for the phase, rejecting duplicates.
func (s *Store) CreateClock(ctx context.Context, clock *models.Clock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clocksByPhase[clock.PhaseID]; exists {
		return sentinel.ErrConflict
	}
	copied := *clock
	s.clocksByPhase[clock.PhaseID] = &copied
	return nil
}

// ClockByPhase returns the phase's clock.
func (s *Store) ClockByPhase(ctx context.Context, phaseID id.PhaseID) (*models.Clock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clock, ok := s.clocksByPhase[phaseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *clock
	return &copied, nil
}

// ActiveClocks returns every clock still running or warned.
func (s *Store) ActiveClocks(ctx context.Context) ([]*models.Clock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Clock
	for _, clock := range s.clocksByPhase {
		if clock.State.IsActive() {
			copied := *clock
			out = append(out, &copied)
		}
	}
	return out, nil
}

// TransitionClock moves the clock to a new state, conditional on its current
// state being one of from. A mismatch reports ErrConflict so racing checkers
// settle on one winner.
func (s *Store) TransitionClock(ctx context.Context, clockID uuid.UUID, to models.ClockState, at time.Time, from ...models.ClockState) (*models.Clock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clock *models.Clock
	for _, c := range s.clocksByPhase {
		if c.ID == clockID {
			clock = c
			break
		}
	}
	if clock == nil {
		return nil, sentinel.ErrNotFound
	}

	matched := false
	for _, f := range from {
		if clock.State == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, sentinel.ErrConflict
	}

	clock.State = to
	clock.UpdatedAt = at
	if to == models.ClockStopped {
		stoppedAt := at
		clock.StoppedAt = &stoppedAt
	}
	copied := *clock
	return &copied, nil
}

// CreateBreachIfAbsent inserts the breach unless the clock already has one.
// Reports whether this call created it.
func (s *Store) CreateBreachIfAbsent(ctx context.Context, breach *models.Breach) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.breachesByClck[breach.ClockID]; exists {
		return false, nil
	}
	copied := *breach
	s.breachesByClck[breach.ClockID] = &copied
	return true, nil
}

// BreachByPhase returns the phase's breach record, if any.
func (s *Store) BreachByPhase(ctx context.Context, phaseID id.PhaseID) (*models.Breach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, breach := range s.breachesByClck {
		if breach.PhaseID == phaseID {
			copied := *breach
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}
