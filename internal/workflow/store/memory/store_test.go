package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examen/internal/workflow/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
)

var storeNow = time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)

func newPhase(t *testing.T, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName) *models.PhaseInstance {
	t.Helper()
	p, err := models.NewPhaseInstance(cycleID, reportID, name, storeNow)
	require.NoError(t, err)
	return p
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	store := New()

	planning := newPhase(t, "cycle-1", "report-1", id.PhasePlanning)
	require.NoError(t, store.Create(ctx, planning))
	assert.Equal(t, 1, store.Len())

	t.Run("same slot conflicts", func(t *testing.T) {
		dup := newPhase(t, "cycle-1", "report-1", id.PhasePlanning)
		assert.ErrorIs(t, store.Create(ctx, dup), sentinel.ErrConflict)
	})

	t.Run("other reports are independent", func(t *testing.T) {
		other := newPhase(t, "cycle-1", "report-2", id.PhasePlanning)
		assert.NoError(t, store.Create(ctx, other))
	})
}

func TestReads(t *testing.T) {
	ctx := context.Background()
	store := New()

	// Insert out of process order; reads must come back ordered.
	scoping := newPhase(t, "cycle-1", "report-1", id.PhaseScoping)
	planning := newPhase(t, "cycle-1", "report-1", id.PhasePlanning)
	samples := newPhase(t, "cycle-1", "report-1", id.PhaseSampleSelect)
	for _, p := range []*models.PhaseInstance{scoping, planning, samples} {
		require.NoError(t, store.Create(ctx, p))
	}
	foreign := newPhase(t, "cycle-2", "report-1", id.PhasePlanning)
	require.NoError(t, store.Create(ctx, foreign))

	t.Run("get by id", func(t *testing.T) {
		got, err := store.Get(ctx, scoping.ID)
		require.NoError(t, err)
		assert.Equal(t, scoping, got)

		_, err = store.Get(ctx, id.NewPhaseID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("get by name", func(t *testing.T) {
		got, err := store.GetByName(ctx, "cycle-1", "report-1", id.PhasePlanning)
		require.NoError(t, err)
		assert.Equal(t, planning.ID, got.ID)

		_, err = store.GetByName(ctx, "cycle-1", "report-1", id.PhaseTestReport)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("list follows process order", func(t *testing.T) {
		list, err := store.ListByCycleReport(ctx, "cycle-1", "report-1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, id.PhasePlanning, list[0].Name)
		assert.Equal(t, id.PhaseScoping, list[1].Name)
		assert.Equal(t, id.PhaseSampleSelect, list[2].Name)
	})

	t.Run("list is scoped to the pair", func(t *testing.T) {
		list, err := store.ListByCycleReport(ctx, "cycle-2", "report-1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, foreign.ID, list[0].ID)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := New()
	actor := id.NewActorID()

	p := newPhase(t, "cycle-1", "report-1", id.PhasePlanning)
	require.NoError(t, store.Create(ctx, p))

	stale := p.Clone()

	p.ApplyStart(actor, storeNow)
	require.NoError(t, store.Update(ctx, p))
	assert.Equal(t, int64(2), p.RowVersion)

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, int64(2), got.RowVersion)

	t.Run("stale row version conflicts", func(t *testing.T) {
		stale.ApplySkip(storeNow)
		assert.ErrorIs(t, store.Update(ctx, stale), sentinel.ErrConflict)
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		missing := newPhase(t, "cycle-9", "report-9", id.PhasePlanning)
		assert.ErrorIs(t, store.Update(ctx, missing), sentinel.ErrNotFound)
	})
}

func TestCopyIsolation(t *testing.T) {
	ctx := context.Background()
	store := New()
	actor := id.NewActorID()

	p := newPhase(t, "cycle-1", "report-1", id.PhasePlanning)
	p.ApplyStart(actor, storeNow)
	require.NoError(t, store.Create(ctx, p))

	// Mutating what we handed in or got back must not leak into the store.
	p.Status = models.StatusCompleted
	first, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, first.Status)

	*first.StartedAt = first.StartedAt.Add(time.Hour)
	second, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, storeNow, *second.StartedAt)
}
