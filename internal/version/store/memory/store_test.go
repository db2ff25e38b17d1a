package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examen/internal/version/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
)

var storeNow = time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)

func newDraft(t *testing.T, entityID id.EntityID) *models.EntityVersion {
	t.Helper()
	v, err := models.NewVersion(id.EntitySamples, entityID, id.NewActorID(),
		map[string]any{"samples": []any{"TX-1"}}, "", nil, storeNow)
	require.NoError(t, err)
	return v
}

// closeOut moves a stored draft out of the open set so another version can
// be created for the same entity.
func closeOut(t *testing.T, s *Store, v *models.EntityVersion) {
	t.Helper()
	v.ApplySubmit(v.CreatedBy, storeNow)
	v.ApplyRevisionRequested(v.CreatedBy, "", storeNow)
	require.NoError(t, s.Update(context.Background(), v))
}

func TestCreateIfNoOpenDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns sequential numbers", func(t *testing.T) {
		s := New()

		v1 := newDraft(t, "e-1")
		require.NoError(t, s.CreateIfNoOpenDraft(ctx, v1))
		assert.Equal(t, 1, v1.Number)

		closeOut(t, s, v1)

		v2 := newDraft(t, "e-1")
		require.NoError(t, s.CreateIfNoOpenDraft(ctx, v2))
		assert.Equal(t, 2, v2.Number)
	})

	t.Run("rejects a second open version", func(t *testing.T) {
		s := New()
		require.NoError(t, s.CreateIfNoOpenDraft(ctx, newDraft(t, "e-1")))

		err := s.CreateIfNoOpenDraft(ctx, newDraft(t, "e-1"))
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("entities do not interfere", func(t *testing.T) {
		s := New()
		require.NoError(t, s.CreateIfNoOpenDraft(ctx, newDraft(t, "e-1")))
		require.NoError(t, s.CreateIfNoOpenDraft(ctx, newDraft(t, "e-2")))
	})

	t.Run("takes the latest flag from the prior holder", func(t *testing.T) {
		s := New()
		v1 := newDraft(t, "e-1")
		require.NoError(t, s.CreateIfNoOpenDraft(ctx, v1))
		closeOut(t, s, v1)

		v2 := newDraft(t, "e-1")
		require.NoError(t, s.CreateIfNoOpenDraft(ctx, v2))

		latest, err := s.Latest(ctx, id.EntitySamples, "e-1")
		require.NoError(t, err)
		assert.Equal(t, v2.ID, latest.ID)
	})
}

// Two simultaneous creates for one entity must not both succeed; that is
// the at-most-one-open-version invariant under contention.
func TestConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	s := New()

	const writers = 50
	drafts := make([]*models.EntityVersion, writers)
	for i := range drafts {
		drafts[i] = newDraft(t, "contested")
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = s.CreateIfNoOpenDraft(ctx, drafts[n])
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, sentinel.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	winner, err := s.Latest(ctx, id.EntitySamples, "contested")
	require.NoError(t, err)
	assert.Equal(t, 1, winner.Number)
	assert.Equal(t, 1, s.Len())
}

func TestReads(t *testing.T) {
	ctx := context.Background()
	s := New()

	v1 := newDraft(t, "e-1")
	require.NoError(t, s.CreateIfNoOpenDraft(ctx, v1))
	closeOut(t, s, v1)
	v2 := newDraft(t, "e-1")
	require.NoError(t, s.CreateIfNoOpenDraft(ctx, v2))

	t.Run("get by id", func(t *testing.T) {
		got, err := s.Get(ctx, v1.ID)
		require.NoError(t, err)
		assert.Equal(t, v1.ID, got.ID)

		_, err = s.Get(ctx, id.NewVersionID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("by number", func(t *testing.T) {
		got, err := s.ByNumber(ctx, id.EntitySamples, "e-1", 2)
		require.NoError(t, err)
		assert.Equal(t, v2.ID, got.ID)

		_, err = s.ByNumber(ctx, id.EntitySamples, "e-1", 9)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("newest by entity", func(t *testing.T) {
		got, err := s.NewestByEntity(ctx, id.EntitySamples, "e-1")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Number)

		_, err = s.NewestByEntity(ctx, id.EntitySamples, "unknown")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		all, err := s.ListByEntity(ctx, id.EntitySamples, "e-1")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, 2, all[0].Number)
		assert.Equal(t, 1, all[1].Number)
	})

	t.Run("approved version absent", func(t *testing.T) {
		_, err := s.ApprovedVersion(ctx, id.EntitySamples, "e-1")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("bumps the row version", func(t *testing.T) {
		s := New()
		v := newDraft(t, "e-1")
		require.NoError(t, s.CreateIfNoOpenDraft(ctx, v))

		v.ApplySubmit(v.CreatedBy, storeNow)
		require.NoError(t, s.Update(ctx, v))
		assert.Equal(t, int64(2), v.RowVersion)

		got, err := s.Get(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPendingApproval, got.Status)
		assert.Equal(t, int64(2), got.RowVersion)
	})

	t.Run("stale writer loses", func(t *testing.T) {
		s := New()
		v := newDraft(t, "e-1")
		require.NoError(t, s.CreateIfNoOpenDraft(ctx, v))

		stale := v.Clone()
		v.ApplySubmit(v.CreatedBy, storeNow)
		require.NoError(t, s.Update(ctx, v))

		stale.ApplySubmit(stale.CreatedBy, storeNow)
		err := s.Update(ctx, stale)
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("unknown version", func(t *testing.T) {
		s := New()
		err := s.Update(ctx, newDraft(t, "e-1"))
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestCopyIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()

	v := newDraft(t, "e-1")
	require.NoError(t, s.CreateIfNoOpenDraft(ctx, v))

	got, err := s.Get(ctx, v.ID)
	require.NoError(t, err)
	got.Payload["samples"] = []any{"tampered"}
	got.Status = models.StatusApproved

	again, err := s.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{"TX-1"}, again.Payload["samples"])
	assert.Equal(t, models.StatusDraft, again.Status)
}
