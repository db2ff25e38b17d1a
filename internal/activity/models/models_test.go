package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examen/pkg/domain"
)

var (
	testNow   = time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	testActor = id.NewActorID()
)

func buildInstance(t *testing.T, kind Kind, position int, optional bool) *Instance {
	t.Helper()
	a, err := NewInstance(id.NewPhaseID(), "activity-"+kind.String(), kind, position, optional, "", "", testNow)
	require.NoError(t, err)
	return a
}

func TestNewInstance(t *testing.T) {
	phaseID := id.NewPhaseID()

	t.Run("builds a not_started instance", func(t *testing.T) {
		a, err := NewInstance(phaseID, "select samples", KindTask, 2, false, id.EntitySamples, "cycle-7.report-3.samples", testNow)
		require.NoError(t, err)

		assert.False(t, a.ID.IsNil())
		assert.Equal(t, phaseID, a.PhaseID)
		assert.Equal(t, "select samples", a.Name)
		assert.Equal(t, KindTask, a.Kind)
		assert.Equal(t, StatusNotStarted, a.Status)
		assert.Equal(t, 2, a.Position)
		assert.False(t, a.Optional)
		assert.Equal(t, id.EntitySamples, a.EntityType)
		assert.Equal(t, id.EntityID("cycle-7.report-3.samples"), a.EntityID)
		assert.Nil(t, a.StartedAt)
		assert.Nil(t, a.CompletedAt)
		assert.Nil(t, a.CompletedBy)
		assert.Equal(t, int64(1), a.RowVersion)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		_, err := NewInstance(id.PhaseID{}, "x", KindTask, 1, false, "", "", testNow)
		assert.Error(t, err)

		_, err = NewInstance(phaseID, "", KindTask, 1, false, "", "", testNow)
		assert.Error(t, err)

		_, err = NewInstance(phaseID, "x", Kind("CHORE"), 1, false, "", "", testNow)
		assert.Error(t, err)

		_, err = NewInstance(phaseID, "x", KindTask, 0, false, "", "", testNow)
		assert.Error(t, err)
	})
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusNotStarted, StatusActive, true},
		{StatusNotStarted, StatusCompleted, true},
		{StatusNotStarted, StatusSkipped, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusBlocked, true},
		{StatusActive, StatusSkipped, true},
		{StatusBlocked, StatusActive, true},
		{StatusCompleted, StatusNotStarted, true},
		{StatusCompleted, StatusActive, false},
		{StatusSkipped, StatusNotStarted, false},
		{StatusSkipped, StatusActive, false},
		{StatusActive, StatusNotStarted, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusIsDone(t *testing.T) {
	assert.True(t, StatusCompleted.IsDone())
	assert.True(t, StatusSkipped.IsDone())
	assert.False(t, StatusNotStarted.IsDone())
	assert.False(t, StatusActive.IsDone())
	assert.False(t, StatusBlocked.IsDone())
}

func TestParsers(t *testing.T) {
	for _, raw := range []string{"START", "TASK", "REVIEW", "APPROVAL", "COMPLETE"} {
		k, err := ParseKind(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, k.String())
	}
	_, err := ParseKind("task")
	assert.Error(t, err)

	st, err := ParseStatus("active")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st)
	_, err = ParseStatus("running")
	assert.Error(t, err)

	trig, err := ParseTrigger("auto_on_approval")
	require.NoError(t, err)
	assert.Equal(t, TriggerOnApproval, trig)
	_, err = ParseTrigger("auto_on_merge")
	assert.Error(t, err)
}

func TestStartBlockers(t *testing.T) {
	phaseID := id.NewPhaseID()
	build := func(name string, position int, status Status, optional bool) *Instance {
		a, err := NewInstance(phaseID, name, KindTask, position, optional, "", "", testNow)
		require.NoError(t, err)
		a.Status = status
		return a
	}

	t.Run("open required prior blocks", func(t *testing.T) {
		first := build("kickoff", 1, StatusActive, false)
		second := build("fieldwork", 2, StatusNotStarted, false)

		reason := StartBlockers(second, []*Instance{first, second})
		assert.Equal(t, `previous activity "kickoff" not completed`, reason)
	})

	t.Run("completed and skipped priors clear the way", func(t *testing.T) {
		first := build("kickoff", 1, StatusCompleted, false)
		second := build("optional check", 2, StatusSkipped, true)
		third := build("fieldwork", 3, StatusNotStarted, false)

		assert.Empty(t, StartBlockers(third, []*Instance{first, second, third}))
	})

	t.Run("open optional prior does not block", func(t *testing.T) {
		first := build("kickoff", 1, StatusCompleted, false)
		second := build("optional check", 2, StatusNotStarted, true)
		third := build("fieldwork", 3, StatusNotStarted, false)

		assert.Empty(t, StartBlockers(third, []*Instance{first, second, third}))
	})

	t.Run("later activities never block earlier ones", func(t *testing.T) {
		first := build("kickoff", 1, StatusNotStarted, false)
		second := build("fieldwork", 2, StatusNotStarted, false)

		assert.Empty(t, StartBlockers(first, []*Instance{first, second}))
	})
}

func TestLifecycle(t *testing.T) {
	later := testNow.Add(2 * time.Hour)

	t.Run("start then complete", func(t *testing.T) {
		a := buildInstance(t, KindTask, 1, false)
		a.ApplyStart(testNow)
		assert.Equal(t, StatusActive, a.Status)
		require.NotNil(t, a.StartedAt)
		assert.Equal(t, testNow, *a.StartedAt)

		a.ApplyComplete(testActor, later)
		assert.Equal(t, StatusCompleted, a.Status)
		require.NotNil(t, a.CompletedAt)
		assert.Equal(t, later, *a.CompletedAt)
		require.NotNil(t, a.CompletedBy)
		assert.Equal(t, testActor, *a.CompletedBy)
	})

	t.Run("auto completion backfills the start time", func(t *testing.T) {
		a := buildInstance(t, KindReview, 2, false)
		a.ApplyComplete(testActor, later)
		require.NotNil(t, a.StartedAt)
		assert.Equal(t, later, *a.StartedAt)
	})

	t.Run("skip keeps the reason", func(t *testing.T) {
		a := buildInstance(t, KindTask, 3, true)
		a.ApplySkip("not relevant for this cycle", later)
		assert.Equal(t, StatusSkipped, a.Status)
		assert.Equal(t, "not relevant for this cycle", a.SkipReason)
	})

	t.Run("reset wipes the completed run", func(t *testing.T) {
		a := buildInstance(t, KindTask, 1, false)
		a.ApplyStart(testNow)
		a.ApplyComplete(testActor, later)

		a.ApplyReset(later.Add(time.Hour))
		assert.Equal(t, StatusNotStarted, a.Status)
		assert.Nil(t, a.StartedAt)
		assert.Nil(t, a.CompletedAt)
		assert.Nil(t, a.CompletedBy)
	})
}

func TestClone(t *testing.T) {
	a := buildInstance(t, KindTask, 1, false)
	a.ApplyStart(testNow)
	a.ApplyComplete(testActor, testNow.Add(time.Hour))

	c := a.Clone()
	*c.StartedAt = c.StartedAt.Add(time.Minute)
	*c.CompletedBy = id.NewActorID()
	c.Status = StatusNotStarted

	assert.Equal(t, testNow, *a.StartedAt)
	assert.Equal(t, testActor, *a.CompletedBy)
	assert.Equal(t, StatusCompleted, a.Status)
}
