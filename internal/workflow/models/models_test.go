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

func buildPhase(t *testing.T, name id.PhaseName) *PhaseInstance {
	t.Helper()
	p, err := NewPhaseInstance("cycle-7", "report-3", name, testNow)
	require.NoError(t, err)
	return p
}

func TestNewPhaseInstance(t *testing.T) {
	t.Run("builds a not_started phase", func(t *testing.T) {
		p, err := NewPhaseInstance("cycle-7", "report-3", id.PhaseScoping, testNow)
		require.NoError(t, err)

		assert.False(t, p.ID.IsNil())
		assert.Equal(t, id.CycleID("cycle-7"), p.CycleID)
		assert.Equal(t, id.ReportID("report-3"), p.ReportID)
		assert.Equal(t, id.PhaseScoping, p.Name)
		assert.Equal(t, StatusNotStarted, p.Status)
		assert.Nil(t, p.StartedAt)
		assert.Nil(t, p.CompletedAt)
		assert.Nil(t, p.StartedBy)
		assert.Nil(t, p.CompletedBy)
		assert.Empty(t, p.OverrideReason)
		assert.Equal(t, int64(1), p.RowVersion)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		_, err := NewPhaseInstance("", "report-3", id.PhaseScoping, testNow)
		assert.Error(t, err)

		_, err = NewPhaseInstance("cycle-7", "", id.PhaseScoping, testNow)
		assert.Error(t, err)

		_, err = NewPhaseInstance("cycle-7", "report-3", id.PhaseName("detour"), testNow)
		assert.Error(t, err)
	})
}

func TestPhaseStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusNotStarted, StatusInProgress, true},
		{StatusNotStarted, StatusSkipped, true},
		{StatusNotStarted, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusBlocked, true},
		{StatusInProgress, StatusSkipped, false},
		{StatusBlocked, StatusInProgress, true},
		{StatusBlocked, StatusCompleted, true},
		{StatusBlocked, StatusSkipped, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCompleted, StatusNotStarted, false},
		{StatusSkipped, StatusInProgress, false},
	}
	for _, tc := range cases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestPhaseStatusPredicates(t *testing.T) {
	assert.True(t, StatusCompleted.IsDone())
	assert.True(t, StatusSkipped.IsDone())
	assert.False(t, StatusNotStarted.IsDone())
	assert.False(t, StatusInProgress.IsDone())
	assert.False(t, StatusBlocked.IsDone())

	for _, s := range []Status{StatusNotStarted, StatusInProgress, StatusCompleted, StatusBlocked, StatusSkipped} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, Status("paused").IsValid())

	parsed, err := ParsePhaseStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, parsed)
	_, err = ParsePhaseStatus("paused")
	assert.Error(t, err)
}

func TestPhaseLifecycle(t *testing.T) {
	later := testNow.Add(2 * time.Hour)

	t.Run("start and complete", func(t *testing.T) {
		p := buildPhase(t, id.PhasePlanning)

		p.ApplyStart(testActor, testNow)
		assert.Equal(t, StatusInProgress, p.Status)
		require.NotNil(t, p.StartedAt)
		assert.Equal(t, testNow, *p.StartedAt)
		require.NotNil(t, p.StartedBy)
		assert.Equal(t, testActor, *p.StartedBy)

		closer := id.NewActorID()
		p.ApplyComplete(closer, later)
		assert.Equal(t, StatusCompleted, p.Status)
		require.NotNil(t, p.CompletedAt)
		assert.Equal(t, later, *p.CompletedAt)
		require.NotNil(t, p.CompletedBy)
		assert.Equal(t, closer, *p.CompletedBy)
		assert.Empty(t, p.OverrideReason)
	})

	t.Run("override keeps the reason", func(t *testing.T) {
		p := buildPhase(t, id.PhaseScoping)
		p.ApplyStart(testActor, testNow)

		p.ApplyOverride(testActor, "regulator deadline moved up", later)
		assert.Equal(t, StatusCompleted, p.Status)
		assert.Equal(t, "regulator deadline moved up", p.OverrideReason)
		require.NotNil(t, p.CompletedAt)
		assert.Equal(t, later, *p.CompletedAt)
	})

	t.Run("skip leaves timestamps empty", func(t *testing.T) {
		p := buildPhase(t, id.PhaseRequestInfo)

		p.ApplySkip(later)
		assert.Equal(t, StatusSkipped, p.Status)
		assert.Nil(t, p.StartedAt)
		assert.Nil(t, p.CompletedAt)
		assert.Equal(t, later, p.UpdatedAt)
	})
}

func TestPhaseClone(t *testing.T) {
	p := buildPhase(t, id.PhaseSampleSelect)
	p.ApplyStart(testActor, testNow)

	clone := p.Clone()
	require.NotSame(t, p, clone)
	assert.Equal(t, p, clone)

	*clone.StartedAt = clone.StartedAt.Add(time.Hour)
	clone.Status = StatusCompleted
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, testNow, *p.StartedAt)
}

func TestDescribe(t *testing.T) {
	p := buildPhase(t, id.PhaseTestReport)
	assert.Equal(t, "phase test_report for cycle-7/report-3", p.Describe())
}
