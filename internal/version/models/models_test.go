package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

var (
	testNow    = time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	testAuthor = id.NewActorID()
)

func samplePayload() map[string]any {
	return map[string]any{
		"samples": []any{"TX-1001", "TX-1002"},
		"period":  "2025-Q1",
	}
}

func TestNewVersion(t *testing.T) {
	t.Run("builds a draft", func(t *testing.T) {
		v, err := NewVersion(id.EntitySamples, "cycle-7/report-3/samples", testAuthor, samplePayload(), "initial selection", nil, testNow)
		require.NoError(t, err)

		assert.False(t, v.ID.IsNil())
		assert.Equal(t, StatusDraft, v.Status)
		assert.True(t, v.IsLatest)
		assert.Nil(t, v.ParentID)
		assert.Equal(t, 0, v.Number, "the store assigns the number on insert")
		assert.Equal(t, "initial selection", v.Reason)
		assert.Equal(t, testAuthor, v.CreatedBy)
		assert.Equal(t, testNow, v.CreatedAt)
		assert.Equal(t, int64(1), v.RowVersion)
		assert.NotEmpty(t, v.PayloadDigest)
	})

	t.Run("links the parent", func(t *testing.T) {
		parent := id.NewVersionID()
		v, err := NewVersion(id.EntitySamples, "e-1", testAuthor, samplePayload(), "", &parent, testNow)
		require.NoError(t, err)
		require.NotNil(t, v.ParentID)
		assert.Equal(t, parent, *v.ParentID)
	})

	t.Run("rejects payload missing its required key", func(t *testing.T) {
		payload := map[string]any{"period": "2025-Q1"}
		_, err := NewVersion(id.EntitySamples, "e-1", testAuthor, payload, "", nil, testNow)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
		assert.Contains(t, err.Error(), "samples")
	})

	t.Run("rejects empty payload", func(t *testing.T) {
		_, err := NewVersion(id.EntityAttributes, "e-1", testAuthor, nil, "", nil, testNow)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	t.Run("rejects missing author", func(t *testing.T) {
		_, err := NewVersion(id.EntitySamples, "e-1", id.ActorID{}, samplePayload(), "", nil, testNow)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	t.Run("rejects empty entity id", func(t *testing.T) {
		_, err := NewVersion(id.EntitySamples, "", testAuthor, samplePayload(), "", nil, testNow)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}

func TestDigestPayload(t *testing.T) {
	a := map[string]any{"samples": []any{"TX-1"}, "period": "2025-Q1", "count": 1}
	b := map[string]any{"count": 1, "period": "2025-Q1", "samples": []any{"TX-1"}}

	da, err := DigestPayload(a)
	require.NoError(t, err)
	db, err := DigestPayload(b)
	require.NoError(t, err)
	assert.Equal(t, da, db, "digest is independent of key insertion order")

	b["period"] = "2025-Q2"
	db2, err := DigestPayload(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db2)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusDraft, StatusPendingApproval, true},
		{StatusDraft, StatusApproved, false},
		{StatusDraft, StatusRevisionRequested, false},
		{StatusPendingApproval, StatusApproved, true},
		{StatusPendingApproval, StatusRevisionRequested, true},
		{StatusPendingApproval, StatusDraft, false},
		{StatusApproved, StatusSuperseded, true},
		{StatusApproved, StatusPendingApproval, false},
		{StatusRevisionRequested, StatusDraft, false},
		{StatusSuperseded, StatusApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusIsOpen(t *testing.T) {
	assert.True(t, StatusDraft.IsOpen())
	assert.True(t, StatusPendingApproval.IsOpen())
	assert.False(t, StatusApproved.IsOpen())
	assert.False(t, StatusRevisionRequested.IsOpen())
	assert.False(t, StatusSuperseded.IsOpen())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("pending_approval")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, st)

	_, err = ParseStatus("published")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("approve")
	require.NoError(t, err)
	assert.Equal(t, DecisionApprove, d)

	d, err = ParseDecision("request_revision")
	require.NoError(t, err)
	assert.Equal(t, DecisionRequestRevision, d)

	_, err = ParseDecision("reject")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
}

func TestLifecycle(t *testing.T) {
	submitter := id.NewActorID()
	approver := id.NewActorID()
	later := testNow.Add(2 * time.Hour)

	t.Run("submit", func(t *testing.T) {
		v, err := NewVersion(id.EntitySamples, "e-1", testAuthor, samplePayload(), "", nil, testNow)
		require.NoError(t, err)

		require.NoError(t, v.CanSubmit())
		v.ApplySubmit(submitter, later)

		assert.Equal(t, StatusPendingApproval, v.Status)
		require.NotNil(t, v.SubmittedBy)
		assert.Equal(t, submitter, *v.SubmittedBy)
		require.NotNil(t, v.SubmittedAt)
		assert.Equal(t, later, *v.SubmittedAt)
		assert.Equal(t, later, v.UpdatedAt)

		err = v.CanSubmit()
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidState, dErrors.CodeOf(err))
	})

	t.Run("approve", func(t *testing.T) {
		v, err := NewVersion(id.EntitySamples, "e-1", testAuthor, samplePayload(), "", nil, testNow)
		require.NoError(t, err)
		v.ApplySubmit(submitter, later)

		require.NoError(t, v.CanDecide())
		v.ApplyApprove(approver, "looks complete", later)

		assert.Equal(t, StatusApproved, v.Status)
		assert.True(t, v.IsLatest)
		assert.Equal(t, "looks complete", v.Notes)
		require.NotNil(t, v.DecidedBy)
		assert.Equal(t, approver, *v.DecidedBy)

		err = v.CanDecide()
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidState, dErrors.CodeOf(err))
	})

	t.Run("request revision drops the latest flag", func(t *testing.T) {
		v, err := NewVersion(id.EntitySamples, "e-1", testAuthor, samplePayload(), "", nil, testNow)
		require.NoError(t, err)
		v.ApplySubmit(submitter, later)

		v.ApplyRevisionRequested(approver, "missing Q1 extract", later)

		assert.Equal(t, StatusRevisionRequested, v.Status)
		assert.False(t, v.IsLatest)
		assert.Equal(t, "missing Q1 extract", v.Notes)
	})

	t.Run("cannot decide a draft", func(t *testing.T) {
		v, err := NewVersion(id.EntitySamples, "e-1", testAuthor, samplePayload(), "", nil, testNow)
		require.NoError(t, err)

		err = v.CanDecide()
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidState, dErrors.CodeOf(err))
	})

	t.Run("supersede", func(t *testing.T) {
		v, err := NewVersion(id.EntitySamples, "e-1", testAuthor, samplePayload(), "", nil, testNow)
		require.NoError(t, err)
		v.ApplySubmit(submitter, later)
		v.ApplyApprove(approver, "", later)

		v.ApplySuperseded(later.Add(time.Hour))

		assert.Equal(t, StatusSuperseded, v.Status)
		assert.False(t, v.IsLatest)
	})
}

func TestClone(t *testing.T) {
	parent := id.NewVersionID()
	v, err := NewVersion(id.EntitySamples, "e-1", testAuthor, samplePayload(), "", &parent, testNow)
	require.NoError(t, err)
	v.ApplySubmit(testAuthor, testNow.Add(time.Hour))

	c := v.Clone()
	c.Payload["period"] = "2099-Q4"
	*c.SubmittedAt = testNow.Add(48 * time.Hour)
	*c.ParentID = id.NewVersionID()

	assert.Equal(t, "2025-Q1", v.Payload["period"])
	assert.Equal(t, testNow.Add(time.Hour), *v.SubmittedAt)
	assert.Equal(t, parent, *v.ParentID)
}
