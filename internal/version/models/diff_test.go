package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

func buildVersion(t *testing.T, entityID id.EntityID, number int, payload map[string]any) *EntityVersion {
	t.Helper()
	v, err := NewVersion(id.EntityObservations, entityID, testAuthor, payload, "", nil, testNow)
	require.NoError(t, err)
	v.Number = number
	return v
}

func TestComputeDiff(t *testing.T) {
	t.Run("classifies added removed and changed keys", func(t *testing.T) {
		from := buildVersion(t, "obs-1", 1, map[string]any{
			"observations": []any{"OBS-1"},
			"severity":     "low",
			"owner":        "finance",
		})
		to := buildVersion(t, "obs-1", 2, map[string]any{
			"observations": []any{"OBS-1", "OBS-2"},
			"severity":     "high",
			"due":          "2025-04-30",
		})

		d, err := ComputeDiff(from, to)
		require.NoError(t, err)

		assert.Equal(t, []string{"due"}, d.Added)
		assert.Equal(t, []string{"owner"}, d.Removed)
		require.Len(t, d.Changed, 2)
		assert.Equal(t, "observations", d.Changed[0].Key)
		assert.Equal(t, "severity", d.Changed[1].Key)
		assert.Equal(t, 1, d.FromNumber)
		assert.Equal(t, 2, d.ToNumber)
		assert.False(t, d.IsEmpty())
	})

	t.Run("renders a patch for changed strings", func(t *testing.T) {
		from := buildVersion(t, "obs-1", 1, map[string]any{
			"observations": []any{},
			"summary":      "Controls operated effectively in Q1.",
		})
		to := buildVersion(t, "obs-1", 2, map[string]any{
			"observations": []any{},
			"summary":      "Controls operated effectively in Q2.",
		})

		d, err := ComputeDiff(from, to)
		require.NoError(t, err)

		require.Len(t, d.Changed, 1)
		change := d.Changed[0]
		assert.Equal(t, "summary", change.Key)
		assert.NotEmpty(t, change.Patch)
		assert.Contains(t, change.Patch, "@@")
	})

	t.Run("no patch for non-string values", func(t *testing.T) {
		from := buildVersion(t, "obs-1", 1, map[string]any{
			"observations": []any{"OBS-1"},
		})
		to := buildVersion(t, "obs-1", 2, map[string]any{
			"observations": []any{"OBS-2"},
		})

		d, err := ComputeDiff(from, to)
		require.NoError(t, err)
		require.Len(t, d.Changed, 1)
		assert.Empty(t, d.Changed[0].Patch)
	})

	t.Run("identical payloads diff empty", func(t *testing.T) {
		payload := map[string]any{"observations": []any{"OBS-1"}, "severity": "low"}
		from := buildVersion(t, "obs-1", 1, payload)
		to := buildVersion(t, "obs-1", 2, map[string]any{"severity": "low", "observations": []any{"OBS-1"}})

		d, err := ComputeDiff(from, to)
		require.NoError(t, err)
		assert.True(t, d.IsEmpty())
	})

	t.Run("values compare by JSON encoding", func(t *testing.T) {
		// A payload read back from storage carries float64 where the one it
		// was written from carried int.
		from := buildVersion(t, "obs-1", 1, map[string]any{"observations": []any{}, "count": 3})
		to := buildVersion(t, "obs-1", 2, map[string]any{"observations": []any{}, "count": float64(3)})

		d, err := ComputeDiff(from, to)
		require.NoError(t, err)
		assert.True(t, d.IsEmpty())
	})

	t.Run("rejects versions of different entities", func(t *testing.T) {
		from := buildVersion(t, "obs-1", 1, map[string]any{"observations": []any{}})
		to := buildVersion(t, "obs-2", 1, map[string]any{"observations": []any{}})

		_, err := ComputeDiff(from, to)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	t.Run("rejects nil versions", func(t *testing.T) {
		from := buildVersion(t, "obs-1", 1, map[string]any{"observations": []any{}})
		_, err := ComputeDiff(from, nil)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})
}
