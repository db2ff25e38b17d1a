package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examen/pkg/domain"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sla.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	for _, phase := range id.OrderedPhases() {
		cfg, ok := rules.For(phase)
		require.True(t, ok, "phase %s has no budget", phase)
		assert.Positive(t, cfg.Hours)
		assert.True(t, cfg.BusinessHoursOnly)
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		rules, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultRules(), rules)
	})

	t.Run("file overlays defaults", func(t *testing.T) {
		path := writeRules(t, `
planning:
  hours: 16
  business_hours_only: false
  escalate: true
`)
		rules, err := Load(path)
		require.NoError(t, err)

		planning, _ := rules.For(id.PhasePlanning)
		assert.Equal(t, 16, planning.Hours)
		assert.False(t, planning.BusinessHoursOnly)
		assert.True(t, planning.Escalate)

		// Untouched phases keep their defaults.
		scoping, _ := rules.For(id.PhaseScoping)
		assert.Equal(t, DefaultRules()[id.PhaseScoping], scoping)
	})

	t.Run("unknown phase is rejected", func(t *testing.T) {
		path := writeRules(t, "deployment:\n  hours: 8\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("non-positive budget is rejected", func(t *testing.T) {
		path := writeRules(t, "planning:\n  hours: 0\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file is rejected", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
