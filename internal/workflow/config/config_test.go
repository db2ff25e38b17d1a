package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activitymodels "examen/internal/activity/models"
	id "examen/pkg/domain"
)

func writeTemplates(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultTemplates(t *testing.T) {
	templates := Default()
	require.NoError(t, templates.Validate())

	t.Run("covers every phase in order", func(t *testing.T) {
		for _, name := range id.OrderedPhases() {
			tpl, ok := templates.Get(name)
			require.True(t, ok, name)
			require.NotEmpty(t, tpl.Activities, name)
			assert.Equal(t, activitymodels.KindStart, tpl.Activities[0].Kind, name)
			assert.Equal(t, activitymodels.KindComplete, tpl.Activities[len(tpl.Activities)-1].Kind, name)
		}
	})

	t.Run("binds artifacts where the phase produces one", func(t *testing.T) {
		bindings := map[id.PhaseName]id.EntityType{
			id.PhasePlanning:        id.EntityAttributes,
			id.PhaseScoping:         id.EntityScopingDecisions,
			id.PhaseSampleSelect:    id.EntitySamples,
			id.PhaseDataOwnerID:     id.EntityAssignments,
			id.PhaseObservationMgmt: id.EntityObservations,
			id.PhaseTestReport:      id.EntityReportDraft,
		}
		for name, want := range bindings {
			tpl, _ := templates.Get(name)
			assert.Equal(t, want, tpl.Entity, name)
		}
		for _, name := range []id.PhaseName{id.PhaseRequestInfo, id.PhaseTestExecution} {
			tpl, _ := templates.Get(name)
			assert.True(t, tpl.Entity.IsNil(), name)
			for _, bp := range tpl.Activities {
				assert.NotEqual(t, activitymodels.KindReview, bp.Kind, name)
				assert.NotEqual(t, activitymodels.KindApproval, bp.Kind, name)
			}
		}
	})

	t.Run("only data owner identification overlaps its predecessor", func(t *testing.T) {
		for _, name := range id.OrderedPhases() {
			tpl, _ := templates.Get(name)
			assert.Equal(t, name == id.PhaseDataOwnerID, tpl.Parallel, name)
		}
	})
}

func TestValidateRejections(t *testing.T) {
	base := func() Templates { return Default() }

	t.Run("missing phase", func(t *testing.T) {
		templates := base()
		delete(templates, id.PhaseScoping)
		assert.Error(t, templates.Validate())
	})

	t.Run("review without an artifact", func(t *testing.T) {
		templates := base()
		templates[id.PhaseRequestInfo] = Template{
			Activities: []ActivityBlueprint{
				{Name: "open", Kind: activitymodels.KindStart},
				{Name: "review evidence", Kind: activitymodels.KindReview},
				{Name: "close", Kind: activitymodels.KindComplete},
			},
		}
		assert.Error(t, templates.Validate())
	})

	t.Run("closing activity out of place", func(t *testing.T) {
		templates := base()
		templates[id.PhaseTestExecution] = Template{
			Activities: []ActivityBlueprint{
				{Name: "open", Kind: activitymodels.KindStart},
				{Name: "close", Kind: activitymodels.KindComplete},
				{Name: "straggler", Kind: activitymodels.KindTask},
			},
		}
		assert.Error(t, templates.Validate())
	})

	t.Run("duplicate activity name", func(t *testing.T) {
		templates := base()
		templates[id.PhaseTestExecution] = Template{
			Activities: []ActivityBlueprint{
				{Name: "open", Kind: activitymodels.KindStart},
				{Name: "test", Kind: activitymodels.KindTask},
				{Name: "test", Kind: activitymodels.KindTask},
				{Name: "close", Kind: activitymodels.KindComplete},
			},
		}
		assert.Error(t, templates.Validate())
	})

	t.Run("parallel on the first phase", func(t *testing.T) {
		templates := base()
		tpl := templates[id.PhasePlanning]
		tpl.Parallel = true
		templates[id.PhasePlanning] = tpl
		assert.Error(t, templates.Validate())
	})
}

func TestLoad(t *testing.T) {
	t.Run("empty path keeps the defaults", func(t *testing.T) {
		templates, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), templates)
	})

	t.Run("override replaces one phase only", func(t *testing.T) {
		path := writeTemplates(t, `
phases:
  request_info:
    activities:
      - name: open request for information
        kind: START
      - name: issue information requests
        kind: TASK
      - name: close request for information
        kind: COMPLETE
`)
		templates, err := Load(path)
		require.NoError(t, err)

		tpl, ok := templates.Get(id.PhaseRequestInfo)
		require.True(t, ok)
		assert.Len(t, tpl.Activities, 3)

		planning, _ := templates.Get(id.PhasePlanning)
		assert.Equal(t, Default()[id.PhasePlanning], planning)
	})

	t.Run("unknown phase rejected", func(t *testing.T) {
		path := writeTemplates(t, `
phases:
  remediation:
    activities:
      - name: open
        kind: START
      - name: close
        kind: COMPLETE
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("structurally broken override rejected", func(t *testing.T) {
		path := writeTemplates(t, `
phases:
  test_execution:
    activities:
      - name: just one
        kind: TASK
`)
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file rejected", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
