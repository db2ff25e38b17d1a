// Package config holds the phase templates: which activities each phase
// materializes, which artifact it produces and whether it may overlap its
// predecessor. The defaults describe the standard testing workflow;
// deployments may override individual phases from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	activitymodels "examen/internal/activity/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// ActivityBlueprint describes one activity to materialize when its phase
// starts. Review and approval activities are bound to the phase's artifact
// at materialization time.
type ActivityBlueprint struct {
	Name     string              `yaml:"name"`
	Kind     activitymodels.Kind `yaml:"kind"`
	Optional bool                `yaml:"optional,omitempty"`
}

// Template is the static shape of one phase. Parallel marks a phase that
// may start while its immediate predecessor is still in progress.
type Template struct {
	Entity     id.EntityType       `yaml:"entity,omitempty"`
	Parallel   bool                `yaml:"parallel,omitempty"`
	Activities []ActivityBlueprint `yaml:"activities"`
}

// Templates maps each phase to its template. Every phase in the process
// order has exactly one entry.
type Templates map[id.PhaseName]Template

// Default returns the built-in templates.
//
// Review and approval activities appear only on phases that produce a
// versioned artifact; phases without one carry manual tasks end to end.
// Data owner identification runs in parallel with sample selection.
func Default() Templates {
	return Templates{
		id.PhasePlanning: {
			Entity: id.EntityAttributes,
			Activities: []ActivityBlueprint{
				{Name: "open planning", Kind: activitymodels.KindStart},
				{Name: "draft attribute list", Kind: activitymodels.KindTask},
				{Name: "map regulatory references", Kind: activitymodels.KindTask, Optional: true},
				{Name: "review attributes", Kind: activitymodels.KindReview},
				{Name: "approve attributes", Kind: activitymodels.KindApproval},
				{Name: "close planning", Kind: activitymodels.KindComplete},
			},
		},
		id.PhaseScoping: {
			Entity: id.EntityScopingDecisions,
			Activities: []ActivityBlueprint{
				{Name: "open scoping", Kind: activitymodels.KindStart},
				{Name: "assess inherent risk", Kind: activitymodels.KindTask},
				{Name: "record scoping decisions", Kind: activitymodels.KindTask},
				{Name: "review scoping decisions", Kind: activitymodels.KindReview},
				{Name: "approve scoping decisions", Kind: activitymodels.KindApproval},
				{Name: "close scoping", Kind: activitymodels.KindComplete},
			},
		},
		id.PhaseSampleSelect: {
			Entity: id.EntitySamples,
			Activities: []ActivityBlueprint{
				{Name: "open sample selection", Kind: activitymodels.KindStart},
				{Name: "pull population", Kind: activitymodels.KindTask},
				{Name: "draw sample batch", Kind: activitymodels.KindTask},
				{Name: "document sampling rationale", Kind: activitymodels.KindTask, Optional: true},
				{Name: "review sample batch", Kind: activitymodels.KindReview},
				{Name: "approve sample batch", Kind: activitymodels.KindApproval},
				{Name: "close sample selection", Kind: activitymodels.KindComplete},
			},
		},
		id.PhaseDataOwnerID: {
			Entity:   id.EntityAssignments,
			Parallel: true,
			Activities: []ActivityBlueprint{
				{Name: "open data owner identification", Kind: activitymodels.KindStart},
				{Name: "identify data owners", Kind: activitymodels.KindTask},
				{Name: "record assignments", Kind: activitymodels.KindTask},
				{Name: "review assignments", Kind: activitymodels.KindReview},
				{Name: "approve assignments", Kind: activitymodels.KindApproval},
				{Name: "close data owner identification", Kind: activitymodels.KindComplete},
			},
		},
		id.PhaseRequestInfo: {
			Activities: []ActivityBlueprint{
				{Name: "open request for information", Kind: activitymodels.KindStart},
				{Name: "issue information requests", Kind: activitymodels.KindTask},
				{Name: "chase outstanding requests", Kind: activitymodels.KindTask, Optional: true},
				{Name: "confirm evidence received", Kind: activitymodels.KindTask},
				{Name: "close request for information", Kind: activitymodels.KindComplete},
			},
		},
		id.PhaseTestExecution: {
			Activities: []ActivityBlueprint{
				{Name: "open test execution", Kind: activitymodels.KindStart},
				{Name: "execute test procedures", Kind: activitymodels.KindTask},
				{Name: "record exceptions", Kind: activitymodels.KindTask, Optional: true},
				{Name: "summarize results", Kind: activitymodels.KindTask},
				{Name: "close test execution", Kind: activitymodels.KindComplete},
			},
		},
		id.PhaseObservationMgmt: {
			Entity: id.EntityObservations,
			Activities: []ActivityBlueprint{
				{Name: "open observation management", Kind: activitymodels.KindStart},
				{Name: "draft observations", Kind: activitymodels.KindTask},
				{Name: "discuss with process owners", Kind: activitymodels.KindTask, Optional: true},
				{Name: "review observations", Kind: activitymodels.KindReview},
				{Name: "approve observations", Kind: activitymodels.KindApproval},
				{Name: "close observation management", Kind: activitymodels.KindComplete},
			},
		},
		id.PhaseTestReport: {
			Entity: id.EntityReportDraft,
			Activities: []ActivityBlueprint{
				{Name: "open test report", Kind: activitymodels.KindStart},
				{Name: "assemble report draft", Kind: activitymodels.KindTask},
				{Name: "review report draft", Kind: activitymodels.KindReview},
				{Name: "approve report draft", Kind: activitymodels.KindApproval},
				{Name: "issue final report", Kind: activitymodels.KindComplete},
			},
		},
	}
}

// Get returns the template for a phase.
func (t Templates) Get(name id.PhaseName) (Template, bool) {
	tpl, ok := t[name]
	return tpl, ok
}

// Validate checks structural soundness: every phase in the process order is
// covered, activity lists open with START and close with COMPLETE, names
// are unique, and review/approval activities only appear on phases that
// produce an artifact.
func (t Templates) Validate() error {
	for _, name := range id.OrderedPhases() {
		tpl, ok := t[name]
		if !ok {
			return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s has no template", name)
		}
		if err := tpl.validate(name); err != nil {
			return err
		}
	}
	for name := range t {
		if !name.IsValid() {
			return dErrors.Newf(dErrors.CodeInvalidInput, "template for unknown phase %q", name)
		}
	}
	return nil
}

func (tpl Template) validate(name id.PhaseName) error {
	if len(tpl.Activities) < 2 {
		return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s needs at least an opening and a closing activity", name)
	}
	if tpl.Parallel && name.Ordinal() == 0 {
		return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s has no predecessor to run parallel with", name)
	}
	if !tpl.Entity.IsNil() {
		if _, err := id.ParseEntityType(tpl.Entity.String()); err != nil {
			return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s binds invalid entity type %q", name, tpl.Entity)
		}
	}

	seen := make(map[string]bool, len(tpl.Activities))
	for i, bp := range tpl.Activities {
		if bp.Name == "" {
			return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s activity %d has no name", name, i)
		}
		if seen[bp.Name] {
			return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s repeats activity %q", name, bp.Name)
		}
		seen[bp.Name] = true
		if !bp.Kind.IsValid() {
			return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s activity %q has invalid kind %q", name, bp.Name, bp.Kind)
		}

		switch bp.Kind {
		case activitymodels.KindStart:
			if i != 0 {
				return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s has %q out of place, START must come first", name, bp.Name)
			}
		case activitymodels.KindComplete:
			if i != len(tpl.Activities)-1 {
				return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s has %q out of place, COMPLETE must come last", name, bp.Name)
			}
		case activitymodels.KindReview, activitymodels.KindApproval:
			if tpl.Entity.IsNil() {
				return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s has %s activity %q but produces no artifact", name, bp.Kind, bp.Name)
			}
		}
	}
	if tpl.Activities[0].Kind != activitymodels.KindStart {
		return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s must open with a START activity", name)
	}
	if tpl.Activities[len(tpl.Activities)-1].Kind != activitymodels.KindComplete {
		return dErrors.Newf(dErrors.CodeInvalidInput, "phase %s must close with a COMPLETE activity", name)
	}
	return nil
}

type templatesFile struct {
	Phases map[string]Template `yaml:"phases"`
}

// Load reads template overrides from path and merges them over the
// defaults. A phase named in the file replaces that phase's template
// entirely; phases absent from the file keep the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Templates, error) {
	templates := Default()
	if path == "" {
		return templates, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase templates: %w", err)
	}

	var file templatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse phase templates: %w", err)
	}

	for name, override := range file.Phases {
		phase, err := id.ParsePhaseName(name)
		if err != nil {
			return nil, err
		}
		templates[phase] = override
	}

	if err := templates.Validate(); err != nil {
		return nil, err
	}
	return templates, nil
}
