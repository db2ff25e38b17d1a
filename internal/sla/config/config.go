// Package config holds the per-phase SLA budgets. Budgets ship with code
// defaults and may be overridden from a YAML file at startup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"examen/internal/sla/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// Rules maps each phase to its duration budget.
type Rules map[id.PhaseName]models.Config

// DefaultRules returns the built-in budgets. All phases run on business
// hours; the execution and reporting phases escalate on breach.
func DefaultRules() Rules {
	return Rules{
		id.PhasePlanning:        {Hours: 40, BusinessHoursOnly: true},
		id.PhaseScoping:         {Hours: 40, BusinessHoursOnly: true},
		id.PhaseSampleSelect:    {Hours: 80, BusinessHoursOnly: true},
		id.PhaseDataOwnerID:     {Hours: 40, BusinessHoursOnly: true},
		id.PhaseRequestInfo:     {Hours: 80, BusinessHoursOnly: true},
		id.PhaseTestExecution:   {Hours: 120, BusinessHoursOnly: true, Escalate: true},
		id.PhaseObservationMgmt: {Hours: 80, BusinessHoursOnly: true},
		id.PhaseTestReport:      {Hours: 40, BusinessHoursOnly: true, Escalate: true},
	}
}

// Load reads budget overrides from a YAML file keyed by phase name and
// overlays them on the defaults. An empty path returns the defaults.
func Load(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sla rules: %w", err)
	}

	var raw map[string]models.Config
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse sla rules: %w", err)
	}

	for name, cfg := range raw {
		phase, err := id.ParsePhaseName(name)
		if err != nil {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "sla rules: unknown phase %q", name)
		}
		if err := cfg.Validate(); err != nil {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "sla rules: phase %q: %s", name, dErrors.Message(err))
		}
		rules[phase] = cfg
	}
	return rules, nil
}

// For returns the budget for a phase.
func (r Rules) For(phase id.PhaseName) (models.Config, bool) {
	cfg, ok := r[phase]
	return cfg, ok
}
