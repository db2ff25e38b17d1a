// Package config holds the activity transition rule table. The defaults
// cover the standard workflow; deployments may override individual
// triggers from a YAML file without recompiling.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"examen/internal/activity/models"
	dErrors "examen/pkg/domain-errors"
)

// Rule permits one transition for a trigger. An empty Kind matches any
// activity kind.
type Rule struct {
	From models.Status `yaml:"from"`
	Kind models.Kind   `yaml:"kind,omitempty"`
	To   models.Status `yaml:"to"`
}

// Rules maps each trigger to the transitions it may perform.
type Rules map[models.Trigger][]Rule

// Default returns the built-in rule table.
//
// Auto triggers match from not_started as well as active: a submission
// completes the review activity even when nobody clicked start on it.
func Default() Rules {
	return Rules{
		models.TriggerManualStart: {
			{From: models.StatusNotStarted, To: models.StatusActive},
		},
		models.TriggerManualComplete: {
			{From: models.StatusActive, To: models.StatusCompleted},
		},
		models.TriggerManualSkip: {
			{From: models.StatusNotStarted, Kind: models.KindTask, To: models.StatusSkipped},
			{From: models.StatusActive, Kind: models.KindTask, To: models.StatusSkipped},
		},
		models.TriggerReset: {
			{From: models.StatusCompleted, To: models.StatusNotStarted},
		},
		models.TriggerOnSubmission: {
			{From: models.StatusActive, Kind: models.KindReview, To: models.StatusCompleted},
			{From: models.StatusNotStarted, Kind: models.KindReview, To: models.StatusCompleted},
		},
		models.TriggerOnApproval: {
			{From: models.StatusActive, Kind: models.KindApproval, To: models.StatusCompleted},
			{From: models.StatusNotStarted, Kind: models.KindApproval, To: models.StatusCompleted},
		},
	}
}

// Resolve returns the target status for firing trigger on an activity in
// the given state, or false when no rule matches.
func (r Rules) Resolve(trigger models.Trigger, from models.Status, kind models.Kind) (models.Status, bool) {
	for _, rule := range r[trigger] {
		if rule.From != from {
			continue
		}
		if rule.Kind != "" && rule.Kind != kind {
			continue
		}
		return rule.To, true
	}
	return "", false
}

// Validate checks every rule against the status machine's legality map.
func (r Rules) Validate() error {
	for trigger, rules := range r {
		if _, err := models.ParseTrigger(trigger.String()); err != nil {
			return err
		}
		for i, rule := range rules {
			if !rule.From.IsValid() || !rule.To.IsValid() {
				return dErrors.Newf(dErrors.CodeInvalidInput, "rule %d for trigger %q has an invalid status", i, trigger)
			}
			if rule.Kind != "" && !rule.Kind.IsValid() {
				return dErrors.Newf(dErrors.CodeInvalidInput, "rule %d for trigger %q has an invalid kind", i, trigger)
			}
			if !rule.From.CanTransitionTo(rule.To) {
				return dErrors.Newf(dErrors.CodeInvalidInput, "rule %d for trigger %q permits illegal transition %s -> %s", i, trigger, rule.From, rule.To)
			}
		}
	}
	return nil
}

type rulesFile struct {
	Transitions map[string][]Rule `yaml:"transitions"`
}

// Load reads rule overrides from path and merges them over the defaults.
// A trigger named in the file replaces that trigger's default rules
// entirely; triggers absent from the file keep the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Rules, error) {
	rules := Default()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read activity rules: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse activity rules: %w", err)
	}

	for name, overrides := range file.Transitions {
		trigger, err := models.ParseTrigger(name)
		if err != nil {
			return nil, err
		}
		rules[trigger] = overrides
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}
