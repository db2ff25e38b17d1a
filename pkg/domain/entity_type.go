package domain

import dErrors "examen/pkg/domain-errors"

// EntityType names the kind of versioned artifact a phase produces
// (attribute set, scoping decision set, sample batch, assignment set,
// observation group). The version engine is generic over entity types, so
// this is a validated open token rather than a closed enum; phase templates
// bind the well-known values.
type EntityType string

// Entity types bound by the built-in phase templates.
const (
	EntityAttributes       EntityType = "attributes"
	EntityScopingDecisions EntityType = "scoping_decisions"
	EntitySamples          EntityType = "samples"
	EntityAssignments      EntityType = "assignments"
	EntityObservations     EntityType = "observations"
	EntityReportDraft      EntityType = "report_draft"
)

// ParseEntityType validates an external entity type token.
//
// Errors: returns CodeInvalidInput when the value is empty or not a lowercase
// token of at most 64 characters.
func ParseEntityType(s string) (EntityType, error) {
	v, err := parseKey(s, "entity_type")
	if err != nil {
		return "", err
	}
	return EntityType(v), nil
}

// String returns the wire representation.
func (t EntityType) String() string {
	return string(t)
}

// IsNil reports whether the entity type is unset.
func (t EntityType) IsNil() bool {
	return t == ""
}
