package domain

import dErrors "examen/pkg/domain-errors"

// PhaseName identifies one of the fixed top-level stages of a testing cycle.
// Invariant: the value must be one of the supported phases.
//
// Usage: construct via ParsePhaseName at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type PhaseName string

// The fixed phase sequence, in process order.
const (
	PhasePlanning        PhaseName = "planning"
	PhaseScoping         PhaseName = "scoping"
	PhaseSampleSelect    PhaseName = "sample_selection"
	PhaseDataOwnerID     PhaseName = "data_owner_id"
	PhaseRequestInfo     PhaseName = "request_info"
	PhaseTestExecution   PhaseName = "test_execution"
	PhaseObservationMgmt PhaseName = "observation_mgmt"
	PhaseTestReport      PhaseName = "test_report"
)

// phaseOrder is the single source of truth for valid phases and their
// position in the process. Lower ordinals come first.
var phaseOrder = map[PhaseName]int{
	PhasePlanning:        0,
	PhaseScoping:         1,
	PhaseSampleSelect:    2,
	PhaseDataOwnerID:     3,
	PhaseRequestInfo:     4,
	PhaseTestExecution:   5,
	PhaseObservationMgmt: 6,
	PhaseTestReport:      7,
}

// orderedPhases lists phases by ordinal.
var orderedPhases = []PhaseName{
	PhasePlanning,
	PhaseScoping,
	PhaseSampleSelect,
	PhaseDataOwnerID,
	PhaseRequestInfo,
	PhaseTestExecution,
	PhaseObservationMgmt,
	PhaseTestReport,
}

// ParsePhaseName constructs a PhaseName from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported; no
// other errors are expected.
func ParsePhaseName(s string) (PhaseName, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "phase cannot be empty")
	}
	p := PhaseName(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown phase")
	}
	return p, nil
}

// IsValid checks if the phase name is one of the supported values.
func (p PhaseName) IsValid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Ordinal returns the phase's position in the process, starting at 0.
// Unknown phases report -1.
func (p PhaseName) Ordinal() int {
	ord, ok := phaseOrder[p]
	if !ok {
		return -1
	}
	return ord
}

// Before reports whether p comes strictly earlier in the process than other.
func (p PhaseName) Before(other PhaseName) bool {
	return p.IsValid() && other.IsValid() && p.Ordinal() < other.Ordinal()
}

// String returns the wire representation.
func (p PhaseName) String() string {
	return string(p)
}

// OrderedPhases returns all phases in process order. The returned slice is a
// copy; callers may mutate it.
func OrderedPhases() []PhaseName {
	out := make([]PhaseName, len(orderedPhases))
	copy(out, orderedPhases)
	return out
}
