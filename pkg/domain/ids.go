// Package domain holds typed identifiers and shared enums used across bounded
// contexts. Typed IDs prevent cross-type assignment at compile time; parse
// functions enforce validity at trust boundaries.
package domain

import (
	"regexp"

	"github.com/google/uuid"

	dErrors "examen/pkg/domain-errors"
)

// UUID-backed identifiers. Construct via the New*/Parse* functions; direct
// casting bypasses validation.
type (
	// ActorID identifies the human or service principal performing an action.
	ActorID uuid.UUID
	// PhaseID identifies one phase instance of one cycle-report.
	PhaseID uuid.UUID
	// ActivityID identifies one activity instance inside a phase.
	ActivityID uuid.UUID
	// VersionID identifies one version of a versioned artifact.
	VersionID uuid.UUID
	// EntryID identifies one audit trail entry.
	EntryID uuid.UUID
)

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

// NewActorID returns a fresh random ActorID.
func NewActorID() ActorID { return ActorID(uuid.New()) }

// ParseActorID validates and converts an external string into an ActorID.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ActorID{}, err
	}
	return ActorID(u), nil
}

// String returns the canonical UUID string.
func (id ActorID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the ID is unset.
func (id ActorID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText encodes the ID as its canonical UUID string. JSON encoding
// goes through here, so IDs appear as strings on the wire.
func (id ActorID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText decodes a canonical UUID string. Unlike ParseActorID it
// accepts the nil UUID, so any marshaled value decodes back; boundary
// validation stays with the parse functions.
func (id *ActorID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ActorID(u)
	return nil
}

// NewPhaseID returns a fresh random PhaseID.
func NewPhaseID() PhaseID { return PhaseID(uuid.New()) }

// ParsePhaseID validates and converts an external string into a PhaseID.
func ParsePhaseID(s string) (PhaseID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return PhaseID{}, err
	}
	return PhaseID(u), nil
}

func (id PhaseID) String() string { return uuid.UUID(id).String() }
func (id PhaseID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id PhaseID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *PhaseID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = PhaseID(u)
	return nil
}

// NewActivityID returns a fresh random ActivityID.
func NewActivityID() ActivityID { return ActivityID(uuid.New()) }

// ParseActivityID validates and converts an external string into an ActivityID.
func ParseActivityID(s string) (ActivityID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ActivityID{}, err
	}
	return ActivityID(u), nil
}

func (id ActivityID) String() string { return uuid.UUID(id).String() }
func (id ActivityID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id ActivityID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ActivityID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ActivityID(u)
	return nil
}

// NewVersionID returns a fresh random VersionID.
func NewVersionID() VersionID { return VersionID(uuid.New()) }

// ParseVersionID validates and converts an external string into a VersionID.
func ParseVersionID(s string) (VersionID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return VersionID{}, err
	}
	return VersionID(u), nil
}

func (id VersionID) String() string { return uuid.UUID(id).String() }
func (id VersionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id VersionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *VersionID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = VersionID(u)
	return nil
}

// NewEntryID returns a fresh random EntryID.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

// ParseEntryID validates and converts an external string into an EntryID.
func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return EntryID{}, err
	}
	return EntryID(u), nil
}

func (id EntryID) String() string { return uuid.UUID(id).String() }
func (id EntryID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id EntryID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *EntryID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = EntryID(u)
	return nil
}

// keyPattern bounds externally supplied business keys: lowercase tokens,
// at most 64 characters. Keys appear in URLs and store keys verbatim.
var keyPattern = regexp.MustCompile(`^[a-z0-9._-]{1,64}$`)

// String-backed business keys supplied by upstream systems (test cycles and
// reports are minted elsewhere; the core only references them).
type (
	// CycleID identifies a test cycle.
	CycleID string
	// ReportID identifies a report under test within a cycle.
	ReportID string
	// EntityID identifies a versioned artifact within its entity type.
	EntityID string
)

func parseKey(s, field string) (string, error) {
	if s == "" {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", field)
	}
	if !keyPattern.MatchString(s) {
		return "", dErrors.Newf(dErrors.CodeInvalidInput,
			"%s must be 1-64 lowercase letters, digits, '.', '_' or '-'", field)
	}
	return s, nil
}

// ParseCycleID validates an external cycle key.
func ParseCycleID(s string) (CycleID, error) {
	v, err := parseKey(s, "cycle_id")
	if err != nil {
		return "", err
	}
	return CycleID(v), nil
}

func (id CycleID) String() string { return string(id) }
func (id CycleID) IsNil() bool    { return id == "" }

// ParseReportID validates an external report key.
func ParseReportID(s string) (ReportID, error) {
	v, err := parseKey(s, "report_id")
	if err != nil {
		return "", err
	}
	return ReportID(v), nil
}

func (id ReportID) String() string { return string(id) }
func (id ReportID) IsNil() bool    { return id == "" }

// ParseEntityID validates an external entity key.
func ParseEntityID(s string) (EntityID, error) {
	v, err := parseKey(s, "entity_id")
	if err != nil {
		return "", err
	}
	return EntityID(v), nil
}

func (id EntityID) String() string { return string(id) }
func (id EntityID) IsNil() bool    { return id == "" }
