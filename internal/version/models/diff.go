package models

import (
	"encoding/json"
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"

	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// FieldChange is one payload key whose value differs between two versions.
// Patch carries a textual patch when both sides are strings, empty
// otherwise.
type FieldChange struct {
	Key   string `json:"key"`
	From  any    `json:"from"`
	To    any    `json:"to"`
	Patch string `json:"patch,omitempty"`
}

// Diff is the structural difference between two versions of one entity.
type Diff struct {
	EntityType id.EntityType `json:"entity_type"`
	EntityID   id.EntityID   `json:"entity_id"`
	FromID     id.VersionID  `json:"from_version_id"`
	FromNumber int           `json:"from_version"`
	ToID       id.VersionID  `json:"to_version_id"`
	ToNumber   int           `json:"to_version"`
	Added      []string      `json:"added"`
	Removed    []string      `json:"removed"`
	Changed    []FieldChange `json:"changed"`
}

// IsEmpty reports whether the two payloads are identical.
func (d *Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// ComputeDiff compares two versions of the same entity field by field. It is
// a pure function: no state is read or written. Values compare by their JSON
// encoding, so a payload read back from storage diffs clean against the one
// it was written from.
func ComputeDiff(from, to *EntityVersion) (*Diff, error) {
	if from == nil || to == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "both versions are required")
	}
	if from.EntityType != to.EntityType || from.EntityID != to.EntityID {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"cannot compare versions of different entities: %s %s vs %s %s",
			from.EntityType, from.EntityID, to.EntityType, to.EntityID)
	}

	d := &Diff{
		EntityType: from.EntityType,
		EntityID:   from.EntityID,
		FromID:     from.ID,
		FromNumber: from.Number,
		ToID:       to.ID,
		ToNumber:   to.Number,
	}

	keys := make(map[string]bool, len(from.Payload)+len(to.Payload))
	for k := range from.Payload {
		keys[k] = true
	}
	for k := range to.Payload {
		keys[k] = true
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	dmp := diffmatchpatch.New()
	for _, k := range ordered {
		fromVal, inFrom := from.Payload[k]
		toVal, inTo := to.Payload[k]
		switch {
		case !inFrom:
			d.Added = append(d.Added, k)
		case !inTo:
			d.Removed = append(d.Removed, k)
		default:
			fromEnc, err := encodeValue(fromVal)
			if err != nil {
				return nil, err
			}
			toEnc, err := encodeValue(toVal)
			if err != nil {
				return nil, err
			}
			if fromEnc == toEnc {
				continue
			}
			change := FieldChange{Key: k, From: fromVal, To: toVal}
			if fs, ok := fromVal.(string); ok {
				if ts, ok := toVal.(string); ok {
					diffs := dmp.DiffMain(fs, ts, false)
					change.Patch = dmp.PatchToText(dmp.PatchMake(fs, diffs))
				}
			}
			d.Changed = append(d.Changed, change)
		}
	}
	return d, nil
}

func encodeValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "payload value is not JSON-encodable")
	}
	return string(raw), nil
}
