package service

import (
	"context"
	"time"

	"examen/internal/audit/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// historyPageSize bounds one store read. The iterator fetches lazily, so
// callers replaying long histories never hold the full trail in memory.
const historyPageSize = 100

// HistoryIterator walks a subject's audit trail in append order.
//
// Usage:
//
//	it, err := recorder.History(models.SubjectActivity, activityID.String())
//	for it.Next(ctx) {
//		entry := it.Entry()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type HistoryIterator struct {
	store       Store
	subjectType models.SubjectType
	subjectID   string

	buf      []*models.Entry
	pos      int
	afterSeq int64
	done     bool
	err      error
	current  *models.Entry
}

// Next advances to the next entry, fetching the next page when the buffer is
// exhausted. Returns false at the end of the trail or on error.
func (it *HistoryIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if it.pos >= len(it.buf) {
		if it.done {
			return false
		}
		page, err := it.store.ListBySubject(ctx, it.subjectType, it.subjectID, it.afterSeq, historyPageSize)
		if err != nil {
			it.err = dErrors.Wrap(err, dErrors.CodePersistence, "audit history read failed")
			return false
		}
		if len(page) == 0 {
			it.done = true
			return false
		}
		if len(page) < historyPageSize {
			it.done = true
		}
		it.buf = page
		it.pos = 0
		it.afterSeq = page[len(page)-1].Seq
	}
	it.current = it.buf[it.pos]
	it.pos++
	return true
}

// Entry returns the entry positioned by the last successful Next.
func (it *HistoryIterator) Entry() *models.Entry {
	return it.current
}

// Err reports the first error encountered, if any.
func (it *HistoryIterator) Err() error {
	return it.err
}

// Restart rewinds the iterator to the beginning of the trail.
func (it *HistoryIterator) Restart() {
	it.buf = nil
	it.pos = 0
	it.afterSeq = 0
	it.done = false
	it.err = nil
	it.current = nil
}

// Collect drains the iterator into a slice. Convenience for handlers and
// tests; prefer iterating for long trails.
func (it *HistoryIterator) Collect(ctx context.Context) ([]*models.Entry, error) {
	var out []*models.Entry
	for it.Next(ctx) {
		out = append(out, it.Entry())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplayedState is the result of folding a subject's audit trail.
type ReplayedState struct {
	SubjectType models.SubjectType
	SubjectID   string
	Current     string
	Transitions int
	LastTrigger string
	LastActor   id.ActorID
	LastAt      time.Time
}

// Replay folds an ordered audit trail into the subject's final state. The
// trail is the sole source of historical truth: replaying it must
// reconstruct the subject's current state exactly. A gap in the chain (an
// entry whose FromState is not the previous ToState) is an invariant
// violation.
func Replay(entries []*models.Entry) (*ReplayedState, error) {
	if len(entries) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no audit entries for subject")
	}

	state := &ReplayedState{
		SubjectType: entries[0].SubjectType,
		SubjectID:   entries[0].SubjectID,
	}
	prevTo := entries[0].FromState
	for i, e := range entries {
		if e.SubjectType != state.SubjectType || e.SubjectID != state.SubjectID {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "audit trail mixes subjects")
		}
		// Creation entries restart the chain from an empty FromState.
		if i > 0 && e.FromState != prevTo {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
				"audit chain broken at seq %d: from_state %q does not follow %q",
				e.Seq, e.FromState, prevTo)
		}
		prevTo = e.ToState
		state.Current = e.ToState
		state.Transitions++
		state.LastTrigger = e.Trigger
		state.LastActor = e.ActorID
		state.LastAt = e.Timestamp
	}
	return state, nil
}

// ReplaySubject reads the full trail via the iterator and folds it.
func (r *Recorder) ReplaySubject(ctx context.Context, subjectType models.SubjectType, subjectID string) (*ReplayedState, error) {
	it, err := r.History(subjectType, subjectID)
	if err != nil {
		return nil, err
	}
	entries, err := it.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return Replay(entries)
}
