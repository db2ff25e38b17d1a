// Package service implements the audit recorder: the append-only log of every
// state transition. Mutating services record inside their store transaction,
// so a state change and its audit entry commit atomically or not at all.
package service

import (
	"context"
	"io"
	"log/slog"

	"examen/internal/audit/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
	"examen/pkg/requestcontext"
)

// Store persists audit entries. Append assigns Seq; ListBySubject returns
// entries with Seq > afterSeq in ascending Seq order, at most limit of them.
type Store interface {
	Append(ctx context.Context, entry *models.Entry) error
	ListBySubject(ctx context.Context, subjectType models.SubjectType, subjectID string, afterSeq int64, limit int) ([]*models.Entry, error)
}

// Recorder is the audit trail entry point.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordRequest describes one state transition to log. FromState may be
// empty for creation events.
type RecordRequest struct {
	SubjectType models.SubjectType
	SubjectID   string
	FromState   string
	ToState     string
	Trigger     string
	ActorID     id.ActorID
	Context     string
}

// Record validates, stamps and appends one entry. The entry inherits the
// request-scoped timestamp, request ID and client summary from ctx. A store
// failure surfaces as CodePersistence; the caller's transaction must roll
// back so no state change commits without its audit entry.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (id.EntryID, error) {
	entry, err := models.NewEntry(
		req.SubjectType,
		req.SubjectID,
		req.FromState,
		req.ToState,
		req.Trigger,
		req.ActorID,
		requestcontext.Now(ctx),
	)
	if err != nil {
		return id.EntryID{}, err
	}
	entry.Context = req.Context
	entry.RequestID = requestcontext.RequestID(ctx)
	entry.ClientInfo = requestcontext.ClientSummary(ctx)

	if err := r.store.Append(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "audit append failed",
			"subject_type", entry.SubjectType.String(),
			"subject_id", entry.SubjectID,
			"trigger", entry.Trigger,
			"error", err,
		)
		return id.EntryID{}, dErrors.Wrap(err, dErrors.CodePersistence, "audit store unavailable")
	}

	r.logger.DebugContext(ctx, "audit entry recorded",
		"log_type", "audit",
		"entry_id", entry.ID.String(),
		"subject_type", entry.SubjectType.String(),
		"subject_id", entry.SubjectID,
		"from_state", entry.FromState,
		"to_state", entry.ToState,
		"trigger", entry.Trigger,
	)
	return entry.ID, nil
}

// History returns a lazy, forward-only iterator over the subject's entries in
// append order. The iterator is restartable: Restart rewinds to the first
// entry without re-reading anything already buffered.
func (r *Recorder) History(subjectType models.SubjectType, subjectID string) (*HistoryIterator, error) {
	if !subjectType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown subject_type")
	}
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject_id cannot be empty")
	}
	return &HistoryIterator{
		store:       r.store,
		subjectType: subjectType,
		subjectID:   subjectID,
	}, nil
}
