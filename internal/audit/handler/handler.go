package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"examen/internal/audit/models"
	"examen/internal/audit/service"
	"examen/pkg/platform/httputil"
	"examen/pkg/requestcontext"
)

// Service defines the interface for audit trail reads.
type Service interface {
	History(subjectType models.SubjectType, subjectID string) (*service.HistoryIterator, error)
	ReplaySubject(ctx context.Context, subjectType models.SubjectType, subjectID string) (*service.ReplayedState, error)
}

// Handler wires audit trail endpoints to the recorder.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an audit handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/audit/{subjectType}/{subjectID}", func(r chi.Router) {
		r.Get("/", h.HandleHistory)
		r.Get("/replay", h.HandleReplay)
	})
}

func parseSubject(r *http.Request) (models.SubjectType, string, error) {
	subjectType, err := models.ParseSubjectType(chi.URLParam(r, "subjectType"))
	if err != nil {
		return "", "", err
	}
	return subjectType, chi.URLParam(r, "subjectID"), nil
}

// HandleHistory handles GET /audit/{subjectType}/{subjectID}. Entries come
// back in append order, the full trail in one response.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	subjectType, subjectID, err := parseSubject(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	it, err := h.service.History(subjectType, subjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := it.Collect(ctx)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "audit history read failed", requestID, err,
			"subject_type", subjectType,
			"subject_id", subjectID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Entries:     entries,
	})
}

// HandleReplay handles GET /audit/{subjectType}/{subjectID}/replay. The
// response is the state reconstructed purely from the trail, which callers
// can hold against the live record.
func (h *Handler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	subjectType, subjectID, err := parseSubject(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	state, err := h.service.ReplaySubject(ctx, subjectType, subjectID)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "audit replay failed", requestID, err,
			"subject_type", subjectType,
			"subject_id", subjectID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromReplayedState(state))
}
