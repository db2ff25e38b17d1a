package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"examen/internal/sla/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/httputil"
	"examen/pkg/requestcontext"
)

// Service defines the interface for deadline checks.
type Service interface {
	Check(ctx context.Context, phaseID id.PhaseID) (*models.Check, error)
}

// Handler wires the deadline standing endpoint to the tracker.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an SLA handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the SLA endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/phases/{phaseID}/sla", h.HandleCheck)
}

// HandleCheck handles GET /phases/{phaseID}/sla.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	phaseID, err := id.ParsePhaseID(chi.URLParam(r, "phaseID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	check, err := h.service.Check(ctx, phaseID)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "sla check failed", requestID, err,
			"phase_id", phaseID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromCheck(check))
}
