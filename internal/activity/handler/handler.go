package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"examen/internal/activity/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
	"examen/pkg/platform/httputil"
	"examen/pkg/requestcontext"
)

// Service defines the interface for activity operations.
type Service interface {
	Get(ctx context.Context, activityID id.ActivityID) (*models.Instance, error)
	ListByPhase(ctx context.Context, phaseID id.PhaseID) ([]*models.Instance, error)
	Start(ctx context.Context, activityID id.ActivityID, actor id.ActorID) (*models.Instance, error)
	Complete(ctx context.Context, activityID id.ActivityID, actor id.ActorID) (*models.Instance, error)
	Skip(ctx context.Context, activityID id.ActivityID, actor id.ActorID, reason string) (*models.Instance, error)
	Reset(ctx context.Context, activityID id.ActivityID, actor id.ActorID) ([]*models.Instance, error)
}

// Handler wires activity endpoints to the activity manager.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an activity handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts activity endpoints on the router. Activities are addressed
// by their instance id alone; the phase listing is the discovery path.
func (h *Handler) Register(r chi.Router) {
	r.Get("/phases/{phaseID}/activities", h.HandleList)
	r.Route("/activities/{activityID}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Post("/start", h.HandleStart)
		r.Post("/complete", h.HandleComplete)
		r.Post("/skip", h.HandleSkip)
		r.Post("/reset", h.HandleReset)
	})
}

func parseActivityID(r *http.Request) (id.ActivityID, error) {
	return id.ParseActivityID(chi.URLParam(r, "activityID"))
}

// HandleList handles GET /phases/{phaseID}/activities.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	phaseID, err := id.ParsePhaseID(chi.URLParam(r, "phaseID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	list, err := h.service.ListByPhase(ctx, phaseID)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "activity listing failed", requestID, err,
			"phase_id", phaseID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ActivityListResponse{Activities: list})
}

// HandleGet handles GET /activities/{activityID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	activityID, err := parseActivityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	a, err := h.service.Get(ctx, activityID)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "activity read failed", requestID, err,
			"activity_id", activityID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, a)
}

// HandleStart handles POST /activities/{activityID}/start.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "activity started", "activity start failed", h.service.Start)
}

// HandleComplete handles POST /activities/{activityID}/complete.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "activity completed", "activity completion failed", h.service.Complete)
}

// transition runs one bodyless lifecycle call shared by start and complete.
func (h *Handler) transition(
	w http.ResponseWriter,
	r *http.Request,
	okMsg, failMsg string,
	call func(ctx context.Context, activityID id.ActivityID, actor id.ActorID) (*models.Instance, error),
) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	activityID, err := parseActivityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	a, err := call(ctx, activityID, actor)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, failMsg, requestID, err,
			"activity_id", activityID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, okMsg,
		"request_id", requestID,
		"activity_id", activityID,
		"phase_id", a.PhaseID,
		"status", a.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, a)
}

// HandleSkip handles POST /activities/{activityID}/skip.
func (h *Handler) HandleSkip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	activityID, err := parseActivityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[SkipActivityRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	a, err := h.service.Skip(ctx, activityID, actor, req.Reason)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "activity skip failed", requestID, err,
			"activity_id", activityID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "activity skipped",
		"request_id", requestID,
		"activity_id", activityID,
		"phase_id", a.PhaseID,
		"reason", req.Reason,
	)
	httputil.WriteJSON(w, http.StatusOK, a)
}

// HandleReset handles POST /activities/{activityID}/reset. The response
// carries every activity the cascade touched, the target first.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	activityID, err := parseActivityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	reset, err := h.service.Reset(ctx, activityID, actor)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "activity reset failed", requestID, err,
			"activity_id", activityID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "activity reset",
		"request_id", requestID,
		"activity_id", activityID,
		"cascade_size", len(reset),
	)
	httputil.WriteJSON(w, http.StatusOK, ActivityListResponse{Activities: reset})
}
