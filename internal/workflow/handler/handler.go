package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"examen/internal/platform/middleware"
	"examen/internal/workflow/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
	"examen/pkg/platform/httputil"
	"examen/pkg/requestcontext"
)

// Service defines the interface for phase lifecycle operations.
type Service interface {
	StartPhase(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, actor id.ActorID) (*models.PhaseInstance, error)
	CompletePhase(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, actor id.ActorID) (*models.PhaseInstance, error)
	OverridePhase(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, actor id.ActorID, reason string) (*models.PhaseInstance, error)
	SkipPhase(ctx context.Context, cycleID id.CycleID, reportID id.ReportID, name id.PhaseName, actor id.ActorID, reason string) (*models.PhaseInstance, error)
	Status(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) (*models.Snapshot, error)
}

// Handler wires phase lifecycle endpoints to the orchestrator.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a workflow handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts phase endpoints on the router. Override force-completes a
// phase past its activity checks, so it additionally requires the admin role.
func (h *Handler) Register(r chi.Router) {
	r.Route("/cycles/{cycleID}/reports/{reportID}", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Route("/phases/{phaseName}", func(r chi.Router) {
			r.Post("/start", h.HandleStartPhase)
			r.Post("/complete", h.HandleCompletePhase)
			r.With(middleware.RequireRole("admin", h.logger)).Post("/override", h.HandleOverridePhase)
			r.Post("/skip", h.HandleSkipPhase)
		})
	})
}

// phaseRef is the parsed address of one phase of one cycle-report.
type phaseRef struct {
	cycleID  id.CycleID
	reportID id.ReportID
	name     id.PhaseName
}

func parseReportRef(r *http.Request) (id.CycleID, id.ReportID, error) {
	cycleID, err := id.ParseCycleID(chi.URLParam(r, "cycleID"))
	if err != nil {
		return "", "", err
	}
	reportID, err := id.ParseReportID(chi.URLParam(r, "reportID"))
	if err != nil {
		return "", "", err
	}
	return cycleID, reportID, nil
}

func parsePhaseRef(r *http.Request) (phaseRef, error) {
	cycleID, reportID, err := parseReportRef(r)
	if err != nil {
		return phaseRef{}, err
	}
	name, err := id.ParsePhaseName(chi.URLParam(r, "phaseName"))
	if err != nil {
		return phaseRef{}, err
	}
	return phaseRef{cycleID: cycleID, reportID: reportID, name: name}, nil
}

// HandleStartPhase handles POST /cycles/{cycleID}/reports/{reportID}/phases/{phaseName}/start.
func (h *Handler) HandleStartPhase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	ref, err := parsePhaseRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	inst, err := h.service.StartPhase(ctx, ref.cycleID, ref.reportID, ref.name, actor)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "phase start failed", requestID, err,
			"cycle_id", ref.cycleID,
			"report_id", ref.reportID,
			"phase", ref.name,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "phase started",
		"request_id", requestID,
		"cycle_id", ref.cycleID,
		"report_id", ref.reportID,
		"phase", ref.name,
	)
	httputil.WriteJSON(w, http.StatusOK, inst)
}

// HandleCompletePhase handles POST /cycles/{cycleID}/reports/{reportID}/phases/{phaseName}/complete.
func (h *Handler) HandleCompletePhase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	ref, err := parsePhaseRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	inst, err := h.service.CompletePhase(ctx, ref.cycleID, ref.reportID, ref.name, actor)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "phase completion failed", requestID, err,
			"cycle_id", ref.cycleID,
			"report_id", ref.reportID,
			"phase", ref.name,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "phase completed",
		"request_id", requestID,
		"cycle_id", ref.cycleID,
		"report_id", ref.reportID,
		"phase", ref.name,
	)
	httputil.WriteJSON(w, http.StatusOK, inst)
}

// HandleOverridePhase handles POST /cycles/{cycleID}/reports/{reportID}/phases/{phaseName}/override.
func (h *Handler) HandleOverridePhase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	ref, err := parsePhaseRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[OverridePhaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	inst, err := h.service.OverridePhase(ctx, ref.cycleID, ref.reportID, ref.name, actor, req.Reason)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "phase override failed", requestID, err,
			"cycle_id", ref.cycleID,
			"report_id", ref.reportID,
			"phase", ref.name,
		)
		httputil.WriteError(w, err)
		return
	}

	// Overrides bypass activity checks; log them louder than routine starts.
	h.logger.WarnContext(ctx, "phase overridden",
		"request_id", requestID,
		"cycle_id", ref.cycleID,
		"report_id", ref.reportID,
		"phase", ref.name,
		"actor_id", actor,
		"reason", req.Reason,
	)
	httputil.WriteJSON(w, http.StatusOK, inst)
}

// HandleSkipPhase handles POST /cycles/{cycleID}/reports/{reportID}/phases/{phaseName}/skip.
func (h *Handler) HandleSkipPhase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	ref, err := parsePhaseRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[SkipPhaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	inst, err := h.service.SkipPhase(ctx, ref.cycleID, ref.reportID, ref.name, actor, req.Reason)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "phase skip failed", requestID, err,
			"cycle_id", ref.cycleID,
			"report_id", ref.reportID,
			"phase", ref.name,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "phase skipped",
		"request_id", requestID,
		"cycle_id", ref.cycleID,
		"report_id", ref.reportID,
		"phase", ref.name,
		"reason", req.Reason,
	)
	httputil.WriteJSON(w, http.StatusOK, inst)
}

// HandleStatus handles GET /cycles/{cycleID}/reports/{reportID}/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	cycleID, reportID, err := parseReportRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	snap, err := h.service.Status(ctx, cycleID, reportID)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "status read failed", requestID, err,
			"cycle_id", cycleID,
			"report_id", reportID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, snap)
}
