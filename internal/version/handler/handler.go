package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"examen/internal/version/models"
	"examen/internal/version/service"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
	"examen/pkg/platform/httputil"
	"examen/pkg/requestcontext"
)

// Service defines the interface for version operations.
type Service interface {
	Create(ctx context.Context, req service.CreateRequest) (*models.EntityVersion, error)
	Submit(ctx context.Context, versionID id.VersionID, submitter id.ActorID) (*models.EntityVersion, error)
	Decide(ctx context.Context, req service.DecideRequest) (*models.EntityVersion, error)
	Revert(ctx context.Context, req service.RevertRequest) (*models.EntityVersion, error)
	History(ctx context.Context, entityType id.EntityType, entityID id.EntityID) ([]*models.EntityVersion, error)
	Latest(ctx context.Context, entityType id.EntityType, entityID id.EntityID) (*models.EntityVersion, error)
	Compare(ctx context.Context, fromID, toID id.VersionID) (*models.Diff, error)
}

// Handler wires version endpoints to the version manager.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a version handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts version endpoints on the router. Static segments (revert,
// compare) are registered alongside the parameterized routes; chi matches
// them first.
func (h *Handler) Register(r chi.Router) {
	r.Route("/versions", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Post("/revert", h.HandleRevert)
		r.Post("/{versionID}/submit", h.HandleSubmit)
		r.Post("/{versionID}/decide", h.HandleDecide)
		r.Get("/compare", h.HandleCompare)
		r.Get("/{entityType}/{entityID}/history", h.HandleHistory)
		r.Get("/{entityType}/{entityID}/latest", h.HandleLatest)
	})
}

// RegisterIngest mounts the system-to-system create endpoint. The route is
// meant to sit behind the service key middleware instead of user auth, so
// the author travels in the body rather than in a token.
func (h *Handler) RegisterIngest(r chi.Router) {
	r.Post("/ingest/versions", h.HandleIngest)
}

func parseEntityRef(r *http.Request) (id.EntityType, id.EntityID, error) {
	entityType, err := id.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		return "", "", err
	}
	entityID, err := id.ParseEntityID(chi.URLParam(r, "entityID"))
	if err != nil {
		return "", "", err
	}
	return entityType, entityID, nil
}

// HandleCreate handles POST /versions.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[CreateVersionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	v, err := h.service.Create(ctx, service.CreateRequest{
		EntityType: req.ParsedEntityType(),
		EntityID:   req.ParsedEntityID(),
		Author:     actor,
		Payload:    req.Payload,
		Reason:     req.Reason,
	})
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "version creation failed", requestID, err,
			"entity_type", req.EntityType,
			"entity_id", req.EntityID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "version created",
		"request_id", requestID,
		"version_id", v.ID,
		"entity_type", v.EntityType,
		"entity_id", v.EntityID,
		"version_number", v.Number,
	)
	httputil.WriteJSON(w, http.StatusCreated, v)
}

// HandleIngest handles POST /ingest/versions. Same semantics as HandleCreate
// with the author taken from the validated body.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IngestVersionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	v, err := h.service.Create(ctx, service.CreateRequest{
		EntityType: req.ParsedEntityType(),
		EntityID:   req.ParsedEntityID(),
		Author:     req.ParsedAuthorID(),
		Payload:    req.Payload,
		Reason:     req.Reason,
	})
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "version ingest failed", requestID, err,
			"entity_type", req.EntityType,
			"entity_id", req.EntityID,
			"author_id", req.AuthorID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "version ingested",
		"request_id", requestID,
		"version_id", v.ID,
		"entity_type", v.EntityType,
		"entity_id", v.EntityID,
		"version_number", v.Number,
		"author_id", req.AuthorID,
	)
	httputil.WriteJSON(w, http.StatusCreated, v)
}

// HandleSubmit handles POST /versions/{versionID}/submit.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	versionID, err := id.ParseVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	v, err := h.service.Submit(ctx, versionID, actor)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "version submit failed", requestID, err,
			"version_id", versionID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "version submitted",
		"request_id", requestID,
		"version_id", versionID,
		"entity_type", v.EntityType,
		"entity_id", v.EntityID,
	)
	httputil.WriteJSON(w, http.StatusOK, v)
}

// HandleDecide handles POST /versions/{versionID}/decide.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	versionID, err := id.ParseVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[DecideVersionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	v, err := h.service.Decide(ctx, service.DecideRequest{
		VersionID: versionID,
		Approver:  actor,
		Decision:  req.ParsedDecision(),
		Notes:     req.Notes,
	})
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "version decision failed", requestID, err,
			"version_id", versionID,
			"decision", req.Decision,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "version decided",
		"request_id", requestID,
		"version_id", versionID,
		"decision", req.Decision,
		"status", v.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, v)
}

// HandleRevert handles POST /versions/revert.
func (h *Handler) HandleRevert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[RevertVersionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	v, err := h.service.Revert(ctx, service.RevertRequest{
		EntityType: req.ParsedEntityType(),
		EntityID:   req.ParsedEntityID(),
		ToNumber:   req.ToVersion,
		Actor:      actor,
		Reason:     req.Reason,
	})
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "version revert failed", requestID, err,
			"entity_type", req.EntityType,
			"entity_id", req.EntityID,
			"to_version", req.ToVersion,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "version reverted",
		"request_id", requestID,
		"version_id", v.ID,
		"entity_type", v.EntityType,
		"entity_id", v.EntityID,
		"to_version", req.ToVersion,
	)
	httputil.WriteJSON(w, http.StatusCreated, v)
}

// HandleHistory handles GET /versions/{entityType}/{entityID}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	entityType, entityID, err := parseEntityRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	versions, err := h.service.History(ctx, entityType, entityID)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "version history read failed", requestID, err,
			"entity_type", entityType,
			"entity_id", entityID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, VersionListResponse{Versions: versions})
}

// HandleLatest handles GET /versions/{entityType}/{entityID}/latest.
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	entityType, entityID, err := parseEntityRef(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	v, err := h.service.Latest(ctx, entityType, entityID)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "latest version read failed", requestID, err,
			"entity_type", entityType,
			"entity_id", entityID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, v)
}

// HandleCompare handles GET /versions/compare?a=&b=. The diff reads a as the
// older side and b as the newer.
func (h *Handler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	fromID, err := id.ParseVersionID(r.URL.Query().Get("a"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "query parameter a must be a version id"))
		return
	}
	toID, err := id.ParseVersionID(r.URL.Query().Get("b"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "query parameter b must be a version id"))
		return
	}

	diff, err := h.service.Compare(ctx, fromID, toID)
	if err != nil {
		httputil.LogFailure(ctx, h.logger, "version comparison failed", requestID, err,
			"from_id", fromID,
			"to_id", toID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, diff)
}
