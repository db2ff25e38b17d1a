// Package httptransport assembles the HTTP surface: global middleware, the
// operational endpoints, the JWT-authenticated API and the service-key
// ingest path.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	activityhandler "examen/internal/activity/handler"
	audithandler "examen/internal/audit/handler"
	"examen/internal/platform/metrics"
	"examen/internal/platform/middleware"
	slahandler "examen/internal/sla/handler"
	versionhandler "examen/internal/version/handler"
	workflowhandler "examen/internal/workflow/handler"
	"examen/pkg/platform/httputil"
)

// DefaultRequestTimeout bounds one API request end to end.
const DefaultRequestTimeout = 30 * time.Second

// Handlers collects the per-context HTTP handlers the router mounts.
type Handlers struct {
	Workflow *workflowhandler.Handler
	Activity *activityhandler.Handler
	Version  *versionhandler.Handler
	SLA      *slahandler.Handler
	Audit    *audithandler.Handler
}

// Options carries the transport-level settings.
type Options struct {
	// RequestTimeout bounds one API request; zero means DefaultRequestTimeout.
	RequestTimeout time.Duration

	// ServiceKeyHash is the bcrypt hash of the ingest key. Empty disables the
	// ingest path entirely.
	ServiceKeyHash string
}

// New assembles the router. Health and metrics stay outside the API group so
// probes and scrapers need neither a token nor a JSON content type.
func New(h Handlers, validator middleware.JWTValidator, m *metrics.Metrics, logger *slog.Logger, opts Options) http.Handler {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.Latency(m))
		r.Use(middleware.RequireAuth(validator, logger))

		h.Workflow.Register(r)
		h.Activity.Register(r)
		h.Version.Register(r)
		h.SLA.Register(r)
		h.Audit.Register(r)
	})

	if opts.ServiceKeyHash != "" {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			r.Use(middleware.ContentTypeJSON)
			r.Use(middleware.Latency(m))
			r.Use(middleware.RequireServiceKey(opts.ServiceKeyHash, logger))

			h.Version.RegisterIngest(r)
		})
	}

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
