package middleware

import (
	"log/slog"
	"net/http"

	"examen/internal/platform/secrets"
	"examen/pkg/requestcontext"
)

// RequireServiceKey authenticates machine callers (the evidence service
// pushing version payloads) via an X-Service-Key header checked against a
// bcrypt hash. Returns 401 when the configured hash is empty, so the route
// is dark until a key is provisioned.
func RequireServiceKey(keyHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := r.Header.Get("X-Service-Key")

			if keyHash == "" || key == "" || secrets.Verify(key, keyHash) != nil {
				logger.WarnContext(ctx, "service key rejected",
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"service key required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
