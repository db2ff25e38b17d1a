package middleware

import (
	"net/http"
	"time"

	"examen/pkg/requestcontext"
)

// RequestTime captures the current time at the start of the request and
// stores it in the context. All domain timestamps within one request read
// this value, so audit entries and state rows agree to the nanosecond.
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
