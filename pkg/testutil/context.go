package testutil

import (
	"net/http"
	"time"

	id "examen/pkg/domain"
	"examen/pkg/requestcontext"
)

// WithActor stamps the request context with an authenticated actor, the way
// the auth middleware would for a valid token. Invalid IDs are ignored.
func WithActor(req *http.Request, actorID string) *http.Request {
	parsed, err := id.ParseActorID(actorID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithActorID(req.Context(), parsed))
}

// WithActorRole stamps both actor and role, the typical state of an
// authenticated request behind RequireAuth.
func WithActorRole(req *http.Request, actorID id.ActorID, role string) *http.Request {
	ctx := requestcontext.WithActorID(req.Context(), actorID)
	ctx = requestcontext.WithRole(ctx, role)
	return req.WithContext(ctx)
}

// WithRequestID stamps the request with a request ID, as the requestid
// middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithFrozenTime pins the request-scoped timestamp so handlers under test
// produce deterministic times.
func WithFrozenTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
