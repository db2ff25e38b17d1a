package handler

import (
	"strings"

	"examen/internal/activity/models"
	dErrors "examen/pkg/domain-errors"
)

// SkipActivityRequest is the HTTP request body for POST /activities/{activityID}/skip.
// The reason is optional; only optional activities can be skipped at all.
type SkipActivityRequest struct {
	Reason string `json:"reason"`
}

// Validate normalizes the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *SkipActivityRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 2000 characters")
	}
	return nil
}

// ActivityListResponse wraps activity collections returned by the listing
// and reset endpoints.
type ActivityListResponse struct {
	Activities []*models.Instance `json:"activities"`
}
