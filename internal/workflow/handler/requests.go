package handler

import (
	"strings"

	dErrors "examen/pkg/domain-errors"
)

// maxReasonLen bounds operator-supplied reasons before they reach the
// audit trail.
const maxReasonLen = 2000

// OverridePhaseRequest is the HTTP request body for POST .../phases/{phaseName}/override.
type OverridePhaseRequest struct {
	Reason string `json:"reason"`
}

// Validate validates and normalizes the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *OverridePhaseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(r.Reason) > maxReasonLen {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 2000 characters")
	}
	return nil
}

// SkipPhaseRequest is the HTTP request body for POST .../phases/{phaseName}/skip.
type SkipPhaseRequest struct {
	Reason string `json:"reason"`
}

// Validate validates and normalizes the request.
func (r *SkipPhaseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(r.Reason) > maxReasonLen {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 2000 characters")
	}
	return nil
}
