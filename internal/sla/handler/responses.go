package handler

import (
	"time"

	"examen/internal/sla/models"
	id "examen/pkg/domain"
)

// CheckResponse is the HTTP response for GET /phases/{phaseID}/sla.
// RemainingSeconds goes negative once the deadline has passed.
type CheckResponse struct {
	PhaseID          id.PhaseID        `json:"phase_id"`
	PhaseName        id.PhaseName      `json:"phase_name"`
	State            models.CheckState `json:"state"`
	Deadline         time.Time         `json:"deadline"`
	WarnAt           time.Time         `json:"warn_at"`
	RemainingSeconds float64           `json:"remaining_seconds"`
	Escalate         bool              `json:"escalate"`
}

// FromCheck converts a tracker check to an HTTP response.
func FromCheck(c *models.Check) *CheckResponse {
	return &CheckResponse{
		PhaseID:          c.PhaseID,
		PhaseName:        c.PhaseName,
		State:            c.State,
		Deadline:         c.Deadline,
		WarnAt:           c.WarnAt,
		RemainingSeconds: c.Remaining.Seconds(),
		Escalate:         c.Escalate,
	}
}
