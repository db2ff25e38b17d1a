package models

import (
	"time"

	activitymodels "examen/internal/activity/models"
	slamodels "examen/internal/sla/models"
	id "examen/pkg/domain"
)

// Snapshot is the full read model of one cycle-report: every phase in
// process order with its activities and SLA standing. It is what the status
// endpoint returns and what the cache stores.
type Snapshot struct {
	CycleID     id.CycleID    `json:"cycle_id"`
	ReportID    id.ReportID   `json:"report_id"`
	Phases      []PhaseStatus `json:"phases"`
	Completion  float64       `json:"completion_pct"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// PhaseStatus is one phase's slice of the snapshot. Instance is nil for
// phases that have no row yet; such phases report not_started with no
// activities.
type PhaseStatus struct {
	Name       id.PhaseName               `json:"name"`
	Status     Status                     `json:"status"`
	Instance   *PhaseInstance             `json:"instance,omitempty"`
	Activities []*activitymodels.Instance `json:"activities,omitempty"`
	SLA        *SLAStatus                 `json:"sla,omitempty"`
}

// SLAStatus is the deadline standing of an in-flight phase. Remaining goes
// negative once the deadline has passed.
type SLAStatus struct {
	State            slamodels.CheckState `json:"state"`
	Deadline         time.Time            `json:"deadline"`
	WarnAt           time.Time            `json:"warn_at"`
	RemainingSeconds float64              `json:"remaining_seconds"`
	Escalate         bool                 `json:"escalate"`
}

// SLAStatusFromCheck flattens a tracker check into the snapshot shape.
func SLAStatusFromCheck(c *slamodels.Check) *SLAStatus {
	if c == nil {
		return nil
	}
	return &SLAStatus{
		State:            c.State,
		Deadline:         c.Deadline,
		WarnAt:           c.WarnAt,
		RemainingSeconds: c.Remaining.Seconds(),
		Escalate:         c.Escalate,
	}
}

// CompletionPercentage weighs every non-skipped phase equally and reports
// how many are completed, in percent. Skipped phases leave the denominator;
// a report whose every phase was skipped counts as fully complete.
func CompletionPercentage(statuses []Status) float64 {
	total := 0
	completed := 0
	for _, s := range statuses {
		if s == StatusSkipped {
			continue
		}
		total++
		if s == StatusCompleted {
			completed++
		}
	}
	if total == 0 {
		return 100.0
	}
	return float64(completed) / float64(total) * 100.0
}
