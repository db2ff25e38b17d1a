// Package models defines the SLA clock, breach record, and deadline math.
package models

import (
	"time"

	"github.com/google/uuid"

	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// DefaultWarnFraction is the share of the budget consumed before a clock
// reports breaching_soon.
const DefaultWarnFraction = 0.8

// Config is the static per-phase duration budget. Read-only reference data;
// loaded once at startup.
type Config struct {
	Hours             int     `yaml:"hours"`
	BusinessHoursOnly bool    `yaml:"business_hours_only"`
	Escalate          bool    `yaml:"escalate"`
	WarnFraction      float64 `yaml:"warn_fraction"`
}

// Validate checks the budget is usable.
func (c Config) Validate() error {
	if c.Hours <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "sla budget hours must be positive")
	}
	if c.WarnFraction < 0 || c.WarnFraction > 1 {
		return dErrors.New(dErrors.CodeInvalidInput, "warn_fraction must be within (0, 1]")
	}
	return nil
}

// warnFraction returns the configured fraction or the default.
func (c Config) warnFraction() float64 {
	if c.WarnFraction == 0 {
		return DefaultWarnFraction
	}
	return c.WarnFraction
}

// ClockState is the lifecycle of one SLA clock.
type ClockState string

const (
	ClockRunning  ClockState = "running"
	ClockWarned   ClockState = "warned"
	ClockBreached ClockState = "breached"
	ClockStopped  ClockState = "stopped"
)

// validClockTransitions is the single source of truth for clock transitions.
var validClockTransitions = map[ClockState][]ClockState{
	ClockRunning:  {ClockWarned, ClockBreached, ClockStopped},
	ClockWarned:   {ClockBreached, ClockStopped},
	ClockBreached: {ClockStopped},
	ClockStopped:  {},
}

// CanTransitionTo checks if a transition to the target state is allowed.
func (s ClockState) CanTransitionTo(target ClockState) bool {
	for _, allowed := range validClockTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsValid checks if the state is one of the supported values.
func (s ClockState) IsValid() bool {
	_, ok := validClockTransitions[s]
	return ok
}

// IsActive reports whether the clock still needs sweeping.
func (s ClockState) IsActive() bool {
	return s == ClockRunning || s == ClockWarned
}

// String returns the wire representation.
func (s ClockState) String() string {
	return string(s)
}

// ParseClockState constructs a ClockState from external input.
func ParseClockState(s string) (ClockState, error) {
	cs := ClockState(s)
	if !cs.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown clock state")
	}
	return cs, nil
}

// Clock is one phase's deadline tracker. One clock per phase instance;
// created when the phase starts, stopped when it completes.
type Clock struct {
	ID            uuid.UUID
	PhaseID       id.PhaseID
	PhaseName     id.PhaseName
	CycleID       id.CycleID
	ReportID      id.ReportID
	StartedAt     time.Time
	Deadline      time.Time
	WarnAt        time.Time
	BusinessHours bool
	Escalate      bool
	State         ClockState
	StoppedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewClock computes the deadline and warn threshold from the budget and
// returns a running clock.
func NewClock(phaseID id.PhaseID, phaseName id.PhaseName, cycleID id.CycleID, reportID id.ReportID, cfg Config, startedAt time.Time) (*Clock, error) {
	if phaseID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "phase id is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	budget := time.Duration(cfg.Hours) * time.Hour
	warnBudget := time.Duration(float64(budget) * cfg.warnFraction())

	return &Clock{
		ID:            uuid.New(),
		PhaseID:       phaseID,
		PhaseName:     phaseName,
		CycleID:       cycleID,
		ReportID:      reportID,
		StartedAt:     startedAt,
		Deadline:      Deadline(startedAt, budget, cfg.BusinessHoursOnly),
		WarnAt:        Deadline(startedAt, warnBudget, cfg.BusinessHoursOnly),
		BusinessHours: cfg.BusinessHoursOnly,
		Escalate:      cfg.Escalate,
		State:         ClockRunning,
		CreatedAt:     startedAt,
		UpdatedAt:     startedAt,
	}, nil
}

// Breach records the first detection of a missed deadline. At most one per
// clock; re-checks of a breached clock never create another.
type Breach struct {
	ID         uuid.UUID
	ClockID    uuid.UUID
	PhaseID    id.PhaseID
	Deadline   time.Time
	BreachedAt time.Time
	Escalated  bool
}

// CheckState classifies a clock against the current time.
type CheckState string

const (
	CheckOK            CheckState = "ok"
	CheckBreachingSoon CheckState = "breaching_soon"
	CheckBreached      CheckState = "breached"
)

// Check is the result of evaluating one clock. Remaining is wall-clock time
// until the deadline and goes negative after it passes.
type Check struct {
	PhaseID   id.PhaseID
	PhaseName id.PhaseName
	State     CheckState
	Deadline  time.Time
	WarnAt    time.Time
	Remaining time.Duration
	Escalate  bool
}

// Evaluate classifies the clock at the given instant. Pure; persistence of
// the warned/breached transition is the tracker's job.
func (c *Clock) Evaluate(now time.Time) CheckState {
	switch {
	case !now.Before(c.Deadline):
		return CheckBreached
	case !now.Before(c.WarnAt):
		return CheckBreachingSoon
	default:
		return CheckOK
	}
}

// Deadline adds the budget to start. With businessHours set, weekend time
// contributes nothing and weekday time counts hour for hour, so a budget of
// 24h starting Friday 16:00 lands on Monday 16:00.
func Deadline(start time.Time, budget time.Duration, businessHours bool) time.Time {
	if !businessHours {
		return start.Add(budget)
	}

	t := skipWeekend(start)
	for budget > 0 {
		midnight := startOfDay(t).AddDate(0, 0, 1)
		untilMidnight := midnight.Sub(t)
		if untilMidnight > budget {
			return t.Add(budget)
		}
		budget -= untilMidnight
		t = skipWeekend(midnight)
	}
	return t
}

// skipWeekend moves a weekend instant to the following Monday 00:00.
func skipWeekend(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return startOfDay(t).AddDate(0, 0, 2)
	case time.Sunday:
		return startOfDay(t).AddDate(0, 0, 1)
	default:
		return t
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
