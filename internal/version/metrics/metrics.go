// Package metrics provides observability for the version manager.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts version lifecycle events and times decisions.
type Metrics struct {
	// Drafts opened, by entity type
	Created *prometheus.CounterVec

	// Decision outcomes, by decision and entity type
	Decisions *prometheus.CounterVec

	// Full decide duration including supersede and auto-advance
	DecideDuration prometheus.Histogram
}

// New creates a Metrics instance with all version metrics registered.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examen_version_created_total",
			Help: "Total draft versions opened, by entity type",
		}, []string{"entity_type"}),

		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examen_version_decisions_total",
			Help: "Total decisions on pending versions, by decision and entity type",
		}, []string{"decision", "entity_type"}),

		DecideDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "examen_version_decide_duration_seconds",
			Help:    "Duration of one decision including supersede and auto-advance",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// IncrementCreated records a new draft version.
func (m *Metrics) IncrementCreated(entityType string) {
	if m != nil {
		m.Created.WithLabelValues(entityType).Inc()
	}
}

// IncrementDecision records a decision outcome.
func (m *Metrics) IncrementDecision(decision, entityType string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision, entityType).Inc()
	}
}

// ObserveDecide records the duration of one decision.
func (m *Metrics) ObserveDecide(d time.Duration) {
	if m != nil {
		m.DecideDuration.Observe(d.Seconds())
	}
}
