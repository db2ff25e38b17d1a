// Package metrics provides observability for the SLA tracker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts deadline events and times sweeps.
type Metrics struct {
	// First transitions into breached, by phase
	Breaches *prometheus.CounterVec

	// First transitions into breaching_soon, by phase
	Warnings *prometheus.CounterVec

	// Full sweep duration across all active clocks
	SweepDuration prometheus.Histogram
}

// New creates a Metrics instance with all SLA metrics registered.
func New() *Metrics {
	return &Metrics{
		Breaches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examen_sla_breaches_total",
			Help: "Total SLA breaches detected, by phase",
		}, []string{"phase"}),

		Warnings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examen_sla_warnings_total",
			Help: "Total clocks that entered breaching_soon, by phase",
		}, []string{"phase"}),

		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "examen_sla_sweep_duration_seconds",
			Help:    "Duration of one sweep over all active clocks",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// IncrementBreach records a first breach detection.
func (m *Metrics) IncrementBreach(phase string) {
	if m != nil {
		m.Breaches.WithLabelValues(phase).Inc()
	}
}

// IncrementWarning records a first breaching_soon transition.
func (m *Metrics) IncrementWarning(phase string) {
	if m != nil {
		m.Warnings.WithLabelValues(phase).Inc()
	}
}

// ObserveSweep records the duration of one sweep.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.SweepDuration.Observe(d.Seconds())
	}
}
