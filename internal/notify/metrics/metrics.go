// Package metrics provides observability for the outbox relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts relay outcomes.
type Metrics struct {
	// Events confirmed by the broker, by category
	Dispatched *prometheus.CounterVec

	// Drain passes that ended in an error
	DrainFailures prometheus.Counter

	// Undispatched entries fetched by the last outbox poll
	Backlog prometheus.Gauge
}

// New creates a Metrics instance with all relay metrics registered.
func New() *Metrics {
	return &Metrics{
		Dispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examen_notify_dispatched_total",
			Help: "Total events dispatched to the broker, by category",
		}, []string{"category"}),

		DrainFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "examen_notify_drain_failures_total",
			Help: "Total outbox drain passes that failed",
		}),

		Backlog: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "examen_notify_backlog",
			Help: "Undispatched outbox entries fetched by the last poll",
		}),
	}
}

// IncrementDispatched records one confirmed event.
func (m *Metrics) IncrementDispatched(category string) {
	if m != nil {
		m.Dispatched.WithLabelValues(category).Inc()
	}
}

// IncrementDrainFailure records a failed drain pass.
func (m *Metrics) IncrementDrainFailure() {
	if m != nil {
		m.DrainFailures.Inc()
	}
}

// SetBacklog records the pending entry count.
func (m *Metrics) SetBacklog(n int) {
	if m != nil {
		m.Backlog.Set(float64(n))
	}
}
