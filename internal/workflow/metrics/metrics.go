// Package metrics provides observability for the phase orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts phase transitions and snapshot cache traffic.
type Metrics struct {
	// Committed phase transitions, by phase and resulting status
	Transitions *prometheus.CounterVec

	// Snapshot cache lookups, by outcome (hit or miss)
	CacheLookups *prometheus.CounterVec

	// Time to assemble one status snapshot, cache misses only
	SnapshotDuration prometheus.Histogram
}

// New creates a Metrics instance with all orchestrator metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examen_phase_transitions_total",
			Help: "Committed phase transitions, by phase and resulting status",
		}, []string{"phase", "status"}),

		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examen_status_cache_lookups_total",
			Help: "Status snapshot cache lookups, by outcome",
		}, []string{"outcome"}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "examen_status_snapshot_duration_seconds",
			Help:    "Time to assemble one status snapshot from the stores",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementTransition records one committed phase transition.
func (m *Metrics) IncrementTransition(phase, status string) {
	if m != nil {
		m.Transitions.WithLabelValues(phase, status).Inc()
	}
}

// IncrementCacheHit records a snapshot served from cache.
func (m *Metrics) IncrementCacheHit() {
	if m != nil {
		m.CacheLookups.WithLabelValues("hit").Inc()
	}
}

// IncrementCacheMiss records a snapshot assembled from the stores.
func (m *Metrics) IncrementCacheMiss() {
	if m != nil {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveSnapshot records the assembly time of one snapshot.
func (m *Metrics) ObserveSnapshot(d time.Duration) {
	if m != nil {
		m.SnapshotDuration.Observe(d.Seconds())
	}
}
