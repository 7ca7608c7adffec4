package observer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the Observer updates. Callers
// that don't want a /metrics endpoint (tests, ConversationReplay) may pass
// a nil *Metrics; every Metrics update method checks for nil before touching it.
type Metrics struct {
	AlertsTotal        *prometheus.CounterVec
	InterventionsTotal *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
}

// NewMetrics creates and registers the Observer's Prometheus metrics. Call
// once at application startup, same as the rest of this module's metric
// constructors.
func NewMetrics() *Metrics {
	return &Metrics{
		AlertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orcaforge_observer_alerts_total",
				Help: "Total number of anomaly alerts emitted by the observer, by type",
			},
			[]string{"type"},
		),
		InterventionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orcaforge_observer_interventions_total",
				Help: "Total number of stall interventions performed",
			},
			[]string{"session"},
		),
		SweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orcaforge_observer_sweep_duration_seconds",
				Help:    "Duration of each periodic stall sweep",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *Metrics) recordAlert(alertType AlertType) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(string(alertType)).Inc()
}

func (m *Metrics) recordIntervention(sessionID string) {
	if m == nil {
		return
	}
	m.InterventionsTotal.WithLabelValues(sessionID).Inc()
}

func (m *Metrics) observeSweep(seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
}
