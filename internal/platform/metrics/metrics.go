package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	Verifications  *prometheus.CounterVec
	AutoBlacklists prometheus.Counter
	Alerts         *prometheus.CounterVec
	StateSaves     prometheus.Counter
	QueueDepth     prometheus.Gauge
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_verifications_total",
			Help: "Total pipeline runs by terminal outcome",
		}, []string{"outcome"}),
		AutoBlacklists: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_auto_blacklists_total",
			Help: "Total users auto-blacklisted after repeated failures",
		}),
		Alerts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_alerts_total",
			Help: "Total alerts delivered by audience",
		}, []string{"audience"}),
		StateSaves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "warden_state_saves_total",
			Help: "Total durable state document saves",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "warden_event_queue_depth",
			Help: "Current depth of the serialized event queue",
		}),
	}
}

// RecordOutcome increments the counter for one terminal pipeline outcome.
func (m *Metrics) RecordOutcome(outcome string) {
	m.Verifications.WithLabelValues(outcome).Inc()
}

// RecordAlert increments the delivered-alert counter for an audience.
func (m *Metrics) RecordAlert(audience string) {
	m.Alerts.WithLabelValues(audience).Inc()
}
