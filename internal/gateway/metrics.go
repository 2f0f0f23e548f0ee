package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors on a private
// registry, so tests can run many gateways without collision.
type Metrics struct {
	registry *prometheus.Registry

	triggers *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reverie",
			Name:      "job_triggers_total",
			Help:      "Job trigger invocations by job and outcome.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reverie",
			Name:      "job_duration_seconds",
			Help:      "Wall time of job invocations, including skipped checks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}
	m.registry.MustRegister(m.triggers, m.duration)
	return m
}

// RecordTrigger records one trigger invocation.
func (m *Metrics) RecordTrigger(job, status string, d time.Duration) {
	m.triggers.WithLabelValues(job, status).Inc()
	m.duration.WithLabelValues(job).Observe(d.Seconds())
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
