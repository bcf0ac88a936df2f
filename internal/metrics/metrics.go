// Package metrics holds the Prometheus collectors of the statistics subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	gatherer   prometheus.Gatherer
	recordings *prometheus.CounterVec
	shadowSync *prometheus.CounterVec
}

// New registers the collectors with a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	return NewWithRegistry(registry, registry)
}

// NewWithRegistry registers the collectors with registerer and serves them from
// gatherer.
func NewWithRegistry(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	recordings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentstats",
			Name:      "recordings_total",
			Help:      "Best-effort statistics recordings by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	registerer.MustRegister(recordings)

	shadowSync := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentstats",
			Name:      "shadow_sync_total",
			Help:      "Shadow entities synchronised by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	registerer.MustRegister(shadowSync)

	return &Metrics{
		gatherer:   gatherer,
		recordings: recordings,
		shadowSync: shadowSync,
	}
}

func (m *Metrics) ObserveRecording(operation, outcome string) {
	if m == nil {
		return
	}
	m.recordings.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveSync(kind, outcome string) {
	if m == nil {
		return
	}
	m.shadowSync.WithLabelValues(kind, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
