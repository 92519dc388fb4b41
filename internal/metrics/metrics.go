// Package metrics exposes Prometheus collectors for the session controller.
//
// All methods are safe to call on a nil *Metrics, so components can take
// an optional collector without guarding every call site.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered for one server instance.
type Metrics struct {
	registry      *prometheus.Registry
	gateOutcomes  *prometheus.CounterVec
	writes        *prometheus.CounterVec
	subscriptions prometheus.Gauge
	deliveries    *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gateOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rf",
			Name:      "gate_outcomes_total",
			Help:      "Membership gate evaluations by final state.",
		}, []string{"state"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rf",
			Name:      "writes_total",
			Help:      "Fire-and-forget writes by operation and result.",
		}, []string{"op", "result"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rf",
			Name:      "live_subscriptions",
			Help:      "Live document and query subscriptions currently held.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rf",
			Name:      "snapshot_deliveries_total",
			Help:      "Snapshots pushed to live subscribers, by subscription kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.gateOutcomes,
		m.writes,
		m.subscriptions,
		m.deliveries,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler returns an HTTP handler serving the registry in text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GateOutcome records a gate reaching the given state.
func (m *Metrics) GateOutcome(state string) {
	if m == nil {
		return
	}
	m.gateOutcomes.WithLabelValues(state).Inc()
}

// WriteResult records the outcome of a fire-and-forget write.
func (m *Metrics) WriteResult(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writes.WithLabelValues(op, result).Inc()
}

// SubscriptionOpened increments the live subscription gauge.
func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

// SubscriptionClosed decrements the live subscription gauge.
func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

// Delivered records a snapshot pushed to a subscriber. kind is "document" or "query".
func (m *Metrics) Delivered(kind string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind).Inc()
}
