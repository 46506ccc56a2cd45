// Package metrics exposes Prometheus instruments for the presence engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's counters and gauges. A nil *Metrics is valid
// and turns every method into a no-op, so library code never has to care
// whether the host wired up instrumentation.
type Metrics struct {
	registry        *prometheus.Registry
	presencePushes  prometheus.Counter
	presenceResets  prometheus.Counter
	fetchFailures   prometheus.Counter
	connectAttempts prometheus.Counter
	liveLatency     prometheus.Gauge
}

// New creates and registers the engine metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	presencePushes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_pushes_total",
		Help: "Total number of presence updates pushed to the gateway",
	})
	presenceResets := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_resets_total",
		Help: "Total number of presence resets pushed to the gateway",
	})
	fetchFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metadata_fetch_failures_total",
		Help: "Total number of metadata fetch cycles skipped due to errors",
	})
	connectAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_connect_attempts_total",
		Help: "Total number of gateway connect attempts, including retries",
	})
	liveLatency := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_live_latency_seconds",
		Help: "Estimated seconds behind the live broadcast edge",
	})

	registry.MustRegister(
		presencePushes,
		presenceResets,
		fetchFailures,
		connectAttempts,
		liveLatency,
	)

	return &Metrics{
		registry:        registry,
		presencePushes:  presencePushes,
		presenceResets:  presenceResets,
		fetchFailures:   fetchFailures,
		connectAttempts: connectAttempts,
		liveLatency:     liveLatency,
	}
}

// IncPresencePushes increments the presence update counter.
func (m *Metrics) IncPresencePushes() {
	if m == nil {
		return
	}
	m.presencePushes.Inc()
}

// IncPresenceResets increments the presence reset counter.
func (m *Metrics) IncPresenceResets() {
	if m == nil {
		return
	}
	m.presenceResets.Inc()
}

// IncFetchFailures increments the skipped-cycle counter.
func (m *Metrics) IncFetchFailures() {
	if m == nil {
		return
	}
	m.fetchFailures.Inc()
}

// IncConnectAttempts increments the gateway connect attempt counter.
func (m *Metrics) IncConnectAttempts() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

// SetLiveLatency sets the live latency gauge.
func (m *Metrics) SetLiveLatency(seconds float64) {
	if m == nil {
		return
	}
	m.liveLatency.Set(seconds)
}

// Handler returns an http.Handler that serves the registry for scrapes.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
