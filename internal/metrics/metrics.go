// Package metrics provides Prometheus metrics for the call-analysis engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callq"

// Metrics holds the engine's collectors on a private registry so several
// instances (one per test) can coexist. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	CallsTotal *prometheus.CounterVec

	// LLM metrics
	LLMRequests    *prometheus.CounterVec
	LLMLatency     prometheus.Histogram
	LLMInFlight    prometheus.Gauge
	TokensConsumed *prometheus.CounterVec

	// Batch metrics
	BatchesTotal      *prometheus.CounterVec
	BatchDuration     prometheus.Histogram
	LastBatchFinished prometheus.Gauge
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Calls that reached a terminal state, by status and reason",
		}, []string{"status", "reason"}),

		LLMRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM requests by outcome",
		}, []string{"outcome"}),
		LLMLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Time to receive an LLM answer",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		LLMInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "llm_requests_in_flight",
			Help:      "LLM requests currently awaiting an answer",
		}),
		TokensConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by the LLM endpoint",
		}, []string{"type"}),

		BatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Finished batches by outcome",
		}, []string{"outcome"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of a batch",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}),
		LastBatchFinished: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_finished_timestamp_seconds",
			Help:      "Unix time the last batch finished",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.LLMInFlight.Inc()
}

// RequestFinished records one request. outcome is "ok", "invalid_response"
// or an LLM error kind.
func (m *Metrics) RequestFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMInFlight.Dec()
	m.LLMRequests.WithLabelValues(outcome).Inc()
	m.LLMLatency.Observe(d.Seconds())
}

func (m *Metrics) AddTokens(prompt, completion int64) {
	if m == nil {
		return
	}
	m.TokensConsumed.WithLabelValues("prompt").Add(float64(prompt))
	m.TokensConsumed.WithLabelValues("completion").Add(float64(completion))
}

func (m *Metrics) CallFinished(status, reason string) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(status, reason).Inc()
}

func (m *Metrics) BatchFinished(outcome string, d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(outcome).Inc()
	m.BatchDuration.Observe(d.Seconds())
	m.LastBatchFinished.Set(float64(at.Unix()))
}
