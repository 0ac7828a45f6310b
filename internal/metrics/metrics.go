// Package metrics provides Prometheus instrumentation for Harrier.
//
// Collectors live in a custom registry so only Harrier metrics appear on
// /metrics. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by Harrier.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	EvaluationsTotal       *prometheus.CounterVec
	EvaluationDuration     prometheus.Histogram
	ProductVerdictsTotal   *prometheus.CounterVec
	EnrichmentCallsTotal   *prometheus.CounterVec
	EnrichmentCallDuration *prometheus.HistogramVec
	SnapshotInvalidations  prometheus.Counter
	SinkFailuresTotal      *prometheus.CounterVec
}

// New creates and registers all metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harrier_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_evaluations_total",
			Help: "Eligibility evaluations by outcome (evaluated, rejected, failed).",
		}, []string{"outcome"}),

		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harrier_evaluation_duration_seconds",
			Help:    "End-to-end evaluation latency including enrichment.",
			Buckets: prometheus.DefBuckets,
		}),

		ProductVerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_product_verdicts_total",
			Help: "Per-product verdicts (eligible, non_eligible).",
		}, []string{"verdict"}),

		EnrichmentCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_enrichment_calls_total",
			Help: "External API calls by API name and result category.",
		}, []string{"api", "result"}),

		EnrichmentCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harrier_enrichment_call_duration_seconds",
			Help:    "External API call latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"api"}),

		SnapshotInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harrier_snapshot_invalidations_total",
			Help: "Tenant snapshot cache invalidations.",
		}),

		SinkFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_sink_failures_total",
			Help: "Failed evaluation result writes by sink.",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.ProductVerdictsTotal,
		m.EnrichmentCallsTotal,
		m.EnrichmentCallDuration,
		m.SnapshotInvalidations,
		m.SinkFailuresTotal,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordEvaluation records one pipeline run and its product verdicts.
func (m *Metrics) RecordEvaluation(outcome string, eligible, nonEligible int, d time.Duration) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(outcome).Inc()
	m.EvaluationDuration.Observe(d.Seconds())
	m.ProductVerdictsTotal.WithLabelValues("eligible").Add(float64(eligible))
	m.ProductVerdictsTotal.WithLabelValues("non_eligible").Add(float64(nonEligible))
}

// RecordEnrichmentCall records one external API call.
func (m *Metrics) RecordEnrichmentCall(api, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.EnrichmentCallsTotal.WithLabelValues(api, result).Inc()
	m.EnrichmentCallDuration.WithLabelValues(api).Observe(d.Seconds())
}

// IncSnapshotInvalidations counts one snapshot cache invalidation.
func (m *Metrics) IncSnapshotInvalidations() {
	if m == nil {
		return
	}
	m.SnapshotInvalidations.Inc()
}

// IncSinkFailure counts a failed write to the named sink.
func (m *Metrics) IncSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.SinkFailuresTotal.WithLabelValues(sink).Inc()
}
