// Package metrics defines the Prometheus metric collectors used across the
// pipeline and API services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	RequestsEnqueuedTotal    prometheus.Counter
	RecordsConsumedTotal     *prometheus.CounterVec
	RecordsAckedTotal        *prometheus.CounterVec
	MalformedDroppedTotal    prometheus.Counter
	StageDuration            *prometheus.HistogramVec
	StageErrorsTotal         *prometheus.CounterVec
	ClassifierFallbacksTotal prometheus.Counter
	RecordDeleteFailures     prometheus.Counter
	ResultsWrittenTotal      *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RequestsEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_requests_enqueued_total",
				Help: "Total search requests appended to the classification stream.",
			},
		),
		RecordsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_records_consumed_total",
				Help: "Total stream records delivered to workers by topic.",
			},
			[]string{"topic"},
		),
		RecordsAckedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_records_acked_total",
				Help: "Total stream records acknowledged by topic.",
			},
			[]string{"topic"},
		),
		MalformedDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_records_malformed_dropped_total",
				Help: "Records dropped because requestId or payload was missing or unparsable.",
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Stage handler latency in seconds.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		StageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_errors_total",
				Help: "Terminal stage errors by stage.",
			},
			[]string{"stage"},
		),
		ClassifierFallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "classifier_fallbacks_total",
				Help: "Classifications served by the keyword fallback instead of the classifier.",
			},
		),
		RecordDeleteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_record_delete_failures_total",
				Help: "Best-effort post-ack record deletions that failed.",
			},
		),
		ResultsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_results_written_total",
				Help: "Terminal statuses written by outcome (done, error).",
			},
			[]string{"outcome"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RequestsEnqueuedTotal,
		m.RecordsConsumedTotal,
		m.RecordsAckedTotal,
		m.MalformedDroppedTotal,
		m.StageDuration,
		m.StageErrorsTotal,
		m.ClassifierFallbacksTotal,
		m.RecordDeleteFailures,
		m.ResultsWrittenTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
