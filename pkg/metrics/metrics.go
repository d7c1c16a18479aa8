// Package metrics defines the Prometheus collectors of the webhook service
// and exposes an HTTP handler for scraping.
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

	WebhookTriggersTotal    *prometheus.CounterVec
	RebuildRunsTotal        *prometheus.CounterVec
	RebuildInProgress       prometheus.Gauge
	RebuildStateDuration    *prometheus.HistogramVec
	DocumentsIndexedTotal   *prometheus.CounterVec
	DocumentsFailedTotal    *prometheus.CounterVec
	UnresolvedReferences    prometheus.Counter
	GenerationsDeletedTotal *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
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
		WebhookTriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_triggers_total",
				Help: "Webhook trigger attempts by result (started, queued, coalesced, unauthorized, forbidden, rate_limited).",
			},
			[]string{"result"},
		),
		RebuildRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebuild_runs_total",
				Help: "Finished rebuild runs by outcome (done or failure kind).",
			},
			[]string{"outcome"},
		),
		RebuildInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebuild_in_progress",
				Help: "1 while a rebuild run is executing in this process.",
			},
		),
		RebuildStateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rebuild_state_duration_seconds",
				Help:    "Time spent in each rebuild state.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"state"},
		),
		DocumentsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebuild_documents_indexed_total",
				Help: "Documents accepted by the search backend, by collection.",
			},
			[]string{"collection"},
		),
		DocumentsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebuild_documents_failed_total",
				Help: "Documents rejected by the search backend, by collection.",
			},
			[]string{"collection"},
		),
		UnresolvedReferences: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rebuild_unresolved_references_total",
				Help: "Bagger city references that matched no city.",
			},
		),
		GenerationsDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebuild_generations_deleted_total",
				Help: "Generation deletions by outcome (deleted, failed).",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.WebhookTriggersTotal,
		m.RebuildRunsTotal,
		m.RebuildInProgress,
		m.RebuildStateDuration,
		m.DocumentsIndexedTotal,
		m.DocumentsFailedTotal,
		m.UnresolvedReferences,
		m.GenerationsDeletedTotal,
	)

	return m
}

// NewUnregistered creates collectors registered with a private registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
