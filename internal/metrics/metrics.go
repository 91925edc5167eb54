// Package metrics holds the Prometheus collectors shared by the server,
// the upstream clients and the contribution pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts served requests by method, route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicmap_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPLatency observes request latency by method and route pattern.
	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "civicmap_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"method", "route"})

	// UpstreamRequests counts upstream attempts by service and outcome.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicmap_upstream_requests_total",
		Help: "Upstream API attempts",
	}, []string{"service", "outcome"})

	// UpstreamRetries counts backoff sleeps by service.
	UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicmap_upstream_retries_total",
		Help: "Upstream retries after a retryable failure",
	}, []string{"service"})

	// ContributionFetches counts pipeline runs by terminal state.
	ContributionFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicmap_contribution_fetches_total",
		Help: "Contribution fetch pipeline runs by terminal state",
	}, []string{"state"})

	// ContributionRows counts appended CSV rows by kind.
	ContributionRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicmap_contribution_rows_total",
		Help: "Contribution rows appended",
	}, []string{"kind"})

	// IndexedCandidates tracks the size of the contribution index.
	IndexedCandidates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "civicmap_indexed_candidates",
		Help: "Candidates with at least one persisted contribution row",
	})
)
