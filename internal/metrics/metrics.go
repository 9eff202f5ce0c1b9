// Package metrics exposes Prometheus collectors for the directory tooling.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Submission outcome labels.
const (
	OutcomeArchived    = "archived"
	OutcomeFailed      = "failed"
	OutcomeRateLimited = "rate_limited"
)

var (
	catalogFilesAddedTotal   prometheus.Counter
	catalogFilesRemovedTotal prometheus.Counter
	catalogEntries           prometheus.Gauge
	archiveSubmissionsTotal  *prometheus.CounterVec
	submissionDuration       prometheus.Histogram
	runDuration              *prometheus.HistogramVec
	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. It is safe to call
// multiple times, and every Observe helper calls it on demand, so callers
// never hit a nil collector regardless of initialization order.
func Init() {
	once.Do(func() {
		catalogFilesAddedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_files_added_total",
				Help: "Total number of new files discovered in the bucket listing.",
			},
		)

		catalogFilesRemovedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_files_removed_total",
				Help: "Total number of files newly marked as removed from the bucket.",
			},
		)

		catalogEntries = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_entries",
				Help: "Number of rows in the persisted catalog, removed rows included.",
			},
		)

		archiveSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_submissions_total",
				Help: "Total number of archive submissions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		submissionDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archive_submission_duration_seconds",
				Help:    "Histogram of single archive submission latencies.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		)

		runDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "run_duration_seconds",
				Help:    "Histogram of whole run durations, labeled by run kind.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"kind"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSync records the outcome of one reconcile pass.
func ObserveSync(added, removed, catalogSize int) {
	Init()
	catalogFilesAddedTotal.Add(float64(added))
	catalogFilesRemovedTotal.Add(float64(removed))
	catalogEntries.Set(float64(catalogSize))
}

// ObserveSubmission records one archive submission attempt.
func ObserveSubmission(outcome string, duration time.Duration) {
	Init()
	archiveSubmissionsTotal.WithLabelValues(outcome).Inc()
	submissionDuration.Observe(duration.Seconds())
}

// ObserveRun records the duration of a whole sync or archive run.
func ObserveRun(kind string, duration time.Duration) {
	Init()
	runDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// PushToGateway pushes all registered collectors to a Pushgateway. Runs are
// short-lived, so a scrape rarely catches them; pushing at the end of a run
// is how their metrics reach Prometheus.
func PushToGateway(ctx context.Context, gatewayURL, job string) error {
	return push.New(gatewayURL, job).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
}
