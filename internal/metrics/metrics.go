// Package metrics exposes Prometheus collectors for the harvest pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	searchesTotal        *prometheus.CounterVec
	archiveSubmitsTotal  *prometheus.CounterVec
	retrievalsTotal      *prometheus.CounterVec
	documentsTotal       *prometheus.CounterVec
	locationsTotal       *prometheus.CounterVec
	rateLimitDelaySecs   *prometheus.HistogramVec
	stageDurationSeconds *prometheus.HistogramVec
	activeWorkers        prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lawharvest_searches_total",
				Help: "Search executions, labeled by outcome (executed, cached, zero_results, failed).",
			},
			[]string{"outcome"},
		)
		archiveSubmitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lawharvest_archive_submissions_total",
				Help: "Archival submissions, labeled by outcome (submitted, cached, fatal).",
			},
			[]string{"outcome"},
		)
		retrievalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lawharvest_retrievals_total",
				Help: "Content retrievals, labeled by source (snapshot, live) and format.",
			},
			[]string{"source", "format"},
		)
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lawharvest_documents_total",
				Help: "Update-detection outcomes, labeled by state (new, unchanged, changed, flagged).",
			},
			[]string{"state"},
		)
		locationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lawharvest_locations_total",
				Help: "Processed locations, labeled by outcome (succeeded, abandoned, failed).",
			},
			[]string{"outcome"},
		)
		rateLimitDelaySecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lawharvest_rate_limit_delay_seconds",
				Help:    "Delay introduced by the shared rate limiters.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"limiter"},
		)
		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lawharvest_stage_duration_seconds",
				Help:    "Wall-clock duration per pipeline stage.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"stage"},
		)
		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lawharvest_active_workers",
			Help: "Workers currently processing a location.",
		})
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// CountSearch records one search-scheduler decision.
func CountSearch(outcome string) {
	Init()
	searchesTotal.WithLabelValues(outcome).Inc()
}

// CountArchiveSubmit records one archival-coordinator decision.
func CountArchiveSubmit(outcome string) {
	Init()
	archiveSubmitsTotal.WithLabelValues(outcome).Inc()
}

// CountRetrieval records one content retrieval.
func CountRetrieval(source, format string) {
	Init()
	retrievalsTotal.WithLabelValues(source, format).Inc()
}

// CountDocument records one update-detection outcome.
func CountDocument(state string) {
	Init()
	documentsTotal.WithLabelValues(state).Inc()
}

// CountLocation records one completed location.
func CountLocation(outcome string) {
	Init()
	locationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records time spent waiting on a shared limiter.
func ObserveRateLimitDelay(limiter string, d time.Duration) {
	Init()
	rateLimitDelaySecs.WithLabelValues(limiter).Observe(d.Seconds())
}

// ObserveStageDuration records one pipeline stage's wall-clock time.
func ObserveStageDuration(stage string, d time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	Init()
	activeWorkers.Inc()
}

// WorkerStopped decrements the active worker gauge.
func WorkerStopped() {
	Init()
	activeWorkers.Dec()
}
