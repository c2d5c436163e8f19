// Package metrics exposes Prometheus collectors for the crawler
// service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal           *prometheus.CounterVec
	itemsTotal          *prometheus.CounterVec
	fetchDuration       *prometheus.HistogramVec
	escalationsTotal    prometheus.Counter
	profileUpserts      *prometheus.CounterVec
	rateLimitDelay      *prometheus.HistogramVec
	activeJobs          prometheus.Gauge
	retryAttemptsTotal  prometheus.Counter
	blockedFetchesTotal *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Job items reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)
		fetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Fetch latency, labeled by strategy.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"strategy"},
		)
		escalationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_escalations_total",
				Help: "Fetches escalated to the rendering strategy.",
			},
		)
		profileUpserts = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_profile_upserts_total",
				Help: "Profile upserts, labeled by outcome (changed, unchanged).",
			},
			[]string{"outcome"},
		)
		rateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delay_seconds",
				Help:    "Delay introduced by the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"host"},
		)
		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_jobs",
				Help: "Jobs currently being orchestrated.",
			},
		)
		retryAttemptsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_retry_attempts_total",
				Help: "Fetch attempts beyond the first, across all items.",
			},
		)
		blockedFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_blocked_fetches_total",
				Help: "Fetches classified as blocked, labeled by host.",
			},
			[]string{"host"},
		)
	})
}

// IncJob counts a job reaching a terminal status.
func IncJob(status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}

// IncItem counts an item reaching a terminal status.
func IncItem(status string) {
	if itemsTotal != nil {
		itemsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveFetchDuration records one fetch by strategy name.
func ObserveFetchDuration(strategy string, d time.Duration) {
	if fetchDuration != nil {
		fetchDuration.WithLabelValues(strategy).Observe(d.Seconds())
	}
}

// IncEscalation counts an escalation to the rendering strategy.
func IncEscalation() {
	if escalationsTotal != nil {
		escalationsTotal.Inc()
	}
}

// IncProfileUpsert counts an upsert by outcome.
func IncProfileUpsert(outcome string) {
	if profileUpserts != nil {
		profileUpserts.WithLabelValues(outcome).Inc()
	}
}

// ObserveRateLimitDelay records a politeness wait for a host.
func ObserveRateLimitDelay(host string, d time.Duration) {
	if rateLimitDelay != nil {
		rateLimitDelay.WithLabelValues(host).Observe(d.Seconds())
	}
}

// JobStarted marks a job run as active.
func JobStarted() {
	if activeJobs != nil {
		activeJobs.Inc()
	}
}

// JobFinished marks a job run as finished.
func JobFinished() {
	if activeJobs != nil {
		activeJobs.Dec()
	}
}

// IncRetryAttempt counts a retried fetch attempt.
func IncRetryAttempt() {
	if retryAttemptsTotal != nil {
		retryAttemptsTotal.Inc()
	}
}

// IncBlockedFetch counts a blocked classification for a host.
func IncBlockedFetch(host string) {
	if blockedFetchesTotal != nil {
		blockedFetchesTotal.WithLabelValues(host).Inc()
	}
}
