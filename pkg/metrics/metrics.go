// Package metrics provides Prometheus metrics for the ABVTrends pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScrapeRunsTotal tracks finished scrape runs by source and status
	ScrapeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "scrape",
			Name:      "runs_total",
			Help:      "Total number of scrape runs by source and status",
		},
		[]string{"source_id", "status"},
	)

	// ScrapeRunDuration tracks scrape run duration in seconds
	ScrapeRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "abvtrends",
			Subsystem: "scrape",
			Name:      "run_duration_seconds",
			Help:      "Duration of scrape runs in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"source_id"},
	)

	// ScrapeRecordsTotal tracks records fetched per source
	ScrapeRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "scrape",
			Name:      "records_total",
			Help:      "Total number of records fetched by source",
		},
		[]string{"source_id"},
	)

	// ScrapeRunsInFlight tracks source runs currently executing
	ScrapeRunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "abvtrends",
			Subsystem: "scrape",
			Name:      "runs_in_flight",
			Help:      "Number of scrape runs currently executing",
		},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "cycle",
			Name:      "total",
			Help:      "Total number of pipeline cycles by outcome",
		},
		[]string{"status"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "abvtrends",
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Duration of pipeline cycles in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 600, 1200, 1800, 3600},
		},
	)

	// MatchOutcomesTotal tracks identity resolution outcomes
	MatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "matching",
			Name:      "outcomes_total",
			Help:      "Total number of match outcomes by action and method",
		},
		[]string{"action", "method"},
	)

	ReviewsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "matching",
			Name:      "reviews_expired_total",
			Help:      "Total number of review items closed by the expiry policy",
		},
	)

	// ScoresComputedTotal tracks trend scores written by tier
	ScoresComputedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "scoring",
			Name:      "scores_total",
			Help:      "Total number of trend scores computed by tier",
		},
		[]string{"tier"},
	)

	// ScoresSkippedTotal tracks products skipped during a scoring pass
	ScoresSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "scoring",
			Name:      "skipped_total",
			Help:      "Total number of products skipped during scoring by reason",
		},
		[]string{"reason"},
	)

	ForecastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "forecasting",
			Name:      "forecasts_total",
			Help:      "Total number of forecast attempts by status",
		},
		[]string{"status"},
	)

	// SourceHTTPRequestsTotal tracks outbound adapter requests
	SourceHTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound source requests",
		},
		[]string{"source_id", "status_code"},
	)

	SourceHTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "abvtrends",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound source requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"source_id"},
	)

	// RateLimitWaitTime tracks time adapters spend waiting on their rate limiter
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "abvtrends",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for source rate limits in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source_id"},
	)

	// SourceHealth is 1 for a source's current health status and 0 otherwise
	SourceHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "abvtrends",
			Subsystem: "sources",
			Name:      "health",
			Help:      "Current health status of each source",
		},
		[]string{"source_id", "status"},
	)

	// APIRequestsTotal tracks query API requests by route and status
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of query API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "abvtrends",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of query API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "abvtrends",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "abvtrends",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)

var healthStatuses = []string{"healthy", "stale", "failed", "unknown"}

// RecordScrapeRun records a finished scrape run
func RecordScrapeRun(sourceID, status string, durationSeconds float64, records int) {
	ScrapeRunsTotal.WithLabelValues(sourceID, status).Inc()
	ScrapeRunDuration.WithLabelValues(sourceID).Observe(durationSeconds)
	ScrapeRecordsTotal.WithLabelValues(sourceID).Add(float64(records))
}

func RecordCycle(status string, durationSeconds float64) {
	CyclesTotal.WithLabelValues(status).Inc()
	CycleDuration.Observe(durationSeconds)
}

// RecordMatch records an identity resolution outcome
func RecordMatch(action, method string) {
	MatchOutcomesTotal.WithLabelValues(action, method).Inc()
}

func RecordReviewsExpired(n int) {
	ReviewsExpiredTotal.Add(float64(n))
}

func RecordScore(tier string) {
	ScoresComputedTotal.WithLabelValues(tier).Inc()
}

func RecordScoreSkipped(reason string) {
	ScoresSkippedTotal.WithLabelValues(reason).Inc()
}

func RecordForecast(status string) {
	ForecastsTotal.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an outbound source request
func RecordHTTPRequest(sourceID, statusCode string, durationSeconds float64) {
	SourceHTTPRequestsTotal.WithLabelValues(sourceID, statusCode).Inc()
	SourceHTTPRequestDuration.WithLabelValues(sourceID).Observe(durationSeconds)
}

func RecordAPIRequest(method, route, statusCode string, durationSeconds float64) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

func RecordRateLimitWait(sourceID string, durationSeconds float64) {
	RateLimitWaitTime.WithLabelValues(sourceID).Observe(durationSeconds)
}

// SetSourceHealth flags status as the source's current health
func SetSourceHealth(sourceID, status string) {
	for _, s := range healthStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		SourceHealth.WithLabelValues(sourceID, s).Set(value)
	}
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
