package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metrics holds every metric the arena exports.
type Metrics struct {
	// Submission metrics
	Submissions        *CounterVec // labels: outcome (accepted, rejected, failed)
	EvaluationsActive  *Gauge
	EvaluationsQueued  *Gauge
	EvaluationDuration *Histogram
	EvaluationItems    *CounterVec // labels: status
	AggregateScores    *Histogram
	ProgressEvents     *Counter
	Deletions          *Counter
	LeaderboardEntries *Gauge

	// Scorer cache metrics
	ScorerCache *CounterVec // labels: cache, result

	// Bus metrics
	BusPublish        *CounterVec // labels: topic, status
	BusPublishLatency *HistogramVec

	// HTTP metrics
	HTTPRequests         *CounterVec   // labels: method, route, status
	HTTPDuration         *HistogramVec // labels: method, route
	HTTPRequestsInFlight *Gauge

	Uptime    *Gauge
	startTime time.Time

	mu         sync.Mutex
	collectors []func(*Metrics)
}

// New creates a metrics instance with all metrics initialized.
func New() *Metrics {
	return &Metrics{
		Submissions: NewCounterVec(
			"arena_submissions_total",
			"Submissions by outcome",
			[]string{"outcome"},
		),
		EvaluationsActive: NewGauge(
			"arena_evaluations_active",
			"Evaluations currently running",
		),
		EvaluationsQueued: NewGauge(
			"arena_evaluations_queued",
			"Submissions waiting for an evaluation slot",
		),
		EvaluationDuration: NewHistogram(
			"arena_evaluation_duration_seconds",
			"Wall time of one batch evaluation",
			[]float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		),
		EvaluationItems: NewCounterVec(
			"arena_evaluation_items_total",
			"Evaluated table items by status",
			[]string{"status"},
		),
		AggregateScores: NewHistogram(
			"arena_aggregate_score",
			"Aggregate scores of completed evaluations",
			[]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		),
		ProgressEvents: NewCounter(
			"arena_progress_events_total",
			"Progress events published",
			nil,
		),
		Deletions: NewCounter(
			"arena_submission_deletions_total",
			"Administrative submission deletions",
			nil,
		),
		LeaderboardEntries: NewGauge(
			"arena_leaderboard_entries",
			"Entries on the leaderboard",
		),
		ScorerCache: NewCounterVec(
			"arena_scorer_cache_total",
			"Scorer cache lookups",
			[]string{"cache", "result"},
		),
		BusPublish: NewCounterVec(
			"arena_bus_publish_total",
			"Events published on the bus",
			[]string{"topic", "status"},
		),
		BusPublishLatency: NewHistogramVec(
			"arena_bus_publish_latency_ms",
			"Bus publish latency in milliseconds",
			[]string{"topic"},
			[]float64{0.1, 0.5, 1, 5, 10, 50, 100, 500},
		),
		HTTPRequests: NewCounterVec(
			"arena_http_requests_total",
			"HTTP requests",
			[]string{"method", "route", "status"},
		),
		HTTPDuration: NewHistogramVec(
			"arena_http_request_duration_ms",
			"HTTP request duration in milliseconds",
			[]string{"method", "route"},
			nil,
		),
		HTTPRequestsInFlight: NewGauge(
			"arena_http_requests_in_flight",
			"HTTP requests being served",
		),
		Uptime: NewGauge(
			"arena_uptime_seconds",
			"Seconds since the process started",
		),
		startTime: time.Now(),
	}
}

// RecordBusPublish implements bus.MetricsRecorder.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.BusPublish.WithLabels(topic, status).Inc()
	m.BusPublishLatency.WithLabels(topic).Observe(float64(latency.Microseconds()) / 1000)
}

// RecordCacheHit implements scorer.CacheMetrics.
func (m *Metrics) RecordCacheHit(cache string) {
	m.ScorerCache.WithLabels(cache, "hit").Inc()
}

// RecordCacheMiss implements scorer.CacheMetrics.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.ScorerCache.WithLabels(cache, "miss").Inc()
}

// RecordHTTP records one served request.
func (m *Metrics) RecordHTTP(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabels(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabels(method, route).Observe(float64(duration.Milliseconds()))
}

// AddCollector registers fn to refresh gauges right before each scrape.
func (m *Metrics) AddCollector(fn func(*Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectors = append(m.collectors, fn)
}

func (m *Metrics) collect() {
	m.mu.Lock()
	collectors := make([]func(*Metrics), len(m.collectors))
	copy(collectors, m.collectors)
	m.mu.Unlock()
	for _, fn := range collectors {
		fn(m)
	}
}
