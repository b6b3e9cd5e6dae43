package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tablearena/tablearena/internal/bus"
	"github.com/tablearena/tablearena/internal/pkg/logger"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_counter", "Test counter", nil)
	c.Inc()
	c.Add(5)
	c.Add(-3)

	if got := c.Value(); got != 6 {
		t.Errorf("Value() = %d, want 6", got)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "Test gauge")
	g.Set(2.5)
	g.Inc()
	g.Dec()
	g.Add(0.5)

	if got := g.Value(); got != 3 {
		t.Errorf("Value() = %v, want 3", got)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_hist", "Test histogram", []float64{10, 1, 5})
	for _, v := range []float64{0.5, 3, 7, 20} {
		h.Observe(v)
	}

	counts, sum, count := h.Snapshot()
	// buckets are sorted: 1, 5, 10, +Inf
	want := []int64{1, 2, 3, 4}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("bucket %d = %d, want %d", i, counts[i], want[i])
		}
	}
	if sum != 30.5 || count != 4 {
		t.Errorf("sum = %v, count = %d", sum, count)
	}
}

func TestCounterVec(t *testing.T) {
	cv := NewCounterVec("test_vec", "Test vec", []string{"a", "b"})
	cv.WithLabels("x", "y").Inc()
	cv.WithLabels("x", "y").Inc()
	cv.WithLabels("x", "z").Inc()

	if got := cv.Get("x", "y"); got != 2 {
		t.Errorf("Get(x,y) = %d, want 2", got)
	}
	if got := cv.Get("q", "q"); got != 0 {
		t.Errorf("Get(q,q) = %d, want 0", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("wrong label count should panic")
		}
	}()
	cv.WithLabels("only-one")
}

func TestPrometheusFormat(t *testing.T) {
	m := New()
	m.Submissions.WithLabels("accepted").Inc()
	m.RecordCacheHit("memory")
	m.RecordBusPublish(bus.TopicEvaluationCompleted, 2*time.Millisecond, nil)
	m.RecordBusPublish(bus.TopicEvaluationCompleted, time.Millisecond, errors.New("boom"))
	m.AddCollector(func(m *Metrics) { m.EvaluationsQueued.Set(4) })

	out := m.PrometheusFormat()

	for _, want := range []string{
		"# TYPE arena_submissions_total counter",
		`arena_submissions_total{outcome="accepted"} 1`,
		`arena_scorer_cache_total{cache="memory",result="hit"} 1`,
		`arena_bus_publish_total{status="error",topic="evaluation.completed"} 1`,
		`arena_bus_publish_total{status="ok",topic="evaluation.completed"} 1`,
		`arena_bus_publish_latency_ms_bucket{topic="evaluation.completed",le="+Inf"} 2`,
		"arena_evaluations_queued 4",
		`arena_aggregate_score_bucket{le="0.5"} 0`,
		"# TYPE arena_uptime_seconds gauge",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	// Unused vectors emit nothing.
	if strings.Contains(out, "arena_evaluation_items_total") {
		t.Error("empty counter vec should not be exported")
	}
}

func TestEscapeString(t *testing.T) {
	if got := escapeString("a\"b\\c\nd"); got != `a\"b\\c\nd` {
		t.Errorf("escapeString() = %s", got)
	}
}

func TestServeHTTP(t *testing.T) {
	m := New()

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain; version=0.0.4") {
		t.Errorf("Content-Type = %s", ct)
	}

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/submissions/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := HTTPMiddleware(m, mux)

	for _, path := range []string{"/v1/submissions/alice", "/v1/submissions/bob", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := m.HTTPRequests.Get("GET", "/v1/submissions/{name}", "404"); got != 2 {
		t.Errorf("pattern route count = %d, want 2", got)
	}
	if got := m.HTTPRequests.Get("GET", "unmatched", "404"); got != 1 {
		t.Errorf("unmatched count = %d, want 1", got)
	}
	if got := m.HTTPRequestsInFlight.Value(); got != 0 {
		t.Errorf("in flight = %v after requests finished", got)
	}
}

func TestEventSubscriber(t *testing.T) {
	m := New()
	b := bus.NewMemoryBus(logger.Discard())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := NewEventSubscriber(m, b).SubscribeToEvents(ctx); err != nil {
		t.Fatalf("SubscribeToEvents() error = %v", err)
	}

	publish := func(topic string, payload any) {
		if err := b.Publish(ctx, topic, bus.NewEvent(topic, "test", "job-1", payload)); err != nil {
			t.Fatalf("Publish(%s) error = %v", topic, err)
		}
	}

	publish(bus.TopicEvaluationProgress, bus.ProgressPayload{Participant: "a", Current: 1, Total: 2})
	publish(bus.TopicEvaluationCompleted, bus.CompletedPayload{
		Participant:    "a",
		AggregateScore: 0.75,
		DurationMs:     1500,
		Statuses:       map[string]int{"valid": 2, "missing": 1},
	})
	publish(bus.TopicEvaluationCompleted, bus.CompletedPayload{Participant: "b", Error: "scorer down"})
	publish(bus.TopicSubmissionRejected, bus.RejectedPayload{Participant: "c", Code: "REJECTED_SUBMISSION"})
	publish(bus.TopicLeaderboardUpdated, bus.LeaderboardPayload{Participant: "a", Action: "inserted", Entries: 3})
	publish(bus.TopicSubmissionDeleted, bus.DeletedPayload{Participant: "a"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Deletions.Value() == 1 && m.LeaderboardEntries.Value() == 3 &&
			m.Submissions.Get("rejected") == 1 && m.Submissions.Get("failed") == 1 &&
			m.Submissions.Get("accepted") == 1 && m.ProgressEvents.Value() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := m.Submissions.Get("accepted"); got != 1 {
		t.Errorf("accepted = %d, want 1", got)
	}
	if got := m.Submissions.Get("failed"); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if got := m.Submissions.Get("rejected"); got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
	if got := m.EvaluationItems.Get("missing"); got != 1 {
		t.Errorf("missing items = %d, want 1", got)
	}
	if got := m.EvaluationItems.Get("valid"); got != 2 {
		t.Errorf("valid items = %d, want 2", got)
	}
	if got := m.AggregateScores.Count(); got != 1 {
		t.Errorf("aggregate observations = %d, want 1", got)
	}
	if got := m.LeaderboardEntries.Value(); got != 3 {
		t.Errorf("leaderboard entries = %v, want 3", got)
	}
	if got := m.Deletions.Value(); got != 1 {
		t.Errorf("deletions = %d, want 1", got)
	}
	if got := m.ProgressEvents.Value(); got != 1 {
		t.Errorf("progress events = %d, want 1", got)
	}
}
