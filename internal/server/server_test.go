package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tablearena/tablearena/internal/artifact"
	"github.com/tablearena/tablearena/internal/bus"
	"github.com/tablearena/tablearena/internal/evaluation"
	"github.com/tablearena/tablearena/internal/leaderboard"
	"github.com/tablearena/tablearena/internal/metrics"
	apperrors "github.com/tablearena/tablearena/internal/pkg/errors"
	"github.com/tablearena/tablearena/internal/pkg/logger"
	"github.com/tablearena/tablearena/internal/progress"
	"github.com/tablearena/tablearena/internal/submission"
	"github.com/tablearena/tablearena/internal/worker"
)

var equalScorer = evaluation.ScorerFunc(func(_ context.Context, candidate, reference string) (float64, error) {
	if candidate == reference {
		return 1, nil
	}
	return 0, nil
})

const halfRight = `{"t1": "| a | b |", "t2": "| x | y |"}`

type testEnv struct {
	srv     *Server
	ts      *httptest.Server
	bus     *bus.MemoryBus
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	dir := t.TempDir()

	reg, err := artifact.NewRegistry(filepath.Join(dir, "uploads"), filepath.Join(dir, "details"))
	if err != nil {
		t.Fatal(err)
	}
	backend, err := leaderboard.NewFileBackend(filepath.Join(dir, "leaderboard.json"))
	if err != nil {
		t.Fatal(err)
	}
	gt := evaluation.NewGroundTruth([]evaluation.Reference{
		{ID: "t1", Text: "| a | b |"},
		{ID: "t2", Text: "| c | d |"},
	})

	memBus := bus.NewMemoryBus(logger.Discard())
	el, err := bus.NewEventLogger(filepath.Join(dir, "events.jsonl"), true)
	if err != nil {
		t.Fatal(err)
	}
	el.SkipTopics(bus.TopicEvaluationProgress)
	eventBus := bus.NewLoggedBus(memBus, el, logger.Discard())

	svc := submission.NewService(gt, evaluation.NewEvaluator(equalScorer),
		leaderboard.NewStore(backend), reg, worker.NewPool(2, time.Second), eventBus, logger.Discard())

	m := metrics.New()
	srv := New(cfg, svc, eventBus, el, m, logger.Discard())
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		svc.Close()
		eventBus.Close()
	})
	return &testEnv{srv: srv, ts: ts, bus: memBus, metrics: m}
}

func multipartBody(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		_ = mw.WriteField("name", name)
	}
	if content != "" {
		fw, err := mw.CreateFormFile("file", "predictions.json")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(content))
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) submit(t *testing.T, name, content, accept string) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, name, content)
	req, _ := http.NewRequest(http.MethodPost, e.ts.URL+"/v1/submissions", body)
	req.Header.Set("Content-Type", ct)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /v1/submissions: %v", err)
	}
	return resp
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	return events
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestSubmit_JSON(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	resp := env.submit(t, "alice", halfRight, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var got SubmissionResponse
	decodeBody(t, resp, &got)
	if got.Name != "alice" || got.Rank != 1 || got.JobID == "" {
		t.Errorf("response = %+v", got)
	}
	if got.Result == nil || got.AggregateScore != 0.5 || got.ValidCount != 2 || got.TotalCount != 2 {
		t.Errorf("result = %+v", got.Result)
	}
	if len(got.Details) != 2 || got.Details[0].ID != "t1" || got.Details[0].Score != 1 {
		t.Errorf("details = %+v", got.Details)
	}
}

func TestSubmit_JSONErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUploadBytes = 1 << 10
	env := newTestEnv(t, cfg)

	if resp := env.submit(t, "taken", halfRight, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("setup status = %d", resp.StatusCode)
	}

	tests := []struct {
		name        string
		participant string
		content     string
		wantStatus  int
		wantCode    string
	}{
		{"duplicate", "taken", halfRight, http.StatusConflict, apperrors.CodeAlreadyExists},
		{"bad json", "bob", "{nope", http.StatusBadRequest, apperrors.CodeRejected},
		{"bad name", "../x", halfRight, http.StatusBadRequest, apperrors.CodeRejected},
		{"missing file", "bob", "", http.StatusBadRequest, apperrors.CodeInvalidRequest},
		{"too large", "bob", `{"t1": "` + strings.Repeat("x", 2<<10) + `"}`, http.StatusRequestEntityTooLarge, apperrors.CodeTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.submit(t, tt.participant, tt.content, "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body apperrors.ErrorResponse
			decodeBody(t, resp, &body)
			if body.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Code, tt.wantCode)
			}
		})
	}
}

func TestSubmit_EventStream(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	resp := env.submit(t, "carol", halfRight, "text/event-stream")
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %s", ct)
	}

	events := readSSE(t, resp.Body)
	if len(events) != 3 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}

	for i, ev := range events[:2] {
		if ev.name != "progress" {
			t.Fatalf("event %d = %s, want progress", i, ev.name)
		}
		var p progress.Event
		if err := json.Unmarshal([]byte(ev.data), &p); err != nil {
			t.Fatal(err)
		}
		if p.Current != i+1 || p.Total != 2 {
			t.Errorf("progress %d = %+v", i, p)
		}
	}

	last := events[2]
	if last.name != "result" {
		t.Fatalf("final event = %s, want result", last.name)
	}
	var res SubmissionResponse
	if err := json.Unmarshal([]byte(last.data), &res); err != nil {
		t.Fatal(err)
	}
	if res.AggregateScore != 0.5 || res.Rank != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestSubmit_EventStreamRejected(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	resp := env.submit(t, "dave", `{"t1": 3}`, "text/event-stream")
	defer resp.Body.Close()

	events := readSSE(t, resp.Body)
	if len(events) != 1 || events[0].name != "error" {
		t.Fatalf("events = %+v", events)
	}
	var body apperrors.ErrorResponse
	if err := json.Unmarshal([]byte(events[0].data), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != apperrors.CodeRejected || body.Details["reason"] != evaluation.ReasonFormat {
		t.Errorf("error = %+v", body)
	}
}

func TestLeaderboardAndDetails(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.submit(t, "half", halfRight, "").Body.Close()
	env.submit(t, "full", `{"t1": "| a | b |", "t2": "| c | d |"}`, "").Body.Close()

	resp, err := http.Get(env.ts.URL + "/v1/leaderboard")
	if err != nil {
		t.Fatal(err)
	}
	var board []RankedEntry
	decodeBody(t, resp, &board)
	want := []RankedEntry{{1, "full", 1}, {2, "half", 0.5}}
	if len(board) != 2 || board[0] != want[0] || board[1] != want[1] {
		t.Errorf("leaderboard = %+v, want %+v", board, want)
	}

	resp, _ = http.Get(env.ts.URL + "/v1/submissions/half")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("details status = %d", resp.StatusCode)
	}
	var rec artifact.Record
	decodeBody(t, resp, &rec)
	if rec.Name != "half" || rec.Result.AggregateScore != 0.5 {
		t.Errorf("record = %+v", rec)
	}

	resp, _ = http.Get(env.ts.URL + "/v1/submissions/nobody")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown details status = %d", resp.StatusCode)
	}
}

func TestDelete_AdminToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminToken = "s3cret"
	env := newTestEnv(t, cfg)
	env.submit(t, "erin", halfRight, "").Body.Close()

	del := func(token string) int {
		req, _ := http.NewRequest(http.MethodDelete, env.ts.URL+"/v1/admin/submissions/erin", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := del(""); got != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", got)
	}
	if got := del("wrong"); got != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", got)
	}
	if got := del("s3cret"); got != http.StatusOK {
		t.Errorf("valid token: status = %d", got)
	}
	if got := del("s3cret"); got != http.StatusNotFound {
		t.Errorf("second delete: status = %d", got)
	}
}

func TestEventsFeed(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		env.ts.URL+"/v1/events?topics="+bus.TopicEvaluationCompleted, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	for env.bus.SubscriberCount(bus.TopicEvaluationCompleted) == 0 {
		if ctx.Err() != nil {
			t.Fatal("feed never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.submit(t, "fay", halfRight, "").Body.Close()

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev bus.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatal(err)
		}
		var p bus.CompletedPayload
		if err := ev.Decode(&p); err != nil {
			t.Fatal(err)
		}
		if ev.Type != bus.TopicEvaluationCompleted || p.Participant != "fay" {
			t.Errorf("event = %+v", ev)
		}
		return
	}
	t.Fatal("no event received")
}

func TestEventsFeed_EndsOnStop(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	for env.bus.SubscriberCount(bus.TopicEvaluationCompleted) == 0 {
		if ctx.Err() != nil {
			t.Fatal("feed never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := env.srv.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatalf("feed did not end cleanly: %v", err)
	}
}

func TestEventHistory(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.submit(t, "gus", halfRight, "").Body.Close()
	env.submit(t, "gus", halfRight, "").Body.Close() // rejected duplicate

	resp, err := http.Get(env.ts.URL + "/v1/events/history?limit=10")
	if err != nil {
		t.Fatal(err)
	}
	var events []bus.LoggedEvent
	decodeBody(t, resp, &events)

	topics := map[string]int{}
	for _, e := range events {
		topics[e.Topic]++
	}
	if topics[bus.TopicEvaluationProgress] != 0 {
		t.Error("progress events should not be logged")
	}
	if topics[bus.TopicEvaluationCompleted] != 1 || topics[bus.TopicSubmissionRejected] != 1 {
		t.Errorf("logged topics = %v", topics)
	}

	resp, _ = http.Get(env.ts.URL + "/v1/events/history?limit=zero")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1
	env := newTestEnv(t, cfg)

	var codes []int
	for _, name := range []string{"h1", "h2", "h3"} {
		resp := env.submit(t, name, halfRight, "")
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v", codes)
	}

	// Reads are never limited.
	resp, _ := http.Get(env.ts.URL + "/v1/leaderboard")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("leaderboard status = %d", resp.StatusCode)
	}
}

func TestHealthVersionMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Build = BuildInfo{Version: "1.2.3", Commit: "abc"}
	env := newTestEnv(t, cfg)
	env.submit(t, "ian", halfRight, "").Body.Close()

	resp, _ := http.Get(env.ts.URL + "/healthz")
	var health map[string]any
	decodeBody(t, resp, &health)
	if health["status"] != "ok" || health["ground_truth"] != float64(2) {
		t.Errorf("health = %v", health)
	}

	resp, _ = http.Get(env.ts.URL + "/v1/version")
	var build BuildInfo
	decodeBody(t, resp, &build)
	if build.Version != "1.2.3" || build.Commit != "abc" {
		t.Errorf("version = %+v", build)
	}

	resp, _ = http.Get(env.ts.URL + "/metrics")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `arena_http_requests_total{method="POST",route="/v1/submissions",status="200"} 1`) {
		t.Errorf("metrics missing submission request:\n%s", body)
	}

	env.srv.ready.Store(false)
	resp, _ = http.Get(env.ts.URL + "/healthz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("draining health status = %d", resp.StatusCode)
	}
}
