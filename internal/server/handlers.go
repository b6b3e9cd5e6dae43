package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tablearena/tablearena/internal/bus"
	"github.com/tablearena/tablearena/internal/evaluation"
	apperrors "github.com/tablearena/tablearena/internal/pkg/errors"
	"github.com/tablearena/tablearena/internal/progress"
	"github.com/tablearena/tablearena/internal/submission"
)

// keepaliveInterval spaces SSE comment lines on idle streams.
var keepaliveInterval = 15 * time.Second

// SubmissionResponse is the body of a completed submission.
type SubmissionResponse struct {
	JobID string `json:"job_id"`
	Name  string `json:"name"`
	Rank  int    `json:"rank"`
	*evaluation.Result
}

// RankedEntry is one leaderboard row.
type RankedEntry struct {
	Rank  int     `json:"rank"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func newSubmissionResponse(out *submission.Outcome) SubmissionResponse {
	return SubmissionResponse{
		JobID:  out.JobID,
		Name:   out.Name,
		Rank:   out.Rank,
		Result: out.Result,
	}
}

// handleSubmit accepts multipart fields "name" and "file".
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.cfg.MaxUploadBytes {
		s.writeTooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.writeTooLarge(w)
			return
		}
		apperrors.WriteErrorWithStatus(w, http.StatusBadRequest, errors.New("expected a multipart form with name and file"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		apperrors.WriteErrorWithStatus(w, http.StatusBadRequest, errors.New("file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		apperrors.WriteError(w, apperrors.InternalError("failed to read upload", err))
		return
	}

	req := submission.Request{Name: r.FormValue("name"), Data: data}

	if wantsEventStream(r) {
		s.streamSubmission(w, r, req)
		return
	}

	out, err := s.svc.Submit(r.Context(), req, nil)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubmissionResponse(out))
}

func (s *Server) writeTooLarge(w http.ResponseWriter) {
	apperrors.WriteErrorWithStatus(w, http.StatusRequestEntityTooLarge,
		apperrors.New(apperrors.CodeTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes)))
}

// streamSubmission runs a submission and relays its progress as SSE. The
// stream ends with one "result" or "error" event. A client that disconnects
// stops receiving events; the run itself carries on and commits.
func (s *Server) streamSubmission(w http.ResponseWriter, r *http.Request, req submission.Request) {
	sse, ok := newSSEWriter(w)
	if !ok {
		apperrors.WriteError(w, apperrors.New(apperrors.CodeInternal, "streaming not supported"))
		return
	}

	bridge := progress.NewBridge(s.cfg.ProgressBuffer)

	type submitted struct {
		out *submission.Outcome
		err error
	}
	done := make(chan submitted, 1)

	// The request context only bounds the wait for a slot; a started run
	// commits regardless.
	go func() {
		out, err := s.svc.Submit(r.Context(), req, bridge)
		done <- submitted{out, err}
	}()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			bridge.Detach()
			return

		case <-ticker.C:
			if err := sse.Keepalive(); err != nil {
				bridge.Detach()
				return
			}

		case ev := <-bridge.Events():
			if err := sse.Event("progress", "", ev); err != nil {
				bridge.Detach()
				return
			}

		case res := <-done:
			// Submit returned, so no more progress will be posted.
			bridge.Close()
			for ev := range bridge.Events() {
				_ = sse.Event("progress", "", ev)
			}
			if res.err != nil {
				_, body := apperrors.Response(res.err)
				_ = sse.Event("error", "", body)
				return
			}
			_ = sse.Event("result", res.out.JobID, newSubmissionResponse(res.out))
			return
		}
	}
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.Leaderboard()
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	ranked := make([]RankedEntry, len(entries))
	for i, e := range entries {
		ranked[i] = RankedEntry{Rank: i + 1, Name: e.Name, Score: e.Score}
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Details(r.PathValue("name"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedAdmin(r) {
		apperrors.WriteJSON(w, http.StatusUnauthorized, apperrors.ErrorResponse{
			Error:   "unauthorized",
			Code:    "UNAUTHORIZED",
			Message: "admin token required",
		})
		return
	}

	name := r.PathValue("name")
	if err := s.svc.Delete(r.Context(), name); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": strings.TrimSpace(name)})
}

// handleEvents streams bus events as SSE. Optional filters: job_id and
// topics (comma separated).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("event bus"))
		return
	}

	topics := bus.AllTopics
	if raw := r.URL.Query().Get("topics"); raw != "" {
		topics = nil
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	jobID := r.URL.Query().Get("job_id")

	sse, ok := newSSEWriter(w)
	if !ok {
		apperrors.WriteError(w, apperrors.New(apperrors.CodeInternal, "streaming not supported"))
		return
	}

	eventChan := make(chan bus.Event, 64)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for _, topic := range topics {
		err := s.bus.Subscribe(ctx, topic, func(_ context.Context, event bus.Event) error {
			if jobID != "" && event.JobID != jobID {
				return nil
			}
			select {
			case eventChan <- event:
			default:
			}
			return nil
		})
		if err != nil {
			s.log.Error("Failed to subscribe to events", "topic", topic, "error", err)
		}
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case <-ticker.C:
			if err := sse.Keepalive(); err != nil {
				return
			}
		case event := <-eventChan:
			if err := sse.Event(event.Type, event.ID, event); err != nil {
				return
			}
		}
	}
}

// handleEventHistory returns logged events. Query: since (RFC 3339) and
// limit (default 100).
func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	if s.events == nil || !s.events.IsEnabled() {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("event log"))
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			apperrors.WriteErrorWithStatus(w, http.StatusBadRequest, errors.New("since must be an RFC 3339 timestamp"))
			return
		}
		since = t
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apperrors.WriteErrorWithStatus(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := s.events.GetEvents(since, limit)
	if err != nil {
		apperrors.WriteError(w, apperrors.StorageError("failed to read event log", err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.Ready() {
		status, code = "shutting_down", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"ground_truth": s.svc.GroundTruthSize(),
		"workers":      s.svc.Stats(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Build)
}

// authorizedAdmin checks the bearer token when one is configured.
func (s *Server) authorizedAdmin(r *http.Request) bool {
	if s.cfg.AdminToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) == 1
}
