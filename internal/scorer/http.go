package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of a failed response ends up in the error.
const maxErrorBody = 512

// HTTPScorer calls a remote similarity service:
//
//	POST <url> {"candidate": "...", "reference": "..."} -> {"score": 0.93}
type HTTPScorer struct {
	url    string
	client *http.Client
}

// NewHTTPScorer creates a scorer for the service at url.
func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScorer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Candidate string `json:"candidate"`
	Reference string `json:"reference"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
	Error string   `json:"error,omitempty"`
}

// Score implements evaluation.Scorer.
func (s *HTTPScorer) Score(ctx context.Context, candidate, reference string) (float64, error) {
	body, err := json.Marshal(scoreRequest{Candidate: candidate, Reference: reference})
	if err != nil {
		return 0, fmt.Errorf("encoding score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, fmt.Errorf("scorer returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding scorer response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("scorer error: %s", out.Error)
	}
	if out.Score == nil {
		return 0, fmt.Errorf("scorer response has no score")
	}
	return *out.Score, nil
}
