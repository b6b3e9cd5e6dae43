package evaluation

import (
	"context"
	"math"
)

// Status classifies the outcome for one ground-truth identifier.
type Status string

// Detail statuses.
const (
	StatusValid   Status = "valid"   // scored normally
	StatusMissing Status = "missing" // no usable prediction
	StatusInvalid Status = "invalid" // empty reference, only with EmptyReferenceInvalid
	StatusError   Status = "error"   // normalization or scoring failed
)

// Detail is the per-identifier evaluation record.
type Detail struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Status Status  `json:"status"`
	Reason string  `json:"reason,omitempty"`
}

// Result is the outcome of one batch evaluation.
type Result struct {
	AggregateScore float64  `json:"aggregate_score"`
	Details        []Detail `json:"details"`
	ValidCount     int      `json:"valid_count"`
	TotalCount     int      `json:"total_count"`
}

// StatusCounts tallies details by status.
func (r *Result) StatusCounts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, d := range r.Details {
		counts[d.Status]++
	}
	return counts
}

// Predictions maps table identifiers to candidate table text.
type Predictions map[string]string

// ProgressFunc observes evaluation position. current is 1-based.
type ProgressFunc func(current, total int, id string)

// Scorer computes structural similarity in [0,1] between two canonical tables.
type Scorer interface {
	Score(ctx context.Context, candidate, reference string) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, candidate, reference string) (float64, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, candidate, reference string) (float64, error) {
	return f(ctx, candidate, reference)
}

// EmptyReferencePolicy decides what happens to ground-truth entries with no text.
type EmptyReferencePolicy int

const (
	// EmptyReferenceSkip drops the entry silently; it produces no detail.
	EmptyReferenceSkip EmptyReferencePolicy = iota
	// EmptyReferenceInvalid records an invalid detail with score 0.
	EmptyReferenceInvalid
)

// ParseEmptyReferencePolicy maps the config value ("skip" or "invalid").
func ParseEmptyReferencePolicy(s string) EmptyReferencePolicy {
	if s == "invalid" {
		return EmptyReferenceInvalid
	}
	return EmptyReferenceSkip
}

// Round4 rounds half away from zero to 4 decimal places.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
