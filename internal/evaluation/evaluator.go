// Package evaluation scores a batch of predicted tables against the
// ground-truth set and aggregates the per-table similarity.
package evaluation

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/tablearena/tablearena/internal/normalize"
)

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithEmptyReferencePolicy sets how empty ground-truth entries are handled.
func WithEmptyReferencePolicy(p EmptyReferencePolicy) Option {
	return func(e *Evaluator) { e.emptyRef = p }
}

// WithNormalizer replaces the table normalizer applied to both sides.
func WithNormalizer(fn func(string) string) Option {
	return func(e *Evaluator) { e.normalize = fn }
}

// Evaluator runs batch evaluations. It holds no per-run state and is safe for
// concurrent use.
type Evaluator struct {
	scorer    Scorer
	normalize func(string) string
	emptyRef  EmptyReferencePolicy
}

// NewEvaluator creates an evaluator that delegates similarity to scorer.
func NewEvaluator(scorer Scorer, opts ...Option) *Evaluator {
	e := &Evaluator{
		scorer:    scorer,
		normalize: normalize.Normalize,
		emptyRef:  EmptyReferenceSkip,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores preds against gt. onProgress, if set, is called once per
// ground-truth identifier before that identifier is processed.
//
// The aggregate is the mean over valid details only; missing, invalid and
// error details are reported but do not dilute it.
//
// A failure on one identifier is recorded as an error detail and never aborts
// the run. The only error returned is ctx's when the run is cancelled, in
// which case no partial result is produced.
func (e *Evaluator) Evaluate(ctx context.Context, gt *GroundTruth, preds Predictions, onProgress ProgressFunc) (*Result, error) {
	total := gt.Len()
	details := make([]Detail, 0, total)
	sum := 0.0
	valid := 0

	for i, id := range gt.ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(i+1, total, id)
		}

		reference := gt.refs[id]
		if isBlank(reference) {
			if e.emptyRef == EmptyReferenceInvalid {
				details = append(details, Detail{ID: id, Score: 0, Status: StatusInvalid, Reason: "empty reference"})
			}
			continue
		}

		candidate := preds[id]
		if isBlank(candidate) {
			details = append(details, Detail{ID: id, Score: 0, Status: StatusMissing})
			continue
		}

		score, err := e.scoreOne(ctx, candidate, reference)
		if err != nil {
			details = append(details, Detail{ID: id, Score: 0, Status: StatusError, Reason: err.Error()})
			continue
		}

		sum += score
		valid++
		details = append(details, Detail{ID: id, Score: Round4(score), Status: StatusValid})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Details:    details,
		ValidCount: valid,
		TotalCount: len(details),
	}
	if valid > 0 {
		result.AggregateScore = Round4(sum / float64(valid))
	}
	return result, nil
}

// scoreOne normalizes both sides and scores them. Panics from the normalizer
// or scorer are converted to errors.
func (e *Evaluator) scoreOne(ctx context.Context, candidate, reference string) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			score, err = 0, fmt.Errorf("scoring panicked: %v", r)
		}
	}()

	c := e.normalize(candidate)
	r := e.normalize(reference)

	score, err = e.scorer.Score(ctx, c, r)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("score %v outside [0,1]", score)
	}
	return score, nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
