// Package submission runs the arena workflow for one participant upload:
// reserve the name, store the upload, evaluate it on the worker pool and
// commit the score to the leaderboard, rolling back every artifact when any
// step fails.
package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablearena/tablearena/internal/artifact"
	"github.com/tablearena/tablearena/internal/bus"
	"github.com/tablearena/tablearena/internal/evaluation"
	"github.com/tablearena/tablearena/internal/leaderboard"
	apperrors "github.com/tablearena/tablearena/internal/pkg/errors"
	"github.com/tablearena/tablearena/internal/pkg/logger"
	"github.com/tablearena/tablearena/internal/progress"
	"github.com/tablearena/tablearena/internal/worker"
)

const source = "submission"

// relayBuffer bounds progress events queued for the bus per run.
const relayBuffer = 64

// Request is one participant upload.
type Request struct {
	Name string
	Data []byte
}

// Outcome is the committed result of an accepted submission.
type Outcome struct {
	JobID       string              `json:"job_id"`
	Name        string              `json:"name"`
	Result      *evaluation.Result  `json:"result"`
	Rank        int                 `json:"rank"`
	Leaderboard []leaderboard.Entry `json:"leaderboard"`
}

type runResult struct {
	outcome *Outcome
	err     error
}

// Service coordinates artifacts, evaluation and the leaderboard.
type Service struct {
	gt        *evaluation.GroundTruth
	evaluator *evaluation.Evaluator
	board     *leaderboard.Store
	artifacts *artifact.Registry
	pool      *worker.Pool
	bus       bus.Bus
	log       *logger.Logger

	mu       sync.Mutex
	reserved map[string]struct{}

	// ctx bounds running evaluations; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a service. eventBus may be nil.
func NewService(
	gt *evaluation.GroundTruth,
	evaluator *evaluation.Evaluator,
	board *leaderboard.Store,
	artifacts *artifact.Registry,
	pool *worker.Pool,
	eventBus bus.Bus,
	log *logger.Logger,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		gt:        gt,
		evaluator: evaluator,
		board:     board,
		artifacts: artifacts,
		pool:      pool,
		bus:       eventBus,
		log:       log,
		reserved:  make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit evaluates req and commits it to the leaderboard. observer receives
// progress events and may be nil.
//
// The caller blocks until the run finishes or ctx is done. Once a run has
// started it completes and commits even if the caller stops waiting.
func (s *Service) Submit(ctx context.Context, req Request, observer progress.Sink) (*Outcome, error) {
	name, err := CleanName(req.Name)
	if err != nil {
		s.rejected(req.Name, err)
		return nil, err
	}
	log := s.log.WithContext(ctx).WithParticipant(name)

	if err := s.reserve(name); err != nil {
		s.rejected(name, err)
		return nil, err
	}
	// release is handed to the worker once the run is queued.
	release := func() { s.unreserve(name) }

	if err := s.artifacts.SaveUpload(name, req.Data); err != nil {
		release()
		s.rejected(name, err)
		return nil, err
	}

	preds, err := evaluation.ParsePredictions(req.Data)
	if err != nil {
		s.discard(log, name)
		release()
		s.rejected(name, err)
		return nil, err
	}

	jobID := uuid.NewString()
	results := make(chan runResult, 1)

	err = s.pool.Submit(ctx, func() {
		defer release()
		out, err := s.run(jobID, name, preds, observer)
		results <- runResult{outcome: out, err: err}
	})
	if err != nil {
		s.discard(log, name)
		release()
		err = queueError(err)
		s.rejected(name, err)
		return nil, err
	}

	log.Info("Submission queued", "job_id", jobID, "predictions", len(preds))

	select {
	case r := <-results:
		return r.outcome, r.err
	case <-ctx.Done():
		log.Info("Caller stopped waiting; evaluation continues", "job_id", jobID)
		return nil, ctx.Err()
	}
}

// run executes on a worker slot.
func (s *Service) run(jobID, name string, preds evaluation.Predictions, observer progress.Sink) (*Outcome, error) {
	log := s.log.WithParticipant(name).WithJob(jobID)
	start := time.Now()

	// Bus publishing happens off the worker goroutine; a slow broker only
	// costs dropped progress events.
	relay := progress.NewBridge(relayBuffer)
	relayed := progress.Forward(s.ctx, relay, func(ev progress.Event) {
		s.publish(bus.TopicEvaluationProgress, jobID, bus.ProgressPayload{
			Participant: name,
			Current:     ev.Current,
			Total:       ev.Total,
			Percentage:  ev.Percentage,
			ID:          ev.ID,
		})
	})

	log.Info("Evaluation started", "total", s.gt.Len())

	result, err := s.evaluator.Evaluate(s.ctx, s.gt, preds, progress.Func(progress.Multi(observer, relay)))
	relay.Close()
	<-relayed
	if dropped := relay.Dropped(); dropped > 0 {
		log.Debug("Progress events dropped on the bus relay", "dropped", dropped)
	}
	if err != nil {
		return s.fail(log, jobID, name, start,
			apperrors.Wrap(apperrors.CodeUnavailable, "evaluation interrupted by shutdown", err))
	}

	rec := &artifact.Record{
		Name:      name,
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
		Result:    result,
	}
	if err := s.artifacts.SaveDetails(name, rec); err != nil {
		return s.fail(log, jobID, name, start, err)
	}

	entries, err := s.board.Insert(leaderboard.Entry{Name: name, Score: result.AggregateScore})
	if err != nil {
		return s.fail(log, jobID, name, start, err)
	}

	rank := leaderboard.RankOf(entries, name)
	elapsed := time.Since(start)

	log.Info("Evaluation committed",
		"aggregate_score", result.AggregateScore,
		"valid", result.ValidCount,
		"total", result.TotalCount,
		"rank", rank,
		"duration", elapsed,
	)

	statuses := make(map[string]int)
	for st, n := range result.StatusCounts() {
		statuses[string(st)] = n
	}
	s.publish(bus.TopicEvaluationCompleted, jobID, bus.CompletedPayload{
		Participant:    name,
		AggregateScore: result.AggregateScore,
		ValidCount:     result.ValidCount,
		TotalCount:     result.TotalCount,
		Statuses:       statuses,
		Rank:           rank,
		DurationMs:     elapsed.Milliseconds(),
	})
	s.publish(bus.TopicLeaderboardUpdated, jobID, bus.LeaderboardPayload{
		Participant: name,
		Action:      "inserted",
		Entries:     len(entries),
	})

	return &Outcome{
		JobID:       jobID,
		Name:        name,
		Result:      result,
		Rank:        rank,
		Leaderboard: entries,
	}, nil
}

// fail rolls back the artifacts of a run that did not commit.
func (s *Service) fail(log *logger.Logger, jobID, name string, start time.Time, err error) (*Outcome, error) {
	log.WithError(err).Error("Evaluation failed; rolling back")
	s.discard(log, name)

	s.publish(bus.TopicEvaluationCompleted, jobID, bus.CompletedPayload{
		Participant: name,
		DurationMs:  time.Since(start).Milliseconds(),
		Error:       err.Error(),
	})
	return nil, err
}

// Delete removes the leaderboard entry, detail record and raw upload for
// name. Either all three go or none do. Stored artifacts with no leaderboard
// entry are removed on their own, which frees the name for a new submission.
func (s *Service) Delete(ctx context.Context, name string) error {
	name, err := CleanName(name)
	if err != nil {
		return apperrors.NotFoundError("participant")
	}
	log := s.log.WithContext(ctx).WithParticipant(name)

	if !s.claim(name) {
		return apperrors.New(apperrors.CodeAlreadyExists,
			fmt.Sprintf("submission %q is still being evaluated", name))
	}
	defer s.unreserve(name)

	removal, err := s.artifacts.Stage(name)
	if err != nil {
		return err
	}

	entries, err := s.board.Remove(name)
	if apperrors.IsNotFound(err) && removal.Staged() > 0 {
		// Artifacts without an entry are left by runs that never committed.
		files := removal.Staged()
		if err := removal.Commit(); err != nil {
			return err
		}
		log.Warn("Removed artifacts of an uncommitted submission", "files", files)
		s.publish(bus.TopicSubmissionDeleted, "", bus.DeletedPayload{Participant: name})
		return nil
	}
	if err != nil {
		if rbErr := removal.Rollback(); rbErr != nil {
			log.WithError(rbErr).Error("Failed to restore staged artifacts")
		}
		return err
	}

	if err := removal.Commit(); err != nil {
		// The entry is gone and the staged files no longer resolve to any
		// participant; leave them for manual cleanup.
		log.WithError(err).Warn("Staged artifacts could not be deleted")
	}

	log.Info("Submission deleted", "entries", len(entries))

	s.publish(bus.TopicSubmissionDeleted, "", bus.DeletedPayload{Participant: name})
	s.publish(bus.TopicLeaderboardUpdated, "", bus.LeaderboardPayload{
		Participant: name,
		Action:      "removed",
		Entries:     len(entries),
	})
	return nil
}

// Leaderboard returns the ranked entries.
func (s *Service) Leaderboard() ([]leaderboard.Entry, error) {
	return s.board.List()
}

// Details returns the stored detail record for name.
func (s *Service) Details(name string) (*artifact.Record, error) {
	name, err := CleanName(name)
	if err != nil {
		return nil, apperrors.NotFoundError("participant")
	}
	return s.artifacts.LoadDetails(name)
}

// GroundTruthSize returns how many identifiers each run evaluates.
func (s *Service) GroundTruthSize() int {
	return s.gt.Len()
}

// Stats returns the worker pool occupancy.
func (s *Service) Stats() worker.Stats {
	return s.pool.Stats()
}

// Close stops accepting submissions and interrupts running evaluations;
// interrupted runs roll back. Use Drain first for a graceful stop.
func (s *Service) Close() {
	s.pool.Close()
	s.cancel()
}

// Drain stops accepting submissions and waits up to timeout for running
// evaluations to commit.
func (s *Service) Drain(timeout time.Duration) bool {
	s.pool.Close()
	return s.pool.Wait(timeout)
}

// reserve claims name for one run. A name is taken while a run holds it, once
// it is on the leaderboard, or while an upload for it is stored.
func (s *Service) reserve(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := func() error {
		return apperrors.AlreadyExistsError(fmt.Sprintf("participant %q", name))
	}

	if _, ok := s.reserved[name]; ok {
		return taken()
	}
	exists, err := s.board.Contains(name)
	if err != nil {
		return err
	}
	if exists || s.artifacts.UploadExists(name) {
		return taken()
	}

	s.reserved[name] = struct{}{}
	return nil
}

// claim takes the reservation for name without the existence checks.
func (s *Service) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reserved[name]; ok {
		return false
	}
	s.reserved[name] = struct{}{}
	return true
}

func (s *Service) unreserve(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, name)
}

func (s *Service) discard(log *logger.Logger, name string) {
	if err := s.artifacts.Discard(name); err != nil {
		log.WithError(err).Error("Failed to discard artifacts")
	}
}

func (s *Service) rejected(name string, err error) {
	payload := bus.RejectedPayload{Participant: name, Message: err.Error()}
	if appErr, ok := apperrors.As(err); ok {
		payload.Code = appErr.Code
		payload.Reason = appErr.Details["reason"]
		payload.Message = appErr.Message
	}
	s.publish(bus.TopicSubmissionRejected, "", payload)
}

// publish never fails the caller; bus errors are logged.
func (s *Service) publish(topic, jobID string, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), topic, bus.NewEvent(topic, source, jobID, payload)); err != nil {
		s.log.Warn("Failed to publish event", "topic", topic, "error", err)
	}
}

func queueError(err error) error {
	switch {
	case errors.Is(err, worker.ErrQueueTimeout):
		return apperrors.Wrap(apperrors.CodeUnavailable, "evaluation queue is full, please try again later", err)
	case errors.Is(err, worker.ErrClosed):
		return apperrors.ServiceUnavailableError("evaluation service")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.TimeoutError("waiting for an evaluation slot")
	default:
		return err
	}
}
