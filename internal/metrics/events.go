package metrics

import (
	"context"

	"github.com/tablearena/tablearena/internal/bus"
)

// EventSubscriber subscribes to the event bus and updates metrics.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus
}

// NewEventSubscriber creates a new event subscriber.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus) *EventSubscriber {
	return &EventSubscriber{
		metrics: metrics,
		bus:     eventBus,
	}
}

// SubscribeToEvents subscribes to all arena topics until ctx is done.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	handlers := map[string]bus.Handler{
		bus.TopicEvaluationProgress:  es.handleProgress,
		bus.TopicEvaluationCompleted: es.handleCompleted,
		bus.TopicSubmissionRejected:  es.handleRejected,
		bus.TopicLeaderboardUpdated:  es.handleLeaderboard,
		bus.TopicSubmissionDeleted:   es.handleDeleted,
	}
	for _, topic := range bus.AllTopics {
		if err := es.bus.Subscribe(ctx, topic, handlers[topic]); err != nil {
			return err
		}
	}
	return nil
}

func (es *EventSubscriber) handleProgress(ctx context.Context, event bus.Event) error {
	es.metrics.ProgressEvents.Inc()
	return nil
}

func (es *EventSubscriber) handleCompleted(ctx context.Context, event bus.Event) error {
	var p bus.CompletedPayload
	if err := event.Decode(&p); err != nil {
		return err
	}

	if p.Error != "" {
		es.metrics.Submissions.WithLabels("failed").Inc()
		return nil
	}

	es.metrics.Submissions.WithLabels("accepted").Inc()
	es.metrics.EvaluationDuration.Observe(float64(p.DurationMs) / 1000)
	es.metrics.AggregateScores.Observe(p.AggregateScore)
	for status, n := range p.Statuses {
		es.metrics.EvaluationItems.WithLabels(status).Add(int64(n))
	}
	return nil
}

func (es *EventSubscriber) handleRejected(ctx context.Context, event bus.Event) error {
	es.metrics.Submissions.WithLabels("rejected").Inc()
	return nil
}

func (es *EventSubscriber) handleLeaderboard(ctx context.Context, event bus.Event) error {
	var p bus.LeaderboardPayload
	if err := event.Decode(&p); err != nil {
		return err
	}
	es.metrics.LeaderboardEntries.Set(float64(p.Entries))
	return nil
}

func (es *EventSubscriber) handleDeleted(ctx context.Context, event bus.Event) error {
	es.metrics.Deletions.Inc()
	return nil
}
