// Package bus provides the event bus that fans evaluation and leaderboard
// events out to SSE observers, metrics, and (optionally) Kafka.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe registers handler on topic until ctx is done.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the topic the event was published on.
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`

	// JobID links all events of one evaluation run.
	JobID string `json:"job_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(topic, source, jobID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      topic,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		JobID:     jobID,
		Payload:   payload,
	}
}

// Decode copies the payload into v. Payloads arrive as typed structs from the
// memory bus and as generic maps after a Kafka round trip; both decode.
func (e Event) Decode(v any) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// Topics for different event types.
const (
	TopicEvaluationProgress  = "evaluation.progress"
	TopicEvaluationCompleted = "evaluation.completed"
	TopicSubmissionRejected  = "submission.rejected"
	TopicLeaderboardUpdated  = "leaderboard.updated"
	TopicSubmissionDeleted   = "submission.deleted"
)

// AllTopics lists every topic the arena publishes.
var AllTopics = []string{
	TopicEvaluationProgress,
	TopicEvaluationCompleted,
	TopicSubmissionRejected,
	TopicLeaderboardUpdated,
	TopicSubmissionDeleted,
}
