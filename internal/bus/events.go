package bus

// ProgressPayload is published on TopicEvaluationProgress.
type ProgressPayload struct {
	Participant string `json:"participant"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Percentage  int    `json:"percentage"`
	ID          string `json:"id"`
}

// CompletedPayload is published on TopicEvaluationCompleted.
type CompletedPayload struct {
	Participant    string         `json:"participant"`
	AggregateScore float64        `json:"aggregate_score"`
	ValidCount     int            `json:"valid_count"`
	TotalCount     int            `json:"total_count"`
	Statuses       map[string]int `json:"statuses"`
	Rank           int            `json:"rank"`
	DurationMs     int64          `json:"duration_ms"`
	Error          string         `json:"error,omitempty"`
}

// RejectedPayload is published on TopicSubmissionRejected.
type RejectedPayload struct {
	Participant string `json:"participant"`
	Code        string `json:"code"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message"`
}

// LeaderboardPayload is published on TopicLeaderboardUpdated.
type LeaderboardPayload struct {
	Participant string `json:"participant"`
	Action      string `json:"action"` // inserted or removed
	Entries     int    `json:"entries"`
}

// DeletedPayload is published on TopicSubmissionDeleted.
type DeletedPayload struct {
	Participant string `json:"participant"`
}
