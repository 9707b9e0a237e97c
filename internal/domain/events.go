package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for job lifecycle events.
const (
	EventTypeReviewSubmitted    = "review.submitted"
	EventTypeReviewStarted      = "review.started"
	EventTypeReviewStageChanged = "review.stage_changed"
	EventTypeReviewSucceeded    = "review.succeeded"
	EventTypeReviewFailed       = "review.failed"
	EventTypeReviewCancelled    = "review.cancelled"
)

// AggregateTypeReviewJob is the aggregate type carried on every review event.
const AggregateTypeReviewJob = "review_job"

// Event is a lifecycle notification published to the event bus.
type Event struct {
	EventID       string          `json:"event_id"`
	EventVersion  int             `json:"event_version"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEvent creates a new event with the given parameters.
// The payload is JSON-serialized automatically.
func NewEvent(eventType string, trackingID uuid.UUID, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   trackingID.String(),
		AggregateType: AggregateTypeReviewJob,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// ReviewSubmittedPayload is the payload for review.submitted events.
type ReviewSubmittedPayload struct {
	TrackingID uuid.UUID `json:"tracking_id"`
	UserID     string    `json:"user_id,omitempty"`
	Topic      string    `json:"topic"`
}

// ReviewStartedPayload is the payload for review.started events.
type ReviewStartedPayload struct {
	TrackingID uuid.UUID `json:"tracking_id"`
	Topic      string    `json:"topic"`
	WorkflowID string    `json:"workflow_id,omitempty"`
}

// StageChangedPayload is the payload for review.stage_changed events.
type StageChangedPayload struct {
	TrackingID uuid.UUID `json:"tracking_id"`
	From       Stage     `json:"from"`
	To         Stage     `json:"to"`
	Percent    int       `json:"percent"`
}

// ReviewSucceededPayload is the payload for review.succeeded events.
type ReviewSucceededPayload struct {
	TrackingID  uuid.UUID     `json:"tracking_id"`
	Citations   int           `json:"citations"`
	StageCounts []StageCount  `json:"stage_counts,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// ReviewFailedPayload is the payload for review.failed events.
type ReviewFailedPayload struct {
	TrackingID uuid.UUID `json:"tracking_id"`
	Kind       FatalKind `json:"kind"`
	Stage      Stage     `json:"stage,omitempty"`
	Error      string    `json:"error"`
}

// ReviewCancelledPayload is the payload for review.cancelled events.
type ReviewCancelledPayload struct {
	TrackingID uuid.UUID `json:"tracking_id"`
	Stage      Stage     `json:"stage"`
	Reason     string    `json:"reason,omitempty"`
}
