// Package activities provides the Temporal activities that host review jobs.
//
// Activity inputs and outputs cross the Temporal serialization boundary, so
// every field is exported and JSON-encodable.
package activities

import (
	"encoding/json"

	"github.com/google/uuid"
)

// RunReviewInput contains the parameters for the RunReview activity.
type RunReviewInput struct {
	// TrackingID identifies the job to run.
	TrackingID uuid.UUID
}

// RequestCancelInput contains the parameters for the RequestCancel activity.
type RequestCancelInput struct {
	TrackingID uuid.UUID
	Reason     string
}

// AbandonReviewInput contains the parameters for the AbandonReview activity.
type AbandonReviewInput struct {
	TrackingID uuid.UUID

	// Message is stored as the job error.
	Message string
}

// StopReviewInput contains the parameters for the StopReview activity.
type StopReviewInput struct {
	TrackingID uuid.UUID
}

// PublishEventInput is the serializable input for the PublishEvent activity.
type PublishEventInput struct {
	// EventType is the lifecycle event type, e.g. "review.started".
	EventType string

	// TrackingID is the job the event belongs to.
	TrackingID uuid.UUID

	// Payload is the JSON-encoded event payload.
	Payload json.RawMessage
}
