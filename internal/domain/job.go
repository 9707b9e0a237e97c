package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReviewJob is one end-to-end literature review request and its mutable progress.
// The pipeline controller is its only writer while the job runs; the status sink
// holds the durable mirror every other component reads.
type ReviewJob struct {
	TrackingID uuid.UUID `json:"tracking_id"`

	// UserID is the owner of the job. Empty for jobs submitted without authentication.
	UserID string `json:"user_id,omitempty"`

	// Topic is the research topic used for discovery (required).
	Topic string `json:"topic"`

	// Prompt holds optional free-form instructions for the synthesis step.
	Prompt string `json:"prompt,omitempty"`

	Stage           Stage     `json:"stage"`
	Percent         int       `json:"percent"`
	Status          JobStatus `json:"status"`
	Error           *JobError `json:"error,omitempty"`
	CancelRequested bool      `json:"cancel_requested"`

	// Temporal workflow tracking
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`

	// StageCounts is populated by the read path only.
	StageCounts []StageCount `json:"stage_counts,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewReviewJob creates a job in the pending state.
func NewReviewJob(userID, topic, prompt string, now time.Time) *ReviewJob {
	return &ReviewJob{
		TrackingID: uuid.New(),
		UserID:     userID,
		Topic:      topic,
		Prompt:     prompt,
		Stage:      StagePending,
		Status:     JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Duration returns the duration of the job.
// Returns zero if the job has not started.
// Returns elapsed time from start if still running.
// Returns total duration if completed.
func (j *ReviewJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}

	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}

	return time.Since(*j.StartedAt)
}

// IsActive returns true if the job has not reached a terminal status.
func (j *ReviewJob) IsActive() bool {
	return !j.Status.IsTerminal()
}

// StageCount reports how many items an itemized stage attempted and how many succeeded.
type StageCount struct {
	Stage     Stage `json:"stage"`
	Attempted int   `json:"attempted"`
	Succeeded int   `json:"succeeded"`
}

// Failed returns the number of attempted items that did not succeed.
func (c StageCount) Failed() int {
	return c.Attempted - c.Succeeded
}

// Progress is a point-in-time snapshot of a running job, served by the workflow
// progress query and carried on stage events.
type Progress struct {
	TrackingID uuid.UUID `json:"tracking_id"`
	Stage      Stage     `json:"stage"`
	Percent    int       `json:"percent"`
	Status     JobStatus `json:"status"`
	Completed  int       `json:"completed"`
	Total      int       `json:"total"`
	UpdatedAt  time.Time `json:"updated_at"`
}
