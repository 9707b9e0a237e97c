// Package service implements the review operations shared by the HTTP API,
// the command listener and the management CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/events"
	"github.com/helixir/review-pipeline-service/internal/observability"
	"github.com/helixir/review-pipeline-service/internal/repository"
	"github.com/helixir/review-pipeline-service/internal/temporal"
)

// Input bounds.
const (
	MaxTopicLength  = 500
	MaxPromptLength = 10000

	// DefaultMaxPendingJobs is the per-user cap on open jobs.
	DefaultMaxPendingJobs = 3
)

// WorkflowStarter starts and signals review workflows.
type WorkflowStarter interface {
	StartReview(ctx context.Context, input temporal.ReviewWorkflowInput) (workflowID, runID string, err error)
	CancelReview(ctx context.Context, workflowID, runID, reason string) error
}

// Deps holds the collaborators of Reviews.
type Deps struct {
	Jobs      repository.JobRepository
	Items     repository.ItemRepository
	Documents repository.DocumentRepository
	Workflows WorkflowStarter
	Publisher events.Publisher
	Metrics   *observability.Metrics
	Logger    zerolog.Logger

	// MaxPendingJobs defaults to DefaultMaxPendingJobs.
	MaxPendingJobs int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Reviews submits, inspects and steers review jobs.
type Reviews struct {
	deps Deps
}

// NewReviews creates a Reviews service.
func NewReviews(deps Deps) *Reviews {
	if deps.MaxPendingJobs <= 0 {
		deps.MaxPendingJobs = DefaultMaxPendingJobs
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	deps.Logger = deps.Logger.With().Str("component", "reviews").Logger()
	return &Reviews{deps: deps}
}

// SubmitRequest is a new review request.
type SubmitRequest struct {
	// UserID owns the job. Empty when authentication is disabled.
	UserID string
	Topic  string
	Prompt string
}

func (r SubmitRequest) validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return domain.NewValidationError("topic", "topic is required")
	}
	if len(r.Topic) > MaxTopicLength {
		return domain.NewValidationError("topic", fmt.Sprintf("topic must be at most %d characters", MaxTopicLength))
	}
	if len(r.Prompt) > MaxPromptLength {
		return domain.NewValidationError("prompt", fmt.Sprintf("prompt must be at most %d characters", MaxPromptLength))
	}
	return nil
}

// Submit creates a pending job and starts its workflow.
//
// A user with MaxPendingJobs open jobs is refused with
// domain.ErrTooManyPendingJobs. When the workflow cannot be started the job is
// marked failed so it does not count against the limit.
func (s *Reviews) Submit(ctx context.Context, req SubmitRequest) (*domain.ReviewJob, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := req.validate(); err != nil {
		return nil, err
	}

	job := domain.NewReviewJob(req.UserID, req.Topic, req.Prompt, s.deps.Now().UTC())
	create := s.deps.Jobs.Create
	if req.UserID != "" {
		create = func(ctx context.Context, job *domain.ReviewJob) error {
			return s.deps.Jobs.CreateWithinLimit(ctx, job, s.deps.MaxPendingJobs)
		}
	}
	if err := create(ctx, job); err != nil {
		if errors.Is(err, domain.ErrTooManyPendingJobs) {
			return nil, err
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	logger := observability.WithJobContext(s.deps.Logger, job.TrackingID.String())

	workflowID, runID, err := s.deps.Workflows.StartReview(ctx, temporal.ReviewWorkflowInput{
		TrackingID: job.TrackingID,
		UserID:     job.UserID,
		Topic:      job.Topic,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to start review workflow")
		jobErr := &domain.JobError{Kind: domain.FatalInternal, Stage: domain.StagePending, Message: "workflow start failed"}
		if finishErr := s.deps.Jobs.Finish(context.WithoutCancel(ctx), job.TrackingID, domain.StageFailed, jobErr); finishErr != nil {
			logger.Error().Err(finishErr).Msg("failed to mark unstarted job failed")
		}
		return nil, fmt.Errorf("%w: start workflow: %v", domain.ErrServiceUnavailable, err)
	}

	if err := s.deps.Jobs.SetWorkflow(ctx, job.TrackingID, workflowID, runID); err != nil {
		logger.Warn().Err(err).Msg("failed to record workflow IDs")
	} else {
		job.WorkflowID = workflowID
		job.RunID = runID
	}

	s.deps.Metrics.RecordJobSubmitted()
	s.publish(ctx, logger, domain.EventTypeReviewSubmitted, job.TrackingID, domain.ReviewSubmittedPayload{
		TrackingID: job.TrackingID,
		UserID:     job.UserID,
		Topic:      job.Topic,
	})

	logger.Info().Str("workflow_id", workflowID).Msg("review submitted")
	return job, nil
}

// Get returns a job with its per-stage counts. Jobs of other users are
// reported as not found. An empty userID skips the ownership check.
func (s *Reviews) Get(ctx context.Context, userID string, trackingID uuid.UUID) (*domain.ReviewJob, error) {
	job, err := s.owned(ctx, userID, trackingID)
	if err != nil {
		return nil, err
	}

	counts, err := s.deps.Items.StageCounts(ctx, trackingID)
	if err != nil {
		return nil, fmt.Errorf("load stage counts: %w", err)
	}
	job.StageCounts = counts
	return job, nil
}

// List returns the jobs matching filter and the total match count.
func (s *Reviews) List(ctx context.Context, filter repository.JobFilter) ([]*domain.ReviewJob, int64, error) {
	jobs, total, err := s.deps.Jobs.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// Items returns the per-item outcomes of a job, optionally for one stage.
func (s *Reviews) Items(ctx context.Context, userID string, trackingID uuid.UUID, stage domain.Stage) ([]domain.ItemRecord, error) {
	if _, err := s.owned(ctx, userID, trackingID); err != nil {
		return nil, err
	}
	if stage != "" && !stage.IsItemized() {
		return nil, domain.NewValidationError("stage", "stage has no items: "+string(stage))
	}
	return s.deps.Items.ListItems(ctx, trackingID, stage)
}

// Cancel requests cooperative cancellation of a job and signals its workflow.
//
// The durable flag is authoritative; a failed signal is only logged because
// the running pipeline also polls the flag. Finished jobs return
// domain.ErrInvalidTransition.
func (s *Reviews) Cancel(ctx context.Context, userID string, trackingID uuid.UUID, reason string) error {
	job, err := s.owned(ctx, userID, trackingID)
	if err != nil {
		return err
	}
	if job.Stage.IsTerminal() {
		return fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, job.Stage)
	}

	if err := s.deps.Jobs.RequestCancel(ctx, trackingID); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}

	logger := observability.WithJobContext(s.deps.Logger, trackingID.String())
	if job.WorkflowID != "" {
		if err := s.deps.Workflows.CancelReview(ctx, job.WorkflowID, "", reason); err != nil {
			logger.Warn().Err(err).Str("workflow_id", job.WorkflowID).Msg("failed to signal cancellation")
		}
	}

	logger.Info().Str("reason", reason).Msg("cancellation requested")
	return nil
}

// Retry submits a new job with the topic and prompt of a failed or cancelled
// job. The original job is left untouched.
func (s *Reviews) Retry(ctx context.Context, userID string, trackingID uuid.UUID) (*domain.ReviewJob, error) {
	job, err := s.owned(ctx, userID, trackingID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusFailed && job.Status != domain.JobStatusCancelled {
		return nil, fmt.Errorf("%w: only failed or cancelled jobs can be retried, job is %s", domain.ErrInvalidTransition, job.Status)
	}

	retried, err := s.Submit(ctx, SubmitRequest{UserID: job.UserID, Topic: job.Topic, Prompt: job.Prompt})
	if err != nil {
		return nil, err
	}
	logger := observability.WithJobContext(s.deps.Logger, retried.TrackingID.String())
	logger.Info().
		Str("retry_of", trackingID.String()).
		Msg("review retried")
	return retried, nil
}

// RetryResult reports one job handled by RetryFailed.
type RetryResult struct {
	Original uuid.UUID
	Retried  uuid.UUID
	Err      error
}

// RetryFailed resubmits every failed job created between since and now.
// Errors are collected per job and do not stop the batch.
func (s *Reviews) RetryFailed(ctx context.Context, since time.Time) ([]RetryResult, error) {
	// Jobs created by this batch fall after the window and are not revisited.
	until := s.deps.Now().UTC()
	if !since.Before(until) {
		return nil, nil
	}
	filter := repository.JobFilter{
		Status:        []domain.JobStatus{domain.JobStatusFailed},
		CreatedAfter:  &since,
		CreatedBefore: &until,
		Limit:         100,
	}

	var results []RetryResult
	for {
		jobs, total, err := s.deps.Jobs.List(ctx, filter)
		if err != nil {
			return results, fmt.Errorf("list failed jobs: %w", err)
		}
		for _, job := range jobs {
			res := RetryResult{Original: job.TrackingID}
			retried, err := s.Retry(ctx, "", job.TrackingID)
			if err != nil {
				res.Err = err
			} else {
				res.Retried = retried.TrackingID
			}
			results = append(results, res)
		}
		filter.Offset += len(jobs)
		if len(jobs) == 0 || int64(filter.Offset) >= total {
			return results, nil
		}
	}
}

// Document returns the finished review of a succeeded job. Jobs that have not
// succeeded return domain.ErrNotReady.
func (s *Reviews) Document(ctx context.Context, userID string, trackingID uuid.UUID) (*domain.ReviewDocument, error) {
	job, err := s.owned(ctx, userID, trackingID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusSucceeded {
		return nil, fmt.Errorf("%w: job is %s", domain.ErrNotReady, job.Stage)
	}
	return s.deps.Documents.GetDocument(ctx, trackingID)
}

// owned loads a job and hides it from users other than its owner.
func (s *Reviews) owned(ctx context.Context, userID string, trackingID uuid.UUID) (*domain.ReviewJob, error) {
	job, err := s.deps.Jobs.Get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if userID != "" && job.UserID != userID {
		return nil, domain.NewNotFoundError("review_job", trackingID.String())
	}
	return job, nil
}

func (s *Reviews) publish(ctx context.Context, logger zerolog.Logger, eventType string, id uuid.UUID, payload interface{}) {
	event, err := domain.NewEvent(eventType, id, payload)
	if err == nil {
		err = s.deps.Publisher.Publish(context.WithoutCancel(ctx), event)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish event")
	}
}
