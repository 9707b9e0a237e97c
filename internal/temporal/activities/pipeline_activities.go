package activities

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/events"
	"github.com/helixir/review-pipeline-service/internal/observability"
	"github.com/helixir/review-pipeline-service/internal/pipeline"
)

// defaultHeartbeatInterval is used when the activity has no heartbeat timeout.
const defaultHeartbeatInterval = 10 * time.Second

// ReviewRunner is the part of pipeline.Controller the activities call.
type ReviewRunner interface {
	Run(ctx context.Context, trackingID uuid.UUID, hooks pipeline.Hooks) (*pipeline.Result, error)
	Cancel(ctx context.Context, trackingID uuid.UUID) error
	Abandon(ctx context.Context, trackingID uuid.UUID, message string) error
	Stop(ctx context.Context, trackingID uuid.UUID) error
}

// PipelineActivities hosts the stage pipeline inside a Temporal activity.
type PipelineActivities struct {
	runner    ReviewRunner
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewPipelineActivities creates a new PipelineActivities. Stage changes are
// published through publisher as they happen.
func NewPipelineActivities(runner ReviewRunner, publisher events.Publisher, logger zerolog.Logger) *PipelineActivities {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &PipelineActivities{
		runner:    runner,
		publisher: publisher,
		logger:    logger.With().Str("component", "pipeline_activities").Logger(),
	}
}

// RunReview runs one job to a terminal stage.
//
// Progress is reported as the heartbeat detail. A retried attempt resumes the
// job from its durable state. Missing jobs fail without retry. When the
// activity context ends first, the job is left running for the next attempt.
func (a *PipelineActivities) RunReview(ctx context.Context, input RunReviewInput) (*pipeline.Result, error) {
	info := activity.GetInfo(ctx)
	logger := observability.WithActivityContext(
		observability.WithWorkflowContext(
			observability.WithJobContext(a.logger, input.TrackingID.String()),
			info.WorkflowExecution.ID, info.WorkflowExecution.RunID,
		),
		info.ActivityType.Name, int(info.Attempt),
	)

	interval := defaultHeartbeatInterval
	if info.HeartbeatTimeout > 0 {
		interval = info.HeartbeatTimeout / 3
	}

	var (
		mu     sync.Mutex
		latest domain.Progress
	)
	heartbeat := func() {
		mu.Lock()
		p := latest
		mu.Unlock()
		activity.RecordHeartbeat(ctx, p)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				heartbeat()
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	from := domain.StagePending
	hooks := pipeline.Hooks{
		OnProgress: func(p domain.Progress) {
			mu.Lock()
			latest = p
			mu.Unlock()
		},
		OnStageChange: func(stage domain.Stage, percent int) {
			prev := from
			from = stage
			if stage.IsTerminal() {
				return
			}
			a.publishStageChange(ctx, logger, input.TrackingID, prev, stage, percent)
		},
	}

	logger.Info().Msg("running review")
	result, err := a.runner.Run(ctx, input.TrackingID, hooks)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "NotFound", err)
		}
		logger.Error().Err(err).Msg("review run failed")
		return nil, fmt.Errorf("run review: %w", err)
	}

	heartbeat()
	logger.Info().
		Str("status", string(result.Status)).
		Int("citations", result.Citations).
		Msg("review run finished")
	return result, nil
}

func (a *PipelineActivities) publishStageChange(ctx context.Context, logger zerolog.Logger, id uuid.UUID, from, to domain.Stage, percent int) {
	event, err := domain.NewEvent(domain.EventTypeReviewStageChanged, id, domain.StageChangedPayload{
		TrackingID: id,
		From:       from,
		To:         to,
		Percent:    percent,
	})
	if err == nil {
		err = a.publisher.Publish(context.WithoutCancel(ctx), event)
	}
	if err != nil {
		logger.Warn().Err(err).Str("stage", string(to)).Msg("failed to publish stage change")
	}
}

// RequestCancel sets the durable cancellation flag of a job. A job that has
// already finished is not an error.
func (a *PipelineActivities) RequestCancel(ctx context.Context, input RequestCancelInput) error {
	err := a.runner.Cancel(ctx, input.TrackingID)
	switch {
	case err == nil:
		a.logger.Info().
			Str("tracking_id", input.TrackingID.String()).
			Str("reason", input.Reason).
			Msg("cancellation requested")
		return nil
	case errors.Is(err, domain.ErrInvalidTransition):
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), "NotFound", err)
	default:
		return fmt.Errorf("request cancel: %w", err)
	}
}

// AbandonReview fails a job whose RunReview attempts are exhausted.
func (a *PipelineActivities) AbandonReview(ctx context.Context, input AbandonReviewInput) error {
	if err := a.runner.Abandon(ctx, input.TrackingID, input.Message); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return temporal.NewNonRetryableApplicationError(err.Error(), "NotFound", err)
		}
		return fmt.Errorf("abandon review: %w", err)
	}
	return nil
}

// StopReview ends a job as cancelled after its workflow was cancelled.
func (a *PipelineActivities) StopReview(ctx context.Context, input StopReviewInput) error {
	if err := a.runner.Stop(ctx, input.TrackingID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return temporal.NewNonRetryableApplicationError(err.Error(), "NotFound", err)
		}
		return fmt.Errorf("stop review: %w", err)
	}
	return nil
}
