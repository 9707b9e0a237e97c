// Package workflows defines the Temporal workflow that hosts a review job.
package workflows

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/pipeline"
	litemporal "github.com/helixir/review-pipeline-service/internal/temporal"
	"github.com/helixir/review-pipeline-service/internal/temporal/activities"
)

// Re-export signal/query name constants from the parent temporal package.
const (
	SignalCancel  = litemporal.SignalCancel
	QueryProgress = litemporal.QueryProgress
)

// Defaults applied when the workflow input carries no run options.
const (
	defaultRunTimeout       = 2 * time.Hour
	defaultHeartbeatTimeout = 2 * time.Minute
	defaultMaxAttempts      = 3

	statusActivityTimeout = 30 * time.Second
)

// ReviewWorkflowInput is an alias for the shared input type defined in the
// parent temporal package.
type ReviewWorkflowInput = litemporal.ReviewWorkflowInput

// ReviewWorkflowResult contains the final state of a review job.
type ReviewWorkflowResult struct {
	TrackingID uuid.UUID
	Status     domain.JobStatus
	Stage      domain.Stage
	Percent    int
	Error      *domain.JobError
	Citations  int

	// Duration is the workflow execution time in seconds.
	Duration float64
}

// ReviewWorkflow runs one review job.
//
// The stage pipeline itself executes inside the RunReview activity, which
// resumes from the job's durable state when retried. The workflow adds the
// control plane around it:
//   - the "cancel" signal sets the job's cooperative cancellation flag
//   - the "progress" query reports the workflow's view of the job
//   - lifecycle events are published before and after the run
//
// A job whose RunReview attempts are exhausted is marked failed. When the
// workflow itself is cancelled, the job is marked cancelled once the run has
// returned.
func ReviewWorkflow(ctx workflow.Context, input ReviewWorkflowInput) (*ReviewWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	startTime := workflow.Now(ctx)

	opts := input.Options
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	progress := &litemporal.WorkflowProgress{
		TrackingID: input.TrackingID,
		Status:     domain.JobStatusPending,
		Stage:      domain.StagePending,
		Attempt:    int(workflow.GetInfo(ctx).Attempt),
	}
	err := workflow.SetQueryHandler(ctx, QueryProgress, func() (*litemporal.WorkflowProgress, error) {
		return progress, nil
	})
	if err != nil {
		logger.Error("failed to register progress query handler", "error", err)
		return nil, fmt.Errorf("register query handler: %w", err)
	}

	var pipelineAct *activities.PipelineActivities
	var eventAct *activities.EventActivities

	statusOptions := workflow.ActivityOptions{
		StartToCloseTimeout: statusActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	}
	statusCtx := workflow.WithActivityOptions(ctx, statusOptions)

	// publish is fire-and-forget; the disconnected context lets terminal
	// events go out after the workflow itself was cancelled.
	publish := func(eventType string, payload interface{}) {
		raw, err := json.Marshal(payload)
		if err != nil {
			logger.Warn("failed to encode event payload", "eventType", eventType, "error", err)
			return
		}
		pubCtx, _ := workflow.NewDisconnectedContext(statusCtx)
		err = workflow.ExecuteActivity(pubCtx, eventAct.PublishEvent, activities.PublishEventInput{
			EventType:  eventType,
			TrackingID: input.TrackingID,
			Payload:    raw,
		}).Get(pubCtx, nil)
		if err != nil {
			logger.Warn("failed to publish event", "eventType", eventType, "error", err)
		}
	}

	// Cancellation is cooperative: the signal only sets the durable flag,
	// and the running pipeline observes it at its next checkpoint.
	var cancelReason string
	signalCh := workflow.GetSignalChannel(ctx, SignalCancel)
	workflow.Go(ctx, func(gCtx workflow.Context) {
		for {
			var signal litemporal.CancelSignal
			if !signalCh.Receive(gCtx, &signal) {
				return
			}
			if progress.CancelRequested {
				continue
			}
			progress.CancelRequested = true
			cancelReason = signal.Reason
			logger.Info("received cancel signal", "reason", signal.Reason)

			err := workflow.ExecuteActivity(workflow.WithActivityOptions(gCtx, statusOptions),
				pipelineAct.RequestCancel, activities.RequestCancelInput{
					TrackingID: input.TrackingID,
					Reason:     signal.Reason,
				}).Get(gCtx, nil)
			if err != nil {
				logger.Error("failed to request cancellation", "error", err)
			}
		}
	})

	publish(domain.EventTypeReviewStarted, domain.ReviewStartedPayload{
		TrackingID: input.TrackingID,
		Topic:      input.Topic,
		WorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
	})

	progress.Status = domain.JobStatusRunning
	progress.Stage = domain.StageSearching

	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: opts.RunTimeout,
		HeartbeatTimeout:    opts.HeartbeatTimeout,
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        opts.MaxAttempts,
			NonRetryableErrorTypes: []string{"NotFound"},
		},
	})

	var runResult pipeline.Result
	err = workflow.ExecuteActivity(runCtx, pipelineAct.RunReview, activities.RunReviewInput{
		TrackingID: input.TrackingID,
	}).Get(runCtx, &runResult)
	elapsed := workflow.Now(ctx).Sub(startTime)

	if err != nil {
		if temporal.IsCanceledError(err) {
			logger.Info("review workflow cancelled")
			stopCtx, _ := workflow.NewDisconnectedContext(statusCtx)
			stopErr := workflow.ExecuteActivity(stopCtx, pipelineAct.StopReview, activities.StopReviewInput{
				TrackingID: input.TrackingID,
			}).Get(stopCtx, nil)
			if stopErr != nil {
				logger.Error("failed to mark review cancelled", "error", stopErr)
			}

			progress.Status = domain.JobStatusCancelled
			progress.Stage = domain.StageCancelled
			publish(domain.EventTypeReviewCancelled, domain.ReviewCancelledPayload{
				TrackingID: input.TrackingID,
				Stage:      domain.StageCancelled,
				Reason:     cancelReason,
			})
			return nil, err
		}

		logger.Error("review run failed", "error", err)
		abandonCtx, _ := workflow.NewDisconnectedContext(statusCtx)
		abandonErr := workflow.ExecuteActivity(abandonCtx, pipelineAct.AbandonReview, activities.AbandonReviewInput{
			TrackingID: input.TrackingID,
			Message:    err.Error(),
		}).Get(abandonCtx, nil)
		if abandonErr != nil {
			logger.Error("failed to mark review failed", "error", abandonErr)
		}

		progress.Status = domain.JobStatusFailed
		progress.Stage = domain.StageFailed
		publish(domain.EventTypeReviewFailed, domain.ReviewFailedPayload{
			TrackingID: input.TrackingID,
			Kind:       domain.FatalInternal,
			Error:      err.Error(),
		})
		return nil, fmt.Errorf("run_review: %w", err)
	}

	progress.Status = runResult.Status
	progress.Stage = runResult.Stage
	progress.Percent = runResult.Percent

	switch runResult.Stage {
	case domain.StageSucceeded:
		publish(domain.EventTypeReviewSucceeded, domain.ReviewSucceededPayload{
			TrackingID:  input.TrackingID,
			Citations:   runResult.Citations,
			StageCounts: runResult.Counts,
			Duration:    elapsed,
		})
	case domain.StageFailed:
		payload := domain.ReviewFailedPayload{TrackingID: input.TrackingID, Kind: domain.FatalInternal}
		if runResult.Error != nil {
			payload.Kind = runResult.Error.Kind
			payload.Stage = runResult.Error.Stage
			payload.Error = runResult.Error.Message
		}
		publish(domain.EventTypeReviewFailed, payload)
	case domain.StageCancelled:
		publish(domain.EventTypeReviewCancelled, domain.ReviewCancelledPayload{
			TrackingID: input.TrackingID,
			Stage:      domain.StageCancelled,
			Reason:     cancelReason,
		})
	}

	logger.Info("review workflow finished",
		"stage", runResult.Stage,
		"citations", runResult.Citations,
		"duration", elapsed.Seconds(),
	)

	return &ReviewWorkflowResult{
		TrackingID: input.TrackingID,
		Status:     runResult.Status,
		Stage:      runResult.Stage,
		Percent:    runResult.Percent,
		Error:      runResult.Error,
		Citations:  runResult.Citations,
		Duration:   elapsed.Seconds(),
	}, nil
}
