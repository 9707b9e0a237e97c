package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/pipeline"
	litemporal "github.com/helixir/review-pipeline-service/internal/temporal"
	"github.com/helixir/review-pipeline-service/internal/temporal/activities"
)

// newTestInput returns a ReviewWorkflowInput configured for tests.
func newTestInput() ReviewWorkflowInput {
	return ReviewWorkflowInput{
		TrackingID: uuid.New(),
		UserID:     "user-1",
		Topic:      "microplastics in freshwater fish",
		Options: litemporal.RunOptions{
			RunTimeout:       time.Hour,
			HeartbeatTimeout: time.Minute,
			MaxAttempts:      2,
		},
	}
}

// eventRecorder captures PublishEvent inputs from the test environment.
type eventRecorder struct {
	types []string
	last  map[string]json.RawMessage
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{last: make(map[string]json.RawMessage)}
}

func (r *eventRecorder) register(env *testsuite.TestWorkflowEnvironment) {
	var eventAct *activities.EventActivities
	env.OnActivity(eventAct.PublishEvent, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.PublishEventInput) error {
			r.types = append(r.types, in.EventType)
			r.last[in.EventType] = in.Payload
			return nil
		},
	)
}

func TestReviewWorkflow_Success(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()
	events := newEventRecorder()
	events.register(env)

	var pipelineAct *activities.PipelineActivities
	counts := []domain.StageCount{{Stage: domain.StageAcquiring, Attempted: 5, Succeeded: 4}}
	env.OnActivity(pipelineAct.RunReview, mock.Anything, activities.RunReviewInput{TrackingID: input.TrackingID}).Return(
		&pipeline.Result{
			TrackingID: input.TrackingID,
			Status:     domain.JobStatusSucceeded,
			Stage:      domain.StageSucceeded,
			Percent:    100,
			Counts:     counts,
			Citations:  4,
		}, nil,
	)

	env.ExecuteWorkflow(ReviewWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ReviewWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, input.TrackingID, result.TrackingID)
	assert.Equal(t, domain.JobStatusSucceeded, result.Status)
	assert.Equal(t, 100, result.Percent)
	assert.Equal(t, 4, result.Citations)
	assert.Nil(t, result.Error)

	assert.Equal(t, []string{domain.EventTypeReviewStarted, domain.EventTypeReviewSucceeded}, events.types)
	var succeeded domain.ReviewSucceededPayload
	require.NoError(t, json.Unmarshal(events.last[domain.EventTypeReviewSucceeded], &succeeded))
	assert.Equal(t, 4, succeeded.Citations)
	assert.Equal(t, counts, succeeded.StageCounts)

	val, err := env.QueryWorkflow(QueryProgress)
	require.NoError(t, err)
	var progress litemporal.WorkflowProgress
	require.NoError(t, val.Get(&progress))
	assert.Equal(t, domain.StageSucceeded, progress.Stage)
	assert.Equal(t, 100, progress.Percent)

	env.AssertExpectations(t)
}

func TestReviewWorkflow_FatalPipelineOutcome(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()
	events := newEventRecorder()
	events.register(env)

	var pipelineAct *activities.PipelineActivities
	env.OnActivity(pipelineAct.RunReview, mock.Anything, mock.Anything).Return(
		&pipeline.Result{
			TrackingID: input.TrackingID,
			Status:     domain.JobStatusFailed,
			Stage:      domain.StageFailed,
			Percent:    62,
			Error: &domain.JobError{
				Kind:    domain.FatalNoSummaries,
				Stage:   domain.StageSummarizing,
				Message: "no paper produced a usable summary",
			},
		}, nil,
	)

	env.ExecuteWorkflow(ReviewWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ReviewWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, domain.JobStatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, domain.FatalNoSummaries, result.Error.Kind)

	var failed domain.ReviewFailedPayload
	require.NoError(t, json.Unmarshal(events.last[domain.EventTypeReviewFailed], &failed))
	assert.Equal(t, domain.FatalNoSummaries, failed.Kind)
	assert.Equal(t, domain.StageSummarizing, failed.Stage)
}

func TestReviewWorkflow_CancelSignal(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()
	events := newEventRecorder()
	events.register(env)

	var pipelineAct *activities.PipelineActivities
	env.OnActivity(pipelineAct.RequestCancel, mock.Anything, activities.RequestCancelInput{
		TrackingID: input.TrackingID,
		Reason:     "no longer needed",
	}).Return(nil).Once()

	// The run outlives the signal and then observes the flag.
	env.OnActivity(pipelineAct.RunReview, mock.Anything, mock.Anything).After(10*time.Minute).Return(
		&pipeline.Result{
			TrackingID: input.TrackingID,
			Status:     domain.JobStatusCancelled,
			Stage:      domain.StageCancelled,
			Percent:    30,
		}, nil,
	)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, litemporal.CancelSignal{Reason: "no longer needed"})
	}, time.Minute)
	env.RegisterDelayedCallback(func() {
		// A second signal is ignored.
		env.SignalWorkflow(SignalCancel, litemporal.CancelSignal{Reason: "again"})
	}, 2*time.Minute)

	env.ExecuteWorkflow(ReviewWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ReviewWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, domain.JobStatusCancelled, result.Status)

	var cancelled domain.ReviewCancelledPayload
	require.NoError(t, json.Unmarshal(events.last[domain.EventTypeReviewCancelled], &cancelled))
	assert.Equal(t, "no longer needed", cancelled.Reason)

	val, err := env.QueryWorkflow(QueryProgress)
	require.NoError(t, err)
	var progress litemporal.WorkflowProgress
	require.NoError(t, val.Get(&progress))
	assert.True(t, progress.CancelRequested)

	env.AssertExpectations(t)
}

func TestReviewWorkflow_WorkflowCancelledStopsJob(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()
	events := newEventRecorder()
	events.register(env)

	var pipelineAct *activities.PipelineActivities
	env.OnActivity(pipelineAct.RunReview, mock.Anything, mock.Anything).Return(
		nil, temporal.NewCanceledError(),
	).Once()
	env.OnActivity(pipelineAct.StopReview, mock.Anything, activities.StopReviewInput{
		TrackingID: input.TrackingID,
	}).Return(nil).Once()

	env.ExecuteWorkflow(ReviewWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	assert.Contains(t, events.types, domain.EventTypeReviewCancelled)
	assert.NotContains(t, events.types, domain.EventTypeReviewFailed)
	env.AssertExpectations(t)
}

func TestReviewWorkflow_RunAttemptsExhausted(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()
	events := newEventRecorder()
	events.register(env)

	var pipelineAct *activities.PipelineActivities
	env.OnActivity(pipelineAct.RunReview, mock.Anything, mock.Anything).Return(
		nil, errors.New("status sink unavailable"),
	)
	env.OnActivity(pipelineAct.AbandonReview, mock.Anything, mock.MatchedBy(func(in activities.AbandonReviewInput) bool {
		return in.TrackingID == input.TrackingID
	})).Return(nil).Once()

	env.ExecuteWorkflow(ReviewWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_review")

	assert.Contains(t, events.types, domain.EventTypeReviewFailed)
	env.AssertExpectations(t)
}

func TestReviewWorkflow_MissingJobNotRetried(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()
	newEventRecorder().register(env)

	var pipelineAct *activities.PipelineActivities
	env.OnActivity(pipelineAct.RunReview, mock.Anything, mock.Anything).Return(
		nil, temporal.NewNonRetryableApplicationError("review_job not found", "NotFound", nil),
	).Once()
	env.OnActivity(pipelineAct.AbandonReview, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(ReviewWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestReviewWorkflow_EventFailuresIgnored(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	input := newTestInput()

	var pipelineAct *activities.PipelineActivities
	var eventAct *activities.EventActivities
	env.OnActivity(eventAct.PublishEvent, mock.Anything, mock.Anything).Return(errors.New("broker down"))
	env.OnActivity(pipelineAct.RunReview, mock.Anything, mock.Anything).Return(
		&pipeline.Result{TrackingID: input.TrackingID, Status: domain.JobStatusSucceeded, Stage: domain.StageSucceeded, Percent: 100}, nil,
	)

	env.ExecuteWorkflow(ReviewWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}
