package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/repository"
	"github.com/helixir/review-pipeline-service/internal/temporal"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockJobRepo struct {
	mock.Mock
}

func (m *mockJobRepo) Create(ctx context.Context, job *domain.ReviewJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockJobRepo) CreateWithinLimit(ctx context.Context, job *domain.ReviewJob, maxActive int) error {
	return m.Called(ctx, job, maxActive).Error(0)
}

func (m *mockJobRepo) Get(ctx context.Context, id uuid.UUID) (*domain.ReviewJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	job := *args.Get(0).(*domain.ReviewJob)
	return &job, args.Error(1)
}

func (m *mockJobRepo) List(ctx context.Context, filter repository.JobFilter) ([]*domain.ReviewJob, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.ReviewJob), args.Get(1).(int64), args.Error(2)
}

func (m *mockJobRepo) CountActive(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockJobRepo) SetWorkflow(ctx context.Context, id uuid.UUID, workflowID, runID string) error {
	return m.Called(ctx, id, workflowID, runID).Error(0)
}

func (m *mockJobRepo) Advance(ctx context.Context, id uuid.UUID, stage domain.Stage, percent int) error {
	return m.Called(ctx, id, stage, percent).Error(0)
}

func (m *mockJobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error {
	return m.Called(ctx, id, percent).Error(0)
}

func (m *mockJobRepo) Finish(ctx context.Context, id uuid.UUID, stage domain.Stage, jobErr *domain.JobError) error {
	return m.Called(ctx, id, stage, jobErr).Error(0)
}

func (m *mockJobRepo) RequestCancel(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockJobRepo) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type mockItemRepo struct {
	mock.Mock
}

func (m *mockItemRepo) RecordItem(ctx context.Context, rec domain.ItemRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockItemRepo) StageCounts(ctx context.Context, id uuid.UUID) ([]domain.StageCount, error) {
	args := m.Called(ctx, id)
	counts, _ := args.Get(0).([]domain.StageCount)
	return counts, args.Error(1)
}

func (m *mockItemRepo) ListItems(ctx context.Context, id uuid.UUID, stage domain.Stage) ([]domain.ItemRecord, error) {
	args := m.Called(ctx, id, stage)
	items, _ := args.Get(0).([]domain.ItemRecord)
	return items, args.Error(1)
}

type mockDocRepo struct {
	mock.Mock
}

func (m *mockDocRepo) SaveDocument(ctx context.Context, doc *domain.ReviewDocument) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *mockDocRepo) GetDocument(ctx context.Context, id uuid.UUID) (*domain.ReviewDocument, error) {
	args := m.Called(ctx, id)
	doc, _ := args.Get(0).(*domain.ReviewDocument)
	return doc, args.Error(1)
}

type mockWorkflows struct {
	mock.Mock
}

func (m *mockWorkflows) StartReview(ctx context.Context, input temporal.ReviewWorkflowInput) (string, string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockWorkflows) CancelReview(ctx context.Context, workflowID, runID, reason string) error {
	return m.Called(ctx, workflowID, runID, reason).Error(0)
}

type capturePublisher struct {
	events []*domain.Event
}

func (p *capturePublisher) Publish(_ context.Context, e *domain.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	jobs      *mockJobRepo
	items     *mockItemRepo
	docs      *mockDocRepo
	workflows *mockWorkflows
	publisher *capturePublisher
	svc       *Reviews
	now       time.Time
}

func newFixture() *fixture {
	f := &fixture{
		jobs:      &mockJobRepo{},
		items:     &mockItemRepo{},
		docs:      &mockDocRepo{},
		workflows: &mockWorkflows{},
		publisher: &capturePublisher{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewReviews(Deps{
		Jobs:      f.jobs,
		Items:     f.items,
		Documents: f.docs,
		Workflows: f.workflows,
		Publisher: f.publisher,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return f.now },
	})
	return f
}

func jobWithStage(userID string, stage domain.Stage) *domain.ReviewJob {
	job := domain.NewReviewJob(userID, "permafrost methane feedback", "focus on Arctic", time.Now())
	job.Stage = stage
	job.Status = domain.StatusForStage(stage)
	job.WorkflowID = temporal.WorkflowID(job.TrackingID)
	return job
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

func TestReviews_Submit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.jobs.On("CreateWithinLimit", ctx, mock.MatchedBy(func(j *domain.ReviewJob) bool {
		return j.Topic == "coastal erosion" && j.Prompt == "" && j.Stage == domain.StagePending && j.CreatedAt.Equal(f.now)
	}), DefaultMaxPendingJobs).Return(nil)
	f.workflows.On("StartReview", ctx, mock.MatchedBy(func(in temporal.ReviewWorkflowInput) bool {
		return in.Topic == "coastal erosion" && in.UserID == "user-1"
	})).Return("review-x", "run-1", nil)
	f.jobs.On("SetWorkflow", ctx, mock.Anything, "review-x", "run-1").Return(nil)

	job, err := f.svc.Submit(ctx, SubmitRequest{UserID: "user-1", Topic: "  coastal erosion  "})
	require.NoError(t, err)
	assert.Equal(t, "review-x", job.WorkflowID)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, domain.EventTypeReviewSubmitted, f.publisher.events[0].EventType)
	assert.Equal(t, job.TrackingID.String(), f.publisher.events[0].AggregateID)

	f.jobs.AssertExpectations(t)
	f.workflows.AssertExpectations(t)
}

func TestReviews_SubmitPendingLimit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.jobs.On("CreateWithinLimit", ctx, mock.Anything, DefaultMaxPendingJobs).
		Return(fmt.Errorf("%w: 3 of 3 open jobs", domain.ErrTooManyPendingJobs))

	_, err := f.svc.Submit(ctx, SubmitRequest{UserID: "user-1", Topic: "coastal erosion"})
	assert.ErrorIs(t, err, domain.ErrTooManyPendingJobs)
	f.workflows.AssertNotCalled(t, "StartReview", mock.Anything, mock.Anything)
}

func TestReviews_SubmitAnonymousSkipsLimit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.jobs.On("Create", ctx, mock.Anything).Return(nil)
	f.workflows.On("StartReview", ctx, mock.Anything).Return("wf", "run", nil)
	f.jobs.On("SetWorkflow", ctx, mock.Anything, "wf", "run").Return(nil)

	_, err := f.svc.Submit(ctx, SubmitRequest{Topic: "coastal erosion"})
	require.NoError(t, err)
	f.jobs.AssertNotCalled(t, "CreateWithinLimit", mock.Anything, mock.Anything, mock.Anything)
}

func TestReviews_SubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"empty topic", SubmitRequest{Topic: "   "}},
		{"long topic", SubmitRequest{Topic: string(make([]byte, MaxTopicLength+1))}},
		{"long prompt", SubmitRequest{Topic: "ok", Prompt: fmt.Sprintf("%0*d", MaxPromptLength+1, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestReviews_SubmitWorkflowStartFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.jobs.On("CreateWithinLimit", ctx, mock.Anything, DefaultMaxPendingJobs).Return(nil)
	f.workflows.On("StartReview", ctx, mock.Anything).Return("", "", errors.New("temporal unavailable"))
	f.jobs.On("Finish", mock.Anything, mock.Anything, domain.StageFailed, mock.MatchedBy(func(e *domain.JobError) bool {
		return e.Kind == domain.FatalInternal && e.Stage == domain.StagePending
	})).Return(nil)

	_, err := f.svc.Submit(ctx, SubmitRequest{UserID: "user-1", Topic: "coastal erosion"})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Empty(t, f.publisher.events)
	f.jobs.AssertExpectations(t)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestReviews_Get(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := jobWithStage("user-1", domain.StageExtracting)
	counts := []domain.StageCount{{Stage: domain.StageAcquiring, Attempted: 10, Succeeded: 7}}

	f.jobs.On("Get", ctx, job.TrackingID).Return(job, nil)
	f.items.On("StageCounts", ctx, job.TrackingID).Return(counts, nil)

	got, err := f.svc.Get(ctx, "user-1", job.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, counts, got.StageCounts)

	_, err = f.svc.Get(ctx, "user-2", job.TrackingID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Get(ctx, "", job.TrackingID)
	assert.NoError(t, err)
}

func TestReviews_Items(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := jobWithStage("user-1", domain.StageSucceeded)
	f.jobs.On("Get", ctx, job.TrackingID).Return(job, nil)
	f.items.On("ListItems", ctx, job.TrackingID, domain.StageAcquiring).Return([]domain.ItemRecord{{ItemKey: "W1"}}, nil)

	items, err := f.svc.Items(ctx, "user-1", job.TrackingID, domain.StageAcquiring)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = f.svc.Items(ctx, "user-1", job.TrackingID, domain.StageSynthesizing)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReviews_Document(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	done := jobWithStage("user-1", domain.StageSucceeded)
	running := jobWithStage("user-1", domain.StageSummarizing)
	doc := &domain.ReviewDocument{TrackingID: done.TrackingID, Title: "Literature Review: permafrost"}

	f.jobs.On("Get", ctx, done.TrackingID).Return(done, nil)
	f.jobs.On("Get", ctx, running.TrackingID).Return(running, nil)
	f.docs.On("GetDocument", ctx, done.TrackingID).Return(doc, nil)

	got, err := f.svc.Document(ctx, "user-1", done.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	_, err = f.svc.Document(ctx, "user-1", running.TrackingID)
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

// ---------------------------------------------------------------------------
// Cancel and retry
// ---------------------------------------------------------------------------

func TestReviews_Cancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := jobWithStage("user-1", domain.StageAcquiring)

	f.jobs.On("Get", ctx, job.TrackingID).Return(job, nil)
	f.jobs.On("RequestCancel", ctx, job.TrackingID).Return(nil)
	f.workflows.On("CancelReview", ctx, job.WorkflowID, "", "changed my mind").Return(errors.New("signal failed"))

	// A failed signal does not fail the request.
	require.NoError(t, f.svc.Cancel(ctx, "user-1", job.TrackingID, "changed my mind"))
	f.jobs.AssertExpectations(t)
	f.workflows.AssertExpectations(t)
}

func TestReviews_CancelRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	finished := jobWithStage("user-1", domain.StageSucceeded)
	f.jobs.On("Get", ctx, finished.TrackingID).Return(finished, nil)

	err := f.svc.Cancel(ctx, "user-1", finished.TrackingID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = f.svc.Cancel(ctx, "someone-else", finished.TrackingID, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	f.jobs.AssertNotCalled(t, "RequestCancel", mock.Anything, mock.Anything)
}

func TestReviews_Retry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	failed := jobWithStage("user-1", domain.StageFailed)
	running := jobWithStage("user-1", domain.StageSearching)

	f.jobs.On("Get", ctx, failed.TrackingID).Return(failed, nil)
	f.jobs.On("Get", ctx, running.TrackingID).Return(running, nil)
	f.jobs.On("CreateWithinLimit", ctx, mock.MatchedBy(func(j *domain.ReviewJob) bool {
		return j.Topic == failed.Topic && j.Prompt == failed.Prompt && j.TrackingID != failed.TrackingID
	}), DefaultMaxPendingJobs).Return(nil)
	f.workflows.On("StartReview", ctx, mock.Anything).Return("wf-new", "run-new", nil)
	f.jobs.On("SetWorkflow", ctx, mock.Anything, "wf-new", "run-new").Return(nil)

	retried, err := f.svc.Retry(ctx, "user-1", failed.TrackingID)
	require.NoError(t, err)
	assert.NotEqual(t, failed.TrackingID, retried.TrackingID)

	_, err = f.svc.Retry(ctx, "user-1", running.TrackingID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReviews_RetryFailed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	since := f.now.Add(-24 * time.Hour)

	a := jobWithStage("", domain.StageFailed)
	b := jobWithStage("", domain.StageFailed)

	f.jobs.On("List", ctx, mock.MatchedBy(func(fl repository.JobFilter) bool {
		return fl.Offset == 0 && fl.CreatedAfter.Equal(since) && fl.CreatedBefore.Equal(f.now) &&
			len(fl.Status) == 1 && fl.Status[0] == domain.JobStatusFailed
	})).Return([]*domain.ReviewJob{a, b}, int64(2), nil)
	f.jobs.On("Get", ctx, a.TrackingID).Return(a, nil)
	f.jobs.On("Get", ctx, b.TrackingID).Return(b, nil)
	f.jobs.On("Create", ctx, mock.Anything).Return(nil)
	f.workflows.On("StartReview", ctx, mock.Anything).Return("wf", "run", nil).Once()
	f.workflows.On("StartReview", ctx, mock.Anything).Return("", "", errors.New("unavailable")).Once()
	f.jobs.On("SetWorkflow", ctx, mock.Anything, "wf", "run").Return(nil)
	f.jobs.On("Finish", mock.Anything, mock.Anything, domain.StageFailed, mock.Anything).Return(nil)

	results, err := f.svc.RetryFailed(ctx, since)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, a.TrackingID, results[0].Original)
	assert.NoError(t, results[0].Err)
	assert.NotEqual(t, uuid.Nil, results[0].Retried)
	assert.Error(t, results[1].Err)

	none, err := f.svc.RetryFailed(ctx, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}
