package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

func newTestJob() *domain.ReviewJob {
	return domain.NewReviewJob("user-1", "CRISPR delivery vectors", "", time.Now().UTC())
}

func jobRows(jobs ...*domain.ReviewJob) *pgxmock.Rows {
	rows := pgxmock.NewRows(jobColumns)
	for _, j := range jobs {
		rows.AddRow(
			j.TrackingID, j.UserID, j.Topic, j.Prompt,
			j.Stage, j.Percent, j.Status, []byte(nil), j.CancelRequested,
			nil, nil,
			j.CreatedAt, j.UpdatedAt, nil, nil,
		)
	}
	return rows
}

func insertArgs(j *domain.ReviewJob) []any {
	return []any{
		j.TrackingID, j.UserID, j.Topic, j.Prompt,
		domain.StagePending, 0, domain.JobStatusPending, false,
		j.CreatedAt, j.UpdatedAt,
	}
}

func TestNewPgJobRepository(t *testing.T) {
	mock := newMockPool(t)

	repo := NewPgJobRepository(mock)
	assert.NotNil(t, repo.db)
}

func TestPgJobRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts pending job", func(t *testing.T) {
		mock := newMockPool(t)

		job := newTestJob()
		mock.ExpectExec("INSERT INTO review_jobs").
			WithArgs(insertArgs(job)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewPgJobRepository(mock).Create(ctx, job))
	})

	t.Run("maps unique violation to already exists", func(t *testing.T) {
		mock := newMockPool(t)

		job := newTestJob()
		mock.ExpectExec("INSERT INTO review_jobs").
			WithArgs(insertArgs(job)...).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

		err := NewPgJobRepository(mock).Create(ctx, job)
		assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
	})

	t.Run("validates input", func(t *testing.T) {
		repo := NewPgJobRepository(nil)
		assert.True(t, errors.Is(repo.Create(ctx, nil), domain.ErrInvalidInput))
		assert.True(t, errors.Is(repo.Create(ctx, &domain.ReviewJob{Topic: "x"}), domain.ErrInvalidInput))

		job := newTestJob()
		job.Topic = ""
		assert.True(t, errors.Is(repo.Create(ctx, job), domain.ErrInvalidInput))
	})
}

func TestPgJobRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns job when found", func(t *testing.T) {
		mock := newMockPool(t)

		job := newTestJob()
		mock.ExpectQuery("SELECT .* FROM review_jobs WHERE tracking_id = \\$1").
			WithArgs(job.TrackingID.String()).
			WillReturnRows(jobRows(job))

		got, err := NewPgJobRepository(mock).Get(ctx, job.TrackingID)
		require.NoError(t, err)
		assert.Equal(t, job.TrackingID, got.TrackingID)
		assert.Equal(t, domain.StagePending, got.Stage)
		assert.Nil(t, got.Error)
		assert.Empty(t, got.WorkflowID)
	})

	t.Run("decodes job error", func(t *testing.T) {
		mock := newMockPool(t)

		job := newTestJob()
		workflowID := "review-" + job.TrackingID.String()
		started := job.CreatedAt.Add(time.Second)
		rows := pgxmock.NewRows(jobColumns).AddRow(
			job.TrackingID, job.UserID, job.Topic, job.Prompt,
			domain.StageFailed, 30, domain.JobStatusFailed,
			[]byte(`{"kind":"no_extractable_text","stage":"extracting","message":"none"}`), false,
			&workflowID, nil,
			job.CreatedAt, job.UpdatedAt, &started, &started,
		)
		mock.ExpectQuery("SELECT .* FROM review_jobs").WithArgs(job.TrackingID.String()).WillReturnRows(rows)

		got, err := NewPgJobRepository(mock).Get(ctx, job.TrackingID)
		require.NoError(t, err)
		require.NotNil(t, got.Error)
		assert.Equal(t, domain.FatalNoExtractableText, got.Error.Kind)
		assert.Equal(t, domain.StageExtracting, got.Error.Stage)
		assert.Equal(t, workflowID, got.WorkflowID)
		require.NotNil(t, got.StartedAt)
	})

	t.Run("returns not found", func(t *testing.T) {
		mock := newMockPool(t)

		id := uuid.New()
		mock.ExpectQuery("SELECT .* FROM review_jobs").WithArgs(id.String()).WillReturnError(pgx.ErrNoRows)

		got, err := NewPgJobRepository(mock).Get(ctx, id)
		assert.Nil(t, got)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgJobRepository_List(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by owner and status", func(t *testing.T) {
		mock := newMockPool(t)

		a, b := newTestJob(), newTestJob()
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM review_jobs WHERE \\(user_id = \\$1 AND status IN \\(\\$2,\\$3\\)\\)").
			WithArgs("user-1", domain.JobStatusPending, domain.JobStatusRunning).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
		mock.ExpectQuery("SELECT tracking_id, .* FROM review_jobs WHERE .* ORDER BY created_at DESC LIMIT 10 OFFSET 0").
			WithArgs("user-1", domain.JobStatusPending, domain.JobStatusRunning).
			WillReturnRows(jobRows(a, b))

		jobs, total, err := NewPgJobRepository(mock).List(ctx, JobFilter{
			UserID: "user-1",
			Status: []domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning},
			Limit:  10,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, jobs, 2)
		assert.Equal(t, a.TrackingID, jobs[0].TrackingID)
	})

	t.Run("applies pagination defaults", func(t *testing.T) {
		mock := newMockPool(t)

		since := time.Now().Add(-24 * time.Hour)
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM review_jobs WHERE \\(created_at > \\$1\\)").
			WithArgs(since).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectQuery("LIMIT 50 OFFSET 0").
			WithArgs(since).
			WillReturnRows(jobRows())

		jobs, total, err := NewPgJobRepository(mock).List(ctx, JobFilter{CreatedAfter: &since, Offset: -3})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, jobs)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		_, _, err := NewPgJobRepository(nil).List(ctx, JobFilter{Status: []domain.JobStatus{"partial"}})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgJobRepository_CountActive(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM review_jobs WHERE user_id = \\$1 AND status IN \\('pending', 'running'\\)").
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := NewPgJobRepository(mock).CountActive(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPgJobRepository_CreateWithinLimit(t *testing.T) {
	ctx := context.Background()

	expectCount := func(mock pgxmock.PgxPoolIface, n int) {
		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock\\(hashtextextended\\(\\$1, 0\\)\\)").
			WithArgs("user-1").
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM review_jobs WHERE user_id = \\$1").
			WithArgs("user-1").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(n))
	}

	t.Run("inserts under the limit", func(t *testing.T) {
		mock := newMockPool(t)

		job := newTestJob()
		expectCount(mock, 2)
		mock.ExpectExec("INSERT INTO review_jobs").
			WithArgs(insertArgs(job)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, NewPgJobRepository(mock).CreateWithinLimit(ctx, job, 3))
	})

	t.Run("refuses at the limit", func(t *testing.T) {
		mock := newMockPool(t)

		expectCount(mock, 3)
		mock.ExpectRollback()

		err := NewPgJobRepository(mock).CreateWithinLimit(ctx, newTestJob(), 3)
		assert.True(t, errors.Is(err, domain.ErrTooManyPendingJobs))
		assert.Contains(t, err.Error(), "3 of 3")
	})

	t.Run("validates before locking", func(t *testing.T) {
		err := NewPgJobRepository(nil).CreateWithinLimit(ctx, nil, 3)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgJobRepository_SetWorkflow(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	mock := newMockPool(t)

	mock.ExpectExec("UPDATE review_jobs SET workflow_id = \\$2, run_id = \\$3").
		WithArgs(id, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE review_jobs SET workflow_id").
		WithArgs(id, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewPgJobRepository(mock)
	require.NoError(t, repo.SetWorkflow(ctx, id, "review-1", "run-1"))
	assert.True(t, errors.Is(repo.SetWorkflow(ctx, id, "review-1", "run-1"), domain.ErrNotFound))
}

func expectLock(mock pgxmock.PgxPoolIface, id uuid.UUID, stage domain.Stage) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT stage FROM review_jobs WHERE tracking_id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"stage"}).AddRow(stage))
}

func TestPgJobRepository_Advance(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("moves forward to the next stage", func(t *testing.T) {
		mock := newMockPool(t)

		expectLock(mock, id, domain.StageSearching)
		mock.ExpectExec("UPDATE review_jobs SET stage = \\$2, status = \\$3, percent = GREATEST\\(percent, \\$4\\)").
			WithArgs(id, domain.StageAcquiring, domain.JobStatusRunning, 5, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, NewPgJobRepository(mock).Advance(ctx, id, domain.StageAcquiring, 5))
	})

	t.Run("re-entering an earlier stage only raises percent", func(t *testing.T) {
		mock := newMockPool(t)

		expectLock(mock, id, domain.StageSummarizing)
		mock.ExpectExec("UPDATE review_jobs SET percent = GREATEST\\(percent, \\$2\\)").
			WithArgs(id, 0, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, NewPgJobRepository(mock).Advance(ctx, id, domain.StageSearching, 0))
	})

	t.Run("rejects skipped stages", func(t *testing.T) {
		mock := newMockPool(t)

		expectLock(mock, id, domain.StageSearching)
		mock.ExpectRollback()

		err := NewPgJobRepository(mock).Advance(ctx, id, domain.StageSummarizing, 55)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	})

	t.Run("rejects terminal jobs", func(t *testing.T) {
		mock := newMockPool(t)

		expectLock(mock, id, domain.StageCancelled)
		mock.ExpectRollback()

		err := NewPgJobRepository(mock).Advance(ctx, id, domain.StageAcquiring, 5)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	})

	t.Run("clamps percent below completion", func(t *testing.T) {
		mock := newMockPool(t)

		expectLock(mock, id, domain.StageSynthesizing)
		mock.ExpectExec("UPDATE review_jobs SET percent").
			WithArgs(id, 99, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, NewPgJobRepository(mock).Advance(ctx, id, domain.StageSynthesizing, 100))
	})

	t.Run("rejects non-working stage", func(t *testing.T) {
		err := NewPgJobRepository(nil).Advance(ctx, id, domain.StageSucceeded, 100)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("missing job", func(t *testing.T) {
		mock := newMockPool(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT stage FROM review_jobs").WithArgs(id).WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		err := NewPgJobRepository(mock).Advance(ctx, id, domain.StageSearching, 0)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgJobRepository_UpdateProgress(t *testing.T) {
	mock := newMockPool(t)

	id := uuid.New()
	mock.ExpectExec("UPDATE review_jobs SET percent = GREATEST\\(percent, \\$2\\), updated_at = \\$3 WHERE tracking_id = \\$1 AND status = 'running'").
		WithArgs(id, 42, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewPgJobRepository(mock).UpdateProgress(context.Background(), id, 42))
}

func TestPgJobRepository_Finish(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("succeeds from synthesizing", func(t *testing.T) {
		mock := newMockPool(t)

		expectLock(mock, id, domain.StageSynthesizing)
		mock.ExpectExec("UPDATE review_jobs SET stage = \\$2, status = \\$3, error = \\$4, percent = CASE WHEN \\$5 THEN 100 ELSE percent END").
			WithArgs(id, domain.StageSucceeded, domain.JobStatusSucceeded, []byte(nil), true, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, NewPgJobRepository(mock).Finish(ctx, id, domain.StageSucceeded, nil))
	})

	t.Run("fails with structured error", func(t *testing.T) {
		mock := newMockPool(t)

		jobErr := &domain.JobError{Kind: domain.FatalNoSummaries, Stage: domain.StageSummarizing, Message: "none"}
		expectLock(mock, id, domain.StageSummarizing)
		mock.ExpectExec("UPDATE review_jobs SET stage").
			WithArgs(id, domain.StageFailed, domain.JobStatusFailed,
				[]byte(`{"kind":"no_summaries","stage":"summarizing","message":"none"}`), false, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		require.NoError(t, NewPgJobRepository(mock).Finish(ctx, id, domain.StageFailed, jobErr))
	})

	t.Run("repeating the terminal stage is a no-op", func(t *testing.T) {
		mock := newMockPool(t)

		expectLock(mock, id, domain.StageCancelled)
		mock.ExpectCommit()

		require.NoError(t, NewPgJobRepository(mock).Finish(ctx, id, domain.StageCancelled, nil))
	})

	t.Run("terminal stages are final", func(t *testing.T) {
		mock := newMockPool(t)

		expectLock(mock, id, domain.StageSucceeded)
		mock.ExpectRollback()

		err := NewPgJobRepository(mock).Finish(ctx, id, domain.StageCancelled, nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	})

	t.Run("success requires synthesizing", func(t *testing.T) {
		mock := newMockPool(t)

		expectLock(mock, id, domain.StageSummarizing)
		mock.ExpectRollback()

		err := NewPgJobRepository(mock).Finish(ctx, id, domain.StageSucceeded, nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	})

	t.Run("rejects working stage", func(t *testing.T) {
		err := NewPgJobRepository(nil).Finish(ctx, id, domain.StageAcquiring, nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgJobRepository_RequestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("flags open job", func(t *testing.T) {
		mock := newMockPool(t)

		id := uuid.New()
		mock.ExpectExec("UPDATE review_jobs SET cancel_requested = TRUE").
			WithArgs(id, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewPgJobRepository(mock).RequestCancel(ctx, id))
	})

	t.Run("terminal job is an invalid transition", func(t *testing.T) {
		mock := newMockPool(t)

		job := newTestJob()
		job.Stage = domain.StageSucceeded
		job.Status = domain.JobStatusSucceeded
		job.Percent = 100

		mock.ExpectExec("UPDATE review_jobs SET cancel_requested = TRUE").
			WithArgs(job.TrackingID, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT .* FROM review_jobs").
			WithArgs(job.TrackingID.String()).
			WillReturnRows(jobRows(job))

		err := NewPgJobRepository(mock).RequestCancel(ctx, job.TrackingID)
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
		assert.Contains(t, err.Error(), "succeeded")
	})

	t.Run("missing job is not found", func(t *testing.T) {
		mock := newMockPool(t)

		id := uuid.New()
		mock.ExpectExec("UPDATE review_jobs").
			WithArgs(id, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT .* FROM review_jobs").WithArgs(id.String()).WillReturnError(pgx.ErrNoRows)

		err := NewPgJobRepository(mock).RequestCancel(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgJobRepository_IsCancelRequested(t *testing.T) {
	mock := newMockPool(t)

	id := uuid.New()
	mock.ExpectQuery("SELECT cancel_requested FROM review_jobs WHERE tracking_id = \\$1").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"cancel_requested"}).AddRow(true))
	mock.ExpectQuery("SELECT cancel_requested").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	repo := NewPgJobRepository(mock)
	requested, err := repo.IsCancelRequested(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, requested)

	_, err = repo.IsCancelRequested(context.Background(), id)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestClampRunningPercent(t *testing.T) {
	assert.Equal(t, 0, clampRunningPercent(-4))
	assert.Equal(t, 37, clampRunningPercent(37))
	assert.Equal(t, 99, clampRunningPercent(100))
}

// newMockPool returns a pgxmock pool that is closed and checked for unmet
// expectations when the test ends.
func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}
