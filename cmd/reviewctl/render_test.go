package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/service"
	"github.com/helixir/review-pipeline-service/internal/temporal"
)

func TestRenderJob_IncludesErrorAndCounts(t *testing.T) {
	job := domain.NewReviewJob("user-1", "graph neural networks", "", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	job.Status = domain.JobStatusFailed
	job.Stage = domain.StageFailed
	job.Error = &domain.JobError{Kind: domain.FatalNoSummaries, Stage: domain.StageSummarizing, Message: "no paper produced a summary"}
	job.StageCounts = []domain.StageCount{{Stage: domain.StageAcquiring, Attempted: 5, Succeeded: 3}}

	var buf bytes.Buffer
	renderJob(&buf, job)
	out := buf.String()

	assert.Contains(t, out, job.TrackingID.String())
	assert.Contains(t, out, "no paper produced a summary")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.Contains(t, out, "ATTEMPTED")
	assert.Contains(t, out, "acquiring")
}

func TestRenderJobs_Footer(t *testing.T) {
	jobs := []*domain.ReviewJob{
		domain.NewReviewJob("u", "topic one", "", time.Now()),
		domain.NewReviewJob("u", "topic two", "", time.Now()),
	}

	var buf bytes.Buffer
	renderJobs(&buf, jobs, 7)

	assert.Contains(t, buf.String(), "topic two")
	assert.Contains(t, buf.String(), "7")
}

func TestRenderRetries(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		renderRetries(&buf, nil)
		assert.Equal(t, "no failed jobs to retry\n", buf.String())
	})

	t.Run("mixed", func(t *testing.T) {
		ok := service.RetryResult{Original: uuid.New(), Retried: uuid.New()}
		bad := service.RetryResult{Original: uuid.New(), Err: errors.New("too many pending reviews")}

		var buf bytes.Buffer
		renderRetries(&buf, []service.RetryResult{ok, bad})

		assert.Contains(t, buf.String(), ok.Retried.String())
		assert.Contains(t, buf.String(), "too many pending reviews")
		assert.Equal(t, 1, countFailed([]service.RetryResult{ok, bad}))
	})
}

func TestParseTrackingID(t *testing.T) {
	id := uuid.New()
	got, err := parseTrackingID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = parseTrackingID("not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestRenderProgress(t *testing.T) {
	var buf bytes.Buffer
	renderProgress(&buf, &temporal.WorkflowProgress{
		Stage:           domain.StageExtracting,
		Percent:         41,
		Attempt:         2,
		CancelRequested: true,
	})
	out := buf.String()

	assert.Contains(t, out, "extracting (41%)")
	assert.Contains(t, out, "Cancel requested")
	assert.Contains(t, out, "true")
}
