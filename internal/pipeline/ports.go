package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/pdf"
)

// Discoverer returns candidate papers for a topic in relevance order.
type Discoverer interface {
	Search(ctx context.Context, topic string) ([]domain.PaperCandidate, error)
}

// Fetcher downloads the open-access full text of a candidate.
// Errors wrapped with retry.Permanent are never retried.
type Fetcher interface {
	Fetch(ctx context.Context, candidate domain.PaperCandidate) (*pdf.DownloadResult, error)
}

// Store persists acquired source bytes.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Extractor converts source bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, content []byte, contentType string) (text string, pages int, err error)
}

// Summarizer calls the completion service for one text segment.
type Summarizer interface {
	Summarize(ctx context.Context, segment, instructions string) (string, error)
}

// Synthesizer calls the completion service once per job to produce the review body.
type Synthesizer interface {
	Synthesize(ctx context.Context, req domain.SynthesisRequest) (*domain.SynthesizedReview, error)
}

// StatusSink is the durable mirror of a job's state.
type StatusSink interface {
	Get(ctx context.Context, trackingID uuid.UUID) (*domain.ReviewJob, error)

	// Advance moves the job into a working stage. Advancing to the stage the
	// job already occupies, or to an earlier one, only raises the percent.
	Advance(ctx context.Context, trackingID uuid.UUID, stage domain.Stage, percent int) error

	// UpdateProgress raises the job's percent. Lower values are ignored.
	UpdateProgress(ctx context.Context, trackingID uuid.UUID, percent int) error

	// Finish moves the job into a terminal stage.
	Finish(ctx context.Context, trackingID uuid.UUID, stage domain.Stage, jobErr *domain.JobError) error

	RequestCancel(ctx context.Context, trackingID uuid.UUID) error
	IsCancelRequested(ctx context.Context, trackingID uuid.UUID) (bool, error)
}

// ItemRecorder persists per-item outcomes. Writes are upserts keyed by
// (job, stage, item key).
type ItemRecorder interface {
	RecordItem(ctx context.Context, rec domain.ItemRecord) error
}

// DocumentWriter persists the finished review.
type DocumentWriter interface {
	SaveDocument(ctx context.Context, doc *domain.ReviewDocument) error
}
