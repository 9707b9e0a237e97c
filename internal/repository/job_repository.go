package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// JobRepository stores review jobs. Its write methods other than Create and
// SetWorkflow form the pipeline status sink.
type JobRepository interface {
	// Create inserts a new job in the pending stage.
	Create(ctx context.Context, job *domain.ReviewJob) error

	// CreateWithinLimit inserts a new job unless its owner already has
	// maxActive pending or running jobs, in which case it returns
	// domain.ErrTooManyPendingJobs. The check and the insert are atomic.
	CreateWithinLimit(ctx context.Context, job *domain.ReviewJob, maxActive int) error

	// Get retrieves a job by tracking ID.
	Get(ctx context.Context, trackingID uuid.UUID) (*domain.ReviewJob, error)

	// List returns the jobs matching filter, newest first, and the total match count.
	List(ctx context.Context, filter JobFilter) ([]*domain.ReviewJob, int64, error)

	// CountActive returns how many pending or running jobs an owner has.
	CountActive(ctx context.Context, userID string) (int, error)

	// SetWorkflow records the Temporal workflow that runs the job.
	SetWorkflow(ctx context.Context, trackingID uuid.UUID, workflowID, runID string) error

	Advance(ctx context.Context, trackingID uuid.UUID, stage domain.Stage, percent int) error
	UpdateProgress(ctx context.Context, trackingID uuid.UUID, percent int) error
	Finish(ctx context.Context, trackingID uuid.UUID, stage domain.Stage, jobErr *domain.JobError) error
	RequestCancel(ctx context.Context, trackingID uuid.UUID) error
	IsCancelRequested(ctx context.Context, trackingID uuid.UUID) (bool, error)
}

// JobFilter selects jobs for List.
type JobFilter struct {
	// UserID restricts results to one owner when set.
	UserID string

	// Status restricts results to the given statuses when non-empty.
	Status []domain.JobStatus

	CreatedAfter  *time.Time
	CreatedBefore *time.Time

	Limit  int
	Offset int
}

// Validate checks the filter and applies pagination defaults.
func (f *JobFilter) Validate() error {
	for _, s := range f.Status {
		if !domain.IsValidJobStatus(s) {
			return domain.NewValidationError("status", "unknown status "+string(s))
		}
	}
	if f.CreatedAfter != nil && f.CreatedBefore != nil && !f.CreatedAfter.Before(*f.CreatedBefore) {
		return domain.NewValidationError("created_after", "must be before created_before")
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}

// ItemRepository stores per-item outcomes.
type ItemRepository interface {
	// RecordItem upserts the record keyed by (job, stage, item key).
	RecordItem(ctx context.Context, rec domain.ItemRecord) error

	// StageCounts returns attempted and succeeded counts per itemized stage in stage order.
	StageCounts(ctx context.Context, trackingID uuid.UUID) ([]domain.StageCount, error)

	// ListItems returns the records of one stage ordered by item key. An empty
	// stage returns the records of every stage.
	ListItems(ctx context.Context, trackingID uuid.UUID, stage domain.Stage) ([]domain.ItemRecord, error)
}

// DocumentRepository stores finished review documents.
type DocumentRepository interface {
	// SaveDocument writes the document once. A second write for the same job is ignored.
	SaveDocument(ctx context.Context, doc *domain.ReviewDocument) error

	// GetDocument retrieves the document of a job.
	GetDocument(ctx context.Context, trackingID uuid.UUID) (*domain.ReviewDocument, error)
}
