package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// maxRunningPercent is the highest percent a job may show before it succeeds.
const maxRunningPercent = 99

const countActiveQuery = `
	SELECT COUNT(*) FROM review_jobs
	WHERE user_id = $1 AND status IN ('pending', 'running')`

var jobColumns = []string{
	"tracking_id", "user_id", "topic", "prompt",
	"stage", "percent", "status", "error", "cancel_requested",
	"workflow_id", "run_id",
	"created_at", "updated_at", "started_at", "completed_at",
}

// Compile-time interface verification.
var _ JobRepository = (*PgJobRepository)(nil)

// PgJobRepository is a PostgreSQL implementation of JobRepository.
type PgJobRepository struct {
	db DBTX
}

// NewPgJobRepository creates a new PostgreSQL job repository.
func NewPgJobRepository(db DBTX) *PgJobRepository {
	return &PgJobRepository{db: db}
}

// Create inserts a new review job.
func (r *PgJobRepository) Create(ctx context.Context, job *domain.ReviewJob) error {
	if err := validateNewJob(job); err != nil {
		return err
	}
	return insertJob(ctx, r.db, job)
}

// CreateWithinLimit inserts a job unless its owner already has maxActive
// pending or running jobs. Submissions of one owner are serialized by a
// transaction-scoped advisory lock on the user ID, so concurrent requests
// cannot both pass the count.
func (r *PgJobRepository) CreateWithinLimit(ctx context.Context, job *domain.ReviewJob, maxActive int) error {
	if err := validateNewJob(job); err != nil {
		return err
	}

	return inTx(ctx, r.db, func(tx DBTX) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, job.UserID); err != nil {
			return fmt.Errorf("failed to lock owner: %w", err)
		}

		var active int
		err := tx.QueryRow(ctx, countActiveQuery, job.UserID).Scan(&active)
		if err != nil {
			return fmt.Errorf("failed to count active review jobs: %w", err)
		}
		if active >= maxActive {
			return fmt.Errorf("%w: %d of %d open jobs", domain.ErrTooManyPendingJobs, active, maxActive)
		}

		return insertJob(ctx, tx, job)
	})
}

func validateNewJob(job *domain.ReviewJob) error {
	if job == nil {
		return domain.NewValidationError("job", "job cannot be nil")
	}
	if job.TrackingID == uuid.Nil {
		return domain.NewValidationError("tracking_id", "tracking ID is required")
	}
	if job.Topic == "" {
		return domain.NewValidationError("topic", "topic is required")
	}
	return nil
}

func insertJob(ctx context.Context, db DBTX, job *domain.ReviewJob) error {
	query := `
		INSERT INTO review_jobs (
			tracking_id, user_id, topic, prompt,
			stage, percent, status, cancel_requested,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := db.Exec(ctx, query,
		job.TrackingID, job.UserID, job.Topic, job.Prompt,
		job.Stage, job.Percent, job.Status, job.CancelRequested,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("review job %s: %w", job.TrackingID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create review job: %w", err)
	}

	return nil
}

// Get retrieves a review job by tracking ID.
func (r *PgJobRepository) Get(ctx context.Context, trackingID uuid.UUID) (*domain.ReviewJob, error) {
	query, args, err := psql.Select(jobColumns...).
		From("review_jobs").
		Where(sq.Eq{"tracking_id": trackingID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	job, err := scanJob(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("review_job", trackingID.String())
		}
		return nil, fmt.Errorf("failed to get review job: %w", err)
	}

	return job, nil
}

// List retrieves review jobs matching the filter, newest first.
func (r *PgJobRepository) List(ctx context.Context, filter JobFilter) ([]*domain.ReviewJob, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	where := sq.And{}
	if filter.UserID != "" {
		where = append(where, sq.Eq{"user_id": filter.UserID})
	}
	if len(filter.Status) > 0 {
		where = append(where, sq.Eq{"status": filter.Status})
	}
	if filter.CreatedAfter != nil {
		where = append(where, sq.Gt{"created_at": *filter.CreatedAfter})
	}
	if filter.CreatedBefore != nil {
		where = append(where, sq.Lt{"created_at": *filter.CreatedBefore})
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("review_jobs").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count review jobs: %w", err)
	}

	selectQuery, args, err := psql.Select(jobColumns...).
		From("review_jobs").
		Where(where).
		OrderBy("created_at DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list review jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.ReviewJob, 0, filter.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan review job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating review jobs: %w", err)
	}

	return jobs, total, nil
}

// CountActive returns the number of pending or running jobs owned by userID.
func (r *PgJobRepository) CountActive(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, countActiveQuery, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active review jobs: %w", err)
	}
	return n, nil
}

// SetWorkflow records the workflow execution that runs the job.
func (r *PgJobRepository) SetWorkflow(ctx context.Context, trackingID uuid.UUID, workflowID, runID string) error {
	query := `
		UPDATE review_jobs
		SET workflow_id = $2, run_id = $3, updated_at = $4
		WHERE tracking_id = $1`

	tag, err := r.db.Exec(ctx, query, trackingID, nullString(workflowID), nullString(runID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("review_job", trackingID.String())
	}
	return nil
}

// Advance moves the job into a working stage under a row lock.
//
// A forward move must be allowed by the stage transition table. Advancing to
// the current stage or an earlier one, which happens when a crashed run is
// restarted, only raises the percent. Terminal jobs reject every advance.
func (r *PgJobRepository) Advance(ctx context.Context, trackingID uuid.UUID, stage domain.Stage, percent int) error {
	if !stage.IsWorking() {
		return domain.NewValidationError("stage", fmt.Sprintf("%s is not a working stage", stage))
	}
	percent = clampRunningPercent(percent)

	return inTx(ctx, r.db, func(tx DBTX) error {
		current, err := lockJobStage(ctx, tx, trackingID)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, current)
		}

		now := time.Now().UTC()
		if stage.Order() <= current.Order() {
			_, err = tx.Exec(ctx, `
				UPDATE review_jobs
				SET percent = GREATEST(percent, $2), updated_at = $3
				WHERE tracking_id = $1`,
				trackingID, percent, now)
			if err != nil {
				return fmt.Errorf("failed to update percent: %w", err)
			}
			return nil
		}

		if err := domain.ValidateTransition(current, stage); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE review_jobs
			SET stage = $2, status = $3, percent = GREATEST(percent, $4),
				started_at = COALESCE(started_at, $5), updated_at = $5
			WHERE tracking_id = $1`,
			trackingID, stage, domain.JobStatusRunning, percent, now)
		if err != nil {
			return fmt.Errorf("failed to advance review job: %w", err)
		}
		return nil
	})
}

// UpdateProgress raises the percent of a running job. Lower values and jobs
// that are not running are left untouched.
func (r *PgJobRepository) UpdateProgress(ctx context.Context, trackingID uuid.UUID, percent int) error {
	query := `
		UPDATE review_jobs
		SET percent = GREATEST(percent, $2), updated_at = $3
		WHERE tracking_id = $1 AND status = 'running'`

	if _, err := r.db.Exec(ctx, query, trackingID, clampRunningPercent(percent), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// Finish moves the job into a terminal stage under a row lock. Finishing a
// job into the terminal stage it already has is a no-op.
func (r *PgJobRepository) Finish(ctx context.Context, trackingID uuid.UUID, stage domain.Stage, jobErr *domain.JobError) error {
	if !stage.IsTerminal() {
		return domain.NewValidationError("stage", fmt.Sprintf("%s is not a terminal stage", stage))
	}

	var errJSON []byte
	if jobErr != nil {
		var err error
		if errJSON, err = json.Marshal(jobErr); err != nil {
			return fmt.Errorf("failed to marshal job error: %w", err)
		}
	}

	return inTx(ctx, r.db, func(tx DBTX) error {
		current, err := lockJobStage(ctx, tx, trackingID)
		if err != nil {
			return err
		}
		if current == stage {
			return nil
		}
		if err := domain.ValidateTransition(current, stage); err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE review_jobs
			SET stage = $2, status = $3, error = $4,
				percent = CASE WHEN $5 THEN 100 ELSE percent END,
				completed_at = $6, updated_at = $6
			WHERE tracking_id = $1`,
			trackingID, stage, domain.StatusForStage(stage), errJSON,
			stage == domain.StageSucceeded, now)
		if err != nil {
			return fmt.Errorf("failed to finish review job: %w", err)
		}
		return nil
	})
}

// RequestCancel sets the cooperative cancellation flag of a pending or running job.
func (r *PgJobRepository) RequestCancel(ctx context.Context, trackingID uuid.UUID) error {
	query := `
		UPDATE review_jobs
		SET cancel_requested = TRUE, updated_at = $2
		WHERE tracking_id = $1 AND status IN ('pending', 'running')`

	tag, err := r.db.Exec(ctx, query, trackingID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	job, err := r.Get(ctx, trackingID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job is %s", domain.ErrInvalidTransition, job.Stage)
}

// IsCancelRequested reports whether cancellation has been requested for a job.
func (r *PgJobRepository) IsCancelRequested(ctx context.Context, trackingID uuid.UUID) (bool, error) {
	var requested bool
	err := r.db.QueryRow(ctx, `SELECT cancel_requested FROM review_jobs WHERE tracking_id = $1`, trackingID).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.NewNotFoundError("review_job", trackingID.String())
		}
		return false, fmt.Errorf("failed to read cancellation flag: %w", err)
	}
	return requested, nil
}

// lockJobStage reads the current stage of a job with SELECT ... FOR UPDATE.
func lockJobStage(ctx context.Context, tx DBTX, trackingID uuid.UUID) (domain.Stage, error) {
	var stage domain.Stage
	err := tx.QueryRow(ctx, `SELECT stage FROM review_jobs WHERE tracking_id = $1 FOR UPDATE`, trackingID).Scan(&stage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.NewNotFoundError("review_job", trackingID.String())
		}
		return "", fmt.Errorf("failed to lock review job: %w", err)
	}
	return stage, nil
}

func clampRunningPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > maxRunningPercent {
		return maxRunningPercent
	}
	return p
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*domain.ReviewJob, error) {
	var (
		job                 domain.ReviewJob
		errJSON             []byte
		workflowID, runID   *string
		startedAt, complete *time.Time
	)

	err := row.Scan(
		&job.TrackingID, &job.UserID, &job.Topic, &job.Prompt,
		&job.Stage, &job.Percent, &job.Status, &errJSON, &job.CancelRequested,
		&workflowID, &runID,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &complete,
	)
	if err != nil {
		return nil, err
	}

	if len(errJSON) > 0 {
		var je domain.JobError
		if err := json.Unmarshal(errJSON, &je); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job error: %w", err)
		}
		job.Error = &je
	}
	job.WorkflowID = derefString(workflowID)
	job.RunID = derefString(runID)
	job.StartedAt = startedAt
	job.CompletedAt = complete

	return &job, nil
}
