package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// Compile-time interface verification.
var _ ItemRepository = (*PgItemRepository)(nil)

// PgItemRepository is a PostgreSQL implementation of ItemRepository.
type PgItemRepository struct {
	db DBTX
}

// NewPgItemRepository creates a new PostgreSQL item repository.
func NewPgItemRepository(db DBTX) *PgItemRepository {
	return &PgItemRepository{db: db}
}

// RecordItem upserts one per-item record. A re-run of the same job overwrites
// the earlier outcome of the same item.
func (r *PgItemRepository) RecordItem(ctx context.Context, rec domain.ItemRecord) error {
	if rec.TrackingID == uuid.Nil {
		return domain.NewValidationError("tracking_id", "tracking ID is required")
	}
	if !rec.Stage.IsItemized() {
		return domain.NewValidationError("stage", fmt.Sprintf("%s is not an itemized stage", rec.Stage))
	}
	if rec.ItemKey == "" {
		return domain.NewValidationError("item_key", "item key is required")
	}

	query := `
		INSERT INTO job_items (
			tracking_id, stage, item_key, title, outcome,
			failure_kind, reason, attempts, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tracking_id, stage, item_key) DO UPDATE SET
			title = EXCLUDED.title,
			outcome = EXCLUDED.outcome,
			failure_kind = EXCLUDED.failure_kind,
			reason = EXCLUDED.reason,
			attempts = EXCLUDED.attempts,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		rec.TrackingID, rec.Stage, rec.ItemKey, rec.Title, rec.Outcome,
		string(rec.FailureKind), rec.Reason, rec.Attempts, rec.UpdatedAt,
	)
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("review_job", rec.TrackingID.String())
		}
		return fmt.Errorf("failed to record item: %w", err)
	}
	return nil
}

// StageCounts aggregates the item records of a job per stage.
func (r *PgItemRepository) StageCounts(ctx context.Context, trackingID uuid.UUID) ([]domain.StageCount, error) {
	query := `
		SELECT stage, COUNT(*), COUNT(*) FILTER (WHERE outcome = 'succeeded')
		FROM job_items
		WHERE tracking_id = $1
		GROUP BY stage
		ORDER BY stage`

	rows, err := r.db.Query(ctx, query, trackingID)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	var counts []domain.StageCount
	for rows.Next() {
		var c domain.StageCount
		if err := rows.Scan(&c.Stage, &c.Attempted, &c.Succeeded); err != nil {
			return nil, fmt.Errorf("failed to scan stage count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stage counts: %w", err)
	}
	return counts, nil
}

// ListItems returns the item records of a job.
func (r *PgItemRepository) ListItems(ctx context.Context, trackingID uuid.UUID, stage domain.Stage) ([]domain.ItemRecord, error) {
	where := sq.Eq{"tracking_id": trackingID}
	if stage != "" {
		where["stage"] = stage
	}

	query, args, err := psql.Select(
		"tracking_id", "stage", "item_key", "title", "outcome",
		"failure_kind", "reason", "attempts", "updated_at",
	).
		From("job_items").
		Where(where).
		OrderBy("stage", "item_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []domain.ItemRecord
	for rows.Next() {
		var (
			rec  domain.ItemRecord
			kind string
		)
		if err := rows.Scan(
			&rec.TrackingID, &rec.Stage, &rec.ItemKey, &rec.Title, &rec.Outcome,
			&kind, &rec.Reason, &rec.Attempts, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		rec.FailureKind = domain.FailureKind(kind)
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}
