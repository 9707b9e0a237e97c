package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// Compile-time interface verification.
var _ DocumentRepository = (*PgDocumentRepository)(nil)

// PgDocumentRepository is a PostgreSQL implementation of DocumentRepository.
type PgDocumentRepository struct {
	db DBTX
}

// NewPgDocumentRepository creates a new PostgreSQL document repository.
func NewPgDocumentRepository(db DBTX) *PgDocumentRepository {
	return &PgDocumentRepository{db: db}
}

// SaveDocument stores the document as JSONB. Documents are immutable, so a
// second save for the same job keeps the first one.
func (r *PgDocumentRepository) SaveDocument(ctx context.Context, doc *domain.ReviewDocument) error {
	if doc == nil {
		return domain.NewValidationError("document", "document cannot be nil")
	}
	if doc.TrackingID == uuid.Nil {
		return domain.NewValidationError("tracking_id", "tracking ID is required")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	query := `
		INSERT INTO review_documents (tracking_id, title, body, model, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tracking_id) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, doc.TrackingID, doc.Title, body, doc.Model, doc.CreatedAt); err != nil {
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("review_job", doc.TrackingID.String())
		}
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// GetDocument retrieves the document of a job.
func (r *PgDocumentRepository) GetDocument(ctx context.Context, trackingID uuid.UUID) (*domain.ReviewDocument, error) {
	var body []byte
	err := r.db.QueryRow(ctx, `SELECT body FROM review_documents WHERE tracking_id = $1`, trackingID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("review_document", trackingID.String())
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	var doc domain.ReviewDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &doc, nil
}
