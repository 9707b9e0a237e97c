package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/review-pipeline-service/internal/database"
)

// Compile-time interface verification.
var _ Store = (*PgStore)(nil)

// PgStore keeps source bytes in the source_blobs table.
type PgStore struct {
	db  database.DBTX
	now func() time.Time
}

// NewPgStore creates a store backed by db.
func NewPgStore(db database.DBTX) *PgStore {
	return &PgStore{db: db, now: time.Now}
}

// Put inserts the blob or refreshes the age of an existing one.
func (s *PgStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	query := `
		INSERT INTO source_blobs (content_key, content, size_bytes, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (content_key) DO UPDATE SET created_at = EXCLUDED.created_at`

	if _, err := s.db.Exec(ctx, query, key, data, int64(len(data)), s.now().UTC()); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// Get reads a blob.
func (s *PgStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRow(ctx, `SELECT content FROM source_blobs WHERE content_key = $1`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(key)
		}
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return data, nil
}

// Cleanup deletes blobs written before the retention cutoff.
func (s *PgStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM source_blobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
