// Package storage holds the durable, content-addressed store for acquired
// source bytes. Keys are the lowercase hex SHA-256 of the content, so a Put of
// the same bytes twice is a no-op apart from refreshing the retention clock.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/review-pipeline-service/internal/config"
	"github.com/helixir/review-pipeline-service/internal/database"
	"github.com/helixir/review-pipeline-service/internal/domain"
)

// minKeyLength guards the shard layout of FSStore.
const minKeyLength = 8

// Store persists source bytes under content keys.
type Store interface {
	// Put writes data under key. Writing an existing key refreshes its age.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the bytes stored under key, or a domain.ErrNotFound error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Cleanup removes entries not written within olderThan and returns how many it removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

// New builds the Store selected by cfg.Backend. db is required for the postgres backend.
func New(cfg config.StorageConfig, db database.DBTX, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case config.StorageBackendFS:
		return NewFSStore(cfg.RootDir, logger)
	case config.StorageBackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("storage: postgres backend requires a database")
		}
		return NewPgStore(db), nil
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", cfg.Backend)
	}
}

// ValidateKey rejects keys that are not lowercase hex strings.
func ValidateKey(key string) error {
	if len(key) < minKeyLength {
		return domain.NewValidationError("key", "content key is too short")
	}
	for _, r := range key {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return domain.NewValidationError("key", "content key must be lowercase hex")
		}
	}
	return nil
}

func notFound(key string) error {
	return domain.NewNotFoundError("source", key)
}
