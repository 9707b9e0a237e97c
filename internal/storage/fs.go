package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Compile-time interface verification.
var _ Store = (*FSStore)(nil)

// FSStore keeps one file per key under a two-level shard directory,
// root/ab/cd/abcd..., written through a temp file and an atomic rename.
type FSStore struct {
	root   string
	logger zerolog.Logger
	now    func() time.Time
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string, logger zerolog.Logger) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FSStore{
		root:   root,
		logger: logger.With().Str("component", "fs_store").Logger(),
		now:    time.Now,
	}, nil
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, key[0:2], key[2:4], key)
}

// Put writes data under key.
func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p := s.path(key)
	if _, err := os.Stat(p); err == nil {
		now := s.now()
		if err := os.Chtimes(p, now, now); err != nil {
			return fmt.Errorf("storage: touch %s: %w", key, err)
		}
		return nil
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create shard: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("storage: commit %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("source stored")
	return nil
}

// Get reads the bytes stored under key.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

// Cleanup removes files whose modification time is older than olderThan.
// Temp files left by interrupted writes are removed too.
func (s *FSStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	removed := 0

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("storage: cleanup: %w", err)
	}

	s.logger.Info().Int("removed", removed).Dur("older_than", olderThan).Msg("source cleanup finished")
	return removed, nil
}
