// Package database owns the PostgreSQL pool, schema migrations and the
// session-level advisory locks maintenance jobs take.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/helixir/review-pipeline-service/internal/config"
)

// PingTimeout bounds the ping made by Health.
const PingTimeout = 5 * time.Second

// ErrLockHeld means another session owns the advisory lock.
var ErrLockHeld = errors.New("advisory lock held by another session")

// DBTX is the query surface shared by *DB, *pgxpool.Pool and pgx.Tx.
// Repositories accept it so they run the same way inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// DB is the service's pgx pool. Query methods and Begin are promoted from
// the embedded pool.
type DB struct {
	*pgxpool.Pool
	logger zerolog.Logger
}

var _ DBTX = (*DB)(nil)

// New opens a pool sized by cfg and pings it once before returning.
func New(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("database: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Name).
		Int32("max_conns", cfg.MaxConns).
		Msg("database pool ready")

	return &DB{Pool: pool, logger: logger}, nil
}

func poolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: parse DSN: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	return pc, nil
}

// Close shuts the pool down. It is safe on a DB that never opened.
func (db *DB) Close() {
	if db == nil || db.Pool == nil {
		return
	}
	db.Pool.Close()
	db.logger.Info().Msg("database pool closed")
}

// HealthStatus is the readiness view of the pool.
type HealthStatus struct {
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	TotalConns    int32  `json:"total_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	IdleConns     int32  `json:"idle_conns"`
	MaxConns      int32  `json:"max_conns"`
}

// Healthy reports whether the ping succeeded.
func (h HealthStatus) Healthy() bool { return h.Status == "healthy" }

// Health pings the database and snapshots pool statistics.
func (db *DB) Health(ctx context.Context) HealthStatus {
	st := db.Stat()
	h := HealthStatus{
		Status:        "healthy",
		TotalConns:    st.TotalConns(),
		AcquiredConns: st.AcquiredConns(),
		IdleConns:     st.IdleConns(),
		MaxConns:      st.MaxConns(),
	}

	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		h.Status, h.Error = "unhealthy", err.Error()
	}
	return h
}

// WithAdvisoryLock runs fn while this process holds pg_try_advisory_lock(key).
// The lock lives on one dedicated connection and is released on it even if
// ctx has been cancelled. ErrLockHeld is returned without running fn when the
// lock is taken.
func (db *DB) WithAdvisoryLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	conn, err := db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("database: acquire connection: %w", err)
	}
	defer conn.Release()

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		return fmt.Errorf("database: try advisory lock %d: %w", key, err)
	}
	if !ok {
		return ErrLockHeld
	}
	defer func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", key); err != nil {
			db.logger.Error().Err(err).Int64("lock_key", key).Msg("advisory unlock failed")
		}
	}()

	return fn(ctx)
}
