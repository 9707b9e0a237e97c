// Package repository provides the PostgreSQL persistence of review jobs,
// their per-item records and their finished documents.
//
// # Repositories
//
//   - PgJobRepository: the durable job mirror. It implements the pipeline's
//     status sink, so every stage transition is validated under a row lock
//     and percent only ever rises.
//   - PgItemRepository: per-item outcomes keyed by (job, stage, item key)
//     and the per-stage counts derived from them.
//   - PgDocumentRepository: finished review documents stored as JSONB.
//
// # Transactions
//
// Constructors accept DBTX, so a repository can be bound to the pool or to a
// pgx.Tx. Methods that need SELECT ... FOR UPDATE open their own transaction,
// or a savepoint when bound to a caller's transaction.
//
// # Errors
//
// Methods return domain errors: domain.ErrNotFound for a missing job,
// domain.ErrAlreadyExists on a duplicate tracking ID and
// domain.ErrInvalidTransition when the state machine forbids a write.
package repository

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/review-pipeline-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// txBeginner is implemented by *pgxpool.Pool and *database.DB. A pgx.Tx
// implements it too, in which case Begin opens a savepoint.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// psql builds PostgreSQL statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 50
	maxFilterLimit     = 500
)

// applyPaginationDefaults clamps limit to [1, maxFilterLimit] and offset to >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}

// inTx runs fn inside a transaction, or directly on db when it cannot begin one.
func inTx(ctx context.Context, db DBTX, fn func(tx DBTX) error) error {
	beginner, ok := db.(txBeginner)
	if !ok {
		return fn(db)
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isPgUniqueViolation(err error) bool {
	return isPgError(err, pgUniqueViolation)
}

func isPgForeignKeyViolation(err error) bool {
	return isPgError(err, pgForeignKeyViolation)
}

// nullString maps the empty string to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
