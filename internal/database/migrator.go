package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Migrator applies the versioned SQL files in a migrations directory.
type Migrator struct {
	m      *migrate.Migrate
	conn   *sql.DB
	logger zerolog.Logger
}

// NewMigrator borrows connections from db's pool. The server and worker use
// it to migrate on start-up.
func NewMigrator(db *DB, dir string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil || db.Pool == nil {
		return nil, errors.New("database: migrator needs an open pool")
	}
	if err := statDir(dir); err != nil {
		return nil, err
	}
	return openMigrator(stdlib.OpenDBFromPool(db.Pool), dir, logger)
}

// NewMigratorFromDSN opens its own small lib/pq handle, for cmd/migrate.
func NewMigratorFromDSN(dsn, dir string, logger zerolog.Logger) (*Migrator, error) {
	if dsn == "" {
		return nil, errors.New("database: migrator needs a DSN")
	}
	if err := statDir(dir); err != nil {
		return nil, err
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", "postgres", err)
	}
	conn.SetMaxOpenConns(2)

	mg, err := openMigrator(conn, dir, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return mg, nil
}

func statDir(dir string) error {
	if dir == "" {
		return errors.New("database: migrations directory not set")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("database: migrations directory: %w", err)
	}
	return nil
}

func openMigrator(conn *sql.DB, dir string, logger zerolog.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(conn, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("database: migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("database: load migrations from %s: %w", dir, err)
	}
	return &Migrator{m: m, conn: conn, logger: logger.With().Str("component", "migrator").Logger()}, nil
}

// run executes one migrate operation. "Nothing to do" is success.
func (mg *Migrator) run(op string, fn func() error) error {
	err := fn()
	switch {
	case err == nil:
		mg.logger.Info().Str("op", op).Msg("migrations applied")
		return nil
	case errors.Is(err, migrate.ErrNoChange), errors.Is(err, os.ErrNotExist):
		mg.logger.Info().Str("op", op).Msg("schema already current")
		return nil
	default:
		return fmt.Errorf("database: migrate %s: %w", op, err)
	}
}

// Up applies every pending migration.
func (mg *Migrator) Up() error { return mg.run("up", mg.m.Up) }

// Down reverts every migration.
func (mg *Migrator) Down() error { return mg.run("down", mg.m.Down) }

// Steps moves n migrations forward, or back when n is negative.
func (mg *Migrator) Steps(n int) error {
	return mg.run(fmt.Sprintf("steps %+d", n), func() error { return mg.m.Steps(n) })
}

// Version returns the applied version. A fresh schema reports 0, false.
func (mg *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force records version as applied and clears the dirty flag.
func (mg *Migrator) Force(version int) error {
	mg.logger.Warn().Int("version", version).Msg("forcing schema version")
	return mg.m.Force(version)
}

// Close releases the source and the database handle.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr, mg.conn.Close())
}

// MigrateUp applies pending migrations over db's pool and closes the migrator.
func MigrateUp(db *DB, dir string, logger zerolog.Logger) error {
	mg, err := NewMigrator(db, dir, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := mg.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing migrator")
		}
	}()
	return mg.Up()
}
