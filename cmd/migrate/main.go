// Command migrate applies, rolls back or inspects the schema migrations.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/review-pipeline-service/internal/config"
	"github.com/helixir/review-pipeline-service/internal/database"
	"github.com/helixir/review-pipeline-service/internal/observability"
)

var (
	migrationsDir string
	dsnOverride   string
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the review pipeline schema",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "path", "", "Migrations directory (default from config)")
	rootCmd.PersistentFlags().StringVar(&dsnOverride, "dsn", "", "Database URL (default built from config)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withMigrator(func(m *database.Migrator, _ []string) error { return m.Up() }),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert every migration",
			Args:  cobra.NoArgs,
			RunE:  withMigrator(func(m *database.Migrator, _ []string) error { return m.Down() }),
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations, or revert them when n is negative",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(m *database.Migrator, args []string) error {
				n, err := parseVersionArg(args[0], true)
				if err != nil {
					return err
				}
				return m.Steps(n)
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Mark version as applied and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(m *database.Migrator, args []string) error {
				v, err := parseVersionArg(args[0], false)
				if err != nil {
					return err
				}
				return m.Force(v)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied version",
			Args:  cobra.NoArgs,
			RunE:  withMigrator(func(*database.Migrator, []string) error { return nil }),
		},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

// withMigrator opens a migrator for one command, runs fn and reports the
// resulting schema version.
func withMigrator(fn func(m *database.Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger := observability.NewLogger(observability.LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: time.RFC3339,
		}).With().Str("component", "migrate").Logger()

		dir := cfg.Database.MigrationPath
		if migrationsDir != "" {
			dir = migrationsDir
		}
		dsn := cfg.Database.DSN()
		if dsnOverride != "" {
			dsn = dsnOverride
		}

		m, err := database.NewMigratorFromDSN(dsn, dir, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := m.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing migrator")
			}
		}()

		if err := fn(m, args); err != nil {
			return fmt.Errorf("%s: %w", cmd.Name(), err)
		}
		return reportVersion(cmd, m, logger)
	}
}

func reportVersion(cmd *cobra.Command, m *database.Migrator, logger zerolog.Logger) error {
	v, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if dirty {
		logger.Warn().Uint("version", v).Msg("schema is dirty, fix the failed migration and run force")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
	return nil
}

// parseVersionArg parses a steps count or a version number. Steps may be
// negative but not zero; versions must be non-negative.
func parseVersionArg(s string, signed bool) (int, error) {
	n, err := strconv.Atoi(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%q is not an integer", s)
	case signed && n == 0:
		return 0, fmt.Errorf("steps must not be zero")
	case !signed && n < 0:
		return 0, fmt.Errorf("version must be non-negative")
	}
	return n, nil
}
