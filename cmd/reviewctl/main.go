// Package main implements reviewctl, the operator CLI for review jobs.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/review-pipeline-service/internal/config"
	"github.com/helixir/review-pipeline-service/internal/database"
	"github.com/helixir/review-pipeline-service/internal/observability"
	"github.com/helixir/review-pipeline-service/internal/repository"
	"github.com/helixir/review-pipeline-service/internal/service"
	"github.com/helixir/review-pipeline-service/internal/temporal"
)

var rootCmd = &cobra.Command{
	Use:           "reviewctl",
	Short:         "Inspect and steer review jobs",
	Long:          "reviewctl lists review jobs, shows their per-stage outcomes, cancels or retries them and prunes acquired sources.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the connections one command needs.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *database.DB
	jobs   *repository.PgJobRepository
	items  *repository.PgItemRepository
	wf     *temporal.ReviewWorkflowClient
	out    io.Writer
}

// openApp loads configuration and connects to PostgreSQL.
func openApp(ctx context.Context, out io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	}).With().Str("component", "reviewctl").Logger()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		jobs:   repository.NewPgJobRepository(db),
		items:  repository.NewPgItemRepository(db),
		out:    out,
	}, nil
}

// workflows dials Temporal on first use; most commands only need the database.
func (a *app) workflows() (*temporal.ReviewWorkflowClient, error) {
	if a.wf == nil {
		c, err := temporal.NewClient(a.cfg.Temporal, observability.NewTemporalLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("connect to temporal: %w", err)
		}
		a.wf = temporal.NewReviewWorkflowClient(c, a.cfg.Temporal)
	}
	return a.wf, nil
}

// reviews builds the service used by commands that start or signal workflows.
func (a *app) reviews() (*service.Reviews, error) {
	wf, err := a.workflows()
	if err != nil {
		return nil, err
	}
	return service.NewReviews(service.Deps{
		Jobs:           a.jobs,
		Items:          a.items,
		Documents:      repository.NewPgDocumentRepository(a.db),
		Workflows:      wf,
		Logger:         a.logger,
		MaxPendingJobs: a.cfg.Pipeline.MaxPendingJobs,
	}), nil
}

func (a *app) Close() {
	if a.wf != nil {
		a.wf.Close()
	}
	a.db.Close()
}

// withApp runs fn with a connected app bound to the command's context.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
