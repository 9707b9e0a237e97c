package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/helixir/review-pipeline-service/internal/database"
	"github.com/helixir/review-pipeline-service/internal/service"
	"github.com/helixir/review-pipeline-service/internal/storage"
)

// cleanupLockKey serializes source cleanup across operators and cron runs.
const cleanupLockKey int64 = 0x7265766965770001

var (
	retryJobID string
	retrySince time.Duration

	cleanupDays   int
	cleanupDryRun bool
)

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Resubmit failed jobs as new jobs",
	Long:  "Resubmits one failed job (--job-id) or every job that failed within a window (--since). Each retry is a new job with a new tracking ID.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if (retryJobID == "") == (retrySince <= 0) {
			return errors.New("specify exactly one of --job-id or --since")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			reviews, err := a.reviews()
			if err != nil {
				return err
			}

			if retryJobID != "" {
				id, err := parseTrackingID(retryJobID)
				if err != nil {
					return err
				}
				retried, err := reviews.Retry(ctx, "", id)
				if err != nil {
					return err
				}
				renderRetries(a.out, []service.RetryResult{{Original: id, Retried: retried.TrackingID}})
				return nil
			}

			results, err := reviews.RetryFailed(ctx, time.Now().UTC().Add(-retrySince))
			renderRetries(a.out, results)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					return fmt.Errorf("%d of %d retries failed", countFailed(results), len(results))
				}
			}
			return nil
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-sources",
	Short: "Delete acquired sources older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			olderThan := a.cfg.Storage.Retention()
			if cleanupDays > 0 {
				olderThan = time.Duration(cleanupDays) * 24 * time.Hour
			}
			if cleanupDryRun {
				fmt.Fprintf(a.out, "would remove %s sources older than %s\n", a.cfg.Storage.Backend, olderThan)
				return nil
			}

			store, err := storage.New(a.cfg.Storage, a.db, a.logger)
			if err != nil {
				return err
			}

			err = a.db.WithAdvisoryLock(ctx, cleanupLockKey, func(ctx context.Context) error {
				removed, err := store.Cleanup(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "removed %d sources older than %s\n", removed, olderThan)
				return nil
			})
			if errors.Is(err, database.ErrLockHeld) {
				return errors.New("another cleanup is running")
			}
			return err
		})
	},
}

func init() {
	retryFailedCmd.Flags().StringVar(&retryJobID, "job-id", "", "Tracking ID of one failed job")
	retryFailedCmd.Flags().DurationVar(&retrySince, "since", 0, "Retry jobs that failed within this window, e.g. 24h")

	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention in days (defaults to storage.retention_days)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Print the cutoff without deleting")

	rootCmd.AddCommand(retryFailedCmd, cleanupCmd)
}

func renderRetries(w io.Writer, results []service.RetryResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no failed jobs to retry")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Original", "Retried As", "Error"})
	for _, r := range results {
		retried, errText := "", ""
		if r.Err != nil {
			errText = r.Err.Error()
		} else {
			retried = r.Retried.String()
		}
		tw.AppendRow(table.Row{r.Original, retried, errText})
	}
	tw.Render()
}

func countFailed(results []service.RetryResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
