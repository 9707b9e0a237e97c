package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/repository"
	"github.com/helixir/review-pipeline-service/internal/temporal"
)

var (
	listStatus string
	listUser   string
	listSince  time.Duration
	listLimit  int

	statusItems bool
	statusLive  bool

	cancelReason string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List review jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter := repository.JobFilter{UserID: listUser, Limit: listLimit}
		if listStatus != "" {
			for _, s := range strings.Split(listStatus, ",") {
				filter.Status = append(filter.Status, domain.JobStatus(strings.TrimSpace(s)))
			}
		}
		if listSince > 0 {
			after := time.Now().UTC().Add(-listSince)
			filter.CreatedAfter = &after
		}
		if err := filter.Validate(); err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			jobs, total, err := a.jobs.List(ctx, filter)
			if err != nil {
				return err
			}
			renderJobs(a.out, jobs, total)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <tracking-id>",
	Short: "Show one job with its per-stage counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTrackingID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			job, err := a.jobs.Get(ctx, id)
			if err != nil {
				return err
			}
			if job.StageCounts, err = a.items.StageCounts(ctx, id); err != nil {
				return err
			}
			renderJob(a.out, job)

			if statusLive && job.IsActive() && job.WorkflowID != "" {
				wf, err := a.workflows()
				if err != nil {
					return err
				}
				progress, err := wf.QueryProgress(ctx, job.WorkflowID, job.RunID)
				if err != nil {
					return err
				}
				renderProgress(a.out, progress)
			}

			if !statusItems {
				return nil
			}
			items, err := a.items.ListItems(ctx, id, "")
			if err != nil {
				return err
			}
			renderItems(a.out, items)
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <tracking-id>",
	Short: "Request cancellation of a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTrackingID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			reviews, err := a.reviews()
			if err != nil {
				return err
			}
			if err := reviews.Cancel(ctx, "", id, cancelReason); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "cancellation requested for %s\n", id)
			return nil
		})
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Comma-separated statuses (pending,running,succeeded,failed,cancelled)")
	listCmd.Flags().StringVar(&listUser, "user", "", "Only jobs owned by this user")
	listCmd.Flags().DurationVar(&listSince, "since", 0, "Only jobs created within this window, e.g. 24h")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum rows")

	statusCmd.Flags().BoolVar(&statusItems, "items", false, "Also list every item outcome")
	statusCmd.Flags().BoolVar(&statusLive, "live", false, "Also query the running workflow")

	cancelCmd.Flags().StringVar(&cancelReason, "reason", "cancelled by operator", "Reason recorded with the request")

	rootCmd.AddCommand(listCmd, statusCmd, cancelCmd)
}

func parseTrackingID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, domain.NewValidationError("tracking_id", "must be a valid UUID")
	}
	return id, nil
}

func renderJobs(w io.Writer, jobs []*domain.ReviewJob, total int64) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Tracking ID", "User", "Status", "Stage", "%", "Created", "Topic"})
	for _, j := range jobs {
		tw.AppendRow(table.Row{
			j.TrackingID, j.UserID, j.Status, j.Stage, j.Percent,
			j.CreatedAt.UTC().Format(time.RFC3339), truncate(j.Topic, 48),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "total", total})
	tw.Render()
}

func renderJob(w io.Writer, j *domain.ReviewJob) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendRows([]table.Row{
		{"Tracking ID", j.TrackingID},
		{"User", j.UserID},
		{"Topic", j.Topic},
		{"Status", j.Status},
		{"Stage", fmt.Sprintf("%s (%d%%)", j.Stage, j.Percent)},
		{"Workflow", j.WorkflowID},
		{"Created", j.CreatedAt.UTC().Format(time.RFC3339)},
		{"Duration", j.Duration().Round(time.Second)},
	})
	if j.Error != nil {
		tw.AppendRow(table.Row{"Error", fmt.Sprintf("%s at %s: %s", j.Error.Kind, j.Error.Stage, j.Error.Message)})
	}
	tw.Render()

	if len(j.StageCounts) == 0 {
		return
	}
	counts := table.NewWriter()
	counts.SetOutputMirror(w)
	counts.AppendHeader(table.Row{"Stage", "Attempted", "Succeeded", "Failed"})
	for _, c := range j.StageCounts {
		counts.AppendRow(table.Row{c.Stage, c.Attempted, c.Succeeded, c.Failed()})
	}
	counts.Render()
}

// renderProgress prints the workflow's own view, which can run ahead of the
// job row between stage commits.
func renderProgress(w io.Writer, p *temporal.WorkflowProgress) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Workflow")
	tw.AppendRows([]table.Row{
		{"Stage", fmt.Sprintf("%s (%d%%)", p.Stage, p.Percent)},
		{"Attempt", p.Attempt},
		{"Cancel requested", p.CancelRequested},
	})
	tw.Render()
}

func renderItems(w io.Writer, items []domain.ItemRecord) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Stage", "Item", "Outcome", "Kind", "Attempts", "Reason"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.Stage, truncate(it.ItemKey, 32), it.Outcome, it.FailureKind, it.Attempts, truncate(it.Reason, 60)})
	}
	tw.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
