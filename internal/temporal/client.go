package temporal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/helixir/review-pipeline-service/internal/config"
	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/observability"
)

// Names shared by the client, the workflow and the service layer.
const (
	SignalCancel       = "cancel"
	QueryProgress      = "progress"
	WorkflowTypeReview = "ReviewWorkflow"
)

// CancelSignal is the payload of SignalCancel.
type CancelSignal struct {
	Reason string `json:"reason,omitempty"`
}

// DefaultHealthCheckTimeout bounds Health.
const DefaultHealthCheckTimeout = 5 * time.Second

// NewClient dials Temporal. SDK logs are routed through logger when set.
func NewClient(cfg config.TemporalConfig, logger *observability.TemporalLogger) (client.Client, error) {
	opts := client.Options{HostPort: cfg.HostPort, Namespace: cfg.Namespace}
	if logger != nil {
		opts.Logger = logger
	}
	c, err := client.Dial(opts)
	if err != nil {
		return nil, fmt.Errorf("temporal: dial %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// RunOptions bound the RunReview activity of one workflow.
type RunOptions struct {
	RunTimeout       time.Duration
	HeartbeatTimeout time.Duration
	MaxAttempts      int32
}

// ReviewWorkflowInput is the argument of the review workflow.
type ReviewWorkflowInput struct {
	TrackingID uuid.UUID
	UserID     string
	Topic      string
	Options    RunOptions
}

// WorkflowProgress answers QueryProgress.
type WorkflowProgress struct {
	TrackingID      uuid.UUID        `json:"tracking_id"`
	Status          domain.JobStatus `json:"status"`
	Stage           domain.Stage     `json:"stage"`
	Percent         int              `json:"percent"`
	CancelRequested bool             `json:"cancel_requested"`
	Attempt         int              `json:"attempt"`
}

// WorkflowID is the deterministic workflow ID of a job.
func WorkflowID(trackingID uuid.UUID) string {
	return "review-" + trackingID.String()
}

// ReviewWorkflowClient starts, signals and queries review workflows.
// After Close every call fails with ErrClientClosed.
type ReviewWorkflowClient struct {
	client        client.Client
	taskQueue     string
	defaults      RunOptions
	healthTimeout time.Duration
	closed        atomic.Bool
}

// NewReviewWorkflowClient wraps c. Run options not set on a start request
// come from cfg.
func NewReviewWorkflowClient(c client.Client, cfg config.TemporalConfig) *ReviewWorkflowClient {
	return &ReviewWorkflowClient{
		client:    c,
		taskQueue: cfg.TaskQueue,
		defaults: RunOptions{
			RunTimeout:       cfg.RunTimeout,
			HeartbeatTimeout: cfg.HeartbeatTimeout,
			MaxAttempts:      cfg.MaxActivityAttempts,
		},
		healthTimeout: DefaultHealthCheckTimeout,
	}
}

// TaskQueue returns the queue workflows are started on.
func (c *ReviewWorkflowClient) TaskQueue() string { return c.taskQueue }

// Close closes the SDK client once.
func (c *ReviewWorkflowClient) Close() {
	if c.closed.CompareAndSwap(false, true) && c.client != nil {
		c.client.Close()
	}
}

func (c *ReviewWorkflowClient) checkOpen(op, workflowID, runID string) error {
	if c.closed.Load() {
		return &TemporalError{Op: op, Kind: ErrClientClosed, WorkflowID: workflowID, RunID: runID}
	}
	return nil
}

// Health asks the frontend service whether it is serving.
func (c *ReviewWorkflowClient) Health(ctx context.Context) error {
	if err := c.checkOpen("Health", "", ""); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	_, err := c.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	return wrapTemporalError("Health", err, "", "")
}

// StartReview starts the workflow for a job. Workflow IDs are never reused,
// so starting the same job twice fails with ErrWorkflowAlreadyStarted.
func (c *ReviewWorkflowClient) StartReview(ctx context.Context, in ReviewWorkflowInput) (workflowID, runID string, err error) {
	workflowID = WorkflowID(in.TrackingID)
	if err := c.checkOpen("StartReview", workflowID, ""); err != nil {
		return "", "", err
	}
	if in.Options == (RunOptions{}) {
		in.Options = c.defaults
	}

	opts := client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             c.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	if in.Options.RunTimeout > 0 {
		// headroom for the abandon activity after the last attempt
		opts.WorkflowExecutionTimeout = in.Options.RunTimeout + time.Hour
	}

	run, err := c.client.ExecuteWorkflow(ctx, opts, WorkflowTypeReview, in)
	if err != nil {
		return "", "", wrapTemporalError("StartReview", err, workflowID, "")
	}
	return workflowID, run.GetRunID(), nil
}

// CancelReview sends SignalCancel with reason.
func (c *ReviewWorkflowClient) CancelReview(ctx context.Context, workflowID, runID, reason string) error {
	if err := c.checkOpen("CancelReview", workflowID, runID); err != nil {
		return err
	}
	err := c.client.SignalWorkflow(ctx, workflowID, runID, SignalCancel, CancelSignal{Reason: reason})
	return wrapTemporalError("CancelReview", err, workflowID, runID)
}

// QueryProgress runs the progress query against a live workflow.
func (c *ReviewWorkflowClient) QueryProgress(ctx context.Context, workflowID, runID string) (*WorkflowProgress, error) {
	if err := c.checkOpen("QueryProgress", workflowID, runID); err != nil {
		return nil, err
	}
	val, err := c.client.QueryWorkflow(ctx, workflowID, runID, QueryProgress)
	if err != nil {
		return nil, wrapTemporalError("QueryProgress", err, workflowID, runID)
	}

	var p WorkflowProgress
	if err := val.Get(&p); err != nil {
		return nil, &TemporalError{Op: "QueryProgress", Kind: ErrQueryFailed, WorkflowID: workflowID, RunID: runID, Err: err}
	}
	return &p, nil
}
