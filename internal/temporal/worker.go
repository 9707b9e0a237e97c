package temporal

import (
	"context"
	"errors"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

const (
	defaultConcurrentReviews = 2
	defaultWorkflowTasks     = 50

	// Activity slots kept free for PublishEvent and RequestCancel.
	eventActivitySlots = 4
)

// WorkerConfig sizes a review worker.
type WorkerConfig struct {
	TaskQueue string

	// MaxConcurrentReviews is how many RunReview activities, each a whole
	// pipeline, execute at once.
	MaxConcurrentReviews int

	MaxWorkflowTasks int
}

// DefaultWorkerConfig returns the production sizing for taskQueue.
func DefaultWorkerConfig(taskQueue string) WorkerConfig {
	return WorkerConfig{
		TaskQueue:            taskQueue,
		MaxConcurrentReviews: defaultConcurrentReviews,
		MaxWorkflowTasks:     defaultWorkflowTasks,
	}
}

func (c WorkerConfig) options() worker.Options {
	reviews, tasks := c.MaxConcurrentReviews, c.MaxWorkflowTasks
	if reviews <= 0 {
		reviews = defaultConcurrentReviews
	}
	if tasks <= 0 {
		tasks = defaultWorkflowTasks
	}
	return worker.Options{
		MaxConcurrentActivityExecutionSize:     reviews + eventActivitySlots,
		MaxConcurrentWorkflowTaskExecutionSize: tasks,
	}
}

// WorkerManager owns one worker polling the review task queue.
type WorkerManager struct {
	w         worker.Worker
	taskQueue string
}

func NewWorkerManager(c client.Client, cfg WorkerConfig) (*WorkerManager, error) {
	if cfg.TaskQueue == "" {
		return nil, errors.New("temporal: task queue is required")
	}
	return &WorkerManager{w: worker.New(c, cfg.TaskQueue, cfg.options()), taskQueue: cfg.TaskQueue}, nil
}

// RegisterReviewWorkflow registers wf as WorkflowTypeReview.
func (m *WorkerManager) RegisterReviewWorkflow(wf any) {
	m.w.RegisterWorkflowWithOptions(wf, workflow.RegisterOptions{Name: WorkflowTypeReview})
}

// RegisterActivity registers an activity function or every exported method
// of an activity struct.
func (m *WorkerManager) RegisterActivity(a any) { m.w.RegisterActivity(a) }

func (m *WorkerManager) TaskQueue() string { return m.taskQueue }

// Start runs the worker until ctx ends or the worker fails.
func (m *WorkerManager) Start(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- m.w.Run(worker.InterruptCh()) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		m.w.Stop()
		return ctx.Err()
	}
}
