// Package temporal hosts review jobs on Temporal.
//
// Each job runs as one ReviewWorkflow whose ID is derived from the tracking
// ID. The workflow executes the stage pipeline inside a single heartbeating
// activity, so a crashed worker is replaced by a retry that resumes from the
// job's durable state.
//
// # Client
//
//	c, err := temporal.NewClient(cfg.Temporal, observability.NewTemporalLogger(logger))
//	if err != nil {
//	    return err
//	}
//	reviews := temporal.NewReviewWorkflowClient(c, cfg.Temporal)
//	defer reviews.Close()
//
//	workflowID, runID, err := reviews.StartReview(ctx, temporal.ReviewWorkflowInput{
//	    TrackingID: job.TrackingID,
//	    UserID:     job.UserID,
//	    Topic:      job.Topic,
//	})
//
// # Worker
//
//	wm, err := temporal.NewWorkerManager(c, temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue))
//	if err != nil {
//	    return err
//	}
//	wm.RegisterReviewWorkflow(workflows.ReviewWorkflow)
//	wm.RegisterActivity(activities.NewPipelineActivities(controller, publisher, logger))
//	wm.RegisterActivity(activities.NewEventActivities(publisher))
//	return wm.Start(ctx)
//
// # Signals and queries
//
// SignalCancel sets the job's cooperative cancellation flag. QueryProgress
// returns a WorkflowProgress; the durable job row remains the source of truth
// for percent complete.
package temporal
