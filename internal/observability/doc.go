// Package observability provides logging and metrics support for the
// review pipeline service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Scope a logger to a job or a single paper:
//
//	logger = observability.WithJobContext(logger, trackingID.String())
//	itemLog := observability.WithItemContext(logger, "acquiring", candidate.ItemKey())
//
// # Metrics
//
//	metrics := observability.NewMetrics("review_pipeline")
//	metrics.RecordJobStarted()
//	metrics.RecordItem("acquiring", "failed", "transient")
//
// A nil *Metrics is valid; every Record method is a no-op on it.
//
// # Standard Fields
//
//   - request_id: HTTP request identifier
//   - tracking_id: review job identifier
//   - stage: pipeline stage name
//   - item_key: paper identifier within a job
//   - workflow_id: Temporal workflow identifier
package observability
