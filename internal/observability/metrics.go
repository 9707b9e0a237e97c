package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the review pipeline service.
// Metrics are organized by subsystem: jobs, stages, items, external calls and HTTP.
// All collectors are registered via promauto with the default Prometheus registry.
//
// Record methods are safe to call on a nil *Metrics, which lets components that
// were built without metrics skip recording without nil checks at every call site.
type Metrics struct {
	// JobsSubmitted counts review jobs accepted by the host.
	JobsSubmitted prometheus.Counter

	// JobsStarted counts review jobs whose pipeline began executing.
	JobsStarted prometheus.Counter

	// JobsSucceeded counts review jobs that produced a review document.
	JobsSucceeded prometheus.Counter

	// JobsFailed counts review jobs that ended in failure, labeled by fatal kind.
	JobsFailed *prometheus.CounterVec

	// JobsCancelled counts review jobs cancelled cooperatively.
	JobsCancelled prometheus.Counter

	// JobDuration observes the end-to-end duration of jobs in seconds, labeled by terminal status.
	JobDuration *prometheus.HistogramVec

	// JobsRunning tracks the number of jobs currently executing on this process.
	JobsRunning prometheus.Gauge

	// StageDuration observes the duration of each pipeline stage in seconds.
	StageDuration *prometheus.HistogramVec

	// ItemsProcessed counts per-item outcomes, labeled by stage and outcome.
	ItemsProcessed *prometheus.CounterVec

	// ItemFailures counts per-item failures, labeled by stage and failure kind.
	ItemFailures *prometheus.CounterVec

	// Retries counts retry attempts, labeled by operation.
	Retries *prometheus.CounterVec

	// CandidatesDiscovered observes the number of usable candidates per job.
	CandidatesDiscovered prometheus.Histogram

	// SourceBytes observes the size of acquired sources in bytes.
	SourceBytes prometheus.Histogram

	// ExternalRequests counts calls to external services, labeled by service and operation.
	ExternalRequests *prometheus.CounterVec

	// ExternalRequestsFailed counts failed calls to external services, labeled by service, operation and error type.
	ExternalRequestsFailed *prometheus.CounterVec

	// ExternalRequestDuration observes external call duration in seconds.
	ExternalRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens consumed by completion calls, labeled by operation, model and token type.
	LLMTokensUsed *prometheus.CounterVec

	// HTTPRequests counts API requests, labeled by route and status code.
	HTTPRequests *prometheus.CounterVec

	// EventsPublished counts lifecycle events, labeled by event type and result.
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Jobs
		JobsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of review jobs submitted",
		}),
		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of review jobs started",
		}),
		JobsSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_succeeded_total",
			Help:      "Total number of review jobs that succeeded",
		}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of review jobs that failed",
		}, []string{"kind"}),
		JobsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Total number of review jobs cancelled",
		}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of review jobs in seconds",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"status"}),
		JobsRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Number of review jobs currently executing",
		}),

		// Stages and items
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage"}),
		ItemsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Total number of per-paper items that reached a terminal state",
		}, []string{"stage", "outcome"}),
		ItemFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_failures_total",
			Help:      "Total number of per-paper item failures",
		}, []string{"stage", "kind"}),
		Retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of retry attempts",
		}, []string{"operation"}),
		CandidatesDiscovered: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_discovered",
			Help:      "Number of usable candidates discovered per job",
			Buckets:   []float64{0, 1, 5, 10, 20, 30, 50, 100},
		}),
		SourceBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_bytes",
			Help:      "Size of acquired full-text sources in bytes",
			Buckets:   prometheus.ExponentialBuckets(32*1024, 2, 12),
		}),

		// External calls
		ExternalRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_requests_total",
			Help:      "Total number of requests to external services",
		}, []string{"service", "operation"}),
		ExternalRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_requests_failed_total",
			Help:      "Total number of failed requests to external services",
		}, []string{"service", "operation", "error_type"}),
		ExternalRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_request_duration_seconds",
			Help:      "Duration of requests to external services in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total number of tokens used by completion calls",
		}, []string{"operation", "model", "type"}),

		// Host
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests",
		}, []string{"route", "code"}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of lifecycle events published",
		}, []string{"event_type", "result"}),
	}
}

// RecordJobSubmitted increments the submitted jobs counter.
func (m *Metrics) RecordJobSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
}

// RecordJobStarted increments the started counter and the running gauge.
func (m *Metrics) RecordJobStarted() {
	if m == nil {
		return
	}
	m.JobsStarted.Inc()
	m.JobsRunning.Inc()
}

// RecordJobSucceeded records a successful job and its duration.
func (m *Metrics) RecordJobSucceeded(durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsSucceeded.Inc()
	m.JobDuration.WithLabelValues("succeeded").Observe(durationSeconds)
	m.JobsRunning.Dec()
}

// RecordJobFailed records a failed job, its fatal kind and duration.
func (m *Metrics) RecordJobFailed(kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsFailed.WithLabelValues(kind).Inc()
	m.JobDuration.WithLabelValues("failed").Observe(durationSeconds)
	m.JobsRunning.Dec()
}

// RecordJobCancelled records a cancelled job and its duration.
func (m *Metrics) RecordJobCancelled(durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsCancelled.Inc()
	m.JobDuration.WithLabelValues("cancelled").Observe(durationSeconds)
	m.JobsRunning.Dec()
}

// RecordStageDuration observes how long a stage took.
func (m *Metrics) RecordStageDuration(stage string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordItem records the terminal outcome of one item. failureKind is empty on success.
func (m *Metrics) RecordItem(stage, outcome, failureKind string) {
	if m == nil {
		return
	}
	m.ItemsProcessed.WithLabelValues(stage, outcome).Inc()
	if failureKind != "" {
		m.ItemFailures.WithLabelValues(stage, failureKind).Inc()
	}
}

// RecordRetry increments the retry counter for an operation.
func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(operation).Inc()
}

// RecordCandidates observes the number of usable candidates for a job.
func (m *Metrics) RecordCandidates(count int) {
	if m == nil {
		return
	}
	m.CandidatesDiscovered.Observe(float64(count))
}

// RecordSourceBytes observes the size of an acquired source.
func (m *Metrics) RecordSourceBytes(size int64) {
	if m == nil {
		return
	}
	m.SourceBytes.Observe(float64(size))
}

// RecordExternalRequest records a successful external call and its duration.
func (m *Metrics) RecordExternalRequest(service, operation string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ExternalRequests.WithLabelValues(service, operation).Inc()
	m.ExternalRequestDuration.WithLabelValues(service, operation).Observe(durationSeconds)
}

// RecordExternalRequestFailed records a failed external call.
func (m *Metrics) RecordExternalRequestFailed(service, operation, errorType string) {
	if m == nil {
		return
	}
	m.ExternalRequests.WithLabelValues(service, operation).Inc()
	m.ExternalRequestsFailed.WithLabelValues(service, operation, errorType).Inc()
}

// RecordLLMTokens records input and output token usage.
func (m *Metrics) RecordLLMTokens(operation, model string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(operation, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(operation, model, "output").Add(float64(outputTokens))
	}
}

// RecordHTTPRequest counts an API request.
func (m *Metrics) RecordHTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}

// RecordEventPublished counts a lifecycle event publish attempt.
func (m *Metrics) RecordEventPublished(eventType string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(eventType, result).Inc()
}
