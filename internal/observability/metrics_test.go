package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_review_pipeline_new")

	assert.NotNil(t, m.JobsSubmitted)
	assert.NotNil(t, m.JobsStarted)
	assert.NotNil(t, m.JobsSucceeded)
	assert.NotNil(t, m.JobsFailed)
	assert.NotNil(t, m.JobsCancelled)
	assert.NotNil(t, m.JobDuration)
	assert.NotNil(t, m.StageDuration)
	assert.NotNil(t, m.ItemsProcessed)
	assert.NotNil(t, m.ItemFailures)
	assert.NotNil(t, m.Retries)
	assert.NotNil(t, m.ExternalRequests)
	assert.NotNil(t, m.LLMTokensUsed)
	assert.NotNil(t, m.HTTPRequests)
	assert.NotNil(t, m.EventsPublished)
}

func TestRecordJobLifecycle(t *testing.T) {
	m := NewMetrics("test_job_lifecycle")

	m.RecordJobSubmitted()
	m.RecordJobStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsSubmitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsRunning))

	m.RecordJobSucceeded(42)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsSucceeded))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.JobsRunning))

	count, err := getHistogramSampleCount(m.JobDuration.WithLabelValues("succeeded").(prometheus.Histogram))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRecordJobFailed(t *testing.T) {
	m := NewMetrics("test_job_failed")

	m.RecordJobStarted()
	m.RecordJobFailed("no_extractable_text", 3)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsFailed.WithLabelValues("no_extractable_text")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.JobsRunning))
}

func TestRecordJobCancelled(t *testing.T) {
	m := NewMetrics("test_job_cancelled")

	m.RecordJobStarted()
	m.RecordJobCancelled(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsCancelled))
}

func TestRecordItem(t *testing.T) {
	m := NewMetrics("test_record_item")

	m.RecordItem("acquiring", "succeeded", "")
	m.RecordItem("acquiring", "failed", "transient")
	m.RecordItem("acquiring", "failed", "permanent")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ItemsProcessed.WithLabelValues("acquiring", "succeeded")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ItemsProcessed.WithLabelValues("acquiring", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ItemFailures.WithLabelValues("acquiring", "transient")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ItemFailures))
}

func TestRecordRetryAndExternal(t *testing.T) {
	m := NewMetrics("test_retry_external")

	m.RecordRetry("summarize")
	m.RecordRetry("summarize")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Retries.WithLabelValues("summarize")))

	m.RecordExternalRequest("openalex", "search", 0.2)
	m.RecordExternalRequestFailed("openalex", "search", "server_error")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ExternalRequests.WithLabelValues("openalex", "search")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ExternalRequestsFailed.WithLabelValues("openalex", "search", "server_error")))
}

func TestRecordLLMTokens(t *testing.T) {
	m := NewMetrics("test_llm_tokens")

	m.RecordLLMTokens("summarize", "gpt-4o-mini", 1200, 380)
	m.RecordLLMTokens("summarize", "gpt-4o-mini", 0, 20)
	assert.Equal(t, float64(1200), testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("summarize", "gpt-4o-mini", "input")))
	assert.Equal(t, float64(400), testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("summarize", "gpt-4o-mini", "output")))
}

func TestRecordHostMetrics(t *testing.T) {
	m := NewMetrics("test_host_metrics")

	m.RecordHTTPRequest("/api/v1/reviews", "201")
	m.RecordEventPublished("review.started", true)
	m.RecordEventPublished("review.started", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/v1/reviews", "201")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsPublished.WithLabelValues("review.started", "error")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordJobSubmitted()
		m.RecordJobStarted()
		m.RecordJobSucceeded(1)
		m.RecordJobFailed("internal", 1)
		m.RecordJobCancelled(1)
		m.RecordStageDuration("searching", 1)
		m.RecordItem("acquiring", "failed", "permanent")
		m.RecordRetry("fetch")
		m.RecordCandidates(3)
		m.RecordSourceBytes(1024)
		m.RecordExternalRequest("openai", "summarize", 1)
		m.RecordExternalRequestFailed("openai", "summarize", "rate_limit")
		m.RecordLLMTokens("summarize", "m", 1, 1)
		m.RecordHTTPRequest("/", "200")
		m.RecordEventPublished("x", true)
	})
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
