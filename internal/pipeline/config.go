package pipeline

import (
	"time"

	"github.com/helixir/review-pipeline-service/internal/retry"
)

// Config bounds the concurrency, time and retry budgets of one job run.
type Config struct {
	AcquireWorkers   int
	ExtractWorkers   int
	SummarizeWorkers int

	// AcquireTimeout bounds one fetch attempt.
	AcquireTimeout time.Duration
	// ExtractTimeout bounds the conversion of one source.
	ExtractTimeout time.Duration
	// SummarizeTimeout bounds one completion call for one segment.
	SummarizeTimeout time.Duration
	// SynthesizeTimeout bounds one synthesis call.
	SynthesizeTimeout time.Duration

	DiscoveryRetry  retry.Policy
	AcquireRetry    retry.Policy
	SummarizeRetry  retry.Policy
	SynthesizeRetry retry.Policy

	// SummarizeRate is the request ceiling per second shared by all
	// summarization workers of a job. Zero disables the limiter.
	SummarizeRate  float64
	SummarizeBurst int

	MaxSegmentChars int
	MaxSegments     int
	MinSummaryChars int

	// MaxCandidates caps how many discovered papers enter acquisition.
	MaxCandidates int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		AcquireWorkers:    8,
		ExtractWorkers:    4,
		SummarizeWorkers:  3,
		AcquireTimeout:    60 * time.Second,
		ExtractTimeout:    2 * time.Minute,
		SummarizeTimeout:  2 * time.Minute,
		SynthesizeTimeout: 5 * time.Minute,
		DiscoveryRetry:    retry.DefaultPolicy(),
		AcquireRetry:      retry.DefaultPolicy(),
		SummarizeRetry: retry.Policy{
			MaxAttempts:    4,
			InitialBackoff: 2 * time.Second,
			Multiplier:     2,
			MaxBackoff:     time.Minute,
			Jitter:         0.2,
		},
		SynthesizeRetry: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: 5 * time.Second,
			Multiplier:     2,
			MaxBackoff:     time.Minute,
			Jitter:         0.2,
		},
		SummarizeRate:   1,
		SummarizeBurst:  1,
		MaxSegmentChars: 7000,
		MaxSegments:     3,
		MinSummaryChars: 100,
		MaxCandidates:   30,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AcquireWorkers <= 0 {
		c.AcquireWorkers = d.AcquireWorkers
	}
	if c.ExtractWorkers <= 0 {
		c.ExtractWorkers = d.ExtractWorkers
	}
	if c.SummarizeWorkers <= 0 {
		c.SummarizeWorkers = d.SummarizeWorkers
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = d.ExtractTimeout
	}
	if c.SummarizeTimeout <= 0 {
		c.SummarizeTimeout = d.SummarizeTimeout
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = d.SynthesizeTimeout
	}
	if c.DiscoveryRetry.MaxAttempts <= 0 {
		c.DiscoveryRetry = d.DiscoveryRetry
	}
	if c.AcquireRetry.MaxAttempts <= 0 {
		c.AcquireRetry = d.AcquireRetry
	}
	if c.SummarizeRetry.MaxAttempts <= 0 {
		c.SummarizeRetry = d.SummarizeRetry
	}
	if c.SynthesizeRetry.MaxAttempts <= 0 {
		c.SynthesizeRetry = d.SynthesizeRetry
	}
	if c.SummarizeBurst <= 0 {
		c.SummarizeBurst = d.SummarizeBurst
	}
	if c.MaxSegmentChars <= 0 {
		c.MaxSegmentChars = d.MaxSegmentChars
	}
	if c.MaxSegments <= 0 {
		c.MaxSegments = d.MaxSegments
	}
	if c.MinSummaryChars < 0 {
		c.MinSummaryChars = 0
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	return c
}
