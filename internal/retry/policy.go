// Package retry provides the single retry primitive shared by every stage of the
// review pipeline that talks to an external service, together with the error
// classifier that decides whether a failure is worth another attempt.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// Policy configures bounded retries with exponential backoff and jitter.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// Multiplier controls exponential growth of the backoff interval.
	Multiplier float64

	// MaxBackoff caps the backoff interval.
	MaxBackoff time.Duration

	// Jitter is the fraction (0-1) of each delay that is randomized.
	Jitter float64

	// OnRetry, when set, is called before sleeping for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Multiplier:     2.0,
		MaxBackoff:     30 * time.Second,
		Jitter:         0.2,
	}
}

// Backoff computes the un-jittered delay after the given failed attempt (1-indexed).
func (p Policy) Backoff(attempt int) time.Duration {
	backoff := p.InitialBackoff
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * mult)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// delay applies jitter and honors a server-provided retry-after hint.
func (p Policy) delay(attempt int, err error) time.Duration {
	d := p.Backoff(attempt)

	var rle *domain.RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > d {
		d = rle.RetryAfter
		if p.MaxBackoff > 0 && d > p.MaxBackoff {
			d = p.MaxBackoff
		}
	}

	if p.Jitter > 0 && d > 0 {
		j := p.Jitter
		if j > 1 {
			j = 1
		}
		spread := float64(d) * j
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	return d
}

// Predicate decides whether an error is worth another attempt.
type Predicate func(error) bool

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. It returns the number of attempts made and the last error.
// A nil predicate uses IsTransient.
//
// The wait between attempts is interrupted by ctx; an interrupted wait returns
// the last error from fn, not the context error.
func Do(ctx context.Context, p Policy, retryable Predicate, fn func(ctx context.Context, attempt int) error) (int, error) {
	if retryable == nil {
		retryable = IsTransient
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == maxAttempts || !retryable(lastErr) {
			return attempt, lastErr
		}

		d := p.delay(attempt, lastErr)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, d)
		}
		if err := wait(ctx, d); err != nil {
			return attempt, lastErr
		}
	}
	return maxAttempts, lastErr
}

// wait waits for the specified duration, respecting context cancellation.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
