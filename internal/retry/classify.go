package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// transienter is implemented by errors that know whether they are retryable,
// such as llm.APIError and domain.ExternalAPIError.
type transienter interface {
	IsTransient() bool
}

// permanentError marks an error as never retryable.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that IsTransient reports false for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// transientSubstrings are error message substrings that indicate a transient failure
// when the error is not already classified by a structured error type.
var transientSubstrings = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"broken pipe",
	"rate limit",
	"rate_limit",
	"server_error",
	"service unavailable",
	"temporary",
	"deadline exceeded",
	"unexpected eof",
}

// IsTransient reports whether err is worth retrying.
//
// Classification priority:
//  1. Nil errors and explicit Permanent wrappers are not transient
//  2. Context cancellation is not transient; deadline expiry is
//  3. Structured errors implementing IsTransient() decide for themselves
//  4. Item failures carry their own kind
//  5. Domain sentinel errors
//  6. Network timeouts
//  7. Error message substring matching
//  8. Default: not transient
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var t transienter
	if errors.As(err, &t) {
		return t.IsTransient()
	}

	var itemErr *domain.ItemFailure
	if errors.As(err, &itemErr) {
		return itemErr.Kind == domain.FailureTransient
	}

	if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrServiceUnavailable) {
		return true
	}
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrForbidden) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}

	return false
}

// FailureKindOf maps an error to the per-item failure kind recorded on item records.
func FailureKindOf(err error) domain.FailureKind {
	if IsTransient(err) {
		return domain.FailureTransient
	}
	return domain.FailurePermanent
}
