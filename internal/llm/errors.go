package llm

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError is a failed provider call. StatusCode is zero when no response
// arrived at all.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string // provider error type, or network_error
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " returned %d", e.StatusCode)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " [%s]", e.Type)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// IsTransient is true for throttling, timeouts, 5xx and lost connections.
func (e *APIError) IsTransient() bool {
	switch {
	case e.StatusCode == 0, e.StatusCode >= http.StatusInternalServerError:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	}
	return false
}

// OutputError is a completion that came back but cannot be used, for
// example a synthesis that does not match the review schema. Sampling again
// may fix it, so it always counts as transient.
type OutputError struct {
	Provider string
	Reason   string
	Cause    error
}

func (e *OutputError) Error() string {
	msg := e.Provider + " output rejected: " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *OutputError) Unwrap() error { return e.Cause }

func (e *OutputError) IsTransient() bool { return true }
