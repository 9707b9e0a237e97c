package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
)

// Error kinds. A *TemporalError matches its kind with errors.Is.
var (
	ErrWorkflowNotFound       = errors.New("workflow not found")
	ErrWorkflowAlreadyStarted = errors.New("workflow already started")
	ErrQueryFailed            = errors.New("query failed")
	ErrClientClosed           = errors.New("client closed")
	ErrConnectionFailed       = errors.New("connection failed")
	ErrNamespaceNotFound      = errors.New("namespace not found")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrDeadlineExceeded       = errors.New("deadline exceeded")
)

// TemporalError is a failed client call. Err is the SDK error, if any.
type TemporalError struct {
	Op         string
	Kind       error
	WorkflowID string
	RunID      string
	Err        error
}

func (e *TemporalError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	switch {
	case e.WorkflowID != "" && e.RunID != "":
		msg += fmt.Sprintf(" (workflow %s run %s)", e.WorkflowID, e.RunID)
	case e.WorkflowID != "":
		msg += fmt.Sprintf(" (workflow %s)", e.WorkflowID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TemporalError) Unwrap() error { return e.Err }

func (e *TemporalError) Is(target error) bool { return e.Kind == target }

// kindOf classifies an SDK or gRPC error. Anything unrecognised is treated
// as a connection problem.
func kindOf(err error) error {
	var (
		notFound   *serviceerror.NotFound
		started    *serviceerror.WorkflowExecutionAlreadyStarted
		nsNotFound *serviceerror.NamespaceNotFound
		invalid    *serviceerror.InvalidArgument
		deadline   *serviceerror.DeadlineExceeded
		query      *serviceerror.QueryFailed
	)
	switch {
	case errors.As(err, &notFound):
		return ErrWorkflowNotFound
	case errors.As(err, &started):
		return ErrWorkflowAlreadyStarted
	case errors.As(err, &nsNotFound):
		return ErrNamespaceNotFound
	case errors.As(err, &invalid):
		return ErrInvalidArgument
	case errors.As(err, &deadline), errors.Is(err, context.DeadlineExceeded):
		return ErrDeadlineExceeded
	case errors.As(err, &query):
		return ErrQueryFailed
	case errors.Is(err, context.Canceled):
		return ErrClientClosed
	}
	return ErrConnectionFailed
}

func wrapTemporalError(op string, err error, workflowID, runID string) error {
	if err == nil {
		return nil
	}
	return &TemporalError{Op: op, Kind: kindOf(err), WorkflowID: workflowID, RunID: runID, Err: err}
}

// IsWorkflowNotFound reports whether err is, or wraps, ErrWorkflowNotFound.
func IsWorkflowNotFound(err error) bool { return errors.Is(err, ErrWorkflowNotFound) }

// IsWorkflowAlreadyStarted reports whether err is, or wraps, ErrWorkflowAlreadyStarted.
func IsWorkflowAlreadyStarted(err error) bool { return errors.Is(err, ErrWorkflowAlreadyStarted) }
