package domain

import (
	"errors"
	"fmt"
)

// FatalKind names a condition that ends a whole review job.
type FatalKind string

const (
	FatalDiscoveryUnavailable FatalKind = "discovery_unavailable"
	FatalNoUsableCandidates   FatalKind = "no_usable_candidates"
	FatalNoExtractableText    FatalKind = "no_extractable_text"
	FatalNoSummaries          FatalKind = "no_summaries"
	FatalSynthesisFailure     FatalKind = "synthesis_failure"
	FatalInternal             FatalKind = "internal"
)

// FatalError moves a job to failed. Stage is where the pipeline stopped.
type FatalError struct {
	Kind  FatalKind
	Stage Stage
	Cause error
}

func NewFatalError(kind FatalKind, stage Stage, cause error) *FatalError {
	return &FatalError{Kind: kind, Stage: stage, Cause: cause}
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("%s during %s", e.Kind, e.Stage)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FatalError) Unwrap() error { return e.Cause }

// JobError is the failure cause stored on a ReviewJob.
type JobError struct {
	Kind    FatalKind `json:"kind"`
	Stage   Stage     `json:"stage,omitempty"`
	Message string    `json:"message"`
}

// JobErrorFrom converts a pipeline error for persistence. Anything that is
// not a *FatalError is recorded as FatalInternal.
func JobErrorFrom(err error) *JobError {
	if err == nil {
		return nil
	}
	if fe := (*FatalError)(nil); errors.As(err, &fe) {
		return &JobError{Kind: fe.Kind, Stage: fe.Stage, Message: fe.Error()}
	}
	return &JobError{Kind: FatalInternal, Message: err.Error()}
}

// FailureKind tells a retryable item failure from a final one.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// ItemFailure is why one paper left the pipeline. It stays inside the stage
// that produced it.
type ItemFailure struct {
	Stage  Stage       `json:"stage"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

func NewItemFailure(stage Stage, kind FailureKind, reason string) *ItemFailure {
	return &ItemFailure{Stage: stage, Kind: kind, Reason: reason}
}

func (f *ItemFailure) Error() string {
	return fmt.Sprintf("%s %s failure: %s", f.Stage, f.Kind, f.Reason)
}
