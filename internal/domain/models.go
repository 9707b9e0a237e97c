// Package domain provides domain models and business logic for the Review Pipeline Service.
package domain

import "fmt"

// Stage is the position of a review job in the pipeline state machine.
// These values must match the database enum job_stage.
type Stage string

const (
	StagePending      Stage = "pending"
	StageSearching    Stage = "searching"
	StageAcquiring    Stage = "acquiring"
	StageExtracting   Stage = "extracting"
	StageSummarizing  Stage = "summarizing"
	StageSynthesizing Stage = "synthesizing"
	StageSucceeded    Stage = "succeeded"
	StageFailed       Stage = "failed"
	StageCancelled    Stage = "cancelled"
)

// WorkingStages lists the five working stages in the order a job visits them.
var WorkingStages = []Stage{
	StageSearching,
	StageAcquiring,
	StageExtracting,
	StageSummarizing,
	StageSynthesizing,
}

// stageTransitions is the complete transition table of the job state machine.
// Working stages advance strictly in order; failed and cancelled are reachable
// from every working stage, and pending may only be cancelled or started.
var stageTransitions = map[Stage][]Stage{
	StagePending:      {StageSearching, StageCancelled, StageFailed},
	StageSearching:    {StageAcquiring, StageFailed, StageCancelled},
	StageAcquiring:    {StageExtracting, StageFailed, StageCancelled},
	StageExtracting:   {StageSummarizing, StageFailed, StageCancelled},
	StageSummarizing:  {StageSynthesizing, StageFailed, StageCancelled},
	StageSynthesizing: {StageSucceeded, StageFailed, StageCancelled},
}

// CanTransition reports whether the state machine allows moving from one stage to another.
func CanTransition(from, to Stage) bool {
	for _, next := range stageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition wrapped with context when the move is forbidden.
func ValidateTransition(from, to Stage) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal returns true if the stage represents a final state that will not change.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageCancelled:
		return true
	default:
		return false
	}
}

// IsWorking returns true for the five stages that perform pipeline work.
func (s Stage) IsWorking() bool {
	switch s {
	case StageSearching, StageAcquiring, StageExtracting, StageSummarizing, StageSynthesizing:
		return true
	default:
		return false
	}
}

// IsItemized returns true for stages that fan work out over a worker pool.
func (s Stage) IsItemized() bool {
	switch s {
	case StageAcquiring, StageExtracting, StageSummarizing:
		return true
	default:
		return false
	}
}

// Order returns the position of s in the stage sequence: -1 for pending, the
// index into WorkingStages for working stages and len(WorkingStages) for
// terminal stages.
func (s Stage) Order() int {
	if s == StagePending {
		return -1
	}
	for i, w := range WorkingStages {
		if w == s {
			return i
		}
	}
	return len(WorkingStages)
}

// IsValidStage reports whether s is one of the known stages.
func IsValidStage(s Stage) bool {
	if s == StagePending || s.IsTerminal() {
		return true
	}
	return s.IsWorking()
}

// JobStatus is the coarse lifecycle status shown to clients.
// These values must match the database enum job_status.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidJobStatus reports whether s is one of the known statuses.
func IsValidJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// StatusForStage derives the coarse status from a stage.
func StatusForStage(s Stage) JobStatus {
	switch s {
	case StagePending:
		return JobStatusPending
	case StageSucceeded:
		return JobStatusSucceeded
	case StageFailed:
		return JobStatusFailed
	case StageCancelled:
		return JobStatusCancelled
	default:
		return JobStatusRunning
	}
}
