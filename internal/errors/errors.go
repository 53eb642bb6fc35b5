// Package errors provides centralized error definitions and error handling
// utilities for the Cantina codebase. It defines domain-specific errors,
// sentinel errors, error constructors with context wrapping, and
// classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures from specific subsystems:
//   - GuardError: the integration guard found (or re-found) a dirty tree
//   - PlanError: planning or re-planning job failures
//   - WorkerError: a single agent worker failed (isolated, never run-fatal)
//   - MergeError: a single branch merge failed (recorded, never run-fatal)
//
// # Classification
//
// IsRunFatal reports whether an error must terminate the whole run (planner
// and verifier job failures are; per-worker and per-merge failures are not).
// IsUserFacing reports whether the message is safe to surface verbatim.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Run lifecycle sentinel errors
var (
	// ErrRunActive indicates a non-terminal run already exists for the project.
	ErrRunActive = New("a run is already active for this project")
	// ErrRunNotFound indicates no run matches the given id.
	ErrRunNotFound = New("run not found")
	// ErrRunTerminal indicates the run has already reached a terminal phase.
	ErrRunTerminal = New("run is in a terminal phase")
	// ErrRunCancelled indicates the run was cancelled by the operator.
	ErrRunCancelled = New("run cancelled")
)

// Guard sentinel errors
var (
	// ErrDirtyTree indicates the working tree has uncommitted tracked changes.
	ErrDirtyTree = New("working tree has uncommitted changes")
	// ErrStillDirty indicates the tree was dirty again after a commit attempt,
	// which implies files are being written concurrently with the run.
	ErrStillDirty = New("working tree dirty after commit")
)

// Planning sentinel errors
var (
	// ErrPlanInvalid indicates a plan failed structural validation.
	ErrPlanInvalid = New("plan is invalid")
	// ErrPlanJobNotFound indicates no planning job matches the given id.
	ErrPlanJobNotFound = New("planning job not found")
	// ErrNotPlanReview indicates an operation that requires the plan_review
	// phase was attempted from a different phase.
	ErrNotPlanReview = New("run is not awaiting plan review")
	// ErrEmptyFeedback indicates a replan was requested without feedback text.
	ErrEmptyFeedback = New("replan feedback is empty")
)

// Execution sentinel errors
var (
	// ErrWorkerFailed indicates an agent worker terminated unsuccessfully.
	ErrWorkerFailed = New("agent worker failed")
	// ErrCheckoutNotFound indicates no isolated checkout exists for an agent.
	ErrCheckoutNotFound = New("isolated checkout not found")
	// ErrNotGitRepository indicates the project directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
)

// -----------------------------------------------------------------------------
// Domain Error Types
// -----------------------------------------------------------------------------

// GuardError represents an integration guard failure. It carries the dirty
// file list so callers can surface it without re-running the check.
type GuardError struct {
	Op         string   // operation being performed, e.g. "check", "commit"
	DirtyFiles []string // tracked files with uncommitted changes
	Err        error    // underlying error
}

// Error implements the error interface.
func (e *GuardError) Error() string {
	if len(e.DirtyFiles) > 0 {
		return fmt.Sprintf("guard %s: %v (%d dirty files)", e.Op, e.Err, len(e.DirtyFiles))
	}
	return fmt.Sprintf("guard %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *GuardError) Unwrap() error { return e.Err }

// NewGuardError creates a GuardError for the given operation.
func NewGuardError(op string, dirtyFiles []string, err error) *GuardError {
	return &GuardError{Op: op, DirtyFiles: dirtyFiles, Err: err}
}

// PlanError represents a planning or re-planning job failure. Plan job
// failures are run-fatal: the run transitions to failed with this message.
type PlanError struct {
	JobID string // planning job id
	Err   error
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("planning job %s: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("planning: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *PlanError) Unwrap() error { return e.Err }

// NewPlanError creates a PlanError for the given job.
func NewPlanError(jobID string, err error) *PlanError {
	return &PlanError{JobID: jobID, Err: err}
}

// WorkerError represents a single agent worker failure. Worker failures are
// isolated: they surface only as that agent's terminal status and never abort
// sibling workers or the phase.
type WorkerError struct {
	AgentID int
	PhaseID int
	Err     error
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	return fmt.Sprintf("agent %d (phase %d): %v", e.AgentID, e.PhaseID, e.Err)
}

// Unwrap returns the underlying error.
func (e *WorkerError) Unwrap() error { return e.Err }

// NewWorkerError creates a WorkerError for the given agent.
func NewWorkerError(agentID, phaseID int, err error) *WorkerError {
	return &WorkerError{AgentID: agentID, PhaseID: phaseID, Err: err}
}

// MergeError represents a single branch merge failure. Merge failures are
// recorded per-branch in the run's MergeResult list and never abort the run.
type MergeError struct {
	Branch        string
	ConflictFiles []string
	Err           error
}

// Error implements the error interface.
func (e *MergeError) Error() string {
	if len(e.ConflictFiles) > 0 {
		return fmt.Sprintf("merge %s: conflicts in %d file(s)", e.Branch, len(e.ConflictFiles))
	}
	return fmt.Sprintf("merge %s: %v", e.Branch, e.Err)
}

// Unwrap returns the underlying error.
func (e *MergeError) Unwrap() error { return e.Err }

// NewMergeError creates a MergeError for the given branch.
func NewMergeError(branch string, conflictFiles []string, err error) *MergeError {
	return &MergeError{Branch: branch, ConflictFiles: conflictFiles, Err: err}
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRunFatal reports whether an error must terminate the whole run.
// Planner and verifier job failures are run-fatal; per-worker and per-merge
// failures are absorbed and reported at finer granularity.
func IsRunFatal(err error) bool {
	if err == nil {
		return false
	}
	var workerErr *WorkerError
	if As(err, &workerErr) {
		return false
	}
	var mergeErr *MergeError
	if As(err, &mergeErr) {
		return false
	}
	return true
}

// IsUserFacing reports whether an error's message is intended for direct
// display to the operator.
func IsUserFacing(err error) bool {
	switch {
	case Is(err, ErrDirtyTree), Is(err, ErrStillDirty), Is(err, ErrRunActive),
		Is(err, ErrEmptyFeedback), Is(err, ErrNotPlanReview), Is(err, ErrRunCancelled):
		return true
	}
	var guardErr *GuardError
	if As(err, &guardErr) {
		return true
	}
	var planErr *PlanError
	return As(err, &planErr)
}
