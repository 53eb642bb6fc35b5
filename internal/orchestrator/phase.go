package orchestrator

// Phase is the orchestrator's state machine position for the active run.
//
// The canonical ordering is idle → git_check → planning → plan_review →
// executing ⇄ merging → verifying → finalizing → complete, with replanning
// looping back to plan_review, failed reachable from planning and verifying,
// and cancelled reachable from any non-terminal phase.
type Phase string

const (
	// PhaseIdle means no run is active.
	PhaseIdle Phase = "idle"
	// PhaseGitCheck means the integration guard is inspecting the tree.
	PhaseGitCheck Phase = "git_check"
	// PhasePlanning means a planning job is in flight.
	PhasePlanning Phase = "planning"
	// PhaseReplanning means a revision planning job is in flight.
	PhaseReplanning Phase = "replanning"
	// PhasePlanReview means the plan awaits explicit human approval. No
	// execution starts from here without an approve signal.
	PhasePlanReview Phase = "plan_review"
	// PhaseExecuting means a phase's worker set is running.
	PhaseExecuting Phase = "executing"
	// PhaseMerging means a completed phase's branches are being merged.
	PhaseMerging Phase = "merging"
	// PhaseVerifying means a verification job is in flight.
	PhaseVerifying Phase = "verifying"
	// PhaseFinalizing means completion bookkeeping is running.
	PhaseFinalizing Phase = "finalizing"
	// PhaseComplete is the successful terminal phase.
	PhaseComplete Phase = "complete"
	// PhaseFailed is the terminal phase for run-fatal errors.
	PhaseFailed Phase = "failed"
	// PhaseCancelled is the terminal phase for an operator cancel.
	PhaseCancelled Phase = "cancelled"
)

// String returns the phase as a string.
func (p Phase) String() string {
	return string(p)
}

// IsTerminal reports whether the run is finished.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseComplete, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// AcceptsCancel reports whether a cancel signal is meaningful in this phase.
func (p Phase) AcceptsCancel() bool {
	return p != PhaseIdle && !p.IsTerminal()
}
