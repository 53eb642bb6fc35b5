package orchestrator

import (
	"context"
	"time"

	"github.com/cantina-dev/cantina/internal/cost"
	"github.com/cantina-dev/cantina/internal/orchestrator/executor"
	"github.com/cantina-dev/cantina/internal/plan"
	"github.com/cantina-dev/cantina/internal/worktree"
)

// run is the orchestrator's private record of the active run. Mutated only
// under the orchestrator lock; external observers see Status copies.
type run struct {
	id    string
	title string
	tasks []plan.TaskRef
	items []string

	phase      Phase
	plan       *plan.ExecutionPlan
	baseBranch string

	planJobID   string
	verifyJobID string
	jobTail     string

	execPhaseID   int
	execPhaseName string

	mergeResults    []plan.MergeResult
	verification    *plan.VerificationResult
	finalizeMessage string

	checkouts map[int]*worktree.Checkout
	costs     *cost.Accumulator

	errMsg     string
	startedAt  time.Time
	finishedAt time.Time

	cancel context.CancelFunc
}

// Status is the poll read model: everything a client needs to render the
// run without touching orchestrator internals.
type Status struct {
	RunID string `json:"run_id"`
	Phase Phase  `json:"phase"`
	Title string `json:"title"`

	// PlanSummary and PlanWarnings surface the approved (or under-review)
	// plan's headline without shipping the whole plan on every poll.
	PlanSummary  string   `json:"plan_summary,omitempty"`
	PlanWarnings []string `json:"plan_warnings,omitempty"`

	// Plan is the full plan, populated while it awaits review.
	Plan *plan.ExecutionPlan `json:"plan,omitempty"`

	// CurrentPhaseID and CurrentPhaseName identify the executing plan phase.
	CurrentPhaseID   int    `json:"current_phase_id"`
	CurrentPhaseName string `json:"current_phase_name,omitempty"`

	// JobOutputTail streams the planner/verifier output while one runs.
	JobOutputTail string `json:"job_output_tail,omitempty"`

	// Agents holds one entry per admitted agent slot, in admission order.
	Agents []executor.Slot `json:"agents"`

	MergeResults    []plan.MergeResult       `json:"merge_results,omitempty"`
	Verification    *plan.VerificationResult `json:"verification,omitempty"`
	FinalizeMessage string                   `json:"finalize_message,omitempty"`

	// TotalCost is the monotonic run-wide spend estimate in USD.
	TotalCost float64 `json:"total_cost"`

	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}
