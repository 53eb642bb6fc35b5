package orchestrator

import (
	"github.com/cantina-dev/cantina/internal/plan"
	"github.com/cantina-dev/cantina/internal/planner"
	"github.com/cantina-dev/cantina/internal/runstate"
	"github.com/cantina-dev/cantina/internal/tracker"
	"github.com/cantina-dev/cantina/internal/worktree"
)

// GitService is the orchestrator's view of the repository: the integration
// guard, per-agent checkouts, and branch merging.
type GitService interface {
	CurrentBranch() (string, error)
	CheckClean() error
	CommitAll(message string) error
	CreateCheckout(runID string, agentID int) (*worktree.Checkout, error)
	CommitCheckout(c *worktree.Checkout, message string) (bool, error)
	HasNewCommits(c *worktree.Checkout, baseBranch string) (bool, error)
	Merge(branch, message string) error
	ReleaseAll(checkouts []*worktree.Checkout) error
	CleanupRun(runID string) error
}

// PlanService submits and polls asynchronous planning and verification jobs.
type PlanService interface {
	Plan(tasks []plan.TaskRef, title, modelHint string) (string, error)
	Replan(tasks []plan.TaskRef, previous *plan.ExecutionPlan, feedback, title, modelHint string) (string, error)
	Verify(criteria []string, outcomes []planner.AgentOutcome, modelHint string) (string, error)
	Poll(jobID string) (*planner.Snapshot, error)
	Cancel(jobID string)
	Release(jobID string)
}

// ItemTracker marks a run's originating work items complete.
type ItemTracker interface {
	MarkComplete(ids []string, runID string) error
}

// StateStore persists the resumption hint on every phase transition.
type StateStore interface {
	Save(state runstate.State) error
	Clear() error
}

var (
	_ GitService  = (*worktree.Manager)(nil)
	_ PlanService = (*planner.Client)(nil)
	_ ItemTracker = (*tracker.Store)(nil)
	_ StateStore  = (*runstate.Store)(nil)
)
