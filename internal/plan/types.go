// Package plan defines the execution plan data model shared by the planner,
// the orchestrator, and the verification client.
//
// An ExecutionPlan is the artifact produced by the planning service and
// consumed by execution. It is immutable once approved: a replan produces a
// new plan object, never a mutation of the old one.
package plan

import "fmt"

// TaskRef is one source work item handed to planning and execution.
//
// Text is the human-readable task description; Prompt optionally carries a
// richer instruction for the executing agent. When Prompt is empty, Text is
// used as the prompt.
type TaskRef struct {
	// Text is the task as entered by the user.
	Text string `json:"text"`

	// Prompt is an optional detailed instruction for the agent.
	Prompt string `json:"prompt,omitempty"`
}

// EffectivePrompt returns the prompt to hand to an agent for this task.
func (t TaskRef) EffectivePrompt() string {
	if t.Prompt != "" {
		return t.Prompt
	}
	return t.Text
}

// AgentAssignment is a themed batch of tasks assigned to a single agent.
//
// Each assignment is executed by one isolated worker against its own
// checkout. Task indices reference the run's source work-item list.
type AgentAssignment struct {
	// AgentID uniquely identifies this agent within the plan.
	AgentID int `json:"agent_id"`

	// Theme is the thematic label for this batch ("backend core", "tests", ...).
	Theme string `json:"theme"`

	// TaskIndices are 0-based references into the run's source task list.
	TaskIndices []int `json:"task_indices"`

	// Rationale explains why these tasks belong together.
	Rationale string `json:"rationale"`

	// AgentPrompt is the detailed implementation prompt for the agent.
	AgentPrompt string `json:"agent_prompt"`
}

// Phase is an ordered stage of an execution plan.
//
// If Parallel is false, agents execute strictly in list order; if true, they
// execute concurrently subject to the pool's concurrency bound.
type Phase struct {
	// PhaseID is the sequence index of this phase.
	PhaseID int `json:"phase_id"`

	// Name is a short human-readable phase name.
	Name string `json:"name"`

	// Description explains why this phase exists.
	Description string `json:"description"`

	// Parallel reports whether agents in this phase may run simultaneously.
	Parallel bool `json:"parallel"`

	// Agents are the assignments executed in this phase.
	Agents []AgentAssignment `json:"agents"`
}

// ExecutionPlan is the complete output of the planning service.
type ExecutionPlan struct {
	// Summary is a brief description of the planning strategy.
	Summary string `json:"summary"`

	// Phases are executed strictly in slice order.
	Phases []Phase `json:"phases"`

	// SuccessCriteria are natural-language assertions checked post-merge.
	// A plan with no criteria skips verification entirely.
	SuccessCriteria []string `json:"success_criteria"`

	// EstimatedTotalAgents is the planner's estimate of total agent count.
	EstimatedTotalAgents int `json:"estimated_total_agents"`

	// Warnings are non-fatal planner observations (dependency risks etc).
	Warnings []string `json:"warnings"`

	// RawOutput preserves the full planning agent output for display.
	RawOutput string `json:"-"`
}

// TotalAgents returns the actual number of agent assignments across phases.
func (p *ExecutionPlan) TotalAgents() int {
	n := 0
	for _, phase := range p.Phases {
		n += len(phase.Agents)
	}
	return n
}

// PhaseCount returns the number of phases in the plan.
func (p *ExecutionPlan) PhaseCount() int {
	return len(p.Phases)
}

// HasCriteria reports whether the plan declares any success criteria.
func (p *ExecutionPlan) HasCriteria() bool {
	return len(p.SuccessCriteria) > 0
}

// CriterionResult is the outcome of checking a single success criterion.
type CriterionResult struct {
	// Criterion is the criterion text as declared in the plan.
	Criterion string `json:"criterion"`

	// Passed reports whether the criterion was satisfied.
	Passed bool `json:"passed"`

	// Evidence describes what the verifier found.
	Evidence string `json:"evidence"`

	// Notes carries any additional verifier context.
	Notes string `json:"notes"`
}

// VerificationResult is the outcome of verifying a merged run against the
// plan's success criteria. Produced once, after the final phase's merges.
type VerificationResult struct {
	// OverallPass reports whether every criterion passed.
	OverallPass bool `json:"overall_pass"`

	// CriteriaResults holds one entry per plan success criterion.
	CriteriaResults []CriterionResult `json:"criteria_results"`

	// Summary is the verifier's overall assessment.
	Summary string `json:"summary"`

	// RawOutput preserves the full verification agent output.
	RawOutput string `json:"-"`
}

// FailedCount returns the number of criteria that did not pass.
func (v *VerificationResult) FailedCount() int {
	n := 0
	for _, cr := range v.CriteriaResults {
		if !cr.Passed {
			n++
		}
	}
	return n
}

// MergeResult records the outcome of merging one agent branch back into the
// integration branch. One per assignment whose worker succeeded.
type MergeResult struct {
	// Branch is the source branch that was merged.
	Branch string `json:"branch"`

	// Success reports whether the merge completed cleanly.
	Success bool `json:"success"`

	// ConflictFiles lists conflicting files when the merge was aborted.
	ConflictFiles []string `json:"conflict_files,omitempty"`

	// Message is a human-readable description of the outcome.
	Message string `json:"message"`
}

// String returns a one-line summary for logs.
func (m MergeResult) String() string {
	if m.Success {
		return fmt.Sprintf("merged %s", m.Branch)
	}
	return fmt.Sprintf("merge of %s failed: %s", m.Branch, m.Message)
}
