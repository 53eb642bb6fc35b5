package planner

import (
	"fmt"
	"strings"

	"github.com/cantina-dev/cantina/internal/plan"
)

// planningPromptTemplate guides the planning agent to group the source tasks
// into themed agent assignments organized as ordered phases.
const planningPromptTemplate = `You are a senior software architect planning parallel execution of a batch of tasks.

## Batch
%s

## Tasks
%s

## Instructions

1. **Explore** the repository to understand its structure and conventions
2. **Group** the tasks into themed agent assignments; tasks that touch the
   same files belong to the same agent
3. **Order** the assignments into phases; assignments in a parallel phase
   must be safe to run simultaneously
4. **Respond** with a single JSON object wrapped in a ` + "```json" + ` fence

## Plan JSON Schema

- "summary": Brief description of your strategy (string)
- "phases": Array of phase objects, each with:
  - "phase_id": Sequence index starting at 0 (number)
  - "name": Short phase name (string)
  - "description": Why this phase exists (string)
  - "parallel": Whether agents in this phase may run simultaneously (boolean)
  - "agents": Array of assignment objects, each with:
    - "agent_id": Unique number across the whole plan (number)
    - "theme": Thematic label for the batch (string)
    - "task_indices": 0-based indices into the task list above (array of numbers)
    - "rationale": Why these tasks belong together (string)
    - "agent_prompt": Complete implementation prompt for an independent agent (string)
- "success_criteria": Verifiable assertions about the finished work (array of strings)
- "estimated_total_agents": Total assignment count (number)
- "warnings": Dependency or conflict risks worth surfacing (array of strings)

## Guidelines

- Agents never share files: assign clear file ownership per agent
- Put dependent work in a later phase, not in the same parallel phase
- Each agent_prompt must be complete enough for fully independent execution
- Use integer ids only`

// replanPromptTemplate extends the planning prompt with the rejected plan
// and the operator's feedback.
const replanPromptTemplate = planningPromptTemplate + `

## Previous Plan (rejected)
%s

## Operator Feedback
%s

Revise the plan to address the feedback. Respond with the full plan JSON, not a diff.`

// verifyPromptTemplate asks the verification agent to check each success
// criterion against the merged result and the factual per-agent outcomes.
const verifyPromptTemplate = `You are verifying completed work against its success criteria.

## Success Criteria
%s

## Agent Outcomes
%s

## Instructions

Inspect the repository in its current (merged) state and judge each
criterion on the evidence you find. Respond with a single JSON object
wrapped in a ` + "```json" + ` fence:

- "overall_pass": true only if every criterion passed (boolean)
- "criteria_results": One object per criterion, in order:
  - "criterion": The criterion text verbatim (string)
  - "passed": (boolean)
  - "evidence": What you found (string)
  - "notes": Caveats, if any (string)
- "summary": Overall assessment (string)`

// AgentOutcome is the factual record of one assignment handed to the
// verifier: what ran, how it ended, and whether its branch was merged.
type AgentOutcome struct {
	AgentID int
	PhaseID int
	Theme   string
	Status  string
	Merged  bool
	Detail  string
}

func buildPlanningPrompt(tasks []plan.TaskRef, title string) string {
	return fmt.Sprintf(planningPromptTemplate, title, formatTaskList(tasks))
}

func buildReplanPrompt(tasks []plan.TaskRef, previous *plan.ExecutionPlan, feedback, title string) string {
	return fmt.Sprintf(replanPromptTemplate,
		title, formatTaskList(tasks), formatPreviousPlan(previous), feedback)
}

func buildVerifyPrompt(criteria []string, outcomes []AgentOutcome) string {
	var crit strings.Builder
	for i, c := range criteria {
		fmt.Fprintf(&crit, "%d. %s\n", i+1, c)
	}

	var outs strings.Builder
	for _, o := range outcomes {
		merged := "not merged"
		if o.Merged {
			merged = "merged"
		}
		fmt.Fprintf(&outs, "- agent %d (phase %d, %s): %s, %s", o.AgentID, o.PhaseID, o.Theme, o.Status, merged)
		if o.Detail != "" {
			fmt.Fprintf(&outs, " — %s", o.Detail)
		}
		outs.WriteString("\n")
	}

	return fmt.Sprintf(verifyPromptTemplate, crit.String(), outs.String())
}

func formatTaskList(tasks []plan.TaskRef) string {
	var b strings.Builder
	for i, task := range tasks {
		fmt.Fprintf(&b, "%d. %s\n", i, task.Text)
	}
	return b.String()
}

func formatPreviousPlan(p *plan.ExecutionPlan) string {
	if p == nil {
		return "(none)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Summary: %s\n", p.Summary)
	for _, phase := range p.Phases {
		fmt.Fprintf(&b, "Phase %d (%s, parallel=%v):\n", phase.PhaseID, phase.Name, phase.Parallel)
		for _, a := range phase.Agents {
			fmt.Fprintf(&b, "  agent %d [%s]: tasks %v\n", a.AgentID, a.Theme, a.TaskIndices)
		}
	}
	return b.String()
}
