package plan

import (
	"fmt"

	"github.com/cantina-dev/cantina/internal/errors"
)

// Validate checks an ExecutionPlan for structural validity against its task
// list. A plan must have at least one phase, every phase at least one agent,
// agent ids must be unique across the whole plan, and every task index must
// reference an existing task.
func Validate(p *ExecutionPlan, taskCount int) error {
	if p == nil {
		return fmt.Errorf("%w: plan is nil", errors.ErrPlanInvalid)
	}
	if len(p.Phases) == 0 {
		return fmt.Errorf("%w: plan has no phases", errors.ErrPlanInvalid)
	}

	seenAgents := make(map[int]int) // agent id -> phase id
	for _, phase := range p.Phases {
		if len(phase.Agents) == 0 {
			return fmt.Errorf("%w: phase %d (%s) has no agents",
				errors.ErrPlanInvalid, phase.PhaseID, phase.Name)
		}
		for _, agent := range phase.Agents {
			if prev, dup := seenAgents[agent.AgentID]; dup {
				return fmt.Errorf("%w: agent id %d appears in phases %d and %d",
					errors.ErrPlanInvalid, agent.AgentID, prev, phase.PhaseID)
			}
			seenAgents[agent.AgentID] = phase.PhaseID

			if len(agent.TaskIndices) == 0 {
				return fmt.Errorf("%w: agent %d has no tasks",
					errors.ErrPlanInvalid, agent.AgentID)
			}
			for _, idx := range agent.TaskIndices {
				if idx < 0 || idx >= taskCount {
					return fmt.Errorf("%w: agent %d references task index %d (have %d tasks)",
						errors.ErrPlanInvalid, agent.AgentID, idx, taskCount)
				}
			}
		}
	}

	return nil
}
