package orchestrator

import (
	"context"
	"fmt"

	"github.com/cantina-dev/cantina/internal/agent"
	"github.com/cantina-dev/cantina/internal/cost"
	"github.com/cantina-dev/cantina/internal/orchestrator/executor"
	"github.com/cantina-dev/cantina/internal/plan"
)

// workFunc builds the executor callback that runs one assignment: create
// the isolated checkout, run the worker inside it, commit whatever it
// produced. Cost is recorded even for failed workers — partial output was
// still paid for.
func (o *Orchestrator) workFunc(epoch int, runID string, phase plan.Phase) executor.WorkFunc {
	assignments := make(map[int]plan.AgentAssignment, len(phase.Agents))
	for _, a := range phase.Agents {
		assignments[a.AgentID] = a
	}

	return func(ctx context.Context, slot executor.Slot, update func(func(*executor.Slot))) error {
		a, ok := assignments[slot.AgentID]
		if !ok {
			return fmt.Errorf("no assignment for agent %d", slot.AgentID)
		}

		checkout, err := o.git.CreateCheckout(runID, a.AgentID)
		if err != nil {
			return err
		}
		o.mu.Lock()
		if o.epoch == epoch && o.run != nil {
			o.run.checkouts[a.AgentID] = checkout
		}
		o.mu.Unlock()
		update(func(s *executor.Slot) { s.Branch = checkout.Branch })

		// A configured completion timeout bounds the worker, not the run:
		// expiry fails this slot like any other worker error.
		runCtx := ctx
		if d := o.cfg.Agent.CompletionTimeout(); d > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		tail := agent.NewTailBuffer(o.cfg.Agent.OutputBufferBytes)
		result, runErr := o.runner.Run(runCtx, agent.Request{
			Prompt: a.AgentPrompt,
			Dir:    checkout.Path,
			Model:  o.cfg.Cost.DefaultModel,
			Output: &slotWriter{tail: tail, update: update},
		})

		if result != nil {
			update(func(s *executor.Slot) { s.Tail = result.Output })
			if result.Usage != nil {
				est := cost.Estimate(*result.Usage)
				o.recordAgentCost(epoch, a.AgentID, est)
				update(func(s *executor.Slot) { s.Cost = est })
			}
		}
		if runErr != nil {
			return runErr
		}

		if _, err := o.git.CommitCheckout(checkout, fmt.Sprintf("agent %d: %s", a.AgentID, a.Theme)); err != nil {
			return err
		}
		return nil
	}
}

func (o *Orchestrator) recordAgentCost(epoch, agentID int, usd float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch == epoch && o.run != nil {
		o.run.costs.RecordAgent(agentID, usd)
	}
}

// slotWriter streams worker output into the slot's tail as it arrives, so
// pollers see live progress instead of only the final buffer.
type slotWriter struct {
	tail   *agent.TailBuffer
	update func(func(*executor.Slot))
}

func (w *slotWriter) Write(p []byte) (int, error) {
	n, err := w.tail.Write(p)
	text := w.tail.String()
	w.update(func(s *executor.Slot) { s.Tail = text })
	return n, err
}
