// Package executor runs the agent pool for a single phase: bounded
// concurrency, FIFO admission, per-slot failure isolation, and cooperative
// cancellation.
//
// The coordinator owns all AgentSlot state. Workers mutate slots only
// through the coordinator, and observers get copies, never live pointers.
package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/cantina-dev/cantina/internal/agent"
	"github.com/cantina-dev/cantina/internal/config"
	"github.com/cantina-dev/cantina/internal/errors"
	"github.com/cantina-dev/cantina/internal/logging"
	"github.com/cantina-dev/cantina/internal/plan"
)

// Slot is the live state of one agent assignment within a run.
type Slot struct {
	// AgentID is the assignment's id from the plan.
	AgentID int

	// PhaseID is the phase the assignment belongs to.
	PhaseID int

	// Theme is the assignment's thematic label.
	Theme string

	// TaskIndices reference the run's source task list.
	TaskIndices []int

	// TaskText is the originating task text, joined for display.
	TaskText string

	// Status is the slot's lifecycle state.
	Status agent.Status

	// Tail is the worker's trailing output.
	Tail string

	// Error carries the failure message for a failed slot.
	Error string

	// Branch is the agent branch, set once the checkout exists.
	Branch string

	// Cost is the slot's current spend estimate in USD.
	Cost float64

	// StartedAt and FinishedAt bound the worker's execution.
	StartedAt  time.Time
	FinishedAt time.Time
}

// WorkFunc executes one assignment end to end: create the checkout, run the
// worker, commit its changes. It reports progress through the supplied
// update callback and returns the worker's terminal error, if any.
type WorkFunc func(ctx context.Context, slot Slot, update func(func(*Slot))) error

// Coordinator admits assignments into a bounded worker set.
type Coordinator struct {
	maxParallel int
	log         *logging.Logger

	mu    sync.Mutex
	slots []*Slot
}

// New creates a coordinator with the given concurrency bound. The bound is
// clamped to the supported range.
func New(maxParallel int, log *logging.Logger) *Coordinator {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Coordinator{
		maxParallel: config.ClampParallel(maxParallel),
		log:         log,
	}
}

// MaxParallel returns the effective concurrency bound.
func (c *Coordinator) MaxParallel() int {
	return c.maxParallel
}

// Slots returns a copy of every slot seen so far, across phases, in
// admission order.
func (c *Coordinator) Slots() []Slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Slot, len(c.slots))
	for i, s := range c.slots {
		out[i] = *s
	}
	return out
}

// RunningCount returns the number of slots currently running.
func (c *Coordinator) RunningCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, s := range c.slots {
		if s.Status == agent.StatusRunning {
			n++
		}
	}
	return n
}

// RunPhase executes one phase's assignments and blocks until every slot is
// terminal. For a sequential phase the worker set has size one; for a
// parallel phase it is bounded by maxParallel. Admission follows assignment
// order: a blocked submission waits for a pool seat, so equally-ready
// assignments start FIFO.
//
// A failed worker never aborts its siblings. Cancellation via ctx stops
// admissions: slots not yet started go straight to cancelled, running
// workers are signalled through their context.
func (c *Coordinator) RunPhase(ctx context.Context, phase plan.Phase, tasks []plan.TaskRef, work WorkFunc) []Slot {
	slots := make([]*Slot, len(phase.Agents))
	for i, a := range phase.Agents {
		slots[i] = &Slot{
			AgentID:     a.AgentID,
			PhaseID:     phase.PhaseID,
			Theme:       a.Theme,
			TaskIndices: a.TaskIndices,
			TaskText:    joinTasks(tasks, a.TaskIndices),
			Status:      agent.StatusPending,
		}
	}

	c.mu.Lock()
	c.slots = append(c.slots, slots...)
	c.mu.Unlock()

	limit := 1
	if phase.Parallel {
		limit = c.maxParallel
	}

	p := pool.New().WithMaxGoroutines(limit)
	for _, s := range slots {
		s := s
		if ctx.Err() != nil {
			// Admission stopped: everything still pending is cancelled
			// without ever starting.
			c.update(s, func(slot *Slot) { slot.Status = agent.StatusCancelled })
			continue
		}
		p.Go(func() {
			c.runSlot(ctx, s, work)
		})
	}
	p.Wait()

	return c.phaseSnapshot(slots)
}

func (c *Coordinator) runSlot(ctx context.Context, s *Slot, work WorkFunc) {
	if ctx.Err() != nil {
		c.update(s, func(slot *Slot) { slot.Status = agent.StatusCancelled })
		return
	}

	c.update(s, func(slot *Slot) {
		slot.Status = agent.StatusRunning
		slot.StartedAt = time.Now()
	})
	log := c.log.WithAgent(s.AgentID)
	log.Info("worker started", "phase", s.PhaseID, "theme", s.Theme)

	err := work(ctx, c.snapshot(s), func(fn func(*Slot)) { c.update(s, fn) })

	c.update(s, func(slot *Slot) {
		slot.FinishedAt = time.Now()
		switch {
		case err == nil:
			slot.Status = agent.StatusSucceeded
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			slot.Status = agent.StatusCancelled
		default:
			slot.Status = agent.StatusFailed
			slot.Error = errors.NewWorkerError(s.AgentID, s.PhaseID, err).Error()
		}
	})

	switch {
	case err == nil:
		log.Info("worker succeeded")
	case ctx.Err() != nil:
		log.Warn("worker cancelled")
	default:
		log.Error("worker failed", "error", err)
	}
}

// update applies a mutation to a slot under the coordinator lock.
func (c *Coordinator) update(s *Slot, fn func(*Slot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(s)
}

// snapshot returns a copy of a slot under the coordinator lock.
func (c *Coordinator) snapshot(s *Slot) Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *s
}

func (c *Coordinator) phaseSnapshot(slots []*Slot) []Slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Slot, len(slots))
	for i, s := range slots {
		out[i] = *s
	}
	return out
}

func joinTasks(tasks []plan.TaskRef, indices []int) string {
	var parts []string
	for _, idx := range indices {
		if idx >= 0 && idx < len(tasks) {
			parts = append(parts, tasks[idx].Text)
		}
	}
	return strings.Join(parts, "; ")
}
