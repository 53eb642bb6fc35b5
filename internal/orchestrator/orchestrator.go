// Package orchestrator is the authoritative state machine for a run: it
// owns the guard, planning, approval, execution, merging, verification, and
// finalization of one batch of work items.
//
// Exactly one non-terminal run exists per project. All mutation happens
// through the orchestrator; clients observe via Status polling at a fixed
// interval. Async completions carry the epoch they were started under, so
// results from a cancelled or closed run are discarded instead of corrupting
// a newer one.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cantina-dev/cantina/internal/agent"
	"github.com/cantina-dev/cantina/internal/config"
	"github.com/cantina-dev/cantina/internal/cost"
	"github.com/cantina-dev/cantina/internal/errors"
	"github.com/cantina-dev/cantina/internal/logging"
	"github.com/cantina-dev/cantina/internal/orchestrator/executor"
	"github.com/cantina-dev/cantina/internal/plan"
	"github.com/cantina-dev/cantina/internal/planner"
	"github.com/cantina-dev/cantina/internal/runstate"
	"github.com/cantina-dev/cantina/internal/worktree"
)

// Orchestrator drives runs for a single project.
type Orchestrator struct {
	cfg    config.Config
	git    GitService
	plans  PlanService
	runner agent.Runner
	items  ItemTracker
	states StateStore
	log    *logging.Logger

	mu    sync.Mutex
	epoch int
	run   *run
	pool  *executor.Coordinator
}

// New creates an orchestrator over its collaborating services.
func New(cfg config.Config, git GitService, plans PlanService, runner agent.Runner, items ItemTracker, states StateStore, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Orchestrator{
		cfg:    cfg,
		git:    git,
		plans:  plans,
		runner: runner,
		items:  items,
		states: states,
		log:    log,
	}
}

// Start runs the integration guard and, on a clean tree, creates the run
// and submits the planning job. itemIDs are the tracked work items the
// finalizer will mark complete.
//
// A dirty tree triggers one commit attempt; a tree still dirty afterwards
// surfaces as an error with no run created — the guard never auto-retries.
func (o *Orchestrator) Start(title string, tasks []plan.TaskRef, itemIDs []string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run != nil && !o.run.phase.IsTerminal() {
		return "", fmt.Errorf("%w: run %s is %s", errors.ErrRunActive, o.run.id, o.run.phase)
	}
	if len(tasks) == 0 {
		return "", errors.New("no tasks to run")
	}

	runID := newRunID()
	log := o.log.WithRun(runID)

	o.epoch++
	o.run = &run{
		id:        runID,
		title:     title,
		tasks:     tasks,
		items:     itemIDs,
		checkouts: make(map[int]*worktree.Checkout),
		costs:     cost.NewAccumulator(),
		startedAt: time.Now(),
	}
	o.pool = executor.New(o.cfg.Execution.ClampedMaxParallel(), log)
	o.transitionLocked(PhaseGitCheck)

	if err := o.guard(); err != nil {
		return runID, o.settleStartFailure(err)
	}

	baseBranch, err := o.git.CurrentBranch()
	if err != nil {
		return runID, o.settleStartFailure(err)
	}
	o.run.baseBranch = baseBranch

	jobID, err := o.plans.Plan(tasks, title, o.cfg.Planner.Model)
	if err != nil {
		return runID, o.settleStartFailure(err)
	}
	o.run.planJobID = jobID
	o.transitionLocked(PhasePlanning)
	log.Info("run started", "title", title, "tasks", len(tasks))

	go o.pollPlanJob(o.epoch, jobID)
	return runID, nil
}

// settleStartFailure ends a run that never got past startup. The run stays
// terminal so its error remains visible in status until closed.
// Called with the lock held.
func (o *Orchestrator) settleStartFailure(err error) error {
	o.run.errMsg = err.Error()
	o.run.finishedAt = time.Now()
	o.transitionLocked(PhaseFailed)
	o.log.WithRun(o.run.id).Error("run failed during startup", "error", err)
	return err
}

// guard enforces a clean integration tree. Called with the lock held.
func (o *Orchestrator) guard() error {
	err := o.git.CheckClean()
	if err == nil {
		return nil
	}
	if !errors.Is(err, errors.ErrDirtyTree) {
		return err
	}

	o.log.Info("dirty tree, attempting checkpoint commit")
	if commitErr := o.git.CommitAll("checkpoint before run"); commitErr != nil {
		return commitErr
	}
	if err := o.git.CheckClean(); err != nil {
		var ge *errors.GuardError
		var files []string
		if errors.As(err, &ge) {
			files = ge.DirtyFiles
		}
		return errors.NewGuardError("recheck", files, errors.ErrStillDirty)
	}
	return nil
}

// Approve moves a reviewed plan into execution. Only valid in plan_review.
func (o *Orchestrator) Approve() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run == nil {
		return errors.ErrRunNotFound
	}
	if o.run.phase != PhasePlanReview {
		return fmt.Errorf("%w: run is %s", errors.ErrNotPlanReview, o.run.phase)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.run.cancel = cancel
	o.transitionLocked(PhaseExecuting)
	o.log.WithRun(o.run.id).Info("plan approved", "phases", o.run.plan.PhaseCount(), "agents", o.run.plan.TotalAgents())

	go o.execute(o.epoch, ctx)
	return nil
}

// Replan rejects the reviewed plan and submits a revision job carrying the
// operator's feedback. Feedback must be non-empty.
func (o *Orchestrator) Replan(feedback string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run == nil {
		return errors.ErrRunNotFound
	}
	if o.run.phase != PhasePlanReview {
		return fmt.Errorf("%w: run is %s", errors.ErrNotPlanReview, o.run.phase)
	}

	jobID, err := o.plans.Replan(o.run.tasks, o.run.plan, feedback, o.run.title, o.cfg.Planner.Model)
	if err != nil {
		return err
	}

	o.run.planJobID = jobID
	o.run.jobTail = ""
	o.transitionLocked(PhaseReplanning)
	o.log.WithRun(o.run.id).Info("replanning", "feedback_len", len(feedback))

	go o.pollPlanJob(o.epoch, jobID)
	return nil
}

// Cancel moves any non-terminal run to cancelled. Running workers are
// signalled; in-flight planning or verification jobs are cancelled; slots
// that never started settle as cancelled through the pool.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run == nil {
		return errors.ErrRunNotFound
	}
	if o.run.phase.IsTerminal() {
		return fmt.Errorf("%w: run is %s", errors.ErrRunTerminal, o.run.phase)
	}

	switch o.run.phase {
	case PhasePlanning, PhaseReplanning:
		o.plans.Cancel(o.run.planJobID)
	case PhaseVerifying:
		o.plans.Cancel(o.run.verifyJobID)
	}
	if o.run.cancel != nil {
		o.run.cancel()
	}

	o.run.finishedAt = time.Now()
	o.transitionLocked(PhaseCancelled)
	o.log.WithRun(o.run.id).Warn("run cancelled")
	return nil
}

// Close clears a terminal run so a new one can start.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run == nil {
		return errors.ErrRunNotFound
	}
	if !o.run.phase.IsTerminal() {
		return fmt.Errorf("cannot close: run is %s", o.run.phase)
	}

	o.log.WithRun(o.run.id).Info("run closed", "phase", o.run.phase)
	o.run = nil
	o.pool = nil
	return o.states.Clear()
}

// Status returns the current read model. Safe to call from any goroutine
// at any time.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run == nil {
		return Status{Phase: PhaseIdle}
	}

	st := Status{
		RunID:            o.run.id,
		Phase:            o.run.phase,
		Title:            o.run.title,
		CurrentPhaseID:   o.run.execPhaseID,
		CurrentPhaseName: o.run.execPhaseName,
		JobOutputTail:    o.run.jobTail,
		MergeResults:     append([]plan.MergeResult(nil), o.run.mergeResults...),
		Verification:     o.run.verification,
		FinalizeMessage:  o.run.finalizeMessage,
		TotalCost:        o.run.costs.Total(),
		Error:            o.run.errMsg,
		StartedAt:        o.run.startedAt,
		FinishedAt:       o.run.finishedAt,
	}
	if o.run.plan != nil {
		st.PlanSummary = o.run.plan.Summary
		st.PlanWarnings = o.run.plan.Warnings
		if o.run.phase == PhasePlanReview {
			st.Plan = o.run.plan
		}
	}
	if o.pool != nil {
		st.Agents = o.pool.Slots()
	}
	return st
}

// pollPlanJob polls a planning or replanning job until terminal, streaming
// its output tail into the status read model.
func (o *Orchestrator) pollPlanJob(epoch int, jobID string) {
	ticker := time.NewTicker(o.cfg.Execution.PollInterval())
	defer ticker.Stop()

	for range ticker.C {
		snap, err := o.plans.Poll(jobID)
		if err != nil {
			o.fail(epoch, fmt.Sprintf("planning job lost: %v", err))
			return
		}

		o.mu.Lock()
		if o.epoch != epoch || o.run == nil || o.run.phase.IsTerminal() {
			o.mu.Unlock()
			return
		}
		o.run.jobTail = snap.OutputTail
		if snap.Usage != nil {
			o.run.costs.RecordOverhead(cost.Estimate(*snap.Usage))
		}

		switch snap.Status {
		case planner.JobComplete:
			o.run.plan = snap.Plan
			o.transitionLocked(PhasePlanReview)
			o.log.WithRun(o.run.id).Info("plan ready",
				"phases", snap.Plan.PhaseCount(), "agents", snap.Plan.TotalAgents())
			o.mu.Unlock()
			o.plans.Release(jobID)
			return
		case planner.JobFailed:
			o.run.errMsg = snap.Error
			o.run.finishedAt = time.Now()
			o.transitionLocked(PhaseFailed)
			o.log.WithRun(o.run.id).Error("planning failed", "error", snap.Error)
			o.mu.Unlock()
			o.plans.Release(jobID)
			return
		}
		o.mu.Unlock()
	}
}

// execute drives the approved plan: phases in order, merges per phase
// boundary, then verification and finalization.
func (o *Orchestrator) execute(epoch int, ctx context.Context) {
	o.mu.Lock()
	if o.epoch != epoch || o.run == nil {
		o.mu.Unlock()
		return
	}
	p := o.run.plan
	tasks := o.run.tasks
	runID := o.run.id
	pool := o.pool
	o.mu.Unlock()

	log := o.log.WithRun(runID)

	for _, phase := range p.Phases {
		if ctx.Err() != nil {
			return
		}
		if !o.enterPlanPhase(epoch, phase) {
			return
		}
		log.WithPhase(phase.Name).Info("phase started", "agents", len(phase.Agents), "parallel", phase.Parallel)

		slots := pool.RunPhase(ctx, phase, tasks, o.workFunc(epoch, runID, phase))
		if ctx.Err() != nil {
			return
		}

		if !o.transitionIf(epoch, PhaseMerging) {
			return
		}
		o.mergePhase(ctx, epoch, phase, slots)
		if ctx.Err() != nil {
			return
		}
	}

	// An empty-criteria plan skips verification entirely.
	if len(p.SuccessCriteria) > 0 {
		if !o.verify(epoch, ctx, p.SuccessCriteria) {
			return
		}
	}

	o.finalize(epoch, runID)
}

// enterPlanPhase records the plan phase about to execute and transitions
// back to executing (a no-op for the first phase).
func (o *Orchestrator) enterPlanPhase(epoch int, phase plan.Phase) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epoch != epoch || o.run == nil || o.run.phase.IsTerminal() {
		return false
	}
	o.run.execPhaseID = phase.PhaseID
	o.run.execPhaseName = phase.Name
	if o.run.phase != PhaseExecuting {
		o.transitionLocked(PhaseExecuting)
	}
	return true
}

// mergePhase merges succeeded slots in assignment order. Failures are
// recorded per branch and never abort the run. A cancellation between merges
// stops the loop before the next merge starts.
func (o *Orchestrator) mergePhase(ctx context.Context, epoch int, phase plan.Phase, slots []executor.Slot) {
	byAgent := make(map[int]executor.Slot, len(slots))
	for _, s := range slots {
		byAgent[s.AgentID] = s
	}

	for _, a := range phase.Agents {
		s, ok := byAgent[a.AgentID]
		if !ok || s.Status != agent.StatusSucceeded {
			// No MergeResult for failed or cancelled workers; their absence
			// from the merge set is the record.
			continue
		}
		if ctx.Err() != nil || !o.runLive(epoch) {
			return
		}

		result := o.mergeAgent(a, s)

		o.mu.Lock()
		if o.epoch != epoch || o.run == nil || o.run.phase.IsTerminal() {
			o.mu.Unlock()
			return
		}
		o.run.mergeResults = append(o.run.mergeResults, result)
		o.mu.Unlock()

		o.log.WithAgent(a.AgentID).Info("merge finished", "result", result.String())
	}
}

// runLive reports whether the caller's run is still the active, non-terminal
// one.
func (o *Orchestrator) runLive(epoch int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch == epoch && o.run != nil && !o.run.phase.IsTerminal()
}

func (o *Orchestrator) mergeAgent(a plan.AgentAssignment, s executor.Slot) plan.MergeResult {
	o.mu.Lock()
	if o.run == nil {
		o.mu.Unlock()
		return plan.MergeResult{Branch: s.Branch, Success: false, Message: "run closed"}
	}
	checkout := o.run.checkouts[a.AgentID]
	baseBranch := o.run.baseBranch
	o.mu.Unlock()

	if checkout == nil {
		return plan.MergeResult{Branch: s.Branch, Success: false, Message: "checkout missing"}
	}

	has, err := o.git.HasNewCommits(checkout, baseBranch)
	if err != nil {
		return plan.MergeResult{Branch: checkout.Branch, Success: false, Message: err.Error()}
	}
	if !has {
		return plan.MergeResult{Branch: checkout.Branch, Success: true, Message: "no changes to merge"}
	}

	message := fmt.Sprintf("merge agent %d (%s)", a.AgentID, a.Theme)
	if err := o.git.Merge(checkout.Branch, message); err != nil {
		var me *errors.MergeError
		result := plan.MergeResult{Branch: checkout.Branch, Success: false, Message: err.Error()}
		if errors.As(err, &me) {
			result.ConflictFiles = me.ConflictFiles
		}
		return result
	}
	return plan.MergeResult{Branch: checkout.Branch, Success: true, Message: "merged"}
}

// verify runs the verification job and polls it to completion. Returns
// false when the run ended (failure or cancellation) instead of advancing.
func (o *Orchestrator) verify(epoch int, ctx context.Context, criteria []string) bool {
	if !o.transitionIf(epoch, PhaseVerifying) {
		return false
	}

	outcomes := o.agentOutcomes()
	jobID, err := o.plans.Verify(criteria, outcomes, o.cfg.Verifier.Model)
	if err != nil {
		o.fail(epoch, fmt.Sprintf("verification submit failed: %v", err))
		return false
	}

	o.mu.Lock()
	if o.epoch == epoch && o.run != nil {
		o.run.verifyJobID = jobID
		o.run.jobTail = ""
	}
	o.mu.Unlock()

	ticker := time.NewTicker(o.cfg.Execution.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.plans.Cancel(jobID)
			return false
		case <-ticker.C:
		}

		snap, err := o.plans.Poll(jobID)
		if err != nil {
			o.fail(epoch, fmt.Sprintf("verification job lost: %v", err))
			return false
		}

		o.mu.Lock()
		if o.epoch != epoch || o.run == nil || o.run.phase.IsTerminal() {
			o.mu.Unlock()
			return false
		}
		o.run.jobTail = snap.OutputTail
		if snap.Usage != nil {
			o.run.costs.RecordOverhead(cost.Estimate(*snap.Usage))
		}

		switch snap.Status {
		case planner.JobComplete:
			o.run.verification = snap.Verification
			o.mu.Unlock()
			o.plans.Release(jobID)
			return true
		case planner.JobFailed:
			o.run.errMsg = snap.Error
			o.run.finishedAt = time.Now()
			o.transitionLocked(PhaseFailed)
			o.mu.Unlock()
			o.plans.Release(jobID)
			return false
		}
		o.mu.Unlock()
	}
}

// agentOutcomes builds the factual per-agent record handed to the verifier.
func (o *Orchestrator) agentOutcomes() []planner.AgentOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	merged := make(map[string]bool)
	for _, mr := range o.run.mergeResults {
		if mr.Success {
			merged[mr.Branch] = true
		}
	}

	var outcomes []planner.AgentOutcome
	for _, s := range o.pool.Slots() {
		outcomes = append(outcomes, planner.AgentOutcome{
			AgentID: s.AgentID,
			PhaseID: s.PhaseID,
			Theme:   s.Theme,
			Status:  s.Status.String(),
			Merged:  merged[s.Branch],
			Detail:  s.Error,
		})
	}
	return outcomes
}

// finalize performs the completion steps, each best-effort: failures land
// in the finalize message, never abort the remaining steps.
func (o *Orchestrator) finalize(epoch int, runID string) {
	if !o.transitionIf(epoch, PhaseFinalizing) {
		return
	}

	var notes []string

	o.mu.Lock()
	items := o.run.items
	checkouts := make([]*worktree.Checkout, 0, len(o.run.checkouts))
	for _, c := range o.run.checkouts {
		checkouts = append(checkouts, c)
	}
	o.mu.Unlock()

	if len(items) > 0 {
		if err := o.items.MarkComplete(items, runID); err != nil {
			notes = append(notes, fmt.Sprintf("mark items complete: %v", err))
		} else {
			notes = append(notes, fmt.Sprintf("marked %d items complete", len(items)))
		}
	}

	if err := o.git.CommitAll(fmt.Sprintf("finalize run %s", runID)); err != nil {
		notes = append(notes, fmt.Sprintf("final commit: %v", err))
	} else {
		notes = append(notes, "final commit done")
	}

	if err := o.git.ReleaseAll(checkouts); err != nil {
		notes = append(notes, fmt.Sprintf("release checkouts: %v", err))
	} else if len(checkouts) > 0 {
		notes = append(notes, fmt.Sprintf("released %d checkouts", len(checkouts)))
	}
	if err := o.git.CleanupRun(runID); err != nil {
		notes = append(notes, fmt.Sprintf("cleanup: %v", err))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch || o.run == nil || o.run.phase.IsTerminal() {
		return
	}
	o.run.finalizeMessage = joinNotes(notes)
	o.run.finishedAt = time.Now()
	o.transitionLocked(PhaseComplete)
	o.log.WithRun(runID).Info("run complete", "cost", cost.FormatUSD(o.run.costs.Total()))
}

// fail moves the run to terminal failed, unless the epoch moved on.
func (o *Orchestrator) fail(epoch int, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epoch != epoch || o.run == nil || o.run.phase.IsTerminal() {
		return
	}
	o.run.errMsg = msg
	o.run.finishedAt = time.Now()
	o.transitionLocked(PhaseFailed)
	o.log.WithRun(o.run.id).Error("run failed", "error", msg)
}

// transitionIf applies a transition only if the run is still the one the
// caller started working for.
func (o *Orchestrator) transitionIf(epoch int, to Phase) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epoch != epoch || o.run == nil || o.run.phase.IsTerminal() {
		return false
	}
	o.transitionLocked(to)
	return true
}

// transitionLocked sets the phase and persists the resumption hint. Called
// with the lock held.
func (o *Orchestrator) transitionLocked(to Phase) {
	o.run.phase = to
	if err := o.states.Save(runstate.State{
		RunID: o.run.id,
		Phase: to.String(),
		Title: o.run.title,
	}); err != nil {
		o.log.Warn("failed to persist run state", "error", err)
	}
}

// newRunID returns a short opaque run token.
func newRunID() string {
	return uuid.NewString()[:8]
}

func joinNotes(notes []string) string {
	return strings.Join(notes, "; ")
}
