// Package planner runs planning and verification jobs as asynchronous agent
// invocations. Callers submit a job, receive an id, and poll it at a fixed
// interval; the job's trailing output streams into the snapshot so the
// status surface can show progress.
package planner

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cantina-dev/cantina/internal/agent"
	"github.com/cantina-dev/cantina/internal/config"
	"github.com/cantina-dev/cantina/internal/cost"
	"github.com/cantina-dev/cantina/internal/errors"
	"github.com/cantina-dev/cantina/internal/logging"
	"github.com/cantina-dev/cantina/internal/plan"
)

// JobStatus is the polling state of an asynchronous job.
type JobStatus string

const (
	// JobRunning means the agent is still working.
	JobRunning JobStatus = "running"
	// JobComplete means the job finished and its result parsed.
	JobComplete JobStatus = "complete"
	// JobFailed means the agent failed or its output was unusable.
	JobFailed JobStatus = "failed"
)

// IsTerminal reports whether the job will never change status again.
func (s JobStatus) IsTerminal() bool {
	return s == JobComplete || s == JobFailed
}

type jobKind int

const (
	kindPlan jobKind = iota
	kindVerify
)

// job is one in-flight or finished planning/verification invocation.
type job struct {
	mu sync.Mutex

	id     string
	kind   jobKind
	status JobStatus
	tail   *agent.TailBuffer
	cancel context.CancelFunc

	plan         *plan.ExecutionPlan
	verification *plan.VerificationResult
	usage        *cost.TokenUsage
	errMsg       string
}

// Snapshot is a poll result: an immutable view of a job's current state.
type Snapshot struct {
	JobID      string
	Status     JobStatus
	OutputTail string
	Error      string

	// Plan is set when a planning job completes.
	Plan *plan.ExecutionPlan

	// Verification is set when a verification job completes.
	Verification *plan.VerificationResult

	// Usage is the job's token consumption, set on completion or failure.
	Usage *cost.TokenUsage
}

// Client submits and tracks planning and verification jobs.
type Client struct {
	runner  agent.Runner
	workDir string
	model   string
	timeout time.Duration
	log     *logging.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a client running jobs in workDir (the repository root).
func New(runner agent.Runner, workDir string, cfg config.PlannerConfig, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Client{
		runner:  runner,
		workDir: workDir,
		model:   cfg.Model,
		timeout: cfg.Timeout(),
		log:     log,
		jobs:    make(map[string]*job),
	}
}

// Plan submits a planning job over the source tasks and returns its id.
func (c *Client) Plan(tasks []plan.TaskRef, title, modelHint string) (string, error) {
	if len(tasks) == 0 {
		return "", errors.NewPlanError("", errors.New("no tasks to plan"))
	}
	prompt := buildPlanningPrompt(tasks, title)
	return c.submit(kindPlan, prompt, modelHint, len(tasks)), nil
}

// Replan submits a revision job carrying the rejected plan and the
// operator's feedback. Feedback is required: an empty revision request
// would just reproduce the rejected plan.
func (c *Client) Replan(tasks []plan.TaskRef, previous *plan.ExecutionPlan, feedback, title, modelHint string) (string, error) {
	if strings.TrimSpace(feedback) == "" {
		return "", errors.ErrEmptyFeedback
	}
	prompt := buildReplanPrompt(tasks, previous, feedback, title)
	return c.submit(kindPlan, prompt, modelHint, len(tasks)), nil
}

// Verify submits a verification job over the plan's success criteria and
// the factual per-agent outcomes.
func (c *Client) Verify(criteria []string, outcomes []AgentOutcome, modelHint string) (string, error) {
	if len(criteria) == 0 {
		return "", errors.New("no success criteria to verify")
	}
	prompt := buildVerifyPrompt(criteria, outcomes)
	return c.submit(kindVerify, prompt, modelHint, 0), nil
}

// Poll returns the current snapshot of a job.
func (c *Client) Poll(jobID string) (*Snapshot, error) {
	c.mu.Lock()
	j, ok := c.jobs[jobID]
	c.mu.Unlock()
	if !ok {
		return nil, errors.NewPlanError(jobID, errors.ErrPlanJobNotFound)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return &Snapshot{
		JobID:        j.id,
		Status:       j.status,
		OutputTail:   j.tail.String(),
		Error:        j.errMsg,
		Plan:         j.plan,
		Verification: j.verification,
		Usage:        j.usage,
	}, nil
}

// Cancel stops a running job. The job lands in failed with a cancellation
// message; a job already terminal is left untouched.
func (c *Client) Cancel(jobID string) {
	c.mu.Lock()
	j, ok := c.jobs[jobID]
	c.mu.Unlock()
	if !ok {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() {
		return
	}
	j.cancel()
	j.status = JobFailed
	j.errMsg = "cancelled by user"
}

// Release forgets a terminal job.
func (c *Client) Release(jobID string) {
	c.mu.Lock()
	delete(c.jobs, jobID)
	c.mu.Unlock()
}

func (c *Client) submit(kind jobKind, prompt, modelHint string, taskCount int) string {
	model := modelHint
	if model == "" {
		model = c.model
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	j := &job{
		id:     uuid.NewString(),
		kind:   kind,
		status: JobRunning,
		tail:   agent.NewTailBuffer(16 * 1024),
		cancel: cancel,
	}

	c.mu.Lock()
	c.jobs[j.id] = j
	c.mu.Unlock()

	go c.execute(ctx, j, prompt, model, taskCount)
	return j.id
}

func (c *Client) execute(ctx context.Context, j *job, prompt, model string, taskCount int) {
	defer j.cancel()

	log := c.log.With("job", j.id)
	log.Info("job started", "kind", j.kind)

	result, runErr := c.runner.Run(ctx, agent.Request{
		Prompt: prompt,
		Dir:    c.workDir,
		Model:  model,
		Output: j.tail,
	})

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.IsTerminal() {
		// Cancelled while the agent was still running; the late result is
		// discarded.
		return
	}
	if result != nil {
		j.usage = result.Usage
	}
	if runErr != nil {
		j.status = JobFailed
		j.errMsg = runErr.Error()
		log.Error("job failed", "error", runErr)
		return
	}

	switch j.kind {
	case kindPlan:
		p, err := plan.ParseFromOutput(result.Output)
		if err == nil {
			err = plan.Validate(p, taskCount)
		}
		if err != nil {
			j.status = JobFailed
			j.errMsg = err.Error()
			log.Error("plan rejected", "error", err)
			return
		}
		j.plan = p
	case kindVerify:
		vr, err := plan.ParseVerificationFromOutput(result.Output)
		if err != nil {
			j.status = JobFailed
			j.errMsg = err.Error()
			log.Error("verification output rejected", "error", err)
			return
		}
		j.verification = vr
	}

	j.status = JobComplete
	log.Info("job complete")
}
