// Package agent defines the worker execution contract and the local runner
// that executes one agent assignment inside its isolated checkout.
package agent

import (
	"context"
	"io"

	"github.com/cantina-dev/cantina/internal/cost"
)

// Status is the lifecycle state of one agent slot.
type Status string

const (
	// StatusPending means the slot is queued and has not started.
	StatusPending Status = "pending"
	// StatusRunning means the worker process is executing.
	StatusRunning Status = "running"
	// StatusSucceeded means the worker finished successfully.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the worker exited with an error.
	StatusFailed Status = "failed"
	// StatusCancelled means the slot was stopped, or never started, due to a
	// run cancellation.
	StatusCancelled Status = "cancelled"
)

// String returns the status as a string.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the slot will never change status again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Request describes one worker invocation.
type Request struct {
	// Prompt is the full implementation prompt for the agent.
	Prompt string

	// Dir is the isolated checkout the worker operates in.
	Dir string

	// Model optionally overrides the default model.
	Model string

	// Output receives the worker's streamed output as it arrives. May be
	// nil when the caller only wants the final result.
	Output io.Writer
}

// Result is the outcome of one worker invocation.
type Result struct {
	// ExitCode is the worker process exit code.
	ExitCode int

	// Output is the trailing portion of the worker's output.
	Output string

	// Usage is the token usage parsed from the worker's transcript, nil
	// when the worker reported none.
	Usage *cost.TokenUsage
}

// Runner executes agent assignments. Implementations must honor context
// cancellation by terminating the worker process.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}
