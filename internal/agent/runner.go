package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/creack/pty"

	"github.com/cantina-dev/cantina/internal/cost"
	"github.com/cantina-dev/cantina/internal/logging"
)

// LocalRunner executes agent assignments as local claude subprocesses.
//
// The process runs under a pty so the CLI behaves as it does in a terminal
// and streams output incrementally. The transcript is teed to a file in the
// checkout for token-usage accounting, then removed.
type LocalRunner struct {
	command string
	log     *logging.Logger
}

// NewLocalRunner creates a runner invoking the given command ("claude" in
// production, a stub binary in tests).
func NewLocalRunner(command string, log *logging.Logger) *LocalRunner {
	if command == "" {
		command = "claude"
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &LocalRunner{command: command, log: log}
}

// transcriptName is the per-checkout transcript file. It lives inside the
// isolated checkout, so concurrent workers never collide.
const transcriptName = ".cantina-transcript.jsonl"

// Run executes one worker to completion. Context cancellation kills the
// process; the partial result is still returned so cost accounting can use
// whatever the worker got through.
func (r *LocalRunner) Run(ctx context.Context, req Request) (*Result, error) {
	args := []string{
		"--dangerously-skip-permissions",
		"--print",
		"--verbose",
		"--output-format", "stream-json",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, req.Prompt)

	cmd := exec.Command(r.command, args...)
	cmd.Dir = req.Dir

	transcriptPath := filepath.Join(req.Dir, transcriptName)
	transcript, err := os.Create(transcriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}
	defer func() {
		transcript.Close()
		os.Remove(transcriptPath)
	}()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}
	defer ptmx.Close()

	// Kill the process if the run is cancelled mid-flight.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		case <-done:
		}
	}()

	tail := NewTailBuffer(64 * 1024)
	sinks := []io.Writer{tail, transcript}
	if req.Output != nil {
		sinks = append(sinks, req.Output)
	}
	// Reading the pty after the child exits yields EIO on Linux; that is
	// the normal end-of-stream, not a failure.
	if _, err := io.Copy(io.MultiWriter(sinks...), ptmx); err != nil && !isPtyEOF(err) {
		r.log.Warn("worker output stream ended abnormally", "error", err)
	}

	waitErr := cmd.Wait()

	usage, usageErr := cost.ParseUsageFile(transcriptPath)
	if usageErr != nil {
		r.log.Warn("failed to parse worker usage", "error", usageErr)
	}

	result := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Output:   tail.String(),
		Usage:    usage,
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if waitErr != nil {
		return result, fmt.Errorf("worker exited with code %d: %w", result.ExitCode, waitErr)
	}
	return result, nil
}

func isPtyEOF(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	// EIO from the pty master after child exit.
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}
