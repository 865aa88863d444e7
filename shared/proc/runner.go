package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a command when the Runner has no timeout configured
const DefaultTimeout = 10 * time.Second

// ErrTimeout is returned when a command does not finish within the runner's timeout
var ErrTimeout = errors.New("command timed out")

// Runner executes external commands with a bounded wait
type Runner struct {
	Timeout time.Duration
}

// Result is the outcome of a finished command. Output holds stdout and
// stderr combined.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// Success reports whether the command exited with status 0
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Run executes name with args in dir and waits for it. A non-zero exit status
// is reported through Result.ExitCode, not as an error. The error is non-nil
// only when the command could not be started or did not finish in time, in
// which case ExitCode is -1.
func (r *Runner) Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := Result{ExitCode: -1}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	started := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(started)
	result.Output = strings.TrimSpace(out.String())

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%s %s: %w after %s", name, strings.Join(args, " "), ErrTimeout, timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("failed to run %s: %w", name, err)
	}

	return result, nil
}
