package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rvrun/rvrun/internal/types"
)

// waitDelay bounds how long Wait keeps draining pipes after the process is killed
const waitDelay = 2 * time.Second

// Command describes one external process invocation
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// LaunchError reports that the executable could not be started
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that the process outlived its timeout and was killed
type TimeoutError struct {
	Path    string
	Timeout time.Duration
	Result  *types.ProcessResult
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %s", e.Path, e.Timeout)
}

// Run starts the command, waits for it to exit and returns its exit code and
// complete output. A non-zero exit code is not an error.
func Run(ctx context.Context, c Command) (*types.ProcessResult, error) {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: c.Path, Err: err}
	}

	waitErr := cmd.Wait()

	result := &types.ProcessResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		WallTime: time.Since(start),
	}

	// The caller's own cancellation takes precedence over our timeout
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Path: c.Path, Timeout: c.Timeout, Result: result}
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("failed waiting for %s: %w", c.Path, waitErr)
	}

	return result, nil
}
