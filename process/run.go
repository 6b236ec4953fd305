package process

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/postersafari/postr-engine/errors"
)

const defaultGracePeriod = 5 * time.Second

// Run executes a subprocess and waits for it to complete.
// If the context is canceled, SIGTERM is sent to the process group first,
// then SIGKILL after GracePeriod. A context deadline yields a TIMEOUT
// error, a cancellation an ABORTED one and a nonzero exit an
// EXTERNAL_SERVICE_ERROR carrying the tail of stderr.
func Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, errors.InvalidInput("binary", "is required")
	}

	gracePeriod := cmd.GracePeriod
	if gracePeriod == 0 {
		gracePeriod = defaultGracePeriod
	}

	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...) //nolint:gosec // plugins are configured by the operator
	c.Dir = cmd.Dir
	c.Env = mergeEnv(cmd.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
	}
	c.WaitDelay = gracePeriod

	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: c.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	switch {
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return result, errors.Timeout("plugin " + cmd.Binary).WithCause(ctx.Err())
	case ctx.Err() != nil:
		return result, errors.Aborted("plugin " + cmd.Binary).WithCause(ctx.Err())
	case result.ExitCode < 0:
		return result, errors.ExternalServiceError(cmd.Binary, err)
	default:
		return result, errors.ExternalServiceError(cmd.Binary,
			fmt.Errorf("exit code %d: %s: %w", result.ExitCode, result.StderrTail(), err))
	}
}

func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil // inherit parent env
	}
	return append(os.Environ(), extra...)
}
