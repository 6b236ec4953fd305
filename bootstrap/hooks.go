package bootstrap

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Hook is a lifecycle callback run at startup or shutdown.
type Hook func(ctx context.Context) error

// OnStart registers hooks that run before the task, in order.
func (a *App[C]) OnStart(hooks ...Hook) {
	a.onStart = append(a.onStart, hooks...)
}

// OnStop registers hooks that run after the task, in reverse order of
// registration, so resources opened first are closed last.
func (a *App[C]) OnStop(hooks ...Hook) {
	a.onStop = append(a.onStop, hooks...)
}

// runHooks executes hooks sequentially, returning the first error.
func runHooks(ctx context.Context, hooks []Hook) error {
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			return fmt.Errorf("hook %d failed: %w", i, err)
		}
	}
	return nil
}

// runStopHooks executes every hook in reverse order and collects errors.
func runStopHooks(ctx context.Context, hooks []Hook) error {
	var result *multierror.Error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop hook %d: %w", i, err))
		}
	}
	return result.ErrorOrNil()
}
