package process

import (
	"context"
	"time"

	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/resilience"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Name identifies the plugin in logs and errors.
	Name string
	// Timeout bounds a single invocation. Zero means no timeout.
	Timeout time.Duration
	// GracePeriod is applied to commands that do not set one.
	GracePeriod time.Duration
	// MaxConcurrent bounds the number of live subprocesses. Defaults to 1.
	MaxConcurrent int
	// MaxWait bounds how long an invocation waits for a slot. Zero waits
	// until the context ends.
	MaxWait time.Duration
	// MaxFailures consecutive failed invocations open the breaker for
	// ResetTimeout. Zero disables the breaker.
	MaxFailures  int
	ResetTimeout time.Duration
}

// Runner executes commands of one plugin. Bulkhead and breaker state is
// shared by every caller, so several stage instances of the same plugin
// never start more than MaxConcurrent subprocesses together, and a plugin
// that keeps crashing is failed fast.
type Runner struct {
	config   RunnerConfig
	bulkhead *resilience.Bulkhead
	breaker  *resilience.CircuitBreaker
	log      *logger.Logger
}

// NewRunner creates a Runner. log may be nil.
func NewRunner(cfg RunnerConfig, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	r := &Runner{
		config: cfg,
		bulkhead: resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          cfg.Name,
			MaxConcurrent: cfg.MaxConcurrent,
			MaxWait:       cfg.MaxWait,
		}),
		log: log.WithComponent("plugin").WithFields(logger.Fields(logger.FieldStage, cfg.Name)),
	}
	if cfg.MaxFailures > 0 {
		r.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        cfg.Name,
			MaxFailures: cfg.MaxFailures,
			Timeout:     cfg.ResetTimeout,
			IsFailure:   countsAgainstPlugin,
			OnStateChange: func(name string, from, to resilience.State) {
				r.log.Warn("plugin breaker state changed", logger.Fields("from", from.String(), "to", to.String()))
			},
		})
	}
	return r
}

// Name returns the plugin name.
func (r *Runner) Name() string { return r.config.Name }

// InUse returns the number of running subprocesses.
func (r *Runner) InUse() int { return r.bulkhead.InUse() }

// Run executes cmd once it holds a bulkhead slot and the breaker allows it.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	release, err := r.bulkhead.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if cmd.GracePeriod == 0 {
		cmd.GracePeriod = r.config.GracePeriod
	}
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	if r.breaker == nil {
		return r.run(ctx, cmd)
	}
	var result *Result
	err = r.breaker.Execute(func() error {
		var runErr error
		result, runErr = r.run(ctx, cmd)
		return runErr
	})
	return result, err
}

func (r *Runner) run(ctx context.Context, cmd Command) (*Result, error) {
	result, err := Run(ctx, cmd)
	if err != nil {
		r.log.Debug("plugin failed", logger.ErrorFields("run", err))
		return result, err
	}
	r.log.Trace("plugin finished", logger.DurationFields("run", result.Duration))
	return result, nil
}

// countsAgainstPlugin excludes cancellations requested by the engine.
func countsAgainstPlugin(err error) bool {
	return err != nil && errors.CodeOf(err) != errors.ErrCodeAborted
}
