package stages

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/pipeline"
	"github.com/postersafari/postr-engine/process"
)

// Plugin runs an external executable as a stage. The item is written to
// the plugin's stdin as JSON and the processed item is read from stdout.
// Plugin metadata replaces the item's metadata; plugin attachments are
// added to the item's, so a plugin need not echo images it did not touch.
// A nonzero exit code becomes the activation status.
type Plugin struct {
	cfg    config.PluginConfig
	runner *process.Runner
}

// NewPlugin creates the shared runner for a plugin. Every stage instance
// made by Factory uses it, so cfg.MaxConcurrent bounds subprocesses across
// parallel branches and runs.
func NewPlugin(cfg config.PluginConfig, log *logger.Logger) *Plugin {
	return &Plugin{
		cfg: cfg,
		runner: process.NewRunner(process.RunnerConfig{
			Name:          cfg.Name,
			Timeout:       cfg.Timeout,
			MaxConcurrent: cfg.MaxConcurrent,
			MaxFailures:   cfg.MaxFailures,
			ResetTimeout:  cfg.ResetTimeout,
		}, log),
	}
}

// Name returns the plugin name.
func (p *Plugin) Name() string { return p.cfg.Name }

// Factory returns a pipeline.Factory for stage instances of this plugin.
func (p *Plugin) Factory() pipeline.Factory {
	return func(sc *pipeline.Scheduler) (pipeline.Stage, error) {
		return pipeline.NewAsyncStage(sc, p.cfg.Name, p.work), nil
	}
}

func (p *Plugin) work(ctx context.Context, a *pipeline.Activation) int {
	item := a.Item()
	in, err := json.Marshal(item)
	if err != nil {
		a.Logger().Error("encoding item failed", logger.ErrorFields("encode", err))
		return pipeline.StatusFailed
	}

	res, err := p.runner.Run(ctx, process.PluginCommand(p.cfg, in))
	if err != nil {
		return p.failure(a, res, err)
	}
	a.SetProgress(90)

	if len(bytes.TrimSpace(res.Stdout)) == 0 {
		return pipeline.StatusOK
	}
	out, err := document.FromJSON(res.Stdout)
	if err != nil {
		a.Logger().Error("plugin wrote invalid output", logger.ErrorFields("decode", err))
		return pipeline.StatusFailed
	}
	merged := document.New()
	merged.Meta = out.Meta
	for name, att := range item.Attachments {
		merged.SetAttachment(name, att)
	}
	for name, att := range out.Attachments {
		merged.SetAttachment(name, att)
	}
	a.SetItem(merged)
	return pipeline.StatusOK
}

// failure maps a runner error to an activation status.
func (p *Plugin) failure(a *pipeline.Activation, res *process.Result, err error) int {
	fields := logger.ErrorFields("run", err)
	fields[logger.FieldItemID] = a.Item().ID()
	switch {
	case errors.CodeOf(err) == errors.ErrCodeAborted:
		return pipeline.StatusCanceled
	case res != nil && res.ExitCode > 0:
		fields["exit_code"] = res.ExitCode
		a.Logger().Warn("plugin exited with error", fields)
		return res.ExitCode
	default:
		a.Logger().Error("plugin failed", fields)
		return pipeline.StatusFailed
	}
}
