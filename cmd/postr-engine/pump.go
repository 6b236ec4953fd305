package main

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/pipeline"
	"github.com/postersafari/postr-engine/server"
	"github.com/postersafari/postr-engine/server/endpoint"
)

func newPumpCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pump",
		Short: "Process the backlog until interrupted",
		Long: `Claim documents from the configured source and run them through the
chain until SIGINT or SIGTERM. Runs in flight are aborted and their claims
released on shutdown. While the source is unavailable the pump waits and
retries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(flags)
			if err != nil {
				return err
			}
			eng, err := newEngine(cmd.Context(), app, nil)
			if err != nil {
				return err
			}
			return app.RunTask(cmd.Context(), eng.pump)
		},
	}
}

// retrier is implemented by sources that know when they recover.
type retrier interface {
	RetryAt() time.Time
}

func (e *engine) pump(ctx context.Context) error {
	stop := context.AfterFunc(ctx, e.sc.Abort)
	defer stop()

	p := pipeline.NewPump(e.sc, e.chain, e.src, pipeline.PumpConfigFrom(e.cfg.Engine))

	if e.cfg.Status.Enabled {
		srv := server.New(e.cfg.Status, e.log)
		srv.RegisterEngine(
			endpoint.Info{Service: e.cfg.Name, Version: e.cfg.Version, EngineID: e.cfg.Engine.ID},
			p, e.chain.Stages(),
			endpoint.SourceHealth(e.cfg.Source.Kind, e.src),
		)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(context.WithoutCancel(ctx)); err != nil {
				e.log.WithError(err).Warn("stopping status server failed")
			}
		}()
		e.log.Info("status server listening", logger.Fields("addr", srv.Addr()))
	}

	for {
		err := p.Run(ctx)
		switch {
		case stderrors.Is(err, pipeline.ErrAborted), ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		case !e.src.IsOpen():
			e.log.Info("source closed")
			return nil
		}

		wait := e.cfg.Engine.PollInterval
		if r, ok := e.src.(retrier); ok {
			wait = max(wait, time.Until(r.RetryAt()))
		}
		e.log.Warn("source unavailable, waiting", logger.Fields("retry_in", wait.String()))
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}
