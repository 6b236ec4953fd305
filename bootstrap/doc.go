// Package bootstrap runs a postr binary's lifecycle: it applies defaults
// to and validates the typed configuration, sets up the logger, runs start
// hooks, runs the task until it returns or a signal cancels it, then runs
// stop hooks within a graceful timeout.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.OnStop(func(ctx context.Context) error { return src.Close() })
//	err = app.RunTask(ctx, func(ctx context.Context) error {
//	    return pump.Run(ctx)
//	})
package bootstrap
