// Package observability wires OpenTelemetry into the engine: OTLP/HTTP
// trace and metric providers, a pipeline.Observer that records run and
// stage metrics and one span per run, and the health model served by the
// status endpoint.
//
//	tp, err := observability.InitTracer(ctx, cfg)
//	defer tp.Shutdown(ctx)
//	mp, err := observability.InitMeter(ctx, cfg)
//	defer mp.Shutdown(ctx)
//
//	obs, err := observability.NewPipelineObserver(mp.Meter("postr"), tp.Tracer("postr"))
//	sc := pipeline.NewScheduler(pipeline.WithObserver(obs))
package observability
