package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/postersafari/postr-engine/pipeline"
)

// PipelineObserver records scheduler and pump events as OpenTelemetry
// metrics and wraps every run in a span.
type PipelineObserver struct {
	tracer trace.Tracer
	spans  sync.Map // run id -> trace.Span

	runsStarted   metric.Int64Counter
	runsFinished  metric.Int64Counter
	runDuration   metric.Float64Histogram
	stageActive   metric.Int64UpDownCounter
	stageDuration metric.Float64Histogram
	decrements    metric.Int64Counter
	claimsLost    metric.Int64Counter
	inFlight      metric.Int64UpDownCounter
}

var _ pipeline.Observer = (*PipelineObserver)(nil)

// NewPipelineObserver creates the instruments on meter. A nil tracer
// disables spans.
func NewPipelineObserver(meter metric.Meter, tracer trace.Tracer) (*PipelineObserver, error) {
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	o := &PipelineObserver{tracer: tracer}

	var err error
	if o.runsStarted, err = meter.Int64Counter("postr.runs.started",
		metric.WithDescription("Runs attached to a chain"),
	); err != nil {
		return nil, fmt.Errorf("creating postr.runs.started counter: %w", err)
	}
	if o.runsFinished, err = meter.Int64Counter("postr.runs.finished",
		metric.WithDescription("Finished runs by outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating postr.runs.finished counter: %w", err)
	}
	if o.runDuration, err = meter.Float64Histogram("postr.run.duration",
		metric.WithDescription("Duration of runs in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating postr.run.duration histogram: %w", err)
	}
	if o.stageActive, err = meter.Int64UpDownCounter("postr.stage.active",
		metric.WithDescription("Activations currently running"),
	); err != nil {
		return nil, fmt.Errorf("creating postr.stage.active counter: %w", err)
	}
	if o.stageDuration, err = meter.Float64Histogram("postr.stage.duration",
		metric.WithDescription("Duration of stage activations in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating postr.stage.duration histogram: %w", err)
	}
	if o.decrements, err = meter.Int64Counter("postr.pending.decrements",
		metric.WithDescription("Completed activations counted against pending"),
	); err != nil {
		return nil, fmt.Errorf("creating postr.pending.decrements counter: %w", err)
	}
	if o.claimsLost, err = meter.Int64Counter("postr.claims.lost",
		metric.WithDescription("Claims lost to another engine"),
	); err != nil {
		return nil, fmt.Errorf("creating postr.claims.lost counter: %w", err)
	}
	if o.inFlight, err = meter.Int64UpDownCounter("postr.pump.in_flight",
		metric.WithDescription("Runs the pump currently has in flight"),
	); err != nil {
		return nil, fmt.Errorf("creating postr.pump.in_flight counter: %w", err)
	}
	return o, nil
}

func (o *PipelineObserver) RunStarted(run *pipeline.Run) {
	ctx := context.Background()
	o.runsStarted.Add(ctx, 1)
	_, span := o.tracer.Start(ctx, SpanRun, trace.WithAttributes(
		attribute.String(AttrRunID, run.ID()),
		attribute.String(AttrItemID, run.Item().ID()),
	))
	o.spans.Store(run.ID(), span)
}

func (o *PipelineObserver) RunFinished(run *pipeline.Run, ok bool) {
	ctx := context.Background()
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	o.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, outcome)))
	o.runDuration.Record(ctx, run.Duration().Seconds(), metric.WithAttributes(attribute.String(AttrOutcome, outcome)))

	v, found := o.spans.LoadAndDelete(run.ID())
	if !found {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attribute.Int(AttrStatus, run.Status()), attribute.String(AttrOutcome, outcome))
	if err := run.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (o *PipelineObserver) StageStarted(stage string) {
	o.stageActive.Add(context.Background(), 1, metric.WithAttributes(attribute.String(AttrStage, stage)))
}

func (o *PipelineObserver) StageFinished(stage string, status int, d time.Duration) {
	ctx := context.Background()
	o.stageActive.Add(ctx, -1, metric.WithAttributes(attribute.String(AttrStage, stage)))
	o.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(AttrStage, stage),
		attribute.Int(AttrStatus, status),
	))
}

func (o *PipelineObserver) Decremented(string, int64) {
	o.decrements.Add(context.Background(), 1)
}

func (o *PipelineObserver) ClaimLost() {
	o.claimsLost.Add(context.Background(), 1)
}

func (o *PipelineObserver) InFlight(delta int) {
	o.inFlight.Add(context.Background(), int64(delta))
}
