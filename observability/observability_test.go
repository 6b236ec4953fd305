package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/pipeline"
)

func newTestObserver(t *testing.T) (*PipelineObserver, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	obs, err := NewPipelineObserver(mp.Meter("test"), tp.Tracer("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return obs, reader, rec
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func stage(sc *pipeline.Scheduler, name string, status int) pipeline.Stage {
	return pipeline.NewAsyncStage(sc, name, func(context.Context, *pipeline.Activation) int {
		return status
	})
}

func TestPipelineObserver_RecordsRun(t *testing.T) {
	obs, reader, rec := newTestObserver(t)
	sc := pipeline.NewScheduler(pipeline.WithObserver(obs))

	chain := pipeline.New().Then(stage(sc, "a", pipeline.StatusOK)).Then(stage(sc, "b", pipeline.StatusOK)).Build()
	item := document.New()
	item.Set(document.KeyID, "poster-1")
	run := pipeline.Attach(sc, chain, item)
	if !pipeline.WaitForFinished(context.Background(), run) {
		t.Fatal("run did not finish")
	}

	if got := sumOf(t, reader, "postr.runs.started"); got != 1 {
		t.Errorf("expected 1 run started, got %d", got)
	}
	if got := sumOf(t, reader, "postr.runs.finished"); got != 1 {
		t.Errorf("expected 1 run finished, got %d", got)
	}
	if got := sumOf(t, reader, "postr.pending.decrements"); got != 2 {
		t.Errorf("expected 2 decrements, got %d", got)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Name() != SpanRun {
		t.Errorf("expected span %q, got %q", SpanRun, spans[0].Name())
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("expected successful span")
	}
}

func TestPipelineObserver_FailedRunMarksSpan(t *testing.T) {
	obs, _, rec := newTestObserver(t)
	sc := pipeline.NewScheduler(pipeline.WithObserver(obs))

	chain := pipeline.New().Then(stage(sc, "broken", pipeline.StatusFailed)).Build()
	run := pipeline.Attach(sc, chain, document.New())
	pipeline.WaitForFinished(context.Background(), run)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status())
	}
}

func TestPipelineObserver_PumpEvents(t *testing.T) {
	obs, reader, _ := newTestObserver(t)

	obs.InFlight(1)
	obs.InFlight(1)
	obs.InFlight(-1)
	obs.ClaimLost()
	obs.StageStarted("ocr")
	obs.StageFinished("ocr", pipeline.StatusOK, 20*time.Millisecond)

	if got := sumOf(t, reader, "postr.pump.in_flight"); got != 1 {
		t.Errorf("expected in-flight 1, got %d", got)
	}
	if got := sumOf(t, reader, "postr.claims.lost"); got != 1 {
		t.Errorf("expected 1 lost claim, got %d", got)
	}
	if got := sumOf(t, reader, "postr.stage.active"); got != 0 {
		t.Errorf("expected no active stage, got %d", got)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig("postr-engine")
	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("expected default endpoint, got %s", cfg.Endpoint)
	}
	if cfg.Interval != 15*time.Second {
		t.Errorf("expected interval 15s, got %v", cfg.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	cfg.SampleRate = 2
	if err := cfg.Validate(); err == nil {
		t.Error("expected sample rate error")
	}
}

func TestSampler(t *testing.T) {
	cases := map[float64]string{1.0: "AlwaysOnSampler", 0: "AlwaysOffSampler"}
	for rate, want := range cases {
		if got := sampler(rate).Description(); got != want {
			t.Errorf("sampler(%v) = %s, want %s", rate, got, want)
		}
	}
}

func TestInitProviders(t *testing.T) {
	cfg := DefaultConfig("test")
	tp, err := InitTracer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	defer tp.Shutdown(context.Background())

	mp, err := InitMeter(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitMeter: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = mp.Shutdown(ctx)
}

func TestServiceHealth_WorstStatusWins(t *testing.T) {
	up := HealthFunc(func(context.Context) Health { return Health{Name: "scheduler", Status: HealthStatusUp} })
	degraded := HealthFunc(func(context.Context) Health { return Health{Name: "source", Status: HealthStatusDegraded} })
	down := HealthFunc(func(context.Context) Health { return Health{Name: "db", Status: HealthStatusDown} })

	if got := Check(context.Background(), "svc", "1", up, degraded).Status; got != HealthStatusDegraded {
		t.Errorf("expected degraded, got %s", got)
	}
	if got := Check(context.Background(), "svc", "1", down, degraded).Status; got != HealthStatusDown {
		t.Errorf("expected down, got %s", got)
	}
	sh := Check(context.Background(), "svc", "1", up)
	if sh.Status != HealthStatusUp || len(sh.Components) != 1 {
		t.Errorf("unexpected health %+v", sh)
	}
}
