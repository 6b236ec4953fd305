package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
)

func TestSequence_RunsStagesInOrder(t *testing.T) {
	obs := newCountingObserver()
	sc := NewScheduler(WithObserver(obs))
	rec := &recorder{}

	x := recordingStage(sc, rec, "x", 0, StatusOK)
	y := recordingStage(sc, rec, "y", 0, StatusOK)
	chain := New().Then(x).Then(y).Build()
	require.Equal(t, 2, chain.Weight())

	run := Attach(sc, chain, document.New())
	require.True(t, WaitForFinished(context.Background(), run))

	assert.Equal(t, []string{"x", "y"}, rec.list())
	assert.Equal(t, StatusOK, run.Status())
	assert.NoError(t, run.Err())
	assert.Equal(t, int64(0), run.Pending())
	assert.Equal(t, 2, obs.count(run.ID()))
	assert.Equal(t, []string{"x", "y"}, textsOf(run.Item()))
}

func TestSequence_FailureSkipsRemainingStages(t *testing.T) {
	obs := newCountingObserver()
	sc := NewScheduler(WithObserver(obs))
	rec := &recorder{}

	chain := New().
		Then(recordingStage(sc, rec, "s1", 0, StatusOK)).
		Then(recordingStage(sc, rec, "s2", 0, 7)).
		Then(recordingStage(sc, rec, "s3", 0, StatusOK)).
		Then(recordingStage(sc, rec, "s4", 0, StatusOK)).
		Build()

	run := Attach(sc, chain, document.New())
	require.True(t, WaitForFinished(context.Background(), run))

	assert.Equal(t, []string{"s1", "s2"}, rec.list())
	assert.Equal(t, 7, run.Status())
	assert.True(t, run.Failed())
	assert.Equal(t, int64(0), run.Pending())
	assert.Equal(t, 2, obs.count(run.ID()), "only the activations that ran are counted")

	err := run.Err()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStageFailed, errors.CodeOf(err))

	obs.mu.Lock()
	assert.False(t, obs.finished[run.ID()])
	obs.mu.Unlock()
}

func TestForkJoin_MergesBothBranches(t *testing.T) {
	for _, tc := range []struct {
		name         string
		delayA, delB time.Duration
	}{
		{"a finishes last", 30 * time.Millisecond, 0},
		{"b finishes last", 0, 30 * time.Millisecond},
	} {
		t.Run(tc.name, func(t *testing.T) {
			obs := newCountingObserver()
			sc := NewScheduler(WithObserver(obs))
			rec := &recorder{}

			left := New().
				Then(recordingStage(sc, rec, "a1", tc.delayA, StatusOK)).
				Then(recordingStage(sc, rec, "a2", 0, StatusOK)).
				Build()
			right := New().Then(recordingStage(sc, rec, "b1", tc.delB, StatusOK)).Build()
			chain := ForkJoin(left, right, document.MergeText)
			require.Equal(t, 3, chain.Weight())

			item := document.New()
			item.AppendText(map[string]any{"text": "base"})
			run := Attach(sc, chain, item)
			require.True(t, WaitForFinished(context.Background(), run))

			assert.Equal(t, []string{"base", "a1", "a2", "base", "b1"}, textsOf(run.Item()))
			assert.Equal(t, 3, obs.count(run.ID()))
			assert.Equal(t, StatusOK, run.Status())
			assert.Equal(t, []string{"base"}, textsOf(item), "branches work on copies")
		})
	}
}

func TestForkJoin_FailingBranchWaitsForSibling(t *testing.T) {
	sc := NewScheduler()
	rec := &recorder{}
	merged := make(chan struct{}, 1)

	left := New().Then(recordingStage(sc, rec, "fail", 0, StatusFailed)).Build()
	right := New().Then(recordingStage(sc, rec, "slow", 40*time.Millisecond, StatusOK)).Build()
	after := recordingStage(sc, rec, "after", 0, StatusOK)
	chain := New().
		Fork(left, right, func(dst, src *document.Item) {
			document.MergeText(dst, src)
			merged <- struct{}{}
		}).
		Then(after).
		Build()

	run := Attach(sc, chain, document.New())
	require.True(t, WaitForFinished(context.Background(), run))

	assert.ElementsMatch(t, []string{"fail", "slow"}, rec.list())
	assert.Len(t, merged, 1)
	assert.Equal(t, StatusFailed, run.Status())
	assert.Equal(t, int64(0), run.Pending())
	assert.Contains(t, textsOf(run.Item()), "slow", "partial results are merged")
}

func TestConcat_RunsSecondChainFirst(t *testing.T) {
	obs := newCountingObserver()
	sc := NewScheduler(WithObserver(obs))
	rec := &recorder{}

	a := New().Then(recordingStage(sc, rec, "a", 0, StatusOK)).Build()
	b := New().
		Then(recordingStage(sc, rec, "b1", 0, StatusOK)).
		Then(recordingStage(sc, rec, "b2", 0, StatusOK)).
		Build()
	chain := Concat(a, b)
	require.Equal(t, 3, chain.Weight())

	run := Attach(sc, chain, document.New())
	require.True(t, WaitForFinished(context.Background(), run))
	assert.Equal(t, []string{"b1", "b2", "a"}, rec.list())
	assert.Equal(t, 3, obs.count(run.ID()))
}

func TestConcat_FailureInFirstPartSkipsSecond(t *testing.T) {
	sc := NewScheduler()
	rec := &recorder{}

	a := New().Then(recordingStage(sc, rec, "a", 0, StatusOK)).Build()
	b := New().Then(recordingStage(sc, rec, "b", 0, StatusFailed)).Build()

	run := Attach(sc, Concat(a, b), document.New())
	require.True(t, WaitForFinished(context.Background(), run))
	assert.Equal(t, []string{"b"}, rec.list())
	assert.True(t, run.Failed())
}

func TestWeightInvariant_NestedChain(t *testing.T) {
	obs := newCountingObserver()
	sc := NewScheduler(WithObserver(obs))
	rec := &recorder{}
	st := func(name string) Stage { return recordingStage(sc, rec, name, time.Millisecond, StatusOK) }

	inner := New().Then(st("i1")).Fork(
		New().Then(st("ia")).Build(),
		New().Then(st("ib1")).Then(st("ib2")).Build(),
		document.MergeText,
	).Build()
	chain := New().
		Then(st("head")).
		Fork(inner, New().Then(st("side")).Build(), document.MergeText).
		Append(New().Then(st("tail1")).Build()).
		Then(st("tail2")).
		Build()
	require.Equal(t, 8, chain.Weight())

	run := Attach(sc, chain, document.New())
	require.True(t, WaitForFinished(context.Background(), run))
	assert.Equal(t, int64(0), run.Pending())
	assert.Equal(t, 8, obs.count(run.ID()))
	assert.Len(t, rec.list(), 8)
	assert.Equal(t, "tail2", rec.list()[7])
}

func TestEmptyChain_FinishesImmediately(t *testing.T) {
	sc := NewScheduler()
	run := Attach(sc, Empty(), document.New())
	require.True(t, WaitForFinished(context.Background(), run))
	assert.Equal(t, 0, New().Build().Weight())
}

func TestBuilder_IsImmutable(t *testing.T) {
	sc := NewScheduler()
	rec := &recorder{}
	x := recordingStage(sc, rec, "x", 0, StatusOK)
	y := recordingStage(sc, rec, "y", 0, StatusOK)
	z := recordingStage(sc, rec, "z", 0, StatusOK)

	base := New().Then(x)
	withY := base.Then(y)
	withZ := base.Then(z)
	assert.Equal(t, 1, base.Len())

	run := Attach(sc, withZ.Build(), document.New())
	require.True(t, WaitForFinished(context.Background(), run))
	assert.Equal(t, []string{"x", "z"}, rec.list())
	assert.Equal(t, []Stage{x, y}, withY.Build().Stages())
}

func TestChain_StagesAreDistinct(t *testing.T) {
	sc := NewScheduler()
	rec := &recorder{}
	x := recordingStage(sc, rec, "x", 0, StatusOK)

	chain := New().Then(x).Then(x).Build()
	assert.Equal(t, 2, chain.Weight())
	assert.Len(t, chain.Stages(), 1)

	run := Attach(sc, chain, document.New())
	require.True(t, WaitForFinished(context.Background(), run))
	assert.Equal(t, []string{"x", "x"}, rec.list())
}

func TestWaitForFinished_AbortReturnsFalse(t *testing.T) {
	sc := NewScheduler()
	onDone := make(chan struct{}, 1)
	started := make(chan struct{})
	blocking := NewAsyncStage(sc, "blocking", func(ctx context.Context, _ *Activation) int {
		close(started)
		<-ctx.Done()
		return StatusCanceled
	})

	run := Attach(sc, New().Then(blocking).Build(), document.New())
	<-started

	result := make(chan bool, 1)
	go func() { result <- WaitForFinished(context.Background(), run) }()
	sc.Abort()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by abort")
	}

	err := blocking.Start(document.New(), func(*document.Item, int) { onDone <- struct{}{} })
	assert.ErrorIs(t, err, ErrAborted)
	require.Eventually(t, func() bool { return blocking.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.Len(t, onDone, 0)
}

func TestWaitForFinished_ContextCancel(t *testing.T) {
	sc := NewScheduler()
	stage := recordingStage(sc, &recorder{}, "slow", time.Second, StatusOK)
	run := Attach(sc, New().Then(stage).Build(), document.New())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, WaitForFinished(ctx, run))
	stage.Cancel()
}

type recordingReporter struct {
	rec      recorder
	finished chan string
}

func (r *recordingReporter) Report(_ string, stages []StageProgress) {
	for _, s := range stages {
		r.rec.add(s.Stage)
	}
}

func (r *recordingReporter) Finish(runID string) { r.finished <- runID }

func TestWaitForFinished_ReportsWatchedProgress(t *testing.T) {
	rep := &recordingReporter{finished: make(chan string, 1)}
	sc := NewScheduler(WithProgressReporter(rep))
	stage := NewAsyncStage(sc, "ocr", func(ctx context.Context, a *Activation) int {
		for p := 10; p <= 100; p += 30 {
			a.SetProgress(p)
			time.Sleep(2 * time.Millisecond)
		}
		return StatusOK
	})
	chain := New().Then(stage).Build()

	run := Attach(sc, chain, document.New())
	require.True(t, WaitForFinished(context.Background(), run, chain.Stages()...))
	assert.Contains(t, rep.rec.list(), "ocr")
	assert.Equal(t, run.ID(), <-rep.finished)
}

func TestWaitAll(t *testing.T) {
	sc := NewScheduler()
	chain := New().Then(&funcStage{name: "f", fn: func(*document.Item) int { return StatusOK }}).Build()
	runs := []*Run{
		Attach(sc, chain, document.New()),
		Attach(sc, chain, document.New()),
	}
	assert.True(t, WaitAll(context.Background(), runs...))
}
