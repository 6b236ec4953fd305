package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/logger"
)

// Run is one execution of a chain against one item.
type Run struct {
	id      string
	sc      *Scheduler
	chain   Chain
	root    *frame
	started time.Time

	mu       sync.Mutex
	stage    string
	status   int
	cause    error
	duration time.Duration
}

// Attach starts running chain on item and returns without waiting. The
// run's pending counter starts at the chain weight.
func Attach(sc *Scheduler, chain Chain, item *document.Item) *Run {
	if item == nil {
		item = document.New()
	}
	r := &Run{
		id:      uuid.NewString(),
		sc:      sc,
		chain:   chain,
		started: time.Now(),
	}
	r.root = newFrame(sc, r, nil, &cell{item: item}, chain.weight)
	sc.Observer().RunStarted(r)
	chain.run(r.root)
	return r
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Chain returns the chain being run.
func (r *Run) Chain() Chain { return r.chain }

// Pending returns the number of activations still expected. It is zero or
// less once the run has finished.
func (r *Run) Pending() int64 { return r.root.pending.Load() }

// Done is closed when the run finishes, successfully or not.
func (r *Run) Done() <-chan struct{} { return r.root.done }

// Item returns the current item. After Done it is the final item.
func (r *Run) Item() *document.Item { return r.root.cell.get() }

// Failed reports whether a stage failed.
func (r *Run) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage != ""
}

// Status returns StatusOK, or the status of the first failing stage.
func (r *Run) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns a STAGE_FAILED error naming the first failing stage, or nil.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage == "" {
		return nil
	}
	err := errors.StageFailed(r.stage, r.status)
	if r.cause != nil {
		err = err.WithCause(r.cause)
	}
	return err
}

// Duration returns how long the run took, or 0 while it is running.
func (r *Run) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

func (r *Run) recordFailure(stage string, status int, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage != "" {
		return
	}
	if status == StatusOK {
		status = StatusFailed
	}
	r.stage, r.status, r.cause = stage, status, cause
}

func (r *Run) finish(ok bool) {
	r.mu.Lock()
	r.duration = time.Since(r.started)
	fields := logger.Fields(logger.FieldRunID, r.id, logger.FieldItemID, r.root.cell.get().ID(),
		logger.FieldStatus, r.status, logger.FieldDuration, r.duration.Milliseconds())
	if r.stage != "" {
		fields[logger.FieldStage] = r.stage
	}
	r.mu.Unlock()

	if ok {
		r.sc.log.Debug("run finished", fields)
	} else {
		r.sc.log.Info("run failed", fields)
	}
	r.sc.Observer().RunFinished(r, ok)
}

// WaitForFinished blocks until run finishes, the scheduler is aborted or
// ctx is done. It returns true only if the run finished; a run that
// finished with a failing stage also returns true and reports the failure
// through Status and Err. While waiting, the progress of every watched
// stage that is active is passed to the scheduler's ProgressReporter on
// each wake-up.
func WaitForFinished(ctx context.Context, run *Run, watch ...Stage) bool {
	sc := run.sc
	if len(watch) > 0 {
		defer sc.reporter.Finish(run.id)
	}
	for {
		wake := sc.wakeCh()
		select {
		case <-run.root.done:
			return true
		default:
		}
		if sc.Aborted() || ctx.Err() != nil {
			return false
		}
		if len(watch) > 0 {
			reportProgress(sc, run.id, watch)
		}
		select {
		case <-wake:
		case <-run.root.done:
			return true
		case <-sc.AbortCh():
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// WaitAll waits for every run and reports whether all of them finished.
func WaitAll(ctx context.Context, runs ...*Run) bool {
	ok := true
	for _, r := range runs {
		if !WaitForFinished(ctx, r) {
			ok = false
		}
	}
	return ok
}

func reportProgress(sc *Scheduler, runID string, watch []Stage) {
	if active := ActiveStages(watch...); len(active) > 0 {
		sc.reporter.Report(runID, active)
	}
}

// ActiveStages returns the progress of the stages that are running.
func ActiveStages(stages ...Stage) []StageProgress {
	var active []StageProgress
	for _, s := range stages {
		if p := s.Progress(); p > 0 {
			active = append(active, StageProgress{Stage: s.Name(), Progress: p})
		}
	}
	return active
}
