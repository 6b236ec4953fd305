package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/logger"
)

// WorkFunc does the work of one activation and returns its status. ctx is
// canceled by Cancel, Close and Scheduler.Abort; work should poll it.
type WorkFunc func(ctx context.Context, a *Activation) int

// StageState is the activation state of an AsyncStage.
type StageState int32

const (
	StateIdle StageState = iota
	StateActivating
	StateRunning
)

func (s StageState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// AsyncOption configures an AsyncStage.
type AsyncOption func(*AsyncStage)

// WithWarmUp runs fn once in the background when the stage is created.
// Activations wait for it to finish; if it fails every activation fails.
func WithWarmUp(fn func(ctx context.Context) error) AsyncOption {
	return func(s *AsyncStage) { s.warmUp = fn }
}

// AsyncStage runs a WorkFunc on its own goroutine per activation. At most
// one activation is in flight per instance: Start blocks until the previous
// activation's callback has returned.
type AsyncStage struct {
	sc     *Scheduler
	name   string
	work   WorkFunc
	warmUp func(ctx context.Context) error
	log    *logger.Logger

	ready      chan struct{}
	warmErr    error
	warmCancel context.CancelFunc

	slot      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	state    atomic.Int32
	progress atomic.Int32
	status   atomic.Int32

	mu       sync.Mutex
	cancelFn context.CancelFunc
}

// NewAsyncStage creates a stage that runs work for every activation.
func NewAsyncStage(sc *Scheduler, name string, work WorkFunc, opts ...AsyncOption) *AsyncStage {
	s := &AsyncStage{
		sc:     sc,
		name:   name,
		work:   work,
		log:    sc.Logger().WithComponent("stage." + name),
		ready:  make(chan struct{}),
		slot:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	warmCtx, cancel := context.WithCancel(sc.Context())
	s.warmCancel = cancel
	if s.warmUp == nil {
		close(s.ready)
		return s
	}
	go func() {
		defer close(s.ready)
		start := time.Now()
		if err := s.warmUp(warmCtx); err != nil {
			s.warmErr = err
			s.log.Error("warm-up failed", logger.ErrorFields("warm_up", err))
			return
		}
		s.log.Debug("warm-up finished", logger.DurationFields("warm_up", time.Since(start)))
	}()
	return s
}

// Name returns the stage name.
func (s *AsyncStage) Name() string { return s.name }

// Progress returns 0 when idle, otherwise 1..100.
func (s *AsyncStage) Progress() int { return int(s.progress.Load()) }

// Status returns the status of the last completed activation.
func (s *AsyncStage) Status() int { return int(s.status.Load()) }

// State returns the current activation state.
func (s *AsyncStage) State() StageState { return StageState(s.state.Load()) }

// Ready is closed once warm-up has finished.
func (s *AsyncStage) Ready() <-chan struct{} { return s.ready }

// Cancel cancels the current activation, if any.
func (s *AsyncStage) Cancel() {
	s.mu.Lock()
	if s.cancelFn != nil {
		s.cancelFn()
	}
	s.mu.Unlock()
}

// Start begins an activation. It blocks while a previous activation on this
// instance is still in flight and fails with ErrAborted once the scheduler
// is aborted.
func (s *AsyncStage) Start(item *document.Item, onDone Callback) error {
	if s.sc.Aborted() {
		return ErrAborted
	}
	select {
	case s.slot <- struct{}{}:
	case <-s.sc.AbortCh():
		return ErrAborted
	case <-s.closed:
		return errors.Aborted("stage " + s.name)
	}
	if s.sc.Aborted() {
		<-s.slot
		return ErrAborted
	}
	select {
	case <-s.closed:
		<-s.slot
		return errors.Aborted("stage " + s.name)
	default:
	}

	ctx, cancel := context.WithCancel(s.sc.Context())
	s.mu.Lock()
	s.cancelFn = cancel
	s.mu.Unlock()

	s.state.Store(int32(StateActivating))
	s.progress.Store(1)
	s.sc.Observer().StageStarted(s.name)

	go s.run(ctx, cancel, item, onDone)
	return nil
}

func (s *AsyncStage) run(ctx context.Context, cancel context.CancelFunc, item *document.Item, onDone Callback) {
	defer cancel()
	start := time.Now()
	act := &Activation{stage: s, item: item, ctx: ctx}

	select {
	case <-s.ready:
	case <-ctx.Done():
	}

	status := StatusCanceled
	if ctx.Err() == nil {
		if s.warmErr != nil {
			status = StatusFailed
		} else {
			s.state.Store(int32(StateRunning))
			status = s.invoke(ctx, act)
		}
	}

	d := time.Since(start)
	s.status.Store(int32(status))
	s.progress.Store(0)
	s.state.Store(int32(StateIdle))
	s.sc.Observer().StageFinished(s.name, status, d)
	if status != StatusOK {
		s.log.Debug("activation failed", logger.Fields(
			logger.FieldItemID, item.ID(), logger.FieldStatus, status, logger.FieldDuration, d.Milliseconds()))
	}
	s.sc.Notify()

	if !s.sc.Aborted() {
		onDone(act.item, status)
	}
	<-s.slot
}

func (s *AsyncStage) invoke(ctx context.Context, act *Activation) (status int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("work panicked", logger.Fields(logger.FieldError, fmt.Sprint(r)))
			status = StatusFailed
		}
	}()
	return s.work(ctx, act)
}

// Close cancels the in-flight activation and waits for it up to the
// scheduler's teardown timeout. On timeout it logs and returns a
// TEARDOWN_TIMEOUT error; the activation goroutine is left to finish on its
// own. Start fails after Close.
func (s *AsyncStage) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.warmCancel()
	})
	s.Cancel()

	timer := time.NewTimer(s.sc.teardownTimeout)
	defer timer.Stop()
	select {
	case s.slot <- struct{}{}:
		<-s.slot
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	s.log.Warn("activation did not stop before teardown deadline",
		logger.Fields(logger.FieldDuration, s.sc.teardownTimeout.Milliseconds()))
	return errors.TeardownTimeout(s.name)
}

// Activation is the view of one activation handed to a WorkFunc.
type Activation struct {
	stage *AsyncStage
	item  *document.Item
	ctx   context.Context
}

// Item returns the item being processed. Work mutates it in place.
func (a *Activation) Item() *document.Item { return a.item }

// SetItem replaces the item passed on to the next stage.
func (a *Activation) SetItem(item *document.Item) {
	if item != nil {
		a.item = item
	}
}

// SetProgress records progress in 1..100. Lower values than the current
// progress are ignored.
func (a *Activation) SetProgress(p int) {
	p = min(max(p, 1), 100)
	for {
		cur := a.stage.progress.Load()
		if int32(p) <= cur {
			return
		}
		if a.stage.progress.CompareAndSwap(cur, int32(p)) {
			break
		}
	}
	a.stage.sc.Notify()
}

// Canceled reports whether the activation was canceled or the scheduler
// aborted.
func (a *Activation) Canceled() bool { return a.ctx.Err() != nil }

// Logger returns the stage logger.
func (a *Activation) Logger() *logger.Logger { return a.stage.log }

// Params returns the scheduler's parameter store.
func (a *Activation) Params() *config.Params { return a.stage.sc.Params() }
