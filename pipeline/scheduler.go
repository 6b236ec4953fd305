package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/logger"
)

const defaultTeardownTimeout = 10 * time.Second

// Scheduler is the shared context of every chain, run and pump in one
// engine. It owns the abort flag, the wake-up notifier used by waiters and
// the stage parameters. Create one per process with NewScheduler.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	aborted   atomic.Bool
	abortCh   chan struct{}
	abortOnce sync.Once

	wakeMu sync.Mutex
	wake   chan struct{}

	log             *logger.Logger
	params          *config.Params
	observer        Observer
	reporter        ProgressReporter
	teardownTimeout time.Duration

	closersMu sync.Mutex
	closers   []closer
}

type closer interface {
	Name() string
	Close(ctx context.Context) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The scheduler logs under the "pipeline"
// component.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithParams sets the stage parameter store.
func WithParams(p *config.Params) Option {
	return func(s *Scheduler) {
		if p != nil {
			s.params = p
		}
	}
}

// WithObserver sets the observer notified of run and stage events.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithProgressReporter sets where WaitForFinished renders stage progress.
func WithProgressReporter(r ProgressReporter) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithTeardownTimeout bounds how long closing a stage waits for its
// in-flight activation.
func WithTeardownTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.teardownTimeout = d
		}
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ctx:             ctx,
		cancel:          cancel,
		abortCh:         make(chan struct{}),
		wake:            make(chan struct{}),
		log:             logger.Nop(),
		params:          config.NewParams(nil),
		observer:        NopObserver{},
		reporter:        nopReporter{},
		teardownTimeout: defaultTeardownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("pipeline")
	return s
}

// Abort sets the abort flag. No new activation starts afterwards, every
// waiter returns false and the context handed to stage work is canceled.
// Abort is idempotent.
func (s *Scheduler) Abort() {
	s.abortOnce.Do(func() {
		s.aborted.Store(true)
		close(s.abortCh)
		s.cancel()
		s.log.Warn("abort requested")
		s.Notify()
	})
}

// Aborted reports whether Abort was called.
func (s *Scheduler) Aborted() bool { return s.aborted.Load() }

// AbortCh is closed by Abort.
func (s *Scheduler) AbortCh() <-chan struct{} { return s.abortCh }

// Context is canceled by Abort.
func (s *Scheduler) Context() context.Context { return s.ctx }

// Logger returns the scheduler logger.
func (s *Scheduler) Logger() *logger.Logger { return s.log }

// Params returns the stage parameter store.
func (s *Scheduler) Params() *config.Params { return s.params }

// Observer returns the configured observer.
func (s *Scheduler) Observer() Observer { return s.observer }

// Notify wakes every goroutine blocked in WaitForFinished.
func (s *Scheduler) Notify() {
	s.wakeMu.Lock()
	close(s.wake)
	s.wake = make(chan struct{})
	s.wakeMu.Unlock()
}

// wakeCh returns the channel closed by the next Notify.
func (s *Scheduler) wakeCh() <-chan struct{} {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()
	return s.wake
}

// Track registers a stage to be closed by Shutdown. Stages without a
// Close(context.Context) error method are ignored.
func (s *Scheduler) Track(st Stage) {
	c, ok := st.(closer)
	if !ok {
		return
	}
	s.closersMu.Lock()
	s.closers = append(s.closers, c)
	s.closersMu.Unlock()
}

// Shutdown closes tracked stages in reverse order of registration and
// returns the teardown errors of all of them.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.closersMu.Lock()
	closers := s.closers
	s.closers = nil
	s.closersMu.Unlock()

	var result *multierror.Error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
