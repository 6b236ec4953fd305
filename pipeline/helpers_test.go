package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postersafari/postr-engine/document"
)

// recorder collects events from concurrent stages in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// countingObserver counts decrements per run and tracks finished runs.
type countingObserver struct {
	NopObserver
	mu          sync.Mutex
	decrements  map[string]int
	finished    map[string]bool
	stageStarts atomic.Int64
	claimsLost  atomic.Int64
}

func newCountingObserver() *countingObserver {
	return &countingObserver{decrements: make(map[string]int), finished: make(map[string]bool)}
}

func (o *countingObserver) Decremented(runID string, _ int64) {
	o.mu.Lock()
	o.decrements[runID]++
	o.mu.Unlock()
}

func (o *countingObserver) RunFinished(run *Run, ok bool) {
	o.mu.Lock()
	o.finished[run.ID()] = ok
	o.mu.Unlock()
}

func (o *countingObserver) StageStarted(string) { o.stageStarts.Add(1) }

func (o *countingObserver) ClaimLost() { o.claimsLost.Add(1) }

func (o *countingObserver) count(runID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.decrements[runID]
}

// recordingStage returns an AsyncStage that records its name, optionally
// sleeps, appends a text frame and returns status.
func recordingStage(sc *Scheduler, rec *recorder, name string, delay time.Duration, status int) *AsyncStage {
	return NewAsyncStage(sc, name, func(ctx context.Context, a *Activation) int {
		rec.add(name)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return StatusCanceled
			}
		}
		a.Item().AppendText(map[string]any{"text": name})
		return status
	})
}

// funcStage runs fn on a new goroutine per activation with no
// serialization between activations.
type funcStage struct {
	name     string
	fn       func(item *document.Item) int
	progress atomic.Int32
	status   atomic.Int32
}

func (s *funcStage) Name() string  { return s.name }
func (s *funcStage) Progress() int { return int(s.progress.Load()) }
func (s *funcStage) Cancel()       {}
func (s *funcStage) Status() int   { return int(s.status.Load()) }

func (s *funcStage) Start(item *document.Item, onDone Callback) error {
	s.progress.Store(1)
	go func() {
		st := s.fn(item)
		s.status.Store(int32(st))
		s.progress.Store(0)
		onDone(item, st)
	}()
	return nil
}

// fakeSource is an in-memory Source for pump tests.
type fakeSource struct {
	mu        sync.Mutex
	items     []*document.Item
	loseNext  int
	failTake  error
	results   []*document.Item
	released  []*document.Item
	closed    bool
	unhealthy bool
}

func newFakeSource(n int) *fakeSource {
	src := &fakeSource{}
	for i := 0; i < n; i++ {
		it := document.New()
		it.Set(document.KeyID, string(rune('a'+i)))
		src.items = append(src.items, it)
	}
	return src
}

func (s *fakeSource) TakeNext(context.Context) (*document.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil, ErrSourceClosed
	case s.failTake != nil:
		err := s.failTake
		s.failTake = nil
		return nil, err
	case s.loseNext > 0:
		s.loseNext--
		return nil, ErrClaimLost
	case len(s.items) == 0:
		return nil, ErrNoItem
	}
	it := s.items[0]
	s.items = s.items[1:]
	return it, nil
}

func (s *fakeSource) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

func (s *fakeSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeSource) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unhealthy
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) HandleResult(_ context.Context, item *document.Item) error {
	s.mu.Lock()
	s.results = append(s.results, item)
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) HandleError(_ context.Context, item *document.Item) error {
	s.mu.Lock()
	s.released = append(s.released, item)
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) handled() (results, released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results), len(s.released)
}

func textsOf(item *document.Item) []string {
	frames, _ := item.TextFrames()
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f["text"].(string))
	}
	return out
}
