package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/postersafari/postr-engine/document"
)

// cell holds the item of one execution path. A Sequence replaces it with
// the item its stage handed back; fork branches get their own cells.
type cell struct {
	mu   sync.Mutex
	item *document.Item
}

func (c *cell) get() *document.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.item
}

func (c *cell) set(item *document.Item) {
	if item == nil {
		return
	}
	c.mu.Lock()
	c.item = item
	c.mu.Unlock()
}

// frame is the execution state a chain is activated with: a pending
// counter, a completion signal and the item cell. The root frame belongs to
// a Run; Concat and ForkJoin run their sub-chains in child frames whose
// decrements are also applied to every ancestor.
type frame struct {
	sc      *Scheduler
	run     *Run
	parent  *frame
	cell    *cell
	pending atomic.Int64
	failed  atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func newFrame(sc *Scheduler, run *Run, parent *frame, c *cell, weight int) *frame {
	f := &frame{sc: sc, run: run, parent: parent, cell: c, done: make(chan struct{})}
	f.pending.Store(int64(weight))
	return f
}

func (f *frame) child(c *cell, weight int) *frame {
	return newFrame(f.sc, f.run, f, c, weight)
}

// decrement counts one completed activation in f and its ancestors and
// returns f's remaining count.
func (f *frame) decrement() int64 {
	n := f.pending.Add(-1)
	root := n
	for p := f.parent; p != nil; p = p.parent {
		root = p.pending.Add(-1)
	}
	f.sc.Observer().Decremented(f.run.id, root)
	return n
}

func (f *frame) signal() {
	f.once.Do(func() {
		if f.parent == nil {
			f.run.finish(!f.failed.Load())
		}
		close(f.done)
		f.sc.Notify()
	})
}

// abandon forces the counter to zero and signals completion as failed.
func (f *frame) abandon() {
	f.failed.Store(true)
	f.pending.Store(0)
	f.signal()
}

// await blocks until every child has signaled. It returns false if the
// scheduler was aborted first.
func (f *frame) await(children ...*frame) bool {
	for _, c := range children {
		select {
		case <-c.done:
		case <-f.sc.AbortCh():
			return false
		}
	}
	return true
}
