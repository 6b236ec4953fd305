package pipeline

import (
	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
)

// MergeFunc folds the item of a fork's second branch into the item of its
// first branch.
type MergeFunc func(dst, src *document.Item)

// Chain describes how stages are wired. Chains are immutable; every
// primitive returns a new value and a chain may be attached to any number
// of items.
type Chain struct {
	activate func(f *frame)
	weight   int
	stages   []Stage
}

// Weight is the number of activations a run of the chain completes when no
// stage fails.
func (c Chain) Weight() int { return c.weight }

// Stages returns the distinct stage instances the chain references, in
// execution order.
func (c Chain) Stages() []Stage {
	return append([]Stage(nil), c.stages...)
}

func (c Chain) run(f *frame) {
	if c.activate == nil {
		emptyActivate(f)
		return
	}
	c.activate(f)
}

// Empty returns a chain with no stages. It completes immediately.
func Empty() Chain {
	return Chain{activate: emptyActivate}
}

func emptyActivate(f *frame) {
	if f.pending.Load() <= 0 {
		f.signal()
	}
}

// Sequence returns a chain that runs s and then next. If s fails, next is
// never activated.
func Sequence(next Chain, s Stage) Chain {
	return Chain{
		weight: next.weight + 1,
		stages: unionStages([]Stage{s}, next.stages),
		activate: func(f *frame) {
			if f.sc.Aborted() {
				return
			}
			go startStage(f, s, next)
		},
	}
}

func startStage(f *frame, s Stage, next Chain) {
	err := s.Start(f.cell.get(), func(item *document.Item, status int) {
		f.cell.set(item)
		remaining := f.decrement()
		if status != StatusOK {
			f.run.recordFailure(s.Name(), status, nil)
			f.abandon()
			return
		}
		if remaining <= 0 {
			f.signal()
			return
		}
		next.run(f)
	})
	if err == nil {
		return
	}
	if errors.Is(err, ErrAborted) && f.sc.Aborted() {
		f.sc.Notify()
		return
	}
	f.run.recordFailure(s.Name(), StatusFailed, err)
	f.abandon()
}

// Concat returns a chain that runs b to completion and then a.
func Concat(a, b Chain) Chain {
	return Chain{
		weight: a.weight + b.weight,
		stages: unionStages(b.stages, a.stages),
		activate: func(f *frame) {
			if f.sc.Aborted() {
				return
			}
			go func() {
				sub := f.child(f.cell, b.weight)
				b.run(sub)
				if !f.await(sub) {
					return
				}
				if sub.failed.Load() {
					f.abandon()
					return
				}
				a.run(f)
			}()
		},
	}
}

// ForkJoin returns a chain that runs a and b concurrently on separate
// copies of the item, waits for both, then calls merge(copyA, copyB). The
// copy of a continues down the chain. A failing branch does not cancel its
// sibling; the merge still runs and the failure is then propagated.
func ForkJoin(a, b Chain, merge MergeFunc) Chain {
	return Chain{
		weight: a.weight + b.weight,
		stages: unionStages(a.stages, b.stages),
		activate: func(f *frame) {
			if f.sc.Aborted() {
				return
			}
			go func() {
				src := f.cell.get()
				left := f.child(&cell{item: src.Clone()}, a.weight)
				right := f.child(&cell{item: src.Clone()}, b.weight)
				a.run(left)
				b.run(right)
				if !f.await(left, right) {
					return
				}
				dst := left.cell.get()
				if merge != nil {
					merge(dst, right.cell.get())
				}
				f.cell.set(dst)
				if left.failed.Load() || right.failed.Load() {
					f.abandon()
					return
				}
				if f.pending.Load() <= 0 {
					f.signal()
				}
			}()
		},
	}
}

// unionStages appends the stages of b not already in a.
func unionStages(a, b []Stage) []Stage {
	out := make([]Stage, 0, len(a)+len(b))
	seen := make(map[Stage]struct{}, len(a)+len(b))
	for _, list := range [][]Stage{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
