// Package pipeline runs items through composable chains of stages.
//
// A Stage is a long-lived unit of work with a non-blocking Start and an
// exactly-once completion callback. Chains describe how stages are wired and
// are immutable values built once at startup:
//
//   - Sequence: run a stage, then the rest of the chain
//   - Concat: run one chain to completion, then another
//   - ForkJoin: run two chains on copies of the item, then merge the copies
//
// Every chain has a weight, the number of stage activations it contains.
// Attach starts a Run whose pending counter begins at the chain weight and is
// decremented once per completed activation. A failing stage forces the
// counter to zero so the remaining stages are skipped.
//
// # Usage
//
//	sc := pipeline.NewScheduler(pipeline.WithLogger(log))
//	chain := pipeline.New().
//	    Then(segment).
//	    Fork(pipeline.New().Then(ocrA).Build(), pipeline.New().Then(ocrB).Build(), document.MergeText).
//	    Then(regex).
//	    Build()
//	run := pipeline.Attach(sc, chain, item)
//	if !pipeline.WaitForFinished(ctx, run, chain.Stages()...) {
//	    log.Warn("aborted.")
//	}
//
// A Pump drains a Source into a chain while bounding the number of runs in
// flight. Sources share a backlog between engines through a claim protocol:
// an item is stamped with the engine id by a compare-and-swap write on its
// version token, and released again when its run fails.
//
// The Scheduler holds what would otherwise be process globals: the abort
// flag, the wake-up notifier, the logger and the stage parameters.
package pipeline
