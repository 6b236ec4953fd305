package pipeline

// Builder assembles a Chain from steps listed in execution order. Builders
// are values: each method returns a new Builder and never changes the
// receiver, so a partial builder can be extended in several ways.
//
//	chain := pipeline.New().
//	    Then(regex).
//	    Fork(pipeline.New().Then(ocrA).Build(), pipeline.New().Then(ocrB).Build(), merge).
//	    Then(wordsplit).
//	    Build()
type Builder struct {
	steps []step
}

type step struct {
	stage Stage
	chain Chain
}

// New returns an empty builder.
func New() Builder { return Builder{} }

// Then appends a stage.
func (b Builder) Then(s Stage) Builder {
	return b.with(step{stage: s})
}

// Fork appends a fork of two chains joined by merge.
func (b Builder) Fork(left, right Chain, merge MergeFunc) Builder {
	return b.with(step{chain: ForkJoin(left, right, merge)})
}

// Append appends a prebuilt chain.
func (b Builder) Append(c Chain) Builder {
	return b.with(step{chain: c})
}

// Len returns the number of steps.
func (b Builder) Len() int { return len(b.steps) }

func (b Builder) with(s step) Builder {
	steps := make([]step, len(b.steps), len(b.steps)+1)
	copy(steps, b.steps)
	return Builder{steps: append(steps, s)}
}

// Build compiles the steps into a chain.
func (b Builder) Build() Chain {
	c := Empty()
	for i := len(b.steps) - 1; i >= 0; i-- {
		st := b.steps[i]
		if st.stage != nil {
			c = Sequence(c, st.stage)
			continue
		}
		c = Concat(c, st.chain)
	}
	return c
}
