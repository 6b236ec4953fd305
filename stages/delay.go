package stages

import (
	"context"
	"time"

	"github.com/postersafari/postr-engine/pipeline"
)

const delaySteps = 10

// NewDelay returns the "delay" stage, which waits for its duration
// parameter while reporting progress and then finishes with its status
// parameter. It stands in for slow analysis when trying out chains.
func NewDelay(sc *pipeline.Scheduler) (pipeline.Stage, error) {
	p := sc.Params()
	d := p.Duration("delay", "duration", time.Second, "how long each activation takes")
	status := p.Int("delay", "status", pipeline.StatusOK, "status reported when the delay elapses")

	work := func(ctx context.Context, a *pipeline.Activation) int {
		tick := time.NewTicker(max(d/delaySteps, time.Millisecond))
		defer tick.Stop()
		deadline := time.Now().Add(d)
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return pipeline.StatusCanceled
			case <-tick.C:
				left := time.Until(deadline)
				a.SetProgress(int(100 - 100*left/max(d, 1)))
			}
		}
		return status
	}
	return pipeline.NewAsyncStage(sc, "delay", work), nil
}
