package pipeline

import "time"

// Observer receives run, stage and pump events. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	RunStarted(run *Run)
	RunFinished(run *Run, ok bool)
	StageStarted(stage string)
	StageFinished(stage string, status int, d time.Duration)
	// Decremented is called once per completed activation with the run's
	// remaining pending count.
	Decremented(runID string, remaining int64)
	ClaimLost()
	InFlight(delta int)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) RunStarted(*Run)                          {}
func (NopObserver) RunFinished(*Run, bool)                   {}
func (NopObserver) StageStarted(string)                      {}
func (NopObserver) StageFinished(string, int, time.Duration) {}
func (NopObserver) Decremented(string, int64)                {}
func (NopObserver) ClaimLost()                               {}
func (NopObserver) InFlight(int)                             {}
