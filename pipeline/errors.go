package pipeline

import "github.com/postersafari/postr-engine/errors"

// Sentinel errors. They are AppErrors and match by code, so
// errors.Is(err, ErrClaimLost) holds for any CLAIM_LOST error.
var (
	// ErrAborted is returned by Start and Pump.Run after Scheduler.Abort.
	ErrAborted = errors.Aborted("activation")

	// ErrNoItem is returned by Source.TakeNext when nothing is claimable.
	ErrNoItem = errors.NoItem()

	// ErrClaimLost is returned by Source.TakeNext when another engine
	// claimed the selected item first.
	ErrClaimLost = errors.ClaimLost("")

	// ErrSourceClosed is returned by Source.TakeNext after Close.
	ErrSourceClosed = errors.SourceClosed("")
)
