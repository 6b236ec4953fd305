package pipeline

import "github.com/postersafari/postr-engine/document"

// Status codes reported by stages. Any nonzero value is a failure; stages
// may define their own codes above StatusCanceled.
const (
	StatusOK       = 0
	StatusFailed   = 1
	StatusCanceled = 2
)

// Callback receives the processed item and the activation status.
type Callback func(item *document.Item, status int)

// Stage is one processing unit. A stage instance is reused across runs and
// handles at most one activation at a time.
type Stage interface {
	// Name identifies the stage in logs and progress output.
	Name() string

	// Start begins an activation and returns without waiting for the work.
	// A nil error means the activation was accepted and onDone will be
	// called exactly once. On error onDone is never called.
	Start(item *document.Item, onDone Callback) error

	// Progress is 0 when idle, otherwise 1..100 and non-decreasing during
	// one activation.
	Progress() int

	// Cancel asks the current activation to stop. It is advisory.
	Cancel()

	// Status returns the status of the last completed activation.
	Status() int
}
