package resilience

import (
	"context"
	"time"

	"github.com/postersafari/postr-engine/errors"
)

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	// Name identifies the bulkhead in errors.
	Name string
	// MaxConcurrent is the number of calls allowed at once.
	MaxConcurrent int
	// MaxWait bounds how long a call waits for a slot. Zero waits until
	// the context is done.
	MaxWait time.Duration
}

// Bulkhead bounds the number of concurrent calls into a shared resource,
// such as plugin subprocesses started by different stage instances.
type Bulkhead struct {
	config BulkheadConfig
	sem    chan struct{}
}

// NewBulkhead creates a bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	return &Bulkhead{config: config, sem: make(chan struct{}, config.MaxConcurrent)}
}

// Execute runs fn while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	release, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Acquire takes a slot and returns the function that gives it back. It
// fails with BULKHEAD_FULL after MaxWait, or with ctx's error.
func (b *Bulkhead) Acquire(ctx context.Context) (release func(), err error) {
	var timeout <-chan time.Time
	if b.config.MaxWait > 0 {
		timer := time.NewTimer(b.config.MaxWait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case b.sem <- struct{}{}:
		return func() { <-b.sem }, nil
	case <-timeout:
		return nil, errors.BulkheadFull(b.config.Name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InUse returns the number of slots held.
func (b *Bulkhead) InUse() int { return len(b.sem) }

// MaxConcurrent returns the number of slots.
func (b *Bulkhead) MaxConcurrent() int { return b.config.MaxConcurrent }
