package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/logger"
)

// PumpConfig bounds a Pump.
type PumpConfig struct {
	// MaxInFlight is the maximum number of concurrent runs.
	MaxInFlight int
	// PollInterval is the sleep between checks when saturated or idle.
	PollInterval time.Duration
	// ClaimRetryLimit is how many lost claims in a row are retried
	// without sleeping.
	ClaimRetryLimit int
	// Watch lists stages whose progress is reported while runs are awaited.
	Watch []Stage
}

// PumpConfigFrom derives a PumpConfig from the engine configuration.
func PumpConfigFrom(cfg config.EngineConfig) PumpConfig {
	return PumpConfig{
		MaxInFlight:     cfg.MaxInFlight,
		PollInterval:    cfg.PollInterval,
		ClaimRetryLimit: cfg.ClaimRetryLimit,
	}
}

func (c *PumpConfig) applyDefaults() {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.ClaimRetryLimit < 0 {
		c.ClaimRetryLimit = 0
	}
}

// Pump drains a Source into a Chain with a bounded number of runs in
// flight. Backpressure is polling: when saturated the loop sleeps one poll
// interval and checks again.
type Pump struct {
	sc    *Scheduler
	chain Chain
	src   Source
	cfg   PumpConfig
	log   *logger.Logger

	inFlight   atomic.Int64
	peak       atomic.Int64
	processed  atomic.Int64
	failed     atomic.Int64
	claimsLost atomic.Int64
}

// NewPump creates a pump.
func NewPump(sc *Scheduler, chain Chain, src Source, cfg PumpConfig) *Pump {
	cfg.applyDefaults()
	return &Pump{
		sc:    sc,
		chain: chain,
		src:   src,
		cfg:   cfg,
		log:   sc.Logger().WithComponent("pump"),
	}
}

// InFlight returns the number of runs in flight.
func (p *Pump) InFlight() int { return int(p.inFlight.Load()) }

// Peak returns the highest number of runs that were in flight at once.
func (p *Pump) Peak() int { return int(p.peak.Load()) }

// Processed returns the number of items handed to HandleResult.
func (p *Pump) Processed() int { return int(p.processed.Load()) }

// Failed returns the number of items handed to HandleError.
func (p *Pump) Failed() int { return int(p.failed.Load()) }

// ClaimsLost returns the number of claims lost to other engines.
func (p *Pump) ClaimsLost() int { return int(p.claimsLost.Load()) }

// Run takes items from the source while it is open and healthy and runs
// each through the chain. It stops taking items when ctx is done, the
// scheduler is aborted or the source closes, then waits for the runs in
// flight to be dispatched. It returns ErrAborted after an abort.
func (p *Pump) Run(ctx context.Context) error {
	runCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	lost := 0

	p.log.Info("pump started", logger.Fields("max_in_flight", p.cfg.MaxInFlight))
loop:
	for p.src.IsOpen() && p.src.IsHealthy() && !p.sc.Aborted() && ctx.Err() == nil {
		if p.InFlight() >= p.cfg.MaxInFlight {
			p.sleep(ctx)
			continue
		}

		item, err := p.src.TakeNext(ctx)
		switch {
		case err == nil:
			lost = 0
			p.launch(runCtx, &wg, item)
		case errors.Is(err, ErrClaimLost):
			p.claimsLost.Add(1)
			p.sc.Observer().ClaimLost()
			lost++
			p.log.Debug("claim lost", logger.Fields("attempt", lost))
			if lost > p.cfg.ClaimRetryLimit {
				lost = 0
				p.sleep(ctx)
			}
		case errors.Is(err, ErrNoItem):
			lost = 0
			p.sleep(ctx)
		case errors.Is(err, ErrSourceClosed):
			break loop
		default:
			p.log.Warn("take next failed", logger.ErrorFields("take_next", err))
			p.sleep(ctx)
		}
	}

	wg.Wait()
	p.log.Info("pump stopped", logger.Fields(
		"processed", p.Processed(), "failed", p.Failed(), "claims_lost", p.ClaimsLost()))
	if p.sc.Aborted() {
		return ErrAborted
	}
	return nil
}

func (p *Pump) sleep(ctx context.Context) {
	t := time.NewTimer(p.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-p.sc.AbortCh():
	}
}

func (p *Pump) launch(ctx context.Context, wg *sync.WaitGroup, item *document.Item) {
	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.sc.Observer().InFlight(1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		// The source item stays untouched so a failed run can be released
		// with its claimed fields.
		run := Attach(p.sc, p.chain, item.Clone())
		ok := WaitForFinished(ctx, run, p.cfg.Watch...)

		p.inFlight.Add(-1)
		p.sc.Observer().InFlight(-1)
		p.dispatch(ctx, run, item, ok)
	}()
}

func (p *Pump) dispatch(ctx context.Context, run *Run, claimed *document.Item, ok bool) {
	fields := logger.Fields(logger.FieldRunID, run.ID(), logger.FieldItemID, claimed.ID())
	if ok && !run.Failed() {
		err := p.src.HandleResult(ctx, run.Item())
		if err == nil {
			p.processed.Add(1)
			return
		}
		p.log.WithError(err).Warn("writing result failed", fields)
	} else if !ok {
		p.log.Info("aborted.", fields)
	}

	p.failed.Add(1)
	if err := p.src.HandleError(ctx, claimed); err != nil {
		p.log.WithError(err).Warn("releasing item failed", fields)
	}
}
