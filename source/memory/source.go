package memory

import (
	"context"
	"sync/atomic"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/pipeline"
	"github.com/postersafari/postr-engine/source"
)

// Option configures a Source.
type Option func(*Source)

// WithInput sets the attachment a document needs to be claimable.
// Defaults to document.AttachmentOriginal.
func WithInput(name string) Option { return func(s *Source) { s.input = name } }

// WithDryRun makes the source claim items in memory only and never write.
func WithDryRun(dry bool) Option { return func(s *Source) { s.dryRun = dry } }

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option { return func(s *Source) { s.log = l } }

// Source is one engine's handle on a Backlog.
type Source struct {
	backlog *Backlog
	owner   string
	input   string
	dryRun  bool
	log     *logger.Logger
	closed  atomic.Bool

	// beforeClaim runs between selecting and claiming a document.
	beforeClaim func(id string)
}

var (
	_ pipeline.Source  = (*Source)(nil)
	_ pipeline.Getter  = (*Source)(nil)
	_ pipeline.Claimer = (*Source)(nil)
)

// NewSource returns a handle that claims documents under owner.
func NewSource(b *Backlog, owner string, opts ...Option) *Source {
	s := &Source{backlog: b, owner: owner, input: document.AttachmentOriginal, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("memory").WithFields(logger.Fields(logger.FieldEngineID, owner))
	return s
}

// Owner returns the owner tag written into claimed documents.
func (s *Source) Owner() string { return s.owner }

func (s *Source) TakeNext(ctx context.Context) (*document.Item, error) {
	if s.closed.Load() {
		return nil, pipeline.ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, ok := s.backlog.Find(func(d *document.Item) bool { return source.Claimable(d, s.input) })
	if !ok {
		return nil, pipeline.ErrNoItem
	}
	if s.beforeClaim != nil {
		s.beforeClaim(doc.ID())
	}

	claimed := source.Claim(doc, s.owner)
	if s.dryRun {
		return claimed, nil
	}
	rev, err := s.backlog.Update(claimed)
	switch {
	case errors.CodeOf(err) == errors.ErrCodeConflict:
		return nil, errors.ClaimLost(doc.ID())
	case err != nil:
		return nil, err
	}
	claimed.SetRev(rev)
	s.log.Debug("claimed", logger.Fields(logger.FieldItemID, doc.ID()))
	return claimed, nil
}

// Count returns the number of documents in the backlog.
func (s *Source) Count(context.Context) (int, error) { return s.backlog.Len(), nil }

func (s *Source) IsOpen() bool    { return !s.closed.Load() }
func (s *Source) IsHealthy() bool { return true }

func (s *Source) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.log.Info("closed")
	}
	return nil
}

// HandleResult stores the item's result as an event and marks the
// document as finished.
func (s *Source) HandleResult(_ context.Context, item *document.Item) error {
	if s.dryRun {
		return nil
	}
	stored, err := s.backlog.Get(item.ID())
	if err != nil {
		return err
	}
	if !source.OwnedBy(stored, s.owner) || stored.Rev() != item.Rev() {
		return errors.ClaimLost(item.ID())
	}

	eventID := s.backlog.PutEvent(source.Event(item))
	if _, err := s.backlog.Update(source.Finished(stored, eventID)); err != nil {
		return err
	}
	s.log.Info("finished processing", logger.Fields(logger.FieldItemID, item.ID(), "event", eventID))
	return nil
}

// HandleError releases the claim. Documents not claimed by this engine are
// left alone.
func (s *Source) HandleError(_ context.Context, item *document.Item) error {
	if s.dryRun || item.ID() == "" {
		return nil
	}
	stored, err := s.backlog.Get(item.ID())
	if err != nil {
		return err
	}
	if !source.OwnedBy(stored, s.owner) {
		return nil
	}
	if _, err := s.backlog.Update(source.Released(stored)); err != nil {
		return err
	}
	s.log.Info("released", logger.Fields(logger.FieldItemID, item.ID()))
	return nil
}

// Get returns a document by id without claiming it.
func (s *Source) Get(_ context.Context, id string) (*document.Item, error) {
	return s.backlog.Get(id)
}

// Claim claims the document with the given id for this engine.
func (s *Source) Claim(_ context.Context, id string) (*document.Item, error) {
	if s.closed.Load() {
		return nil, pipeline.ErrSourceClosed
	}
	doc, err := s.backlog.Get(id)
	if err != nil {
		return nil, err
	}
	stored, work, err := source.Reclaim(doc, s.owner)
	if err != nil {
		return nil, err
	}
	if s.dryRun {
		return work, nil
	}
	rev, err := s.backlog.Update(stored)
	switch {
	case errors.CodeOf(err) == errors.ErrCodeConflict:
		return nil, errors.ClaimLost(id)
	case err != nil:
		return nil, err
	}
	work.SetRev(rev)
	s.log.Debug("claimed by id", logger.Fields(logger.FieldItemID, id))
	return work, nil
}
