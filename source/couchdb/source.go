package couchdb

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/httpclient"
	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/pipeline"
	"github.com/postersafari/postr-engine/resilience"
	"github.com/postersafari/postr-engine/source"
)

// Option configures a Source.
type Option func(*Source)

// WithDryRun claims nothing and writes nothing; documents are only read.
func WithDryRun(dry bool) Option { return func(s *Source) { s.dryRun = dry } }

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option { return func(s *Source) { s.log = l } }

// WithInput sets the attachment a poster needs to be claimable. Defaults
// to document.AttachmentUserImage.
func WithInput(name string) Option { return func(s *Source) { s.input = name } }

// Source is one engine's connection to the poster and event databases.
type Source struct {
	client *httpclient.Client
	cfg    config.CouchDBConfig
	owner  string
	input  string
	dryRun bool
	log    *logger.Logger
	closed atomic.Bool
}

var (
	_ pipeline.Source  = (*Source)(nil)
	_ pipeline.Getter  = (*Source)(nil)
	_ pipeline.Claimer = (*Source)(nil)
)

// New connects lazily to the CouchDB at cfg.URL. Claims are written with
// owner as the owner tag.
func New(cfg config.CouchDBConfig, owner string, opts ...Option) (*Source, error) {
	s := &Source{cfg: cfg, owner: owner, input: document.AttachmentUserImage, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("couchdb").WithFields(logger.Fields(logger.FieldEngineID, owner))

	retry := httpclient.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries + 1
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.log.Debug("retrying request", logger.Fields("attempt", attempt, "wait_ms", wait.Milliseconds(), logger.FieldError, err.Error()))
	}
	breaker := httpclient.DefaultCircuitBreakerConfig("couchdb")
	breaker.MaxFailures = cfg.MaxFailures
	breaker.Timeout = cfg.ResetTimeout
	breaker.OnStateChange = func(name string, from, to resilience.State) {
		s.log.Warn("connection state changed", logger.Fields("from", from.String(), "to", to.String()))
	}

	hc := httpclient.Config{
		BaseURL:        cfg.URL,
		Timeout:        cfg.Timeout,
		Auth:           authFor(cfg, owner),
		Headers:        map[string]string{"Referer": cfg.URL + "/" + url.PathEscape(cfg.PosterDB)},
		Retry:          retry,
		CircuitBreaker: breaker,
	}
	if cfg.RequestsPerSecond > 0 {
		hc.RateLimiter = &resilience.RateLimiterConfig{Name: "couchdb", Rate: cfg.RequestsPerSecond}
	}
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, err
	}
	s.client = client
	s.log.Info("engine connected", logger.Fields("url", cfg.URL, "poster_db", cfg.PosterDB, "event_db", cfg.EventDB, "dry_run", s.dryRun))
	return s, nil
}

func authFor(cfg config.CouchDBConfig, owner string) *httpclient.AuthConfig {
	switch {
	case cfg.JWTSecret != "":
		subject := cfg.Username
		if subject == "" {
			subject = owner
		}
		return httpclient.JWTAuth(subject, []byte(cfg.JWTSecret), cfg.JWTRoles...)
	case cfg.Username != "":
		return httpclient.BasicAuth(cfg.Username, cfg.Password)
	default:
		return nil
	}
}

// Owner returns the owner tag written into claimed documents.
func (s *Source) Owner() string { return s.owner }

// TakeNext selects the first claimable poster, claims it with a
// conditional write and downloads its input image as the "original"
// attachment.
func (s *Source) TakeNext(ctx context.Context) (*document.Item, error) {
	if s.closed.Load() {
		return nil, pipeline.ErrSourceClosed
	}

	ref, found, err := s.findNext(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pipeline.ErrNoItem
	}
	s.log.Debug("fetching document", logger.Fields(logger.FieldItemID, ref.ID))

	doc, err := s.fetch(ctx, s.cfg.PosterDB, ref.ID, ref.Rev)
	if httpclient.IsNotFound(err) {
		return nil, errors.ClaimLost(ref.ID)
	}
	if err != nil {
		return nil, err
	}

	claimed := source.Claim(doc, s.owner)
	if !s.dryRun {
		rev, err := s.put(ctx, s.cfg.PosterDB, claimed)
		if httpclient.IsConflict(err) {
			return nil, errors.ClaimLost(ref.ID)
		}
		if err != nil {
			return nil, err
		}
		claimed.SetRev(rev)
	}

	img, err := s.attachment(ctx, s.cfg.PosterDB, ref.ID, s.input)
	if err != nil {
		if relErr := s.HandleError(ctx, claimed); relErr != nil {
			s.log.WithError(relErr).Warn("releasing item failed", logger.Fields(logger.FieldItemID, ref.ID))
		}
		return nil, err
	}
	claimed.AddImage(document.AttachmentOriginal, img)
	s.log.Info("claimed", logger.Fields(logger.FieldItemID, ref.ID))
	return claimed, nil
}

// Count returns the number of documents in the poster database.
func (s *Source) Count(ctx context.Context) (int, error) {
	var out allDocsResponse
	_, err := s.client.DoJSON(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   "/" + url.PathEscape(s.cfg.PosterDB) + "/_all_docs",
		Query:  map[string]string{"limit": "0"},
	}, &out)
	return out.TotalRows, err
}

func (s *Source) IsOpen() bool { return !s.closed.Load() }

// IsHealthy is false while the connection breaker is open.
func (s *Source) IsHealthy() bool {
	return s.client.CircuitBreaker().State() != resilience.StateOpen
}

// RetryAt returns when an unhealthy source lets requests through again.
func (s *Source) RetryAt() time.Time { return s.client.CircuitBreaker().RetryAt() }

func (s *Source) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.log.Info("closing engine")
	}
	return nil
}

// HandleResult creates or updates the event for the item and links it
// from the poster. Nothing is written unless the poster is still claimed by
// this engine; an event created for a poster that is lost at link time is
// deleted again.
func (s *Source) HandleResult(ctx context.Context, item *document.Item) error {
	if s.dryRun {
		return nil
	}
	stored, err := s.fetch(ctx, s.cfg.PosterDB, item.ID(), "")
	if err != nil {
		return err
	}
	if !source.OwnedBy(stored, s.owner) {
		return errors.ClaimLost(item.ID())
	}

	ev := source.Event(item)
	created := ev.ID() == ""
	eventID, err := s.writeEvent(ctx, ev)
	if err != nil {
		return err
	}
	if _, err := s.put(ctx, s.cfg.PosterDB, source.Finished(stored, eventID)); err != nil {
		s.log.WithError(err).Error("failed uploading results", logger.Fields(logger.FieldItemID, item.ID()))
		if created {
			if rmErr := s.remove(ctx, s.cfg.EventDB, eventID); rmErr != nil {
				s.log.WithError(rmErr).Warn("orphaned event", logger.Fields("event", eventID))
			}
		}
		if httpclient.IsConflict(err) {
			return errors.ClaimLost(item.ID())
		}
		return err
	}
	s.log.Info("finished processing", logger.Fields(logger.FieldItemID, item.ID(), "event", eventID))
	return nil
}

func (s *Source) writeEvent(ctx context.Context, ev *document.Item) (string, error) {
	if ev.ID() == "" {
		return s.create(ctx, s.cfg.EventDB, ev)
	}
	current, err := s.fetch(ctx, s.cfg.EventDB, ev.ID(), "")
	switch {
	case httpclient.IsNotFound(err):
	case err != nil:
		return "", err
	default:
		ev.SetRev(current.Rev())
	}
	if _, err := s.put(ctx, s.cfg.EventDB, ev); err != nil {
		return "", err
	}
	return ev.ID(), nil
}

// HandleError removes the claim so another engine picks the poster up.
// Posters this engine does not own are left alone.
func (s *Source) HandleError(ctx context.Context, item *document.Item) error {
	if s.dryRun || item.ID() == "" {
		return nil
	}
	s.log.Info("signalling other engines", logger.Fields(logger.FieldItemID, item.ID()))

	stored, err := s.fetch(ctx, s.cfg.PosterDB, item.ID(), "")
	if httpclient.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !source.OwnedBy(stored, s.owner) {
		return nil
	}
	if _, err := s.put(ctx, s.cfg.PosterDB, source.Released(stored)); err != nil {
		return err
	}
	s.log.Info("released", logger.Fields(logger.FieldItemID, item.ID()))
	return nil
}

// Get fetches a poster by id without claiming it and downloads its input
// image as the "original" attachment.
func (s *Source) Get(ctx context.Context, id string) (*document.Item, error) {
	doc, err := s.fetch(ctx, s.cfg.PosterDB, id, "")
	if httpclient.IsNotFound(err) {
		return nil, errors.NotFound("poster", id)
	}
	if err != nil {
		return nil, err
	}
	img, err := s.attachment(ctx, s.cfg.PosterDB, id, s.input)
	if err != nil {
		return nil, err
	}
	doc.Attachments = make(map[string]*document.Attachment)
	doc.AddImage(document.AttachmentOriginal, img)
	return doc, nil
}

// Claim claims the poster with the given id for this engine and downloads
// its input image as the "original" attachment.
func (s *Source) Claim(ctx context.Context, id string) (*document.Item, error) {
	if s.closed.Load() {
		return nil, pipeline.ErrSourceClosed
	}
	doc, err := s.fetch(ctx, s.cfg.PosterDB, id, "")
	if httpclient.IsNotFound(err) {
		return nil, errors.NotFound("poster", id)
	}
	if err != nil {
		return nil, err
	}
	stored, work, err := source.Reclaim(doc, s.owner)
	if err != nil {
		return nil, err
	}
	if !s.dryRun {
		rev, err := s.put(ctx, s.cfg.PosterDB, stored)
		if httpclient.IsConflict(err) {
			return nil, errors.ClaimLost(id)
		}
		if err != nil {
			return nil, err
		}
		work.SetRev(rev)
	}

	img, err := s.attachment(ctx, s.cfg.PosterDB, id, s.input)
	if err != nil {
		if relErr := s.HandleError(ctx, work); relErr != nil {
			s.log.WithError(relErr).Warn("releasing item failed", logger.Fields(logger.FieldItemID, id))
		}
		return nil, err
	}
	work.Attachments = make(map[string]*document.Attachment)
	work.AddImage(document.AttachmentOriginal, img)
	s.log.Info("claimed by id", logger.Fields(logger.FieldItemID, id))
	return work, nil
}
