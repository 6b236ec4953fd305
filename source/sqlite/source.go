package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/logger"
	"github.com/postersafari/postr-engine/pipeline"
	"github.com/postersafari/postr-engine/resilience"
	"github.com/postersafari/postr-engine/source"
)

// DebugPrefix is prepended to table names in debug mode.
const DebugPrefix = "debug_"

// Option configures a Source.
type Option func(*Source)

// WithInput sets the attachment a document needs to be claimable.
// Defaults to document.AttachmentOriginal.
func WithInput(name string) Option { return func(s *Source) { s.input = name } }

// WithDebugTables switches to the debug_ tables.
func WithDebugTables(debug bool) Option {
	return func(s *Source) {
		if debug {
			s.prefix = DebugPrefix
		} else {
			s.prefix = ""
		}
	}
}

// WithDryRun makes the source claim and finish items without writing them
// back. Put still writes.
func WithDryRun(dry bool) Option { return func(s *Source) { s.dryRun = dry } }

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option { return func(s *Source) { s.log = l } }

// Source is a backlog in a SQLite database.
type Source struct {
	db      *sql.DB
	q       tables
	prefix  string
	owner   string
	input   string
	dryRun  bool
	log     *logger.Logger
	breaker *resilience.CircuitBreaker
	closed  atomic.Bool
	seq     atomic.Uint64

	// beforeClaim runs between selecting and claiming a document.
	beforeClaim func(id string)
}

var (
	_ pipeline.Source  = (*Source)(nil)
	_ pipeline.Getter  = (*Source)(nil)
	_ pipeline.Claimer = (*Source)(nil)
)

// Open opens the database at cfg.Path in WAL mode and creates the tables.
func Open(ctx context.Context, cfg config.SQLiteConfig, owner string, opts ...Option) (*Source, error) {
	dsn := cfg.Path
	memory := dsn == ":memory:"
	if !memory {
		dsn = "file:" + cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.DatabaseError(err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.DatabaseError(err)
	}
	if cfg.Input != "" {
		opts = append([]Option{WithInput(cfg.Input)}, opts...)
	}
	s := New(db, owner, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. The tables must exist; see Migrate.
func New(db *sql.DB, owner string, opts ...Option) *Source {
	s := &Source{db: db, owner: owner, input: document.AttachmentOriginal, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.q = newTables(s.prefix)
	s.log = s.log.WithComponent("sqlite").WithFields(logger.Fields(logger.FieldEngineID, owner))

	cb := resilience.DefaultCircuitBreakerConfig("sqlite")
	cb.IsFailure = func(err error) bool { return errors.CodeOf(err) == errors.ErrCodeDatabaseError }
	cb.OnStateChange = func(name string, from, to resilience.State) {
		s.log.Warn("database circuit changed state", logger.Fields("from", from.String(), "to", to.String()))
	}
	s.breaker = resilience.NewCircuitBreaker(cb)
	return s
}

// Migrate creates the tables if they do not exist.
func (s *Source) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q.schema); err != nil {
		return errors.DatabaseError(err)
	}
	return nil
}

// Owner returns the owner tag written into claimed documents.
func (s *Source) Owner() string { return s.owner }

// Put stores doc unconditionally and returns its new revision. A document
// without an id gets a random one.
func (s *Source) Put(ctx context.Context, doc *document.Item) (string, error) {
	c := doc.Clone()
	if c.ID() == "" {
		c.Set(document.KeyID, uuid.NewString())
	}
	rev := source.NextRev(c.Rev(), s.owner, s.seq.Add(1))
	r, err := encode(c, rev)
	if err != nil {
		return "", err
	}
	err = s.guard(func() error {
		_, err := s.db.ExecContext(ctx, s.q.insert, r.id, r.rev, r.owner, r.event, r.attachments, r.body)
		return dbErr(err)
	})
	if err != nil {
		return "", err
	}
	return rev, nil
}

func (s *Source) TakeNext(ctx context.Context) (*document.Item, error) {
	if s.closed.Load() {
		return nil, pipeline.ErrSourceClosed
	}
	var doc *document.Item
	err := s.guard(func() error {
		var id, rev string
		var body []byte
		err := s.db.QueryRowContext(ctx, s.q.next, hasAttachment(s.input)).Scan(&id, &rev, &body)
		if stderrors.Is(err, sql.ErrNoRows) {
			return pipeline.ErrNoItem
		}
		if err != nil {
			return dbErr(err)
		}
		doc, err = decode(id, rev, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.beforeClaim != nil {
		s.beforeClaim(doc.ID())
	}

	claimed := source.Claim(doc, s.owner)
	if s.dryRun {
		return claimed, nil
	}
	rev, err := s.swap(ctx, s.db, claimed, doc.Rev())
	if err != nil {
		return nil, err
	}
	claimed.SetRev(rev)
	s.log.Debug("claimed", logger.Fields(logger.FieldItemID, doc.ID()))
	return claimed, nil
}

// Count returns the number of documents in the backlog.
func (s *Source) Count(ctx context.Context) (int, error) {
	var n int
	err := s.guard(func() error {
		return dbErr(s.db.QueryRowContext(ctx, s.q.count).Scan(&n))
	})
	return n, err
}

func (s *Source) IsOpen() bool { return !s.closed.Load() }

// IsHealthy reports false while repeated database errors hold the circuit
// open.
func (s *Source) IsHealthy() bool { return s.breaker.State() != resilience.StateOpen }

// RetryAt returns when an unhealthy source will accept calls again.
func (s *Source) RetryAt() time.Time { return s.breaker.RetryAt() }

// Close stops claiming and closes the database.
func (s *Source) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.log.Info("closed")
	return s.db.Close()
}

// HandleResult writes the event and marks the document as finished in one
// transaction.
func (s *Source) HandleResult(ctx context.Context, item *document.Item) error {
	if s.dryRun {
		return nil
	}
	ev := source.Event(item)
	if ev.ID() == "" {
		ev.Set(document.KeyID, uuid.NewString())
	}

	err := s.guard(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return dbErr(err)
		}
		defer func() { _ = tx.Rollback() }()

		stored, err := s.load(ctx, tx, s.q.load, item.ID())
		if err != nil {
			return err
		}
		if !source.OwnedBy(stored, s.owner) || stored.Rev() != item.Rev() {
			return errors.ClaimLost(item.ID())
		}
		if err := s.putEvent(ctx, tx, ev); err != nil {
			return err
		}
		if _, err := s.swap(ctx, tx, source.Finished(stored, ev.ID()), stored.Rev()); err != nil {
			return err
		}
		return dbErr(tx.Commit())
	})
	if err != nil {
		return err
	}
	s.log.Info("finished processing", logger.Fields(logger.FieldItemID, item.ID(), "event", ev.ID()))
	return nil
}

// HandleError releases the claim. Documents not claimed by this engine are
// left alone.
func (s *Source) HandleError(ctx context.Context, item *document.Item) error {
	if s.dryRun || item.ID() == "" {
		return nil
	}
	err := s.guard(func() error {
		stored, err := s.load(ctx, s.db, s.q.load, item.ID())
		if errors.CodeOf(err) == errors.ErrCodeNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if !source.OwnedBy(stored, s.owner) {
			return nil
		}
		_, err = s.swap(ctx, s.db, source.Released(stored), stored.Rev())
		return err
	})
	if err != nil {
		return err
	}
	s.log.Info("released", logger.Fields(logger.FieldItemID, item.ID()))
	return nil
}

// Get returns a document by id without claiming it.
func (s *Source) Get(ctx context.Context, id string) (*document.Item, error) {
	var doc *document.Item
	err := s.guard(func() error {
		var err error
		doc, err = s.load(ctx, s.db, s.q.load, id)
		return err
	})
	return doc, err
}

// Claim claims the document with the given id for this engine.
func (s *Source) Claim(ctx context.Context, id string) (*document.Item, error) {
	if s.closed.Load() {
		return nil, pipeline.ErrSourceClosed
	}
	doc, err := s.Get(ctx, id)
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
	rev, err := s.swap(ctx, s.db, stored, doc.Rev())
	if err != nil {
		return nil, err
	}
	work.SetRev(rev)
	s.log.Debug("claimed by id", logger.Fields(logger.FieldItemID, id))
	return work, nil
}

// Event returns an event document by id.
func (s *Source) Event(ctx context.Context, id string) (*document.Item, error) {
	var ev *document.Item
	err := s.guard(func() error {
		var err error
		ev, err = s.load(ctx, s.db, s.q.loadEv, id)
		return err
	})
	return ev, err
}

// swap writes doc if the stored revision is still prev and returns the
// new revision.
func (s *Source) swap(ctx context.Context, db execer, doc *document.Item, prev string) (string, error) {
	rev := source.NextRev(prev, s.owner, s.seq.Add(1))
	r, err := encode(doc, rev)
	if err != nil {
		return "", err
	}
	res, err := db.ExecContext(ctx, s.q.update, r.rev, r.owner, r.event, r.attachments, r.body, r.id, prev)
	if err != nil {
		return "", dbErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", dbErr(err)
	}
	if n == 0 {
		return "", errors.ClaimLost(r.id)
	}
	return rev, nil
}

func (s *Source) putEvent(ctx context.Context, db execer, ev *document.Item) error {
	prev := ""
	if stored, err := s.load(ctx, db, s.q.loadEv, ev.ID()); err == nil {
		prev = stored.Rev()
	} else if errors.CodeOf(err) != errors.ErrCodeNotFound {
		return err
	}
	r, err := encode(ev, source.NextRev(prev, s.owner, s.seq.Add(1)))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, s.q.upsertEv, r.id, r.rev, r.body)
	return dbErr(err)
}

func (s *Source) load(ctx context.Context, db execer, query, id string) (*document.Item, error) {
	var gotID, rev string
	var body []byte
	err := db.QueryRowContext(ctx, query, id).Scan(&gotID, &rev, &body)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("document", id)
	}
	if err != nil {
		return nil, dbErr(err)
	}
	return decode(gotID, rev, body)
}

func (s *Source) guard(fn func() error) error { return s.breaker.Execute(fn) }

// dbErr classifies driver errors. Context errors pass through unchanged.
func dbErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errors.DatabaseError(err)
	}
}
