// Package sqlite keeps the document backlog in an embedded SQLite
// database. Every write is a compare-and-swap on the revision column, so
// several engines sharing one database file claim each document once.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS %[1]sdocuments (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	rev          TEXT NOT NULL,
	processed_by TEXT,
	event        TEXT,
	attachments  TEXT NOT NULL DEFAULT ',',
	doc          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]sdocuments_open ON %[1]sdocuments (processed_by, event);
CREATE TABLE IF NOT EXISTS %[1]sevents (
	id  TEXT PRIMARY KEY,
	rev TEXT NOT NULL,
	doc TEXT NOT NULL
);`

// tables holds the statements for one table prefix.
type tables struct {
	schema   string
	next     string
	load     string
	count    string
	insert   string
	update   string
	loadEv   string
	upsertEv string
}

func newTables(prefix string) tables {
	docs, events := prefix+"documents", prefix+"events"
	return tables{
		schema: fmt.Sprintf(schema, prefix),
		next: "SELECT id, rev, doc FROM " + docs +
			" WHERE processed_by IS NULL AND event IS NULL AND attachments LIKE ? ORDER BY seq LIMIT 1",
		load:  "SELECT id, rev, doc FROM " + docs + " WHERE id = ?",
		count: "SELECT COUNT(*) FROM " + docs,
		insert: "INSERT INTO " + docs + " (id, rev, processed_by, event, attachments, doc) VALUES (?, ?, ?, ?, ?, ?)" +
			" ON CONFLICT(id) DO UPDATE SET rev = excluded.rev, processed_by = excluded.processed_by," +
			" event = excluded.event, attachments = excluded.attachments, doc = excluded.doc",
		update: "UPDATE " + docs + " SET rev = ?, processed_by = ?, event = ?, attachments = ?, doc = ?" +
			" WHERE id = ? AND rev = ?",
		loadEv: "SELECT id, rev, doc FROM " + events + " WHERE id = ?",
		upsertEv: "INSERT INTO " + events + " (id, rev, doc) VALUES (?, ?, ?)" +
			" ON CONFLICT(id) DO UPDATE SET rev = excluded.rev, doc = excluded.doc",
	}
}

// row is a document as stored: the indexed columns plus the JSON body.
type row struct {
	id          string
	rev         string
	owner       sql.NullString
	event       sql.NullString
	attachments string
	body        []byte
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// encode renders doc under rev.
func encode(doc *document.Item, rev string) (row, error) {
	c := doc.Clone()
	c.SetRev(rev)
	body, err := json.Marshal(c)
	if err != nil {
		return row{}, errors.Internal(err)
	}
	r := row{id: c.ID(), rev: rev, attachments: attachmentList(c), body: body}
	if o := c.Owner(); o != "" {
		r.owner = sql.NullString{String: o, Valid: true}
	}
	if ev := c.String(document.KeyEvent); ev != "" {
		r.event = sql.NullString{String: ev, Valid: true}
	}
	return r, nil
}

// decode restores a document, taking id and rev from their columns.
func decode(id, rev string, body []byte) (*document.Item, error) {
	it, err := document.FromJSON(body)
	if err != nil {
		return nil, errors.Internal(err).WithDetail("id", id)
	}
	it.Set(document.KeyID, id)
	it.SetRev(rev)
	return it, nil
}

// attachmentList renders attachment names as ",a,b," so one LIKE pattern
// matches a whole name.
func attachmentList(doc *document.Item) string {
	names := make([]string, 0, len(doc.Attachments))
	for name := range doc.Attachments {
		names = append(names, name)
	}
	sort.Strings(names)
	return "," + strings.Join(append(names, ""), ",")
}

func hasAttachment(name string) string { return "%," + name + ",%" }
