// Package memory is an in-process backlog. One Backlog is shared by any
// number of Source handles, each acting as a separate engine with its own
// owner tag, so the claim protocol can be exercised without a database.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/source"
)

// Backlog stores documents in insertion order. Every write produces a new
// revision token; conditional writes fail when the caller's token is stale.
type Backlog struct {
	mu     sync.Mutex
	docs   map[string]*document.Item
	order  []string
	events map[string]*document.Item
	seq    uint64
}

// NewBacklog returns an empty backlog.
func NewBacklog() *Backlog {
	return &Backlog{
		docs:   make(map[string]*document.Item),
		events: make(map[string]*document.Item),
	}
}

// Load adds every *.json file in dir as a document, in file name order. A
// document without "_id" gets its file name without extension. A missing
// dir is an error.
func (b *Backlog) Load(dir string) (int, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("backlog dir: %w", err)
	}
	if !fi.IsDir() {
		return 0, fmt.Errorf("backlog dir: %s is not a directory", dir)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return 0, err
		}
		it, err := document.FromJSON(data)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", p, err)
		}
		if it.ID() == "" {
			it.Set(document.KeyID, strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)))
		}
		b.Put(it)
	}
	return len(paths), nil
}

// Put stores a copy of it unconditionally and returns the new revision.
// A missing id is generated.
func (b *Backlog) Put(it *document.Item) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := it.Clone()
	if c.ID() == "" {
		c.Set(document.KeyID, uuid.NewString())
	}
	prev := ""
	if stored, ok := b.docs[c.ID()]; ok {
		prev = stored.Rev()
	} else {
		b.order = append(b.order, c.ID())
	}
	return b.store(c, prev)
}

// Update stores a copy of it if its revision matches the stored one and
// returns the new revision. A stale revision yields a CONFLICT error.
func (b *Backlog) Update(it *document.Item) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.docs[it.ID()]
	if !ok {
		return "", errors.NotFound("document", it.ID())
	}
	if stored.Rev() != it.Rev() {
		return "", errors.Conflict("document update conflict").WithDetail("id", it.ID())
	}
	return b.store(it.Clone(), stored.Rev()), nil
}

// Get returns a copy of the stored document.
func (b *Backlog) Get(id string) (*document.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.docs[id]
	if !ok {
		return nil, errors.NotFound("document", id)
	}
	return stored.Clone(), nil
}

// Len returns the number of documents.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Find returns a copy of the first document, in insertion order, that
// match accepts.
func (b *Backlog) Find(match func(*document.Item) bool) (*document.Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.order {
		if doc := b.docs[id]; match(doc) {
			return doc.Clone(), true
		}
	}
	return nil, false
}

// PutEvent creates or replaces an event document and returns its id.
func (b *Backlog) PutEvent(ev *document.Item) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := ev.Clone()
	if c.ID() == "" {
		c.Set(document.KeyID, uuid.NewString())
	}
	prev := ""
	if stored, ok := b.events[c.ID()]; ok {
		prev = stored.Rev()
	}
	b.seq++
	c.SetRev(source.NextRev(prev, c.ID(), b.seq))
	b.events[c.ID()] = c
	return c.ID()
}

// Event returns a copy of an event document.
func (b *Backlog) Event(id string) (*document.Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.events[id]
	if !ok {
		return nil, false
	}
	return ev.Clone(), true
}

func (b *Backlog) store(c *document.Item, prev string) string {
	b.seq++
	rev := source.NextRev(prev, c.Owner(), b.seq)
	c.SetRev(rev)
	b.docs[c.ID()] = c
	return rev
}
