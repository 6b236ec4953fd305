package couchdb

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/postersafari/postr-engine/config"
	"github.com/postersafari/postr-engine/document"
)

// fakeCouch is an in-process CouchDB good enough for the claim protocol:
// _find on the claimable selector, revision-checked PUT and DELETE, POST,
// _all_docs and attachment downloads.
type fakeCouch struct {
	mu    sync.Mutex
	dbs   map[string]map[string]*document.Item
	order map[string][]string
	seq   int

	// failWith answers every request with this status when nonzero.
	failWith int
	// afterFind runs once, after a _find request found a document.
	afterFind func(id string)
	// beforePut runs once, before a PUT is applied.
	beforePut func(id string)
	// jwtSecret makes every request require a valid bearer token.
	jwtSecret []byte

	writes   int
	requests int
}

func newFakeCouch(t *testing.T) (*fakeCouch, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fakeCouch{
		dbs:   map[string]map[string]*document.Item{"poster": {}, "event": {}},
		order: map[string][]string{},
	}
	r := gin.New()
	r.Any("/*path", f.serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeCouch) config(url string) config.CouchDBConfig {
	cfg := config.SourceConfig{Kind: config.SourceCouchDB, CouchDB: config.CouchDBConfig{URL: url, MaxRetries: 1, MaxFailures: 2}}
	cfg.ApplyDefaults()
	return cfg.CouchDB
}

// seed stores a poster whose userimage attachment holds a data URL.
func (f *fakeCouch) seed(id string, fields map[string]any) {
	it := document.New()
	it.Set(document.KeyID, id)
	for k, v := range fields {
		it.Set(k, v)
	}
	it.SetAttachment(document.AttachmentUserImage, &document.Attachment{
		ContentType: "text/plain",
		Data:        []byte("data:image/jpeg;base64,/9j/AQID"),
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store("poster", it)
}

func (f *fakeCouch) doc(db, id string) *document.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.dbs[db][id]; ok {
		return d.Clone()
	}
	return nil
}

// bump rewrites a document, as another client would.
func (f *fakeCouch) bump(db, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.dbs[db][id].Clone()
	d.Set(document.KeyOwner, "intruder")
	f.store(db, d)
}

func (f *fakeCouch) store(db string, it *document.Item) string {
	f.seq++
	rev := fmt.Sprintf("%d-%x", f.seq, f.seq)
	it.SetRev(rev)
	if _, ok := f.dbs[db][it.ID()]; !ok {
		f.order[db] = append(f.order[db], it.ID())
	}
	f.dbs[db][it.ID()] = it
	return rev
}

func (f *fakeCouch) serve(c *gin.Context) {
	f.mu.Lock()
	f.requests++
	fail, secret := f.failWith, f.jwtSecret
	f.mu.Unlock()

	if fail != 0 {
		c.JSON(fail, gin.H{"error": "unavailable"})
		return
	}
	if secret != nil && !validToken(c.GetHeader("Authorization"), secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	parts := strings.Split(strings.Trim(c.Param("path"), "/"), "/")
	db := parts[0]
	if _, ok := f.dbs[db]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": "Database does not exist."})
		return
	}

	switch {
	case len(parts) == 1 && c.Request.Method == http.MethodPost:
		f.create(c, db)
	case len(parts) == 2 && parts[1] == "_find":
		f.find(c, db)
	case len(parts) == 2 && parts[1] == "_all_docs":
		f.mu.Lock()
		n := len(f.dbs[db])
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"total_rows": n, "offset": 0, "rows": []any{}})
	case len(parts) == 2 && c.Request.Method == http.MethodGet:
		f.get(c, db, parts[1])
	case len(parts) == 2 && c.Request.Method == http.MethodPut:
		f.put(c, db, parts[1])
	case len(parts) == 2 && c.Request.Method == http.MethodDelete:
		f.remove(c, db, parts[1])
	case len(parts) == 3 && c.Request.Method == http.MethodGet:
		f.getAttachment(c, db, parts[1], parts[2])
	default:
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method_not_allowed"})
	}
}

func validToken(header string, secret []byte) bool {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err == nil
}

func (f *fakeCouch) find(c *gin.Context, db string) {
	var body struct {
		Selector map[string]any `json:"selector"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Selector == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	f.mu.Lock()
	var hit *document.Item
	for _, id := range f.order[db] {
		d := f.dbs[db][id]
		if !d.Has(document.KeyOwner) && !d.Has(document.KeyEvent) && d.Attachment(document.AttachmentUserImage) != nil {
			hit = d
			break
		}
	}
	after := f.afterFind
	f.afterFind = nil
	f.mu.Unlock()

	docs := []gin.H{}
	if hit != nil {
		docs = append(docs, gin.H{"_id": hit.ID(), "_rev": hit.Rev()})
	}
	c.JSON(http.StatusOK, gin.H{"docs": docs})
	if hit != nil && after != nil {
		after(hit.ID())
	}
}

func (f *fakeCouch) get(c *gin.Context, db, id string) {
	f.mu.Lock()
	d, ok := f.dbs[db][id]
	if ok {
		d = d.Clone()
	}
	f.mu.Unlock()
	if !ok || (c.Query("rev") != "" && c.Query("rev") != d.Rev()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": "missing"})
		return
	}
	for name, a := range d.Attachments {
		d.Attachments[name] = &document.Attachment{ContentType: a.ContentType, Length: len(a.Data), Digest: "md5-fake", Stub: true}
	}
	c.JSON(http.StatusOK, d)
}

func (f *fakeCouch) getAttachment(c *gin.Context, db, id, name string) {
	f.mu.Lock()
	d, ok := f.dbs[db][id]
	var a *document.Attachment
	if ok {
		a = d.Attachment(name)
	}
	f.mu.Unlock()
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Data(http.StatusOK, a.ContentType, a.Data)
}

func (f *fakeCouch) put(c *gin.Context, db, id string) {
	f.mu.Lock()
	hook := f.beforePut
	f.beforePut = nil
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	raw, _ := c.GetRawData()
	it, err := document.FromJSON(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	it.Set(document.KeyID, id)

	f.mu.Lock()
	defer f.mu.Unlock()
	cur, exists := f.dbs[db][id]
	if (exists && cur.Rev() != it.Rev()) || (!exists && it.Rev() != "") {
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "reason": "Document update conflict."})
		return
	}
	for name, a := range it.Attachments {
		if a.Stub && exists && cur.Attachment(name) != nil {
			it.Attachments[name] = cur.Attachment(name)
		}
	}
	f.writes++
	rev := f.store(db, it)
	c.JSON(http.StatusCreated, gin.H{"ok": true, "id": id, "rev": rev})
}

func (f *fakeCouch) remove(c *gin.Context, db, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.dbs[db][id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "reason": "missing"})
		return
	}
	if cur.Rev() != c.Query("rev") {
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "reason": "Document update conflict."})
		return
	}
	delete(f.dbs[db], id)
	order := f.order[db][:0]
	for _, o := range f.order[db] {
		if o != id {
			order = append(order, o)
		}
	}
	f.order[db] = order
	f.writes++
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id})
}

func (f *fakeCouch) create(c *gin.Context, db string) {
	raw, _ := c.GetRawData()
	it, err := document.FromJSON(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	if it.ID() == "" {
		it.Set(document.KeyID, uuid.NewString())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	rev := f.store(db, it)
	c.JSON(http.StatusCreated, gin.H{"ok": true, "id": it.ID(), "rev": rev})
}

func (f *fakeCouch) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}
