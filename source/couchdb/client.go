// Package couchdb claims poster documents from a CouchDB database, feeds
// them to the pump and writes results into the event database.
package couchdb

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/httpclient"
)

// docRef is a selector hit.
type docRef struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev"`
}

type findResponse struct {
	Docs []docRef `json:"docs"`
}

type writeResponse struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

type allDocsResponse struct {
	TotalRows int `json:"total_rows"`
}

// unset matches a field that is missing or null.
func unset(field string) map[string]any {
	return map[string]any{"$not": map[string]any{
		field: map[string]any{"$and": []any{
			map[string]any{"$exists": true},
			map[string]any{"$ne": nil},
		}},
	}}
}

// claimableSelector selects documents that nobody processes, that carry
// the input attachment and that have no event yet.
func claimableSelector(input string) map[string]any {
	return map[string]any{"$and": []any{
		unset(document.KeyOwner),
		map[string]any{"_attachments." + input: map[string]any{"$exists": true}},
		unset(document.KeyEvent),
	}}
}

func docPath(db, id string) string {
	return "/" + url.PathEscape(db) + "/" + url.PathEscape(id)
}

func (s *Source) findNext(ctx context.Context) (docRef, bool, error) {
	var out findResponse
	_, err := s.client.DoJSON(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/" + url.PathEscape(s.cfg.PosterDB) + "/_find",
		Body: map[string]any{
			"selector": claimableSelector(s.input),
			"limit":    1,
			"fields":   []string{document.KeyID, document.KeyRev},
		},
	}, &out)
	if err != nil || len(out.Docs) == 0 {
		return docRef{}, false, err
	}
	return out.Docs[0], true, nil
}

// fetch reads a document. An empty rev reads the latest revision.
// Attachments are returned as stubs.
func (s *Source) fetch(ctx context.Context, db, id, rev string) (*document.Item, error) {
	req := httpclient.Request{Method: http.MethodGet, Path: docPath(db, id)}
	if rev != "" {
		req.Query = map[string]string{"rev": rev}
	}
	it := document.New()
	if _, err := s.client.DoJSON(ctx, req, it); err != nil {
		return nil, err
	}
	return it, nil
}

// put writes it with its current _rev and returns the new revision.
func (s *Source) put(ctx context.Context, db string, it *document.Item) (string, error) {
	var out writeResponse
	_, err := s.client.DoJSON(ctx, httpclient.Request{
		Method: http.MethodPut,
		Path:   docPath(db, it.ID()),
		Body:   it,
	}, &out)
	return out.Rev, err
}

// create posts a document without id and returns the assigned id.
func (s *Source) create(ctx context.Context, db string, it *document.Item) (string, error) {
	var out writeResponse
	_, err := s.client.DoJSON(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/" + url.PathEscape(db),
		Body:   it,
	}, &out)
	return out.ID, err
}

// remove deletes the latest revision of a document.
func (s *Source) remove(ctx context.Context, db, id string) error {
	doc, err := s.fetch(ctx, db, id, "")
	if err != nil {
		return err
	}
	_, err = s.client.Do(ctx, httpclient.Request{
		Method: http.MethodDelete,
		Path:   docPath(db, id),
		Query:  map[string]string{"rev": doc.Rev()},
	})
	return err
}

// attachment downloads an attachment body.
func (s *Source) attachment(ctx context.Context, db, id, name string) (*document.Attachment, error) {
	resp, err := s.client.Do(ctx, httpclient.Request{
		Method:  http.MethodGet,
		Path:    docPath(db, id) + "/" + url.PathEscape(name),
		Headers: map[string]string{"Accept": "*/*"},
	})
	if err != nil {
		return nil, err
	}
	return decodeImage(resp.Headers["Content-Type"], resp.Body)
}

// decodeImage accepts raw image bytes or a base64 data URL
// ("data:image/jpeg;base64,...") as stored by the upload frontend.
func decodeImage(contentType string, body []byte) (*document.Attachment, error) {
	s := string(body)
	if !strings.HasPrefix(s, "data:") {
		return &document.Attachment{ContentType: contentType, Data: body}, nil
	}
	header, payload, _ := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	mime, _, _ := strings.Cut(header, ";")
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, httpclient.NewDecodeError(err)
	}
	if mime == "" {
		mime = contentType
	}
	return &document.Attachment{ContentType: mime, Data: data}, nil
}
