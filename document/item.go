// Package document defines Item, the payload that flows through a chain: a
// JSON metadata tree plus named binary attachments. Items serialize to the
// document-store shape, with attachments under "_attachments".
package document

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Bookkeeping keys read by sources. Stages must not rely on them.
const (
	KeyID    = "_id"
	KeyRev   = "_rev"
	KeyOwner = "processedBy"
	KeyEvent = "event"

	keyAttachments = "_attachments"
)

// Well-known analysis keys.
const (
	KeyText     = "text"
	KeyImages   = "images"
	KeyResult   = "result"
	KeyFilename = "filename"
	KeyTitle    = "title"
)

// Well-known attachment names.
const (
	AttachmentUserImage = "userimage"
	AttachmentOriginal  = "original"
	AttachmentText      = "text"
	AttachmentBest      = "best"
)

// Attachment is a named binary blob. Data is base64 encoded in JSON.
type Attachment struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data,omitempty"`
	Digest      string `json:"digest,omitempty"`
	Length      int    `json:"length,omitempty"`
	Stub        bool   `json:"stub,omitempty"`
}

// Item is the unit of work moving through a chain. An Item is owned by
// exactly one execution step at a time; forks operate on clones.
type Item struct {
	Meta        map[string]any
	Attachments map[string]*Attachment
}

// New returns an empty item.
func New() *Item {
	return &Item{
		Meta:        make(map[string]any),
		Attachments: make(map[string]*Attachment),
	}
}

// FromJSON decodes a document-store JSON document into an Item.
func FromJSON(data []byte) (*Item, error) {
	it := New()
	if err := json.Unmarshal(data, it); err != nil {
		return nil, err
	}
	return it, nil
}

// MarshalJSON renders meta with attachments under "_attachments".
func (it *Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(it.Meta)+1)
	maps.Copy(out, it.Meta)
	delete(out, keyAttachments)
	if len(it.Attachments) > 0 {
		out[keyAttachments] = it.Attachments
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits "_attachments" out of the metadata tree.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("document: %w", err)
	}
	it.Meta = make(map[string]any, len(raw))
	it.Attachments = make(map[string]*Attachment)
	for k, v := range raw {
		if k == keyAttachments {
			if err := json.Unmarshal(v, &it.Attachments); err != nil {
				return fmt.Errorf("document: attachments: %w", err)
			}
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("document: field %s: %w", k, err)
		}
		it.Meta[k] = val
	}
	return nil
}

// Clone returns a deep copy that shares no mutable state with it.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	c := &Item{
		Meta:        cloneMap(it.Meta),
		Attachments: make(map[string]*Attachment, len(it.Attachments)),
	}
	for name, a := range it.Attachments {
		c.Attachments[name] = a.clone()
	}
	return c
}

// CopyFrom replaces the contents of it with those of other, in place.
func (it *Item) CopyFrom(other *Item) {
	it.Meta = other.Meta
	it.Attachments = other.Attachments
}

func (a *Attachment) clone() *Attachment {
	if a == nil {
		return nil
	}
	c := *a
	if a.Data != nil {
		c.Data = append([]byte(nil), a.Data...)
	}
	return &c
}

// Get returns a top-level meta value.
func (it *Item) Get(key string) (any, bool) {
	v, ok := it.Meta[key]
	return v, ok
}

// Set sets a top-level meta value.
func (it *Item) Set(key string, value any) {
	if it.Meta == nil {
		it.Meta = make(map[string]any)
	}
	it.Meta[key] = value
}

// Delete removes top-level meta keys.
func (it *Item) Delete(keys ...string) {
	for _, k := range keys {
		delete(it.Meta, k)
	}
}

// String returns a top-level string value, or "" if absent or not a string.
func (it *Item) String(key string) string {
	s, _ := it.Meta[key].(string)
	return s
}

// Has reports whether key is present and not null.
func (it *Item) Has(key string) bool {
	v, ok := it.Meta[key]
	return ok && v != nil
}

// ID returns the document id, if any.
func (it *Item) ID() string { return it.String(KeyID) }

// Rev returns the version token, if any.
func (it *Item) Rev() string { return it.String(KeyRev) }

// SetRev records a new version token.
func (it *Item) SetRev(rev string) { it.Set(KeyRev, rev) }

// Owner returns the claim owner tag, if any.
func (it *Item) Owner() string { return it.String(KeyOwner) }

// Attachment returns the named attachment or nil.
func (it *Item) Attachment(name string) *Attachment {
	return it.Attachments[name]
}

// SetAttachment stores an attachment.
func (it *Item) SetAttachment(name string, a *Attachment) {
	if it.Attachments == nil {
		it.Attachments = make(map[string]*Attachment)
	}
	it.Attachments[name] = a
}

// AddImage stores a produced image and lists it under meta "images".
func (it *Item) AddImage(name string, a *Attachment) {
	it.SetAttachment(name, a)
	images, _ := it.Meta[KeyImages].(map[string]any)
	if images == nil {
		images = make(map[string]any)
		it.Set(KeyImages, images)
	}
	images[name] = name
}

// HasImage reports whether meta "images" lists name.
func (it *Item) HasImage(name string) bool {
	images, _ := it.Meta[KeyImages].(map[string]any)
	_, ok := images[name]
	return ok
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneMap(e)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
