// Package source holds the document shapes shared by the backlog adapters
// in its subpackages: which documents are claimable, how a released
// document looks and how a finished item becomes an event.
package source

import (
	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
)

// DefaultTitle is given to events whose analysis found no title.
const DefaultTitle = "Unbekannt"

// Claimable reports whether a stored document may be claimed: it carries
// no owner tag and no event reference, and has the input attachment.
func Claimable(doc *document.Item, input string) bool {
	return !doc.Has(document.KeyOwner) &&
		!doc.Has(document.KeyEvent) &&
		doc.Attachment(input) != nil
}

// Claim returns a copy of doc tagged with owner.
func Claim(doc *document.Item, owner string) *document.Item {
	c := doc.Clone()
	c.Set(document.KeyOwner, owner)
	return c
}

// Reclaim claims doc for an explicit request by id. It fails with
// CLAIM_LOST while another engine holds doc. A finished document is claimed
// again: stored drops the event reference, work keeps it so the existing
// event is updated on completion.
func Reclaim(doc *document.Item, owner string) (stored, work *document.Item, err error) {
	if o := doc.Owner(); o != "" && o != owner && !doc.Has(document.KeyEvent) {
		return nil, nil, errors.ClaimLost(doc.ID())
	}
	stored = Claim(doc, owner)
	stored.Delete(document.KeyEvent)
	return stored, Claim(doc, owner), nil
}

// OwnedBy reports whether doc is currently claimed by owner.
func OwnedBy(doc *document.Item, owner string) bool {
	return doc.Owner() == owner && !doc.Has(document.KeyEvent)
}

// Released returns a copy of stored without the owner tag and analysis
// scratch keys. Every other field is kept.
func Released(stored *document.Item) *document.Item {
	c := stored.Clone()
	c.Delete(document.KeyOwner, document.KeyImages)
	return c
}

// Event builds the event document for a finished item: the item's
// "result" object with a default title and the "best" image attached. If
// the item already references an event, that id is reused.
func Event(item *document.Item) *document.Item {
	ev := document.New()
	if result, ok := item.Meta[document.KeyResult].(map[string]any); ok {
		ev = (&document.Item{Meta: result}).Clone()
	}
	if ev.String(document.KeyTitle) == "" {
		ev.Set(document.KeyTitle, DefaultTitle)
	}
	if best := item.Attachment(document.AttachmentBest); best != nil && item.HasImage(document.AttachmentBest) {
		ev.SetAttachment(document.AttachmentBest, &document.Attachment{
			ContentType: best.ContentType,
			Data:        append([]byte(nil), best.Data...),
		})
	}
	ev.Delete(document.KeyRev)
	if id := item.String(document.KeyEvent); id != "" {
		ev.Set(document.KeyID, id)
	}
	return ev
}

// Finished returns a copy of stored that references eventID.
func Finished(stored *document.Item, eventID string) *document.Item {
	c := stored.Clone()
	c.Set(document.KeyEvent, eventID)
	return c
}
