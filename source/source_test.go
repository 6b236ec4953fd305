package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
)

func poster(id string) *document.Item {
	it := document.New()
	it.Set(document.KeyID, id)
	it.Set(document.KeyRev, "1-a")
	it.SetAttachment(document.AttachmentUserImage, &document.Attachment{ContentType: "image/jpeg", Data: []byte{1}})
	return it
}

func TestClaimable(t *testing.T) {
	doc := poster("p1")
	assert.True(t, Claimable(doc, document.AttachmentUserImage))
	assert.False(t, Claimable(doc, document.AttachmentOriginal), "missing input")

	claimed := Claim(doc, "engine-a")
	assert.False(t, Claimable(claimed, document.AttachmentUserImage))
	assert.True(t, OwnedBy(claimed, "engine-a"))
	assert.False(t, OwnedBy(claimed, "engine-b"))
	assert.Empty(t, doc.Owner(), "claim works on a copy")

	done := Finished(claimed, "ev1")
	assert.False(t, Claimable(done, document.AttachmentUserImage))
	assert.False(t, OwnedBy(done, "engine-a"))

	doc.Set(document.KeyOwner, nil)
	assert.True(t, Claimable(doc, document.AttachmentUserImage), "null owner is unclaimed")
}

func TestReleased_KeepsPriorFields(t *testing.T) {
	doc := Claim(poster("p1"), "engine-a")
	doc.Set("location", "Berlin")
	doc.Set(document.KeyImages, map[string]any{"original": "original"})

	rel := Released(doc)
	assert.Empty(t, rel.Owner())
	assert.False(t, rel.Has(document.KeyImages))
	assert.Equal(t, "Berlin", rel.String("location"))
	assert.Equal(t, "1-a", rel.Rev())
	assert.NotNil(t, rel.Attachment(document.AttachmentUserImage))
}

func TestEvent(t *testing.T) {
	item := poster("p1")
	item.Set(document.KeyResult, map[string]any{"date": "12.05.2017"})
	item.AddImage(document.AttachmentBest, &document.Attachment{ContentType: "image/jpeg", Data: []byte{9}})

	ev := Event(item)
	assert.Equal(t, DefaultTitle, ev.String(document.KeyTitle))
	assert.Equal(t, "12.05.2017", ev.String("date"))
	assert.Empty(t, ev.ID())
	require.NotNil(t, ev.Attachment(document.AttachmentBest))
	assert.Equal(t, []byte{9}, ev.Attachment(document.AttachmentBest).Data)

	item.Set(document.KeyEvent, "ev7")
	item.Set(document.KeyResult, map[string]any{"title": "Konzert"})
	ev = Event(item)
	assert.Equal(t, "ev7", ev.ID())
	assert.Equal(t, "Konzert", ev.String(document.KeyTitle))
}

func TestEvent_WithoutResult(t *testing.T) {
	ev := Event(poster("p1"))
	assert.Equal(t, DefaultTitle, ev.String(document.KeyTitle))
	assert.Nil(t, ev.Attachment(document.AttachmentBest))
}

func TestNextRev(t *testing.T) {
	r1 := NextRev("", "", 1)
	assert.Regexp(t, `^1-[0-9a-f]{32}$`, r1)
	r2 := NextRev(r1, "engine-a", 2)
	assert.Regexp(t, `^2-[0-9a-f]{32}$`, r2)
	assert.NotEqual(t, r2, NextRev(r1, "engine-b", 2), "owner changes the digest")
	assert.Equal(t, r2, NextRev(r1, "engine-a", 2))
}

func TestReclaim(t *testing.T) {
	stored, work, err := Reclaim(poster("p1"), "engine-a")
	require.NoError(t, err)
	assert.True(t, OwnedBy(stored, "engine-a"))
	assert.Equal(t, "engine-a", work.Owner())

	_, _, err = Reclaim(stored, "engine-b")
	assert.ErrorIs(t, err, errors.ClaimLost("p1"))

	_, _, err = Reclaim(stored, "engine-a")
	assert.NoError(t, err, "an engine may reclaim its own document")

	done := Finished(stored, "ev1")
	stored, work, err = Reclaim(done, "engine-b")
	require.NoError(t, err, "finished documents can be analyzed again")
	assert.False(t, stored.Has(document.KeyEvent))
	assert.True(t, OwnedBy(stored, "engine-b"))
	assert.Equal(t, "ev1", work.String(document.KeyEvent))
}
