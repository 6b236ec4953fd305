package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postersafari/postr-engine/document"
	"github.com/postersafari/postr-engine/errors"
	"github.com/postersafari/postr-engine/pipeline"
	"github.com/postersafari/postr-engine/source"
)

func poster(id string) *document.Item {
	it := document.New()
	it.Set(document.KeyID, id)
	it.Set("location", "Berlin")
	it.SetAttachment(document.AttachmentOriginal, &document.Attachment{ContentType: "image/jpeg", Data: []byte{1, 2}})
	return it
}

func TestTakeNext_ClaimsInOrder(t *testing.T) {
	b := NewBacklog()
	b.Put(poster("p1"))
	b.Put(poster("p2"))
	s := NewSource(b, "engine-a")

	it, err := s.TakeNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", it.ID())
	assert.Equal(t, "engine-a", it.Owner())

	stored, err := b.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "engine-a", stored.Owner())
	assert.Equal(t, stored.Rev(), it.Rev(), "claimed item carries the new revision")
	assert.Regexp(t, `^2-[0-9a-f]{32}$`, stored.Rev())

	it, err = s.TakeNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p2", it.ID())

	_, err = s.TakeNext(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrNoItem)
}

func TestTakeNext_SkipsDocumentsWithoutInput(t *testing.T) {
	b := NewBacklog()
	bare := document.New()
	bare.Set(document.KeyID, "bare")
	b.Put(bare)

	_, err := NewSource(b, "engine-a").TakeNext(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrNoItem)

	_, err = NewSource(b, "engine-a", WithInput("missing")).TakeNext(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrNoItem)
}

func TestTakeNext_LostClaim(t *testing.T) {
	b := NewBacklog()
	b.Put(poster("p1"))
	a := NewSource(b, "engine-a")
	other := NewSource(b, "engine-b")

	var won *document.Item
	a.beforeClaim = func(string) {
		var err error
		won, err = other.TakeNext(context.Background())
		require.NoError(t, err)
	}

	_, err := a.TakeNext(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrClaimLost)
	assert.Equal(t, errors.ErrCodeClaimLost, errors.CodeOf(err))
	require.NotNil(t, won)

	stored, _ := b.Get("p1")
	assert.Equal(t, "engine-b", stored.Owner())
}

func TestTakeNext_ConcurrentClaimsAreExclusive(t *testing.T) {
	b := NewBacklog()
	for i := range 40 {
		b.Put(poster(fmt.Sprintf("p%02d", i)))
	}

	var mu sync.Mutex
	claims := make(map[string]string)
	var wg sync.WaitGroup
	for _, owner := range []string{"e1", "e2", "e3", "e4"} {
		s := NewSource(b, owner)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				it, err := s.TakeNext(context.Background())
				if errors.Is(err, pipeline.ErrNoItem) {
					return
				}
				if errors.Is(err, pipeline.ErrClaimLost) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				prev, dup := claims[it.ID()]
				claims[it.ID()] = owner
				mu.Unlock()
				assert.False(t, dup, "%s claimed by %s and %s", it.ID(), prev, owner)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, claims, 40)
}

func TestHandleResult_WritesEvent(t *testing.T) {
	b := NewBacklog()
	b.Put(poster("p1"))
	s := NewSource(b, "engine-a")

	it, err := s.TakeNext(context.Background())
	require.NoError(t, err)
	it.Set(document.KeyResult, map[string]any{"date": "12.05.2017"})

	require.NoError(t, s.HandleResult(context.Background(), it))

	stored, _ := b.Get("p1")
	eventID := stored.String(document.KeyEvent)
	require.NotEmpty(t, eventID)
	assert.Equal(t, "engine-a", stored.Owner())
	ev, ok := b.Event(eventID)
	require.True(t, ok)
	assert.Equal(t, source.DefaultTitle, ev.String(document.KeyTitle))
	assert.Equal(t, "12.05.2017", ev.String("date"))

	_, err = s.TakeNext(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrNoItem, "finished documents are not claimable")
}

func TestHandleResult_RejectsForeignClaim(t *testing.T) {
	b := NewBacklog()
	b.Put(poster("p1"))
	it, err := NewSource(b, "engine-a").TakeNext(context.Background())
	require.NoError(t, err)

	err = NewSource(b, "engine-b").HandleResult(context.Background(), it)
	assert.ErrorIs(t, err, pipeline.ErrClaimLost)
}

func TestHandleError_ReleasesIdempotently(t *testing.T) {
	b := NewBacklog()
	b.Put(poster("p1"))
	s := NewSource(b, "engine-a")

	it, err := s.TakeNext(context.Background())
	require.NoError(t, err)
	it.Set(document.KeyImages, map[string]any{"original": "original"})

	require.NoError(t, s.HandleError(context.Background(), it))
	stored, _ := b.Get("p1")
	assert.Empty(t, stored.Owner())
	assert.False(t, stored.Has(document.KeyImages))
	assert.Equal(t, "Berlin", stored.String("location"))
	rev := stored.Rev()

	require.NoError(t, s.HandleError(context.Background(), it))
	stored, _ = b.Get("p1")
	assert.Equal(t, rev, stored.Rev(), "second release is a no-op")

	again, err := NewSource(b, "engine-b").TakeNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", again.ID())

	require.NoError(t, s.HandleError(context.Background(), it), "releasing another engine's claim is a no-op")
	stored, _ = b.Get("p1")
	assert.Equal(t, "engine-b", stored.Owner())
}

func TestDryRun_DoesNotWrite(t *testing.T) {
	b := NewBacklog()
	rev := b.Put(poster("p1"))
	s := NewSource(b, "engine-a", WithDryRun(true))

	it, err := s.TakeNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "engine-a", it.Owner())
	require.NoError(t, s.HandleResult(context.Background(), it))
	require.NoError(t, s.HandleError(context.Background(), it))

	stored, _ := b.Get("p1")
	assert.Equal(t, rev, stored.Rev())
	assert.Empty(t, stored.Owner())
}

func TestClose(t *testing.T) {
	s := NewSource(NewBacklog(), "engine-a")
	assert.True(t, s.IsOpen())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.IsOpen())
	_, err := s.TakeNext(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrSourceClosed)
}

func TestBacklog_Load(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"),
		[]byte(`{"_attachments":{"original":{"content_type":"image/png","data":"AQI="}}}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"_id":"first"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	b := NewBacklog()
	n, err := b.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s := NewSource(b, "engine-a")
	count, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	it, err := s.TakeNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", it.ID(), "only b has the input attachment")

	got, err := s.Get(context.Background(), "first")
	require.NoError(t, err)
	assert.Equal(t, "first", got.ID())
}

func TestTwoPumpsShareOneItem(t *testing.T) {
	b := NewBacklog()
	b.Put(poster("p1"))

	var mu sync.Mutex
	seen := 0
	newPump := func(owner string) (*pipeline.Pump, *Source) {
		sc := pipeline.NewScheduler()
		mark := pipeline.NewAsyncStage(sc, "mark", func(_ context.Context, a *pipeline.Activation) int {
			mu.Lock()
			seen++
			mu.Unlock()
			a.Item().Set(document.KeyResult, map[string]any{"title": owner})
			return pipeline.StatusOK
		})
		src := NewSource(b, owner)
		return pipeline.NewPump(sc, pipeline.New().Then(mark).Build(), src, pipeline.PumpConfig{
			MaxInFlight:  1,
			PollInterval: 5 * time.Millisecond,
		}), src
	}
	p1, s1 := newPump("engine-a")
	p2, s2 := newPump("engine-b")

	var wg sync.WaitGroup
	for _, p := range []*pipeline.Pump{p1, p2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Run(context.Background()))
		}()
	}

	require.Eventually(t, func() bool {
		stored, _ := b.Get("p1")
		return stored.Has(document.KeyEvent)
	}, 2*time.Second, 5*time.Millisecond)
	_, err := NewSource(b, "engine-c").TakeNext(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrNoItem)

	s1.Close()
	s2.Close()
	wg.Wait()

	assert.Equal(t, 1, p1.Processed()+p2.Processed())
	assert.Equal(t, 0, p1.Failed()+p2.Failed())
	assert.Equal(t, 1, seen)
}

func TestClaim_ByIDThenReanalyze(t *testing.T) {
	ctx := context.Background()
	b := NewBacklog()
	b.Put(poster("p1"))
	s := NewSource(b, "engine-a")

	it, err := s.Claim(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "engine-a", it.Owner())
	_, err = NewSource(b, "engine-b").Claim(ctx, "p1")
	assert.ErrorIs(t, err, pipeline.ErrClaimLost)

	it.Set(document.KeyResult, map[string]any{"title": "Konzert"})
	require.NoError(t, s.HandleResult(ctx, it))
	eventID := func() string {
		stored, err := b.Get("p1")
		require.NoError(t, err)
		return stored.String(document.KeyEvent)
	}
	first := eventID()
	require.NotEmpty(t, first)

	again, err := NewSource(b, "engine-b").Claim(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, first, again.String(document.KeyEvent))
	again.Set(document.KeyResult, map[string]any{"title": "Lesung"})
	require.NoError(t, NewSource(b, "engine-b").HandleResult(ctx, again))

	assert.Equal(t, first, eventID(), "the existing event is updated")
	ev, ok := b.Event(first)
	require.True(t, ok)
	assert.Equal(t, "Lesung", ev.String(document.KeyTitle))

	_, err = s.Claim(ctx, "missing")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestBacklog_LoadMissingDir(t *testing.T) {
	b := NewBacklog()
	_, err := b.Load(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(t.TempDir(), "poster.json")
	require.NoError(t, os.WriteFile(file, []byte(`{}`), 0o600))
	_, err = b.Load(file)
	assert.Error(t, err)
}
