// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package storetest holds the conformance suite every storage backend
// must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Dims is the vector dimension the suite uses.
const Dims = 3

// Opener returns a fresh, empty backend configured for Dims dimensions.
type Opener func(t *testing.T) *store.Backend

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func exchangeRecord(id, session, conv, topic string, tier store.Tier, at time.Time) *store.Record {
	return &store.Record{
		Collection:     store.CollectionExchanges,
		ID:             id,
		SessionID:      session,
		ConversationID: conv,
		TopicID:        topic,
		ParentID:       topic,
		Tier:           tier,
		CreatedAt:      at,
		UpdatedAt:      at,
		Version:        1,
		Payload:        []byte{0xa0},
	}
}

func exchangeRef(id, session, conv, topic string) store.EntityRef {
	return store.EntityRef{ID: id, Kind: store.KindExchange, SessionID: session, ConversationID: conv, TopicID: topic}
}

// Run executes the full conformance suite.
func Run(t *testing.T, open Opener) {
	t.Run("Documents", func(t *testing.T) { testDocuments(t, open(t)) })
	t.Run("DocumentQuery", func(t *testing.T) { testDocumentQuery(t, open(t)) })
	t.Run("Keywords", func(t *testing.T) { testKeywords(t, open(t)) })
	t.Run("Vectors", func(t *testing.T) { testVectors(t, open(t)) })
	t.Run("Archive", func(t *testing.T) { testArchive(t, open(t)) })
}

func testDocuments(t *testing.T, b *store.Backend) {
	ctx := context.Background()
	docs := b.Documents

	rec := exchangeRecord("ex-1", "s", "c", "t", store.TierHot, base)
	require.NoError(t, docs.Put(ctx, rec))

	err := docs.Put(ctx, rec)
	require.Error(t, err)
	assert.True(t, memerr.IsConflict(err), "duplicate put must conflict")

	got, err := docs.Get(ctx, store.CollectionExchanges, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, base.Equal(got.CreatedAt))

	_, err = docs.Get(ctx, store.CollectionExchanges, "missing")
	require.Error(t, err)
	assert.True(t, memerr.IsNotFound(err))

	updated := *got
	updated.Version = 2
	updated.Tier = store.TierWarm
	updated.Payload = []byte{0xa1, 0x01, 0x02}
	require.NoError(t, docs.CompareAndSwap(ctx, &updated, 1))

	stale := updated
	stale.Version = 3
	err = docs.CompareAndSwap(ctx, &stale, 1)
	require.Error(t, err)
	assert.True(t, memerr.IsConflict(err), "stale CAS must conflict")

	got, err = docs.Get(ctx, store.CollectionExchanges, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, store.TierWarm, got.Tier)

	require.NoError(t, docs.Delete(ctx, store.CollectionExchanges, "ex-1"))
	_, err = docs.Get(ctx, store.CollectionExchanges, "ex-1")
	assert.True(t, memerr.IsNotFound(err))
}

func testDocumentQuery(t *testing.T, b *store.Backend) {
	ctx := context.Background()
	docs := b.Documents

	require.NoError(t, docs.Put(ctx, exchangeRecord("a", "s1", "c1", "t1", store.TierHot, base)))
	require.NoError(t, docs.Put(ctx, exchangeRecord("b", "s1", "c1", "t1", store.TierWarm, base.Add(time.Minute))))
	require.NoError(t, docs.Put(ctx, exchangeRecord("c", "s1", "c1", "t2", store.TierCold, base.Add(2*time.Minute))))
	require.NoError(t, docs.Put(ctx, exchangeRecord("d", "s2", "c2", "t3", store.TierHot, base.Add(3*time.Minute))))

	ids := func(recs []*store.Record) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}

	recs, err := docs.Query(ctx, store.RecordQuery{Collection: store.CollectionExchanges, ParentID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(recs))

	recs, err = docs.Query(ctx, store.RecordQuery{Collection: store.CollectionExchanges, Scope: store.InSession("s1"), Newest: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(recs))

	recs, err = docs.Query(ctx, store.RecordQuery{Collection: store.CollectionExchanges, Scope: store.InConversation("c1"), Tiers: []store.Tier{store.TierHot, store.TierCold}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(recs))

	recs, err = docs.Query(ctx, store.RecordQuery{
		Collection: store.CollectionExchanges,
		Range:      store.TimeRange{From: base.Add(time.Minute), To: base.Add(3 * time.Minute)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(recs))

	recs, err = docs.Query(ctx, store.RecordQuery{Collection: store.CollectionExchanges, Newest: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, ids(recs))

	recs, err = docs.Query(ctx, store.RecordQuery{Collection: store.CollectionTopics})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testKeywords(t *testing.T, b *store.Backend) {
	ctx := context.Background()
	kw := b.Keywords

	require.NoError(t, kw.Index(ctx, store.KeywordDoc{Ref: exchangeRef("a", "s", "c", "t1"), Text: "Kubernetes pods and kubernetes nodes", CreatedAt: base}))
	require.NoError(t, kw.Index(ctx, store.KeywordDoc{Ref: exchangeRef("b", "s", "c", "t2"), Text: "sourdough bread recipe", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, kw.Index(ctx, store.KeywordDoc{Ref: exchangeRef("z", "other", "c9", "t9"), Text: "kubernetes elsewhere", CreatedAt: base}))

	hits, err := kw.Search(ctx, []string{"kubernetes", "nodes"}, store.InSession("s"), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Ref.ID)
	assert.Equal(t, 2, hits[0].TermFreq["kubernetes"])
	assert.Equal(t, 1, hits[0].TermFreq["nodes"])
	assert.Equal(t, "t1", hits[0].Ref.TopicID)

	hits, err = kw.Search(ctx, []string{"kubernetes"}, store.All(), 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	// Re-indexing replaces the previous text.
	require.NoError(t, kw.Index(ctx, store.KeywordDoc{Ref: exchangeRef("a", "s", "c", "t1"), Text: "summary about clusters", CreatedAt: base}))
	hits, err = kw.Search(ctx, []string{"pods"}, store.All(), 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, kw.Remove(ctx, "b"))
	hits, err = kw.Search(ctx, []string{"sourdough"}, store.All(), 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func testVectors(t *testing.T, b *store.Backend) {
	ctx := context.Background()
	vi := b.Vectors

	require.NoError(t, vi.Upsert(ctx, exchangeRef("x", "s", "c", "t"), []float32{1, 0, 0}))
	require.NoError(t, vi.Upsert(ctx, exchangeRef("y", "s", "c", "t"), []float32{0, 1, 0}))
	require.NoError(t, vi.Upsert(ctx, exchangeRef("z", "other", "c2", "t2"), []float32{0.9, 0.1, 0}))

	hits, err := vi.Search(ctx, []float32{1, 0.05, 0}, store.InSession("s"), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].Ref.ID)
	assert.Equal(t, "y", hits[1].Ref.ID)
	assert.Equal(t, "s", hits[0].Ref.SessionID)

	n, err := vi.Count(ctx, store.All())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	err = vi.Upsert(ctx, exchangeRef("bad", "s", "c", "t"), []float32{1, 2})
	require.Error(t, err)
	assert.True(t, memerr.IsInvalidInput(err))

	require.NoError(t, vi.Delete(ctx, []string{"x"}))
	hits, err = vi.Search(ctx, []float32{1, 0, 0}, store.InSession("s"), 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "y", hits[0].Ref.ID)
}

func testArchive(t *testing.T, b *store.Backend) {
	ctx := context.Background()
	ar := b.Archive

	blob, err := store.SealArchive("question", "answer")
	require.NoError(t, err)
	require.NoError(t, ar.Put(ctx, "ex-1", "s", blob))

	got, err := ar.Get(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	_, err = ar.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, memerr.IsNotFound(err))

	n, err := ar.Count(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = ar.Count(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
