// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/store/sqlite"
	"github.com/memorg-dev/memorg/internal/store/storetest"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

func TestBackendConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *store.Backend {
		b, err := sqlite.Open(testDir(t), storetest.Dims)
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestOpenViaRegistry(t *testing.T) {
	b, err := store.Open(store.StorageConfig{Backend: "sqlite", DataDir: testDir(t), VectorDimensions: 4})
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestOpenRequiresDataDir(t *testing.T) {
	_, err := store.Open(store.StorageConfig{Backend: "sqlite"})
	require.Error(t, err)
	assert.True(t, memerr.IsInvalidInput(err))
}

func TestDocumentsPersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t, "records")

	docs, err := sqlite.NewDocumentStore(path)
	require.NoError(t, err)

	at := time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC)
	require.NoError(t, docs.Put(ctx, &store.Record{
		Collection: store.CollectionTopics, ID: "t1", SessionID: "s", ConversationID: "c", TopicID: "t1",
		ParentID: "c", Tier: store.TierHot, CreatedAt: at, UpdatedAt: at, Version: 1, Payload: []byte{1, 2, 3},
	}))
	require.NoError(t, docs.Close())

	docs, err = sqlite.NewDocumentStore(path)
	require.NoError(t, err)
	defer func() { _ = docs.Close() }()

	rec, err := docs.Get(ctx, store.CollectionTopics, "t1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, rec.Payload)
	assert.True(t, at.Equal(rec.CreatedAt), "nanosecond timestamps must survive")
}

func TestKeywordSearchIgnoresFTSOperators(t *testing.T) {
	ctx := context.Background()
	kw, err := sqlite.NewKeywordIndex(testDBPath(t, "keywords"))
	require.NoError(t, err)
	defer func() { _ = kw.Close() }()

	ref := store.EntityRef{ID: "a", Kind: store.KindExchange, SessionID: "s"}
	require.NoError(t, kw.Index(ctx, store.KeywordDoc{Ref: ref, Text: "deploy NEAR production", CreatedAt: time.Now()}))

	hits, err := kw.Search(ctx, []string{`NEAR("deploy"`, "*"}, store.All(), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].TermFreq["near"])
}

func TestVectorSearchWidensForNarrowScope(t *testing.T) {
	ctx := context.Background()
	vi, err := sqlite.NewVectorIndex(testDBPath(t, "vectors"), 2)
	require.NoError(t, err)
	defer func() { _ = vi.Close() }()

	// Twenty out-of-scope vectors closer to the query than the in-scope one.
	for i := 0; i < 20; i++ {
		ref := store.EntityRef{ID: string(rune('a' + i)), Kind: store.KindExchange, SessionID: "noise"}
		require.NoError(t, vi.Upsert(ctx, ref, []float32{1, float32(i) * 0.001}))
	}
	target := store.EntityRef{ID: "target", Kind: store.KindExchange, SessionID: "mine"}
	require.NoError(t, vi.Upsert(ctx, target, []float32{0, 1}))

	hits, err := vi.Search(ctx, []float32{1, 0}, store.InSession("mine"), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "target", hits[0].Ref.ID)
}
