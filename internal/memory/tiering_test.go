// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/store/inmem"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

const (
	coldUser   = "Alice chose Postgres for billing. We chatted about lunch too."
	coldSystem = "Noted the Postgres decision. Pizza sounds good."
)

func versionOf(t *testing.T, h *harness, coll store.Collection, id string) int64 {
	t.Helper()
	rec, err := h.backend.Documents.Get(context.Background(), coll, id)
	require.NoError(t, err)
	return rec.Version
}

func TestRunTiering_Lifecycle(t *testing.T) {
	h := newHarness(t, recencyDominant)
	tr := h.tree(t, "Billing")
	ctx := context.Background()
	h.clock.Set(time.Minute)
	ex := h.append(t, tr.topic.ID, coldUser, coldSystem)
	verbatim := store.RenderExchange(coldUser, coldSystem)

	// Fresh content stays hot; stale aggregates are summarised.
	h.clock.Set(time.Hour)
	rep, err := h.store.RunTiering(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sessions)
	assert.Zero(t, rep.Warmed)
	assert.Zero(t, rep.Cooled)
	assert.Equal(t, 2, rep.Summaries, "topic and conversation")

	topic, err := h.store.GetTopic(ctx, store.All(), tr.topic.ID)
	require.NoError(t, err)
	assert.False(t, topic.SummaryStale)
	assert.NotEmpty(t, topic.Summary)
	require.NotEmpty(t, topic.SummaryID)

	conv, err := h.store.GetConversation(ctx, store.All(), tr.conv.ID)
	require.NoError(t, err)
	assert.False(t, conv.Stale)
	assert.Equal(t, topic.Embedding, conv.Embedding)

	// Re-running over unchanged state writes nothing.
	watched := []struct {
		coll store.Collection
		id   string
	}{
		{store.CollectionExchanges, ex.ID},
		{store.CollectionTopics, tr.topic.ID},
		{store.CollectionConversations, tr.conv.ID},
		{store.CollectionSummaries, topic.SummaryID},
	}
	before := make([]int64, len(watched))
	for i, w := range watched {
		before[i] = versionOf(t, h, w.coll, w.id)
	}
	rep, err = h.store.RunTiering(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Summaries)
	for i, w := range watched {
		assert.Equal(t, before[i], versionOf(t, h, w.coll, w.id), "%s %s rewritten", w.coll, w.id)
	}

	// Aged past the hot threshold.
	h.clock.Set(150 * time.Hour)
	rep, err = h.store.RunTiering(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Warmed)
	got, err := h.store.GetExchange(ctx, store.All(), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TierWarm, got.Tier)
	assert.Equal(t, coldUser, got.UserMessage, "warm keeps verbatim")

	// A higher score never promotes implicitly.
	h.clock.Set(time.Hour)
	_, err = h.store.RunTiering(ctx)
	require.NoError(t, err)
	got, err = h.store.GetExchange(ctx, store.All(), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TierWarm, got.Tier)

	// Aged past the cold threshold.
	h.clock.Set(1000 * time.Hour)
	rep, err = h.store.RunTiering(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Cooled)

	got, err = h.store.GetExchange(ctx, store.InTopic(tr.topic.ID), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TierCold, got.Tier)
	assert.Empty(t, got.UserMessage)
	assert.Empty(t, got.SystemMessage)
	require.NotEmpty(t, got.SummaryText)
	assert.NotEqual(t, verbatim, got.SummaryText)
	assert.Less(t, len(got.SummaryText), len(verbatim))
	assert.Equal(t, got.SummaryText, got.Verbatim())
	assert.Equal(t, ex.Embedding, got.Embedding, "embedding survives demotion")

	sum, err := h.store.GetSummary(ctx, store.InTopic(tr.topic.ID), got.SummaryID)
	require.NoError(t, err)
	assert.Equal(t, store.KindExchange, sum.OwnerKind)
	assert.Equal(t, []string{ex.ID}, sum.SourceIDs)
	assert.Equal(t, 1, sum.Level)
	assert.Equal(t, got.SummaryText, sum.Content)
	assert.Less(t, sum.Ratio, 1.0)

	views, err := h.store.Resolve(ctx, store.InSession(tr.session.ID), []store.EntityRef{{ID: ex.ID, Kind: store.KindExchange}})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].SummaryOnly)
	assert.Equal(t, got.SummaryText, views[0].Content)
	assert.NotContains(t, views[0].Content, verbatim)

	sem, err := h.store.SearchBySemantic(ctx, ex.Embedding, store.InTopic(tr.topic.ID), 5)
	require.NoError(t, err)
	var found bool
	for _, r := range sem {
		found = found || r.Ref.ID == ex.ID
	}
	assert.True(t, found, "cold exchanges stay semantically searchable")

	topic, err = h.store.GetTopic(ctx, store.All(), tr.topic.ID)
	require.NoError(t, err)
	topicSum, err := h.store.GetSummary(ctx, store.All(), topic.SummaryID)
	require.NoError(t, err)
	assert.Equal(t, 2, topicSum.Level, "built over a cold summary")
	assert.NotContains(t, topic.Summary, verbatim)

	u, err := h.store.Usage(ctx, tr.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Exchanges[store.TierCold])
	assert.Equal(t, 1, u.ArchivedEntries)
	assert.Zero(t, u.VerbatimTokens)
	assert.Equal(t, 3, u.Summaries)

	// Explicit promotion restores the exact pair.
	ref, err := h.store.Promote(ctx, store.InSession(tr.session.ID), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, store.KindExchange, ref.Kind)

	got, err = h.store.GetExchange(ctx, store.All(), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TierHot, got.Tier)
	assert.Equal(t, coldUser, got.UserMessage)
	assert.Equal(t, coldSystem, got.SystemMessage)
	assert.Equal(t, verbatim, got.Verbatim())

	kw, err := h.store.SearchByKeyword(ctx, []store.WeightedTerm{{Term: "pizza", Weight: 1}}, store.All(), 5)
	require.NoError(t, err)
	require.NotEmpty(t, kw)
	assert.Equal(t, ex.ID, kw[0].Ref.ID)
}

func TestRunTiering_TopicCapDemotesLowestScoring(t *testing.T) {
	h := newHarness(t, recencyOnly, withTopicCap(10))
	tr := h.tree(t, "")
	ctx := context.Background()

	var ids []string
	for i := range 3 {
		h.clock.Set(time.Duration(i) * time.Hour)
		ids = append(ids, h.append(t, tr.topic.ID, "alpha bravo charlie delta", "").ID)
	}

	rep, err := h.store.RunTiering(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Warmed)

	want := []store.Tier{store.TierWarm, store.TierWarm, store.TierHot}
	for i, id := range ids {
		ex, err := h.store.GetExchange(ctx, store.All(), id)
		require.NoError(t, err)
		assert.Equal(t, want[i], ex.Tier, "exchange %d", i)
	}
}

func TestPromote_ArchiveMissing(t *testing.T) {
	backend := inmem.New(dims)
	backend.Archive = forgetfulArchive{inmem.NewArchiveStore()}
	h := newHarness(t, recencyDominant, withBackend(backend))
	tr := h.tree(t, "")
	ctx := context.Background()
	ex := h.append(t, tr.topic.ID, coldUser, coldSystem)

	h.clock.Set(1000 * time.Hour)
	_, err := h.store.RunTiering(ctx)
	require.NoError(t, err)

	_, err = h.store.Promote(ctx, store.All(), ex.ID)
	require.Error(t, err)
	assert.True(t, memerr.IsNotFound(err))

	got, err := h.store.GetExchange(ctx, store.All(), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TierCold, got.Tier)
}

func TestPromote_DigestMismatchIsCorruption(t *testing.T) {
	backend := inmem.New(dims)
	backend.Archive = tamperedArchive{inmem.NewArchiveStore()}
	h := newHarness(t, recencyDominant, withBackend(backend))
	tr := h.tree(t, "")
	ctx := context.Background()
	ex := h.append(t, tr.topic.ID, coldUser, coldSystem)

	h.clock.Set(1000 * time.Hour)
	_, err := h.store.RunTiering(ctx)
	require.NoError(t, err)

	_, err = h.store.Promote(ctx, store.All(), ex.ID)
	require.Error(t, err)
	assert.True(t, memerr.IsCorruption(err))
	assert.Equal(t, memerr.ClassCorruption, memerr.Classify(err))
}

func TestPromote_Validation(t *testing.T) {
	h := newHarness(t)
	a := h.tree(t, "")
	b := h.tree(t, "")
	ctx := context.Background()
	ex := h.append(t, a.topic.ID, "hello", "")

	_, err := h.store.Promote(ctx, store.All(), a.session.ID)
	assert.True(t, memerr.IsInvalidInput(err))

	_, err = h.store.Promote(ctx, store.All(), "missing")
	assert.True(t, memerr.IsNotFound(err))

	_, err = h.store.Promote(ctx, store.InSession(b.session.ID), ex.ID)
	assert.True(t, memerr.IsNotFound(err))

	ref, err := h.store.Promote(ctx, store.All(), a.topic.ID)
	require.NoError(t, err)
	assert.Equal(t, store.KindTopic, ref.Kind)
}

func TestRunTiering_ReportsHierarchyCorruption(t *testing.T) {
	h := newHarness(t)
	tr := h.tree(t, "")
	ctx := context.Background()

	bogus := &store.Exchange{
		Meta:           store.Meta{ID: "bogus", CreatedAt: t0, UpdatedAt: t0, Version: 1},
		Scored:         store.Scored{Tier: store.TierHot},
		TopicID:        "elsewhere",
		ConversationID: tr.conv.ID,
		SessionID:      tr.session.ID,
		UserMessage:    "orphan",
	}
	payload, err := store.Marshal(bogus)
	require.NoError(t, err)
	require.NoError(t, h.backend.Documents.Put(ctx, &store.Record{
		ID:             bogus.ID,
		Collection:     store.CollectionExchanges,
		SessionID:      tr.session.ID,
		ConversationID: tr.conv.ID,
		TopicID:        tr.topic.ID,
		ParentID:       tr.topic.ID,
		Tier:           store.TierHot,
		CreatedAt:      t0,
		UpdatedAt:      t0,
		Version:        1,
		Payload:        payload,
	}))

	_, err = h.store.RunTiering(ctx)
	require.Error(t, err)
	assert.True(t, memerr.IsCorruption(err))
}

func TestRunTiering_Cancelled(t *testing.T) {
	h := newHarness(t)
	h.tree(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.store.RunTiering(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
