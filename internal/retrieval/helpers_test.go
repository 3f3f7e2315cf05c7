// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package retrieval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/memory"
	"github.com/memorg-dev/memorg/internal/prioritize"
	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/internal/retrieval"
	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/store/inmem"
	"github.com/memorg-dev/memorg/internal/tokens"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

const dims = 256

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time      { return c.now }
func (c *clock) Set(d time.Duration) { c.now = t0.Add(d) }

type harness struct {
	store  *memory.Store
	engine *retrieval.Engine
	clock  *clock
}

func newHarness(t *testing.T, embedder provider.Embedder) *harness {
	t.Helper()

	clk := &clock{now: t0}
	if embedder == nil {
		e, err := provider.NewHashEmbedder(dims)
		require.NoError(t, err)
		embedder = e
	}
	ccfg := compress.DefaultConfig()
	ccfg.Strategy = compress.StrategyExtractive
	comp, err := compress.New(ccfg, tokens.Estimator{}, nil, nil)
	require.NoError(t, err)
	prio, err := prioritize.New(prioritize.DefaultConfig())
	require.NoError(t, err)

	hashed, err := provider.NewHashEmbedder(dims)
	require.NoError(t, err)
	s, err := memory.New(memory.DefaultConfig(), memory.Deps{
		Backend:     inmem.New(dims),
		Prioritizer: prio,
		Compressor:  comp,
		Embedder:    hashed,
		Analyzer:    provider.LexicalAnalyzer{},
		Now:         clk.Now,
	})
	require.NoError(t, err)

	eng, err := retrieval.New(retrieval.DefaultConfig(), retrieval.Deps{
		Index:       s,
		Prioritizer: prio,
		Embedder:    embedder,
		Analyzer:    provider.LexicalAnalyzer{},
		Now:         clk.Now,
	})
	require.NoError(t, err)
	return &harness{store: s, engine: eng, clock: clk}
}

type tree struct {
	session *store.Session
	conv    *store.Conversation
	topic   *store.Topic
}

func (h *harness) tree(t *testing.T, title string) tree {
	t.Helper()
	ctx := context.Background()
	sess, err := h.store.CreateSession(ctx, "user-1", store.SessionConfig{})
	require.NoError(t, err)
	conv, err := h.store.CreateConversation(ctx, sess.ID)
	require.NoError(t, err)
	topic, err := h.store.CreateTopic(ctx, conv.ID, title)
	require.NoError(t, err)
	return tree{session: sess, conv: conv, topic: topic}
}

func (h *harness) topic(t *testing.T, convID, title string) *store.Topic {
	t.Helper()
	topic, err := h.store.CreateTopic(context.Background(), convID, title)
	require.NoError(t, err)
	return topic
}

func (h *harness) append(t *testing.T, topicID, user, system string) *store.Exchange {
	t.Helper()
	ex, err := h.store.AppendExchange(context.Background(), topicID, user, system)
	require.NoError(t, err)
	return ex
}

func belongsTo(ref store.EntityRef, topicID string) bool {
	return ref.ID == topicID || ref.TopicID == topicID
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, memerr.New(memerr.CodeProviderUnavailable, "embedding service unavailable")
}
