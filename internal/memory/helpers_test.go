// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/memory"
	"github.com/memorg-dev/memorg/internal/prioritize"
	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/store/inmem"
	"github.com/memorg-dev/memorg/internal/tokens"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

const dims = 64

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Set(d time.Duration)     { c.now = t0.Add(d) }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	store   *memory.Store
	backend *store.Backend
	clock   *clock
}

type option func(*memory.Config, *prioritize.Config, *memory.Deps)

// recencyDominant weights scores almost entirely by age so tests can drive
// tiers with the clock.
func recencyDominant(_ *memory.Config, p *prioritize.Config, _ *memory.Deps) {
	p.Weights = prioritize.Weights{Recency: 0.9, Coherence: 0.05, Engagement: 0.05}
}

func recencyOnly(_ *memory.Config, p *prioritize.Config, _ *memory.Deps) {
	p.Weights = prioritize.Weights{Recency: 1}
}

func withTopicCap(n int) option {
	return func(c *memory.Config, _ *prioritize.Config, _ *memory.Deps) {
		c.Tiering.TopicVerbatimCap = n
	}
}

func withBackend(b *store.Backend) option {
	return func(_ *memory.Config, _ *prioritize.Config, d *memory.Deps) {
		d.Backend = b
	}
}

func withEmbedder(e provider.Embedder) option {
	return func(_ *memory.Config, _ *prioritize.Config, d *memory.Deps) {
		d.Embedder = e
	}
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	clk := &clock{now: t0}
	embedder, err := provider.NewHashEmbedder(dims)
	require.NoError(t, err)

	ccfg := compress.DefaultConfig()
	ccfg.Strategy = compress.StrategyExtractive
	comp, err := compress.New(ccfg, tokens.Estimator{}, nil, nil)
	require.NoError(t, err)

	cfg := memory.DefaultConfig()
	pcfg := prioritize.DefaultConfig()
	deps := memory.Deps{
		Backend:    inmem.New(dims),
		Compressor: comp,
		Embedder:   embedder,
		Analyzer:   provider.LexicalAnalyzer{},
		Now:        clk.Now,
	}
	for _, opt := range opts {
		opt(&cfg, &pcfg, &deps)
	}
	deps.Prioritizer, err = prioritize.New(pcfg)
	require.NoError(t, err)

	s, err := memory.New(cfg, deps)
	require.NoError(t, err)
	return &harness{store: s, backend: deps.Backend, clock: clk}
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

func (h *harness) append(t *testing.T, topicID, user, system string) *store.Exchange {
	t.Helper()
	ex, err := h.store.AppendExchange(context.Background(), topicID, user, system)
	require.NoError(t, err)
	return ex
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, memerr.New(memerr.CodeProviderUnavailable, "embedding service unavailable")
}

type failingKeywords struct{ *inmem.KeywordIndex }

func (failingKeywords) Index(context.Context, store.KeywordDoc) error {
	return memerr.New(memerr.CodeStoreIndexFailure, "keyword index offline")
}

// forgetfulArchive accepts blobs and never returns them.
type forgetfulArchive struct{ *inmem.ArchiveStore }

func (forgetfulArchive) Put(context.Context, string, string, []byte) error { return nil }

// tamperedArchive returns a well-formed blob for different content.
type tamperedArchive struct{ *inmem.ArchiveStore }

func (tamperedArchive) Get(context.Context, string) ([]byte, error) {
	return store.SealArchive("tampered", "content")
}

func providerEmbedder() (*provider.HashEmbedder, error) {
	return provider.NewHashEmbedder(dims)
}
