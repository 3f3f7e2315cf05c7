// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/engine"
	"github.com/memorg-dev/memorg/internal/memory"
	"github.com/memorg-dev/memorg/internal/prioritize"
	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/internal/retrieval"
	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/store/inmem"
	"github.com/memorg-dev/memorg/internal/tokens"
	"github.com/memorg-dev/memorg/internal/window"
	"github.com/memorg-dev/memorg/internal/workmem"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

const dims = 128

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t0.Add(d)
}

type harness struct {
	engine *engine.Engine
	store  *memory.Store
	clock  *clock
}

type setup struct {
	cfg       engine.Config
	embedder  provider.Embedder
	generator provider.Generator
}

type option func(*setup)

func withQueryEmbedder(e provider.Embedder) option {
	return func(s *setup) { s.embedder = e }
}

func withGenerator(g provider.Generator) option {
	return func(s *setup) { s.generator = g }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	clk := &clock{now: t0}
	hashed, err := provider.NewHashEmbedder(dims)
	require.NoError(t, err)
	su := setup{cfg: engine.DefaultConfig(), embedder: hashed}
	for _, opt := range opts {
		opt(&su)
	}

	counter := tokens.Estimator{}
	ccfg := compress.DefaultConfig()
	ccfg.Strategy = compress.StrategyExtractive
	comp, err := compress.New(ccfg, counter, nil, nil)
	require.NoError(t, err)
	prio, err := prioritize.New(prioritize.DefaultConfig())
	require.NoError(t, err)

	mem, err := memory.New(memory.DefaultConfig(), memory.Deps{
		Backend:     inmem.New(dims),
		Prioritizer: prio,
		Compressor:  comp,
		Embedder:    hashed,
		Analyzer:    provider.LexicalAnalyzer{},
		Now:         clk.Now,
	})
	require.NoError(t, err)

	ret, err := retrieval.New(retrieval.DefaultConfig(), retrieval.Deps{
		Index:       mem,
		Prioritizer: prio,
		Embedder:    su.embedder,
		Analyzer:    provider.LexicalAnalyzer{},
		Now:         clk.Now,
	})
	require.NoError(t, err)
	alloc, err := workmem.New(workmem.DefaultConfig(), comp, nil)
	require.NoError(t, err)
	asm, err := window.New(window.DefaultConfig(), counter, nil)
	require.NoError(t, err)

	eng, err := engine.New(su.cfg, engine.Deps{
		Memory:    mem,
		Retrieval: ret,
		Allocator: alloc,
		Assembler: asm,
		Generator: su.generator,
		Now:       clk.Now,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	return &harness{engine: eng, store: mem, clock: clk}
}

type tree struct {
	session *store.Session
	conv    *store.Conversation
	topic   *store.Topic
}

func (h *harness) tree(t *testing.T, maxTokens int) tree {
	t.Helper()
	ctx := context.Background()
	sess, err := h.store.CreateSession(ctx, "user-1", store.SessionConfig{MaxTokens: maxTokens})
	require.NoError(t, err)
	conv, err := h.store.CreateConversation(ctx, sess.ID)
	require.NoError(t, err)
	topic, err := h.store.CreateTopic(ctx, conv.ID, "General")
	require.NoError(t, err)
	return tree{session: sess, conv: conv, topic: topic}
}

func (h *harness) append(t *testing.T, topicID, user, system string) *store.Exchange {
	t.Helper()
	ex, err := h.store.AppendExchange(context.Background(), topicID, user, system)
	require.NoError(t, err)
	return ex
}

// blockingEmbedder parks the first call until its context ends, then
// embeds normally.
type blockingEmbedder struct {
	inner   provider.Embedder
	entered chan struct{}
	once    sync.Once
}

func newBlockingEmbedder(t *testing.T) *blockingEmbedder {
	t.Helper()
	inner, err := provider.NewHashEmbedder(dims)
	require.NoError(t, err)
	return &blockingEmbedder{inner: inner, entered: make(chan struct{})}
}

func (b *blockingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.inner.Embed(ctx, texts)
}

type fakeGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []provider.GenerateRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return provider.GenerateResponse{}, g.err
	}
	return provider.GenerateResponse{Text: g.reply, Usage: provider.Usage{InputTokens: 10, OutputTokens: 2}}, nil
}

func unavailable() error {
	return memerr.New(memerr.CodeProviderUnavailable, "generation service unavailable")
}
