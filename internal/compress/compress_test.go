// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package compress_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/tokens"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

const (
	decisions = "Alice chose Postgres for the billing service. The team agreed on weekly deploys."
	smalltalk = "We also chatted about lunch options near the office. Pizza won again."
	deadline  = "Deadline is March 3."
)

func topicDoc() compress.Document {
	return compress.Document{
		ID:   "topic-1",
		Kind: store.KindTopic,
		Segments: []compress.Segment{
			{ID: "e1", Text: decisions, Score: 0.9},
			{ID: "e2", Text: smalltalk, Score: 0.1},
			{ID: "e3", Text: deadline, Score: 0.2},
		},
	}
}

func newExtractive(t *testing.T) *compress.Compressor {
	t.Helper()
	cfg := compress.DefaultConfig()
	cfg.Strategy = compress.StrategyExtractive
	c, err := compress.New(cfg, tokens.Estimator{}, nil, nil)
	require.NoError(t, err)
	return c
}

func TestCompress_NoOpWhenTargetCoversContent(t *testing.T) {
	c := newExtractive(t)
	d := topicDoc()
	current := c.Tokens(d)

	for _, target := range []int{current, current + 100} {
		res, err := c.Compress(context.Background(), d, target, nil)
		require.NoError(t, err)
		assert.Equal(t, d.Text(), res.Content)
		assert.Equal(t, d.Segments, res.Segments)
		assert.False(t, res.Compressed)
		assert.Equal(t, compress.StrategyNone, res.Strategy)
		assert.Equal(t, 1.0, res.Ratio)
	}
}

func TestCompress_ExtractiveFitsAndKeepsPins(t *testing.T) {
	c := newExtractive(t)
	d := topicDoc()

	for _, target := range []int{14, 18, 20, 26, 30} {
		res, err := c.Compress(context.Background(), d, target, []string{"e3"})
		require.NoError(t, err, "target %d", target)
		assert.LessOrEqual(t, res.Tokens, target)
		assert.Equal(t, tokens.Estimator{}.Count(res.Content), res.Tokens, "cost is recomputed from content")
		assert.Contains(t, res.Content, deadline, "pinned segment must survive verbatim")
		assert.NotContains(t, res.Content, "lunch options", "lowest value sentence goes first")
		assert.True(t, res.Compressed)
		assert.Less(t, res.Ratio, 1.0)
	}
}

func TestCompress_PrefersHigherScoredSegments(t *testing.T) {
	c := newExtractive(t)
	res, err := c.Compress(context.Background(), topicDoc(), 26, []string{"e3"})
	require.NoError(t, err)
	assert.Equal(t, decisions+"\n"+deadline, res.Content)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "e1", res.Segments[0].ID)
	assert.Equal(t, "e3", res.Segments[1].ID)
}

func TestCompress_CapacityExceeded(t *testing.T) {
	c := newExtractive(t)
	d := topicDoc()
	pinnedCost := tokens.Estimator{}.Count(deadline)

	_, err := c.Compress(context.Background(), d, pinnedCost-1, []string{"e3"})
	require.Error(t, err)
	assert.True(t, memerr.IsCapacityExceeded(err))
	assert.Equal(t, memerr.ClassCapacity, memerr.Classify(err))

	// Pins alone above target.
	_, err = c.Compress(context.Background(), d, 3, []string{"e1", "e2", "e3"})
	assert.True(t, memerr.IsCapacityExceeded(err))
}

func TestCompress_BelowFloorKeepsPinsOnly(t *testing.T) {
	c := newExtractive(t)
	d := topicDoc()
	floor := c.MinimalTokens(d, []string{"e3"})
	pinnedCost := tokens.Estimator{}.Count(deadline)
	require.Greater(t, floor, pinnedCost)

	res, err := c.Compress(context.Background(), d, pinnedCost, []string{"e3"})
	require.NoError(t, err)
	assert.Equal(t, deadline, res.Content)
	assert.Equal(t, pinnedCost, res.Tokens)
}

func TestCompress_FloorUsesCheapestSentence(t *testing.T) {
	c := newExtractive(t)
	long := "The quarterly billing migration moves every invoice, refund and ledger entry from the legacy system into Postgres before the audit window opens."
	d := compress.Document{
		ID:   "topic-2",
		Kind: store.KindTopic,
		Segments: []compress.Segment{
			{ID: "e1", Text: long, Score: 0.9},
			{ID: "e2", Text: "Ok fine.", Score: 0.1},
		},
	}
	require.Greater(t, tokens.Estimator{}.Count(long), 5)

	assert.Equal(t, 2, c.MinimalTokens(d, nil))

	res, err := c.Compress(context.Background(), d, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ok fine.", res.Content)
	assert.LessOrEqual(t, res.Tokens, 5)

	// Wide enough for the valuable sentence: it wins over the cheap one.
	res, err = c.Compress(context.Background(), d, tokens.Estimator{}.Count(long), nil)
	require.NoError(t, err)
	assert.Equal(t, long, res.Content)
}

func TestCompress_NegativeTarget(t *testing.T) {
	_, err := newExtractive(t).Compress(context.Background(), topicDoc(), -1, nil)
	assert.True(t, memerr.IsInvalidInput(err))
}

func TestCompress_IdempotentConvergence(t *testing.T) {
	c := newExtractive(t)
	d := topicDoc()
	pins := []string{"e3"}

	first, err := c.Compress(context.Background(), d, 20, pins)
	require.NoError(t, err)

	again := compress.Document{ID: d.ID, Kind: d.Kind, Segments: first.Segments}
	second, err := c.Compress(context.Background(), again, 20, pins)
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
	assert.False(t, second.Compressed)

	floor := c.MinimalTokens(again, pins)
	third, err := c.Compress(context.Background(), again, floor, pins)
	require.NoError(t, err)
	assert.LessOrEqual(t, third.Tokens, first.Tokens)

	fixed := compress.Document{ID: d.ID, Kind: d.Kind, Segments: third.Segments}
	assert.Equal(t, floor, c.MinimalTokens(fixed, pins), "the floor is a fixed point")
	below, err := c.Compress(context.Background(), fixed, floor-1, pins)
	require.NoError(t, err)
	assert.Equal(t, deadline, below.Content, "below the floor only pins remain")
}

type fakeGenerator struct {
	text string
	err  error
	reqs []provider.GenerateRequest
}

func (f *fakeGenerator) Generate(_ context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	f.reqs = append(f.reqs, req)
	return provider.GenerateResponse{Text: f.text}, f.err
}

func newAuto(t *testing.T, gen provider.Generator) *compress.Compressor {
	t.Helper()
	cfg := compress.DefaultConfig()
	cfg.MinAbstractiveTokens = 10
	c, err := compress.New(cfg, tokens.Estimator{}, gen, nil)
	require.NoError(t, err)
	return c
}

func TestCompress_AbstractiveForAggregates(t *testing.T) {
	gen := &fakeGenerator{text: " Alice picked Postgres; weekly deploys agreed. "}
	c := newAuto(t, gen)

	res, err := c.Compress(context.Background(), topicDoc(), 20, []string{"e3"})
	require.NoError(t, err)
	assert.Equal(t, compress.StrategyAbstractive, res.Strategy)
	assert.Equal(t, "Alice picked Postgres; weekly deploys agreed.\n"+deadline, res.Content)
	assert.LessOrEqual(t, res.Tokens, 20)

	require.Len(t, gen.reqs, 1)
	assert.Equal(t, 14, gen.reqs[0].Options.MaxTokens)
	require.Len(t, gen.reqs[0].Messages, 1)
	assert.Equal(t, decisions+"\n"+smalltalk, gen.reqs[0].Messages[0].Content, "pinned content is not sent for rewriting")
}

func TestCompress_AutoExtractsExchanges(t *testing.T) {
	gen := &fakeGenerator{text: "unused"}
	c := newAuto(t, gen)

	d := topicDoc()
	d.Kind = store.KindExchange
	res, err := c.Compress(context.Background(), d, 20, nil)
	require.NoError(t, err)
	assert.Equal(t, compress.StrategyExtractive, res.Strategy)
	assert.Empty(t, gen.reqs)
}

func TestCompress_AbstractiveOvershootFallsBack(t *testing.T) {
	gen := &fakeGenerator{text: strings.Repeat("verbose ", 60)}
	c := newAuto(t, gen)

	res, err := c.Compress(context.Background(), topicDoc(), 20, []string{"e3"})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Tokens, 20)
	assert.Contains(t, res.Content, deadline)
	assert.NotContains(t, res.Content, "verbose")
}

func TestCompress_GeneratorFailureSurfaces(t *testing.T) {
	gen := &fakeGenerator{err: memerr.New(memerr.CodeProviderUnavailable, "down")}
	c := newAuto(t, gen)

	_, err := c.Compress(context.Background(), topicDoc(), 20, nil)
	require.Error(t, err)
	assert.True(t, memerr.IsUnavailable(err))
}

func TestNew_Validation(t *testing.T) {
	cfg := compress.DefaultConfig()
	cfg.Strategy = "magic"
	_, err := compress.New(cfg, nil, nil, nil)
	assert.True(t, memerr.IsInvalidInput(err))

	cfg = compress.DefaultConfig()
	cfg.Strategy = compress.StrategyAbstractive
	_, err = compress.New(cfg, nil, nil, nil)
	assert.True(t, memerr.IsInvalidInput(err))
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"one sentence", []string{"one sentence"}},
		{"First. Second! Third?", []string{"First.", "Second!", "Third?"}},
		{"v1.2 is out. Upgrade now", []string{"v1.2 is out.", "Upgrade now"}},
		{"User: hi\nAssistant: hello", []string{"User: hi", "Assistant: hello"}},
		{"  spaced.   out  ", []string{"spaced.", "out"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compress.SplitSentences(tt.in), "input %q", tt.in)
	}
}
