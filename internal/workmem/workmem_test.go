// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package workmem_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/tokens"
	"github.com/memorg-dev/memorg/internal/workmem"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// textOf builds compressible text costing exactly n estimator tokens.
func textOf(n int, topic string) string {
	var parts []string
	length := -1
	for i := 0; ; i++ {
		s := fmt.Sprintf("Fact %d about %s stays useful.", i, topic)
		if length+1+len(s) > n*4 {
			break
		}
		parts = append(parts, s)
		length += 1 + len(s)
	}
	parts[0] = strings.Repeat("x", n*4-length) + parts[0]
	return strings.Join(parts, " ")
}

func item(id, typ string, score float64, content string) workmem.Item {
	return workmem.Item{
		Ref:     store.EntityRef{ID: id, Kind: store.KindExchange},
		Type:    typ,
		Score:   score,
		Content: content,
	}
}

func newAllocator(t *testing.T, cfg workmem.Config) *workmem.Allocator {
	t.Helper()
	ccfg := compress.DefaultConfig()
	ccfg.Strategy = compress.StrategyExtractive
	comp, err := compress.New(ccfg, tokens.Estimator{}, nil, nil)
	require.NoError(t, err)
	a, err := workmem.New(cfg, comp, nil)
	require.NoError(t, err)
	return a
}

func ids(items []workmem.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Ref.ID
	}
	return out
}

func TestTextOf(t *testing.T) {
	for _, n := range []int{10, 40, 70, 120} {
		assert.Equal(t, n, tokens.Estimator{}.Count(textOf(n, "alpha")))
	}
}

func TestAllocate_PinnedOverBudgetCompressed(t *testing.T) {
	a := newAllocator(t, workmem.DefaultConfig())

	got, err := a.Allocate(context.Background(), workmem.Request{
		Items: []workmem.Item{
			item("small", "exchange", 0.4, textOf(40, "billing")),
			item("large", "exchange", 0.6, textOf(70, "travel")),
		},
		Budget: 100,
		Pinned: []string{"small", "large"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"small", "large"}, ids(got.Items))
	assert.LessOrEqual(t, got.Used, 100)
	assert.Equal(t, 100-got.Used, got.Remaining)
	assert.Equal(t, 110, got.OriginalTokens)
	assert.Less(t, got.Ratio(), 1.0)

	small, large := got.Items[0], got.Items[1]
	assert.True(t, small.Pinned)
	assert.True(t, large.Pinned)
	assert.True(t, large.Compressed, "largest pinned item compressed first")
	assert.False(t, small.Compressed)
	assert.Equal(t, 40, small.Tokens)
	assert.Equal(t, 70, large.OriginalTokens)
	assert.Equal(t, tokens.Estimator{}.Count(large.Content), large.Tokens)
}

func TestAllocate_PinnedCannotFit(t *testing.T) {
	a := newAllocator(t, workmem.DefaultConfig())

	tests := map[string]workmem.Request{
		"compressible but floors too large": {
			Items: []workmem.Item{
				item("a", "exchange", 0.5, textOf(40, "billing")),
				item("b", "exchange", 0.5, textOf(70, "travel")),
			},
			Budget: 15,
			Pinned: []string{"a", "b"},
		},
		"single sentences": {
			Items: []workmem.Item{
				item("a", "exchange", 0.5, strings.Repeat("word ", 32)),
				item("b", "exchange", 0.5, strings.Repeat("term ", 56)),
			},
			Budget: 100,
			Pinned: []string{"a", "b"},
		},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Allocate(context.Background(), req)
			require.Error(t, err)
			assert.True(t, memerr.IsCapacityExceeded(err))
			assert.Equal(t, memerr.CodeAllocatorCapacityExceeded, memerr.CodeOf(err))
			assert.False(t, memerr.Retryable(err))
		})
	}
}

func TestAllocate_PinnedFitsViaCheapestSentence(t *testing.T) {
	a := newAllocator(t, workmem.DefaultConfig())
	long := "The quarterly billing migration moves every invoice, refund and ledger entry into Postgres before the audit window opens."

	got, err := a.Allocate(context.Background(), workmem.Request{
		Items:  []workmem.Item{item("p", "exchange", 0.9, long+" Ok fine.")},
		Budget: 5,
		Pinned: []string{"p"},
	})
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Ok fine.", got.Items[0].Content)
	assert.True(t, got.Items[0].Compressed)
	assert.LessOrEqual(t, got.Used, 5)
}

func TestAllocate_NeverExceedsBudget(t *testing.T) {
	a := newAllocator(t, workmem.DefaultConfig())
	topics := []string{"billing", "travel", "lunch", "deploys", "hiring", "budget", "roadmap"}
	sizes := []int{12, 55, 30, 90, 18, 41, 64}

	var items []workmem.Item
	for i, topic := range topics {
		score := 1 - float64(i)/10
		items = append(items, item(topic, "exchange", score, textOf(sizes[i], topic)))
	}
	items = append(items, item("pin", "exchange", 0.1, textOf(10, "pinned")))

	for _, budget := range []int{0, 5, 9, 10, 11, 20, 37, 50, 100, 150, 250, 1000} {
		t.Run(fmt.Sprintf("budget=%d", budget), func(t *testing.T) {
			got, err := a.Allocate(context.Background(), workmem.Request{
				Items:  items,
				Budget: budget,
				Pinned: []string{"pin"},
			})
			if err != nil {
				require.True(t, memerr.IsCapacityExceeded(err), "unexpected error: %v", err)
				return
			}

			assert.LessOrEqual(t, got.Used, budget)
			assert.Equal(t, budget-got.Used, got.Remaining)
			var sum int
			for _, it := range got.Items {
				sum += it.Tokens
				assert.Equal(t, tokens.Estimator{}.Count(it.Content), it.Tokens)
			}
			assert.Equal(t, got.Used, sum)
			assert.Contains(t, ids(got.Items), "pin", "pinned item present")
		})
	}
}

func TestAllocate_ZeroBudgetWithoutPins(t *testing.T) {
	a := newAllocator(t, workmem.DefaultConfig())
	got, err := a.Allocate(context.Background(), workmem.Request{
		Items:  []workmem.Item{item("a", "exchange", 0.9, textOf(20, "alpha"))},
		Budget: 0,
	})
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Zero(t, got.Remaining)
	assert.Equal(t, []workmem.Skip{{ID: "a", Reason: workmem.SkipBudget}}, got.Skipped)
}

func TestAllocate_GreedyByDensity(t *testing.T) {
	a := newAllocator(t, workmem.Config{InclusionThreshold: 1})

	got, err := a.Allocate(context.Background(), workmem.Request{
		Items: []workmem.Item{
			item("wide", "exchange", 0.95, textOf(50, "wide")),
			item("dense", "exchange", 0.9, textOf(10, "dense")),
			item("mid", "exchange", 0.8, textOf(20, "mid")),
		},
		Budget: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dense", "mid"}, ids(got.Items), "request order kept")
	assert.Equal(t, 30, got.Used)
	assert.Equal(t, []workmem.Skip{{ID: "wide", Reason: workmem.SkipBudget}}, got.Skipped)
}

func TestAllocate_InclusionThresholdCompresses(t *testing.T) {
	a := newAllocator(t, workmem.Config{InclusionThreshold: 0.5})

	got, err := a.Allocate(context.Background(), workmem.Request{
		Items: []workmem.Item{
			item("valuable", "exchange", 0.9, textOf(60, "valuable")),
			item("filler", "exchange", 0.3, textOf(60, "filler")),
		},
		Budget: 30,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"valuable"}, ids(got.Items))
	assert.True(t, got.Items[0].Compressed)
	assert.LessOrEqual(t, got.Used, 30)
	assert.Equal(t, 60, got.Items[0].OriginalTokens)
	assert.Contains(t, got.Skipped, workmem.Skip{ID: "filler", Reason: workmem.SkipBudget})
}

func TestAllocate_FloorAboveRoomSkips(t *testing.T) {
	a := newAllocator(t, workmem.Config{InclusionThreshold: 0})

	got, err := a.Allocate(context.Background(), workmem.Request{
		Items:  []workmem.Item{item("blob", "exchange", 0.9, strings.Repeat("word ", 40))},
		Budget: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Equal(t, []workmem.Skip{{ID: "blob", Reason: workmem.SkipFloor}}, got.Skipped)
}

func TestAllocate_Quotas(t *testing.T) {
	a := newAllocator(t, workmem.Config{InclusionThreshold: 0, Quotas: map[string]int{"topic": 25}})

	req := workmem.Request{
		Items: []workmem.Item{
			item("t1", "topic", 0.9, textOf(10, "one")),
			item("t2", "topic", 0.8, textOf(10, "two")),
			item("t3", "topic", 0.7, textOf(10, "three")),
			item("e1", "exchange", 0.6, textOf(10, "four")),
		},
		Budget: 100,
		Pinned: []string{"t3"},
	}
	got, err := a.Allocate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3", "e1"}, ids(got.Items), "pinned topic counts against the quota")
	assert.Equal(t, []workmem.Skip{{ID: "t2", Reason: workmem.SkipQuota}}, got.Skipped)

	// A request quota replaces the configured ones.
	req.Quotas = map[string]int{"exchange": 0}
	got, err = a.Allocate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids(got.Items))
}

func TestAllocate_Validation(t *testing.T) {
	a := newAllocator(t, workmem.DefaultConfig())
	ok := item("a", "exchange", 0.5, "hello")

	tests := map[string]workmem.Request{
		"negative budget": {Items: []workmem.Item{ok}, Budget: -1},
		"duplicate id":    {Items: []workmem.Item{ok, ok}, Budget: 10},
		"missing id":      {Items: []workmem.Item{item("", "exchange", 0.5, "x")}, Budget: 10},
		"unknown pin":     {Items: []workmem.Item{ok}, Budget: 10, Pinned: []string{"ghost"}},
		"nan score":       {Items: []workmem.Item{item("n", "exchange", math.NaN(), "x")}, Budget: 10},
		"negative quota":  {Items: []workmem.Item{ok}, Budget: 10, Quotas: map[string]int{"exchange": -1}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Allocate(context.Background(), req)
			require.Error(t, err)
			assert.True(t, memerr.IsInvalidInput(err))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := workmem.New(workmem.Config{InclusionThreshold: 2}, nil, nil)
	assert.True(t, memerr.IsInvalidInput(err))

	_, err = workmem.New(workmem.DefaultConfig(), nil, nil)
	assert.True(t, memerr.IsInvalidInput(err))
}
