// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package workmem packs ranked context into a hard token budget.
package workmem

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/memory"
	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Item is one candidate for working memory.
type Item struct {
	Ref store.EntityRef
	// Type is the content type quotas are keyed by.
	Type      string
	Score     float64
	Content   string
	Timestamp time.Time
	// SummaryOnly marks content standing in for discarded verbatim text.
	SummaryOnly bool

	// Tokens is set by Allocate to the cost of Content.
	Tokens int
	// OriginalTokens is the cost before compression.
	OriginalTokens int
	Pinned         bool
	Compressed     bool

	doc *compress.Document
}

// FromView builds an Item from a resolved store view.
func FromView(v memory.View, score float64) Item {
	doc := v.Document()
	ts := v.CreatedAt
	if v.Ref.Kind != store.KindExchange {
		ts = v.UpdatedAt
	}
	return Item{
		Ref:         v.Ref,
		Type:        string(v.Ref.Kind),
		Score:       score,
		Content:     v.Content,
		Timestamp:   ts,
		SummaryOnly: v.SummaryOnly,
		doc:         &doc,
	}
}

func (it Item) document() compress.Document {
	if it.doc != nil {
		return *it.doc
	}
	return compress.Document{
		ID:       it.Ref.ID,
		Kind:     it.Ref.Kind,
		Segments: []compress.Segment{{ID: it.Ref.ID, Text: it.Content, Score: it.Score}},
	}
}

// Request is the input to Allocate.
type Request struct {
	// Items are ranked candidates; order breaks density ties.
	Items  []Item
	Budget int
	// Pinned are item ids that must be kept.
	Pinned []string
	// Quotas cap the tokens of non-pinned items per content type. Pinned
	// items count against a quota but are never dropped for it.
	Quotas map[string]int
}

// SkipReason says why a candidate was left out.
type SkipReason string

const (
	SkipBudget SkipReason = "budget"
	SkipQuota  SkipReason = "quota"
	// SkipFloor means compression could not reach the room left.
	SkipFloor SkipReason = "floor"
)

// Skip records a dropped candidate.
type Skip struct {
	ID     string
	Reason SkipReason
}

// Allocation is the outcome of Allocate. Items keep request order.
type Allocation struct {
	Items     []Item
	Budget    int
	Used      int
	Remaining int
	Skipped   []Skip
	// OriginalTokens is the pre-compression cost of Items.
	OriginalTokens int
}

// Ratio is Used/OriginalTokens, 1 when nothing was selected.
func (a Allocation) Ratio() float64 {
	if a.OriginalTokens == 0 {
		return 1
	}
	return float64(a.Used) / float64(a.OriginalTokens)
}

// Config parameterises an Allocator.
type Config struct {
	// InclusionThreshold is the minimum score for compressing an item that
	// does not fit instead of skipping it.
	InclusionThreshold float64 `mapstructure:"inclusion_threshold"`
	// Quotas apply when a request carries none.
	Quotas map[string]int `mapstructure:"quotas"`
}

func DefaultConfig() Config {
	return Config{InclusionThreshold: 0.5}
}

func (c Config) Validate() error {
	if c.InclusionThreshold < 0 || c.InclusionThreshold > 1 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
			"inclusion_threshold must be in [0,1], got %v", c.InclusionThreshold)
	}
	for k, v := range c.Quotas {
		if v < 0 {
			return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "quota for %q must be >= 0, got %d", k, v)
		}
	}
	return nil
}

// Allocator selects the working-memory set for a turn. It never writes to
// the store.
type Allocator struct {
	cfg    Config
	comp   *compress.Compressor
	logger *slog.Logger
}

// New creates an Allocator.
func New(cfg Config, comp *compress.Compressor, logger *slog.Logger) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if comp == nil {
		return nil, memerr.New(memerr.CodeConfigValidateInvalidValue, "allocator requires a compressor")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{cfg: cfg, comp: comp, logger: logger}, nil
}

// Allocate packs req.Items into req.Budget tokens:
//
//  1. Pinned items are reserved. If they exceed the budget they are
//     compressed largest first; CapacityExceeded is returned if they still
//     cannot fit.
//  2. The rest are taken greedily by score per token.
//  3. An item that does not fit but scores at least the inclusion
//     threshold is compressed into the remaining room.
//  4. Items whose type is over quota are skipped, never compressed.
//
// The total cost of the result never exceeds the budget.
func (a *Allocator) Allocate(ctx context.Context, req Request) (Allocation, error) {
	items, pinned, err := a.prepare(req)
	if err != nil {
		return Allocation{}, err
	}
	quotas := req.Quotas
	if quotas == nil {
		quotas = a.cfg.Quotas
	}

	if err := a.fitPinned(ctx, items, pinned, req.Budget); err != nil {
		return Allocation{}, err
	}

	used := 0
	usedByType := make(map[string]int)
	taken := make([]bool, len(items))
	for _, i := range pinned {
		used += items[i].Tokens
		usedByType[items[i].Type] += items[i].Tokens
		taken[i] = true
	}

	var skipped []Skip
	for _, i := range byDensity(items, taken) {
		if err := ctx.Err(); err != nil {
			return Allocation{}, err
		}
		it := &items[i]
		remaining := req.Budget - used

		if q, ok := quotas[it.Type]; ok && usedByType[it.Type]+it.Tokens > q {
			skipped = append(skipped, Skip{ID: it.Ref.ID, Reason: SkipQuota})
			continue
		}
		if it.Tokens > remaining {
			if it.Score < a.cfg.InclusionThreshold || remaining <= 0 {
				skipped = append(skipped, Skip{ID: it.Ref.ID, Reason: SkipBudget})
				continue
			}
			ok, err := a.shrink(ctx, it, remaining)
			if err != nil {
				return Allocation{}, err
			}
			if !ok {
				skipped = append(skipped, Skip{ID: it.Ref.ID, Reason: SkipFloor})
				continue
			}
		}
		taken[i] = true
		used += it.Tokens
		usedByType[it.Type] += it.Tokens
	}

	out := Allocation{Budget: req.Budget, Used: used, Remaining: req.Budget - used, Skipped: skipped}
	for i, it := range items {
		if taken[i] {
			out.Items = append(out.Items, it)
			out.OriginalTokens += it.OriginalTokens
		}
	}
	a.logger.Debug("allocated working memory",
		"budget", req.Budget, "used", used, "items", len(out.Items), "skipped", len(skipped))
	return out, nil
}

func (a *Allocator) prepare(req Request) ([]Item, []int, error) {
	if req.Budget < 0 {
		return nil, nil, memerr.Errorf(memerr.CodeAllocatorInvalidInput, "budget must be >= 0, got %d", req.Budget)
	}
	for k, v := range req.Quotas {
		if v < 0 {
			return nil, nil, memerr.Errorf(memerr.CodeAllocatorInvalidInput, "quota for %q must be >= 0, got %d", k, v)
		}
	}

	counter := a.comp.Counter()
	items := make([]Item, len(req.Items))
	index := make(map[string]int, len(req.Items))
	for i, it := range req.Items {
		if it.Ref.ID == "" {
			return nil, nil, memerr.Errorf(memerr.CodeAllocatorInvalidInput, "item %d has no id", i)
		}
		if _, dup := index[it.Ref.ID]; dup {
			return nil, nil, memerr.New(memerr.CodeAllocatorInvalidInput, "duplicate item",
				memerr.FieldEntityID(it.Ref.ID))
		}
		if math.IsNaN(it.Score) {
			return nil, nil, memerr.New(memerr.CodeAllocatorInvalidInput, "item score is NaN",
				memerr.FieldEntityID(it.Ref.ID))
		}
		index[it.Ref.ID] = i
		it.Tokens = counter.Count(it.Content)
		it.OriginalTokens = it.Tokens
		it.Pinned = false
		it.Compressed = false
		items[i] = it
	}

	pinned := make([]int, 0, len(req.Pinned))
	seen := make(map[string]struct{}, len(req.Pinned))
	for _, id := range req.Pinned {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		i, ok := index[id]
		if !ok {
			return nil, nil, memerr.New(memerr.CodeAllocatorInvalidInput, "pinned id is not a candidate",
				memerr.FieldEntityID(id))
		}
		items[i].Pinned = true
		pinned = append(pinned, i)
	}
	return items, pinned, nil
}

// fitPinned compresses pinned items, largest first, until their total
// fits the budget.
func (a *Allocator) fitPinned(ctx context.Context, items []Item, pinned []int, budget int) error {
	total := 0
	for _, i := range pinned {
		total += items[i].Tokens
	}
	if total <= budget {
		return nil
	}

	order := append([]int(nil), pinned...)
	sort.SliceStable(order, func(x, y int) bool {
		return items[order[x]].Tokens > items[order[y]].Tokens
	})
	for _, i := range order {
		if total <= budget {
			break
		}
		it := &items[i]
		before := it.Tokens
		target := max(before-(total-budget), 0)
		if floor := a.comp.MinimalTokens(it.document(), nil); target < floor {
			target = floor
		}
		if target >= before {
			continue
		}
		if _, err := a.compress(ctx, it, target); err != nil {
			if memerr.IsCapacityExceeded(err) {
				continue
			}
			return err
		}
		total -= before - it.Tokens
	}

	if total > budget {
		return memerr.New(memerr.CodeAllocatorCapacityExceeded,
			fmt.Sprintf("pinned content needs %d tokens after compression, budget is %d", total, budget),
			memerr.Field("pinned_tokens", total), memerr.Field("budget", budget), memerr.Field("pinned", len(pinned)))
	}
	return nil
}

// shrink compresses it into room tokens. It reports false when the
// compression floor is above room.
func (a *Allocator) shrink(ctx context.Context, it *Item, room int) (bool, error) {
	if a.comp.MinimalTokens(it.document(), nil) > room {
		return false, nil
	}
	ok, err := a.compress(ctx, it, room)
	if memerr.IsCapacityExceeded(err) {
		return false, nil
	}
	return ok, err
}

func (a *Allocator) compress(ctx context.Context, it *Item, target int) (bool, error) {
	res, err := a.comp.Compress(ctx, it.document(), target, nil)
	if err != nil {
		return false, memerr.With(err, memerr.FieldEntityID(it.Ref.ID))
	}
	if res.Tokens > target {
		return false, nil
	}
	doc := it.document()
	doc.Segments = res.Segments
	it.doc = &doc
	it.Content = res.Content
	it.Tokens = res.Tokens
	it.Compressed = it.Compressed || res.Compressed
	return true, nil
}

// byDensity returns the untaken indices ordered by score per token, then
// score, then request order. Free items come first.
func byDensity(items []Item, taken []bool) []int {
	order := make([]int, 0, len(items))
	for i := range items {
		if !taken[i] {
			order = append(order, i)
		}
	}
	density := func(it Item) float64 {
		if it.Tokens == 0 {
			return math.Inf(1)
		}
		return it.Score / float64(it.Tokens)
	}
	sort.SliceStable(order, func(x, y int) bool {
		a, b := items[order[x]], items[order[y]]
		da, db := density(a), density(b)
		if da != db {
			return da > db
		}
		return a.Score > b.Score
	})
	return order
}
