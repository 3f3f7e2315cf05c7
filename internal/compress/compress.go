// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package compress reduces entity content to a token budget while keeping
// pinned segments verbatim.
package compress

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/tokens"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Strategy selects how content is reduced.
type Strategy string

const (
	StrategyAuto        Strategy = "auto"
	StrategyExtractive  Strategy = "extractive"
	StrategyAbstractive Strategy = "abstractive"
	// StrategyNone marks a no-op result.
	StrategyNone Strategy = "none"
)

// Valid reports whether s can be configured.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyAuto, StrategyExtractive, StrategyAbstractive:
		return true
	default:
		return false
	}
}

// Segment is an addressable piece of a document, usually one exchange or
// one prior summary. Score is its standing relevance in [0,1].
type Segment struct {
	ID    string
	Text  string
	Score float64
}

// Document is the input to Compress.
type Document struct {
	ID       string
	Kind     store.Kind
	Segments []Segment
}

// Text renders the document: segments joined by newlines.
func (d Document) Text() string {
	return render(d.Segments)
}

func render(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Result is the outcome of Compress.
type Result struct {
	Content  string
	Segments []Segment
	Tokens   int
	// OriginalTokens is the input cost.
	OriginalTokens int
	// Ratio is Tokens/OriginalTokens, for observability only.
	Ratio      float64
	Strategy   Strategy
	Compressed bool
}

// Config parameterises a Compressor.
type Config struct {
	Strategy Strategy `mapstructure:"strategy"`
	// MinAbstractiveTokens is the smallest target for which auto picks
	// abstractive rewriting.
	MinAbstractiveTokens int    `mapstructure:"min_abstractive_tokens"`
	Model                string `mapstructure:"model"`
	// CentralityWeight scales the vocabulary-overlap bonus of a sentence.
	CentralityWeight float64 `mapstructure:"centrality_weight"`
}

func DefaultConfig() Config {
	return Config{
		Strategy:             StrategyAuto,
		MinAbstractiveTokens: 64,
		CentralityWeight:     0.5,
	}
}

func (c Config) Validate() error {
	if !c.Strategy.Valid() {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "compression strategy %q is not one of auto, extractive, abstractive", c.Strategy)
	}
	if c.MinAbstractiveTokens < 0 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "min_abstractive_tokens must be >= 0, got %d", c.MinAbstractiveTokens)
	}
	if c.CentralityWeight < 0 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "centrality_weight must be >= 0, got %v", c.CentralityWeight)
	}
	return nil
}

// Compressor implements budget-aware lossy reduction.
type Compressor struct {
	cfg     Config
	counter tokens.Counter
	gen     provider.Generator
	logger  *slog.Logger
}

// New creates a Compressor. gen may be nil, in which case abstractive
// compression is unavailable and auto always extracts.
func New(cfg Config, counter tokens.Counter, gen provider.Generator, logger *slog.Logger) (*Compressor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Strategy == StrategyAbstractive && gen == nil {
		return nil, memerr.New(memerr.CodeConfigValidateInvalidValue, "abstractive compression requires a generator")
	}
	if counter == nil {
		counter = tokens.Estimator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{cfg: cfg, counter: counter, gen: gen, logger: logger}, nil
}

// Counter returns the token counter used for every cost decision.
func (c *Compressor) Counter() tokens.Counter { return c.counter }

// Tokens returns the current cost of d.
func (c *Compressor) Tokens(d Document) int {
	return c.counter.Count(d.Text())
}

// Compress reduces d to at most target tokens. Segments named in pinned
// are returned unmodified. A target at or above the current cost returns
// d unchanged. Below MinimalTokens only the pinned segments remain;
// CapacityExceeded is returned when those alone exceed the target.
func (c *Compressor) Compress(ctx context.Context, d Document, target int, pinned []string) (Result, error) {
	if target < 0 {
		return Result{}, memerr.Errorf(memerr.CodeCompressInvalidInput, "compression target must be >= 0, got %d", target)
	}

	original := c.Tokens(d)
	if target >= original {
		return Result{
			Content:        d.Text(),
			Segments:       append([]Segment(nil), d.Segments...),
			Tokens:         original,
			OriginalTokens: original,
			Ratio:          1,
			Strategy:       StrategyNone,
		}, nil
	}

	pins := pinSet(pinned)
	if floor := c.counter.Count(render(pinnedOnly(d, pins))); floor > target {
		return Result{}, memerr.New(memerr.CodeCompressCapacityExceeded,
			fmt.Sprintf("pinned content of %s needs %d tokens, target %d", d.ID, floor, target),
			memerr.FieldEntityID(d.ID), memerr.Field("floor", floor), memerr.Field("target", target))
	}

	strategy := c.pick(d, target)
	var (
		segs []Segment
		err  error
	)
	switch strategy {
	case StrategyAbstractive:
		segs, err = c.abstractive(ctx, d, target, pins)
	default:
		segs, err = c.extractive(d, target, pins)
	}
	if err != nil {
		return Result{}, err
	}

	content := render(segs)
	cost := c.counter.Count(content)
	if cost > target {
		return Result{}, memerr.New(memerr.CodeCompressCapacityExceeded,
			fmt.Sprintf("compressed %s still costs %d tokens, target %d", d.ID, cost, target),
			memerr.FieldEntityID(d.ID))
	}

	c.logger.Debug("compressed content",
		"entity_id", d.ID, "strategy", strategy, "tokens", cost, "original_tokens", original, "target", target)

	return Result{
		Content:        content,
		Segments:       segs,
		Tokens:         cost,
		OriginalTokens: original,
		Ratio:          float64(cost) / float64(original),
		Strategy:       strategy,
		Compressed:     true,
	}, nil
}

// MinimalTokens is the smallest cost at which d keeps unpinned content:
// every pinned segment plus its cheapest unpinned sentence, if any.
func (c *Compressor) MinimalTokens(d Document, pinned []string) int {
	pins := pinSet(pinned)
	units := c.units(d, pins)
	if len(units) == 0 {
		return c.counter.Count(render(pinnedOnly(d, pins)))
	}
	floor := -1
	for _, u := range units {
		if cost := c.counter.Count(render(assemble(d, pins, []unit{u}))); floor < 0 || cost < floor {
			floor = cost
		}
	}
	return floor
}

func (c *Compressor) pick(d Document, target int) Strategy {
	switch c.cfg.Strategy {
	case StrategyExtractive:
		return StrategyExtractive
	case StrategyAbstractive:
		return StrategyAbstractive
	}
	if c.gen == nil || target < c.cfg.MinAbstractiveTokens {
		return StrategyExtractive
	}
	switch d.Kind {
	case store.KindTopic, store.KindConversation, store.KindSummary:
		return StrategyAbstractive
	default:
		return StrategyExtractive
	}
}

type unit struct {
	seg   int
	pos   int
	text  string
	score float64
}

// units splits every unpinned segment into scored sentences.
func (c *Compressor) units(d Document, pins map[string]struct{}) []unit {
	var units []unit
	for i, s := range d.Segments {
		if _, ok := pins[s.ID]; ok {
			continue
		}
		for j, sentence := range SplitSentences(s.Text) {
			units = append(units, unit{seg: i, pos: j, text: sentence, score: s.Score})
		}
	}

	// Centrality: how much of a sentence's vocabulary recurs elsewhere.
	if len(units) > 1 && c.cfg.CentralityWeight > 0 {
		df := make(map[string]int)
		vocab := make([][]string, len(units))
		for i, u := range units {
			vocab[i] = uniqueTerms(u.text)
			for _, term := range vocab[i] {
				df[term]++
			}
		}
		for i := range units {
			if len(vocab[i]) == 0 {
				continue
			}
			var shared float64
			for _, term := range vocab[i] {
				shared += float64(df[term]-1) / float64(len(units)-1)
			}
			units[i].score += c.cfg.CentralityWeight * shared / float64(len(vocab[i]))
		}
	}
	return units
}

// rankUnits orders by score descending, then document position.
func rankUnits(units []unit) []unit {
	ranked := append([]unit(nil), units...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].seg != ranked[j].seg {
			return ranked[i].seg < ranked[j].seg
		}
		return ranked[i].pos < ranked[j].pos
	})
	return ranked
}

// assemble renders pinned segments whole and the chosen units in document
// order, one output segment per contributing input segment.
func assemble(d Document, pins map[string]struct{}, chosen []unit) []Segment {
	bySeg := make(map[int][]unit)
	for _, u := range chosen {
		bySeg[u.seg] = append(bySeg[u.seg], u)
	}

	var out []Segment
	for i, s := range d.Segments {
		if _, ok := pins[s.ID]; ok {
			out = append(out, s)
			continue
		}
		picked := bySeg[i]
		if len(picked) == 0 {
			continue
		}
		sort.Slice(picked, func(a, b int) bool { return picked[a].pos < picked[b].pos })
		texts := make([]string, len(picked))
		for k, u := range picked {
			texts[k] = u.text
		}
		out = append(out, Segment{ID: s.ID, Text: strings.Join(texts, " "), Score: s.Score})
	}
	return out
}

func pinnedOnly(d Document, pins map[string]struct{}) []Segment {
	return assemble(d, pins, nil)
}

// extractive greedily keeps the highest scoring sentences that fit.
func (c *Compressor) extractive(d Document, target int, pins map[string]struct{}) ([]Segment, error) {
	var chosen []unit
	for _, u := range rankUnits(c.units(d, pins)) {
		candidate := append(chosen[:len(chosen):len(chosen)], u)
		if c.counter.Count(render(assemble(d, pins, candidate))) <= target {
			chosen = candidate
		}
	}
	return assemble(d, pins, chosen), nil
}

const abstractivePrompt = `Rewrite the conversation content below as a faithful summary of at most %d tokens.
Keep names, numbers, decisions and open questions. Reply with the summary only.`

// abstractive asks the generator to rewrite unpinned content, then trims
// the rewrite extractively if it overshoots.
func (c *Compressor) abstractive(ctx context.Context, d Document, target int, pins map[string]struct{}) ([]Segment, error) {
	kept := pinnedOnly(d, pins)
	var source []Segment
	for _, s := range d.Segments {
		if _, ok := pins[s.ID]; !ok {
			source = append(source, s)
		}
	}
	if len(source) == 0 {
		return kept, nil
	}

	budget := target - c.counter.Count(render(kept))
	if len(kept) > 0 {
		budget-- // newline separator
	}
	if budget <= 0 {
		return c.extractive(d, target, pins)
	}

	resp, err := c.gen.Generate(ctx, provider.GenerateRequest{
		Model:        c.cfg.Model,
		SystemPrompt: fmt.Sprintf(abstractivePrompt, budget),
		Messages:     []provider.Message{{Role: provider.MessageRoleUser, Content: render(source)}},
		Options:      provider.GenerateOptions{MaxTokens: budget},
	})
	if err != nil {
		return nil, err
	}

	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return nil, memerr.New(memerr.CodeProviderUnavailable, "generator returned an empty summary",
			memerr.FieldEntityID(d.ID), memerr.FieldProvider(provider.NameOf(c.gen)))
	}

	// The rewrite takes the position of the first unpinned segment.
	rewritten := Document{ID: d.ID, Kind: d.Kind}
	placed := false
	for _, s := range d.Segments {
		if _, ok := pins[s.ID]; ok {
			rewritten.Segments = append(rewritten.Segments, s)
			continue
		}
		if !placed {
			rewritten.Segments = append(rewritten.Segments, Segment{ID: d.ID + "#summary", Text: summary, Score: 1})
			placed = true
		}
	}
	if c.counter.Count(rewritten.Text()) <= target {
		return rewritten.Segments, nil
	}
	segs, err := c.extractive(rewritten, target, pins)
	if err != nil {
		return nil, err
	}
	// An overshooting rewrite that cannot be trimmed falls back to
	// extracting from the source, which always fits above the pinned cost.
	if c.counter.Count(render(segs)) > target || len(segs) == len(kept) {
		return c.extractive(d, target, pins)
	}
	return segs, nil
}

func pinSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func uniqueTerms(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range store.Terms(text) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
