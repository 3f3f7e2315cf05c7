// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package retrieval turns a user query into ranked, tier-safe context
// candidates drawn from the keyword, vector and time indices.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/memorg-dev/memorg/internal/memory"
	"github.com/memorg-dev/memorg/internal/prioritize"
	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Weights are the fusion coefficients of the three signals.
type Weights struct {
	Keyword  float64 `mapstructure:"keyword"`
	Vector   float64 `mapstructure:"vector"`
	Temporal float64 `mapstructure:"temporal"`
}

// Config parameterises an Engine.
type Config struct {
	Weights Weights `mapstructure:"weights"`
	// Overfetch multiplies topK for each index query.
	Overfetch int `mapstructure:"overfetch"`
	// ExpansionWeight is the keyword weight of expansion terms.
	ExpansionWeight float64 `mapstructure:"expansion_weight"`
	// ThesaurusPath replaces the built-in synonym groups.
	ThesaurusPath string `mapstructure:"thesaurus_path"`
}

func DefaultConfig() Config {
	return Config{
		Weights:         Weights{Keyword: 1.0 / 3, Vector: 1.0 / 3, Temporal: 1.0 / 3},
		Overfetch:       4,
		ExpansionWeight: 0.5,
	}
}

func (c Config) Validate() error {
	w := c.Weights
	if w.Keyword < 0 || w.Vector < 0 || w.Temporal < 0 {
		return memerr.New(memerr.CodeConfigValidateInvalidValue, "retrieval weights must be >= 0")
	}
	if w.Keyword+w.Vector+w.Temporal == 0 {
		return memerr.New(memerr.CodeConfigValidateInvalidValue, "retrieval weights must not all be zero")
	}
	if c.Overfetch < 1 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "retrieval overfetch must be >= 1, got %d", c.Overfetch)
	}
	if c.ExpansionWeight < 0 || c.ExpansionWeight >= 1 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "expansion_weight must be in [0,1), got %v", c.ExpansionWeight)
	}
	return nil
}

// Index is the read surface of the context store used by retrieval.
type Index interface {
	SearchByKeyword(ctx context.Context, terms []store.WeightedTerm, scope store.Scope, limit int) ([]store.SearchResult, error)
	SearchBySemantic(ctx context.Context, vector []float32, scope store.Scope, limit int) ([]store.SearchResult, error)
	SearchByTemporal(ctx context.Context, rng store.TimeRange, scope store.Scope, limit int) ([]store.SearchResult, error)
	Resolve(ctx context.Context, scope store.Scope, refs []store.EntityRef) ([]memory.View, error)
}

// Deps are the collaborators of an Engine. Expander defaults to the
// built-in thesaurus.
type Deps struct {
	Index       Index
	Prioritizer *prioritize.Prioritizer
	Embedder    provider.Embedder
	Analyzer    provider.Analyzer
	Expander    Expander
	Logger      *slog.Logger
	Now         func() time.Time
}

// Engine processes queries and fuses index results.
type Engine struct {
	cfg      Config
	index    Index
	prio     *prioritize.Prioritizer
	embedder provider.Embedder
	analyzer provider.Analyzer
	expander Expander
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Index == nil || deps.Prioritizer == nil || deps.Embedder == nil || deps.Analyzer == nil {
		return nil, memerr.New(memerr.CodeConfigValidateInvalidValue,
			"retrieval requires an index, prioritizer, embedder and analyzer")
	}
	e := &Engine{
		cfg:      cfg,
		index:    deps.Index,
		prio:     deps.Prioritizer,
		embedder: deps.Embedder,
		analyzer: deps.Analyzer,
		expander: deps.Expander,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if e.expander == nil {
		th, err := LoadThesaurus(cfg.ThesaurusPath)
		if err != nil {
			return nil, err
		}
		e.expander = th
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Candidate is one fused retrieval result. Cold entities carry only their
// summary as content.
type Candidate struct {
	memory.View
	Score    float64
	Keyword  float64
	Vector   float64
	Temporal float64
	// Matches lists the indices that surfaced the candidate.
	Matches []store.MatchType
}

func (c Candidate) RankScore() float64 { return c.Score }

func (c Candidate) RankTime() time.Time { return Activity(c.View) }

// Activity is the timestamp recency is measured from: creation for
// exchanges, last update for aggregates.
func Activity(v memory.View) time.Time {
	if v.Ref.Kind == store.KindExchange {
		return v.CreatedAt
	}
	return v.UpdatedAt
}

// Retrieve returns up to topK candidates in scope, ranked by
//
//	score = wk·keyword + wv·vector + wt·temporal
//
// where keyword is the saturated term match score, vector is (cos+1)/2
// against the query embedding and temporal is Prioritizer recency. Each
// index is asked for topK·overfetch hits. When the query names a time
// window, candidates outside it are dropped.
func (e *Engine) Retrieve(ctx context.Context, pq ProcessedQuery, scope store.Scope, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, memerr.Errorf(memerr.CodeRetrievalInvalidInput, "topK must be > 0, got %d", topK)
	}
	if !scope.Valid() {
		return nil, memerr.Errorf(memerr.CodeRetrievalInvalidInput, "invalid scope %s/%q", scope.Level, scope.ID)
	}
	limit := topK * e.cfg.Overfetch

	var (
		order []store.EntityRef
		byID  = make(map[string]*Candidate)
	)
	collect := func(results []store.SearchResult) {
		for _, r := range results {
			c, ok := byID[r.Ref.ID]
			if !ok {
				c = &Candidate{}
				byID[r.Ref.ID] = c
				order = append(order, r.Ref)
			}
			c.Matches = append(c.Matches, r.Match)
			if r.Match == store.MatchKeyword {
				c.Keyword = r.Score
			}
		}
	}

	if terms := pq.Terms(e.cfg.ExpansionWeight); len(terms) > 0 {
		hits, err := e.index.SearchByKeyword(ctx, terms, scope, limit)
		if err != nil {
			return nil, err
		}
		collect(hits)
	}
	if len(pq.Embedding) > 0 {
		hits, err := e.index.SearchBySemantic(ctx, pq.Embedding, scope, limit)
		if err != nil {
			return nil, err
		}
		collect(hits)
	}
	rng := store.TimeRange{}
	if pq.HasTimeRange {
		rng = pq.TimeRange
	}
	hits, err := e.index.SearchByTemporal(ctx, rng, scope, limit)
	if err != nil {
		return nil, err
	}
	collect(hits)

	if len(order) == 0 {
		return nil, nil
	}
	views, err := e.index.Resolve(ctx, scope, order)
	if err != nil {
		return nil, err
	}

	now := e.now()
	w := e.cfg.Weights
	cands := make([]Candidate, 0, len(views))
	for _, v := range views {
		if v.Content == "" {
			continue
		}
		at := Activity(v)
		if pq.HasTimeRange && !pq.TimeRange.Contains(at) {
			continue
		}
		c := *byID[v.Ref.ID]
		c.View = v
		if len(pq.Embedding) > 0 && len(v.Embedding) > 0 {
			c.Vector = clamp01((store.Cosine(pq.Embedding, v.Embedding) + 1) / 2)
		}
		c.Temporal = e.prio.Recency(at, now)
		c.Score = w.Keyword*c.Keyword + w.Vector*c.Vector + w.Temporal*c.Temporal
		cands = append(cands, c)
	}

	ranked := prioritize.Rank(cands, topK)
	e.logger.Debug("retrieved context",
		"scope", scope.Level, "scope_id", scope.ID, "candidates", len(cands), "returned", len(ranked))
	return ranked, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
