// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all am an and any are as at be
		because been before being below between both but by can could did do does doing down during
		each few for from further had has have having he her here hers him his how i if in into is it
		its itself just me more most my myself no nor not now of off on once only or other our ours
		out over own same she should so some such than that the their theirs them then there these they
		this those through to too under until up very was we were what when where which while who whom
		why will with would you your yours yourself tell remind recall remember said say about again
		last past previous today yesterday week weeks day days hour hours month months ago`) {
		stopwords[w] = struct{}{}
	}
}

// QueryContext is the caller-side context of a query.
type QueryContext struct {
	// Now anchors relative time phrases. Zero uses the engine clock.
	Now time.Time
}

// ProcessedQuery is a raw query decomposed for retrieval.
type ProcessedQuery struct {
	Raw string
	// Keywords are the query's content terms in first-seen order.
	Keywords []string
	// Expansions maps a keyword to related terms. They widen recall but
	// never replace the keyword.
	Expansions map[string][]string
	Entities   []string
	Intents    []string
	Embedding  []float32
	// TimeRange is set when HasTimeRange is true.
	TimeRange    store.TimeRange
	HasTimeRange bool
}

// Terms returns the weighted keyword query: every keyword and every word
// of a detected entity at weight 1, and every expansion at
// expansionWeight. A term is listed once, at its first weight.
func (q ProcessedQuery) Terms(expansionWeight float64) []store.WeightedTerm {
	out := make([]store.WeightedTerm, 0, len(q.Keywords))
	seen := make(map[string]struct{}, len(q.Keywords))
	add := func(term string, weight float64) {
		if _, dup := seen[term]; dup {
			return
		}
		seen[term] = struct{}{}
		out = append(out, store.WeightedTerm{Term: term, Weight: weight})
	}

	for _, k := range q.Keywords {
		add(k, 1)
	}
	for _, ent := range q.Entities {
		for _, t := range store.Terms(ent) {
			if _, stop := stopwords[t]; !stop {
				add(t, 1)
			}
		}
	}
	if expansionWeight <= 0 {
		return out
	}
	for _, k := range q.Keywords {
		for _, e := range q.Expansions[k] {
			add(e, expansionWeight)
		}
	}
	return out
}

// Process analyses raw into a ProcessedQuery. Collaborator failures are
// returned as they are; nothing is silently dropped.
func (e *Engine) Process(ctx context.Context, raw string, qc QueryContext) (ProcessedQuery, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ProcessedQuery{}, memerr.New(memerr.CodeRetrievalInvalidInput, "query is empty")
	}
	now := qc.Now
	if now.IsZero() {
		now = e.now()
	}

	pq := ProcessedQuery{Raw: raw, Keywords: keywords(raw)}
	pq.Expansions = e.expander.Expand(pq.Keywords)
	pq.TimeRange, pq.HasTimeRange = ParseTimeRange(raw, now)

	analysis, err := e.analyzer.Analyze(ctx, raw)
	if err != nil {
		return ProcessedQuery{}, memerr.With(err, memerr.Field("stage", "analyze"))
	}
	pq.Entities = analysis.Entities
	pq.Intents = analysis.Intents

	vecs, err := e.embedder.Embed(ctx, []string{raw})
	if err != nil {
		return ProcessedQuery{}, memerr.With(err, memerr.Field("stage", "embed"))
	}
	if len(vecs) != 1 {
		return ProcessedQuery{}, memerr.Errorf(memerr.CodeProviderResponseInvalid,
			"embedder returned %d vectors for 1 query", len(vecs))
	}
	pq.Embedding = vecs[0]
	return pq, nil
}

// keywords drops stopwords and duplicates. A query made only of
// stopwords keeps its terms so it can still match.
func keywords(raw string) []string {
	terms := store.Terms(raw)
	seen := make(map[string]struct{}, len(terms))
	var out, all []string
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		all = append(all, t)
		if _, stop := stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}
