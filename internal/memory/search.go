// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package memory

import (
	"context"
	"math"
	"sort"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// semanticOverfetch widens the ANN candidate set before exact rescoring.
const semanticOverfetch = 2

// SearchByKeyword scores documents in scope by saturated, weighted term
// frequency. Terms with weight >= 1 are original query terms and set the
// normalisation; lower weighted expansion terms can only add to a score.
// A document matching every original term once scores 1.
func (s *Store) SearchByKeyword(ctx context.Context, terms []store.WeightedTerm, scope store.Scope, limit int) ([]store.SearchResult, error) {
	if err := checkSearch(scope, limit); err != nil {
		return nil, err
	}

	weights := make(map[string]float64, len(terms))
	for _, t := range terms {
		if t.Weight <= 0 {
			continue
		}
		for _, term := range store.Terms(t.Term) {
			weights[term] = math.Max(weights[term], t.Weight)
		}
	}
	if len(weights) == 0 {
		return nil, nil
	}

	var norm, total float64
	names := make([]string, 0, len(weights))
	for term, w := range weights {
		names = append(names, term)
		total += w
		if w >= 1 {
			norm += w
		}
	}
	if norm == 0 {
		norm = total
	}
	sort.Strings(names)

	// Scores are not monotone in recency, so rank the full candidate set.
	hits, err := s.keywords.Search(ctx, names, scope, 0)
	if err != nil {
		return nil, err
	}

	type scored struct {
		store.SearchResult
		hit store.KeywordHit
	}
	ranked := make([]scored, 0, len(hits))
	for _, h := range hits {
		var sum float64
		for term, tf := range h.TermFreq {
			if tf <= 0 {
				continue
			}
			sum += weights[term] * float64(tf) / float64(tf+1)
		}
		if sum == 0 {
			continue
		}
		ranked = append(ranked, scored{
			SearchResult: store.SearchResult{Ref: h.Ref, Score: clamp01(2 * sum / norm), Match: store.MatchKeyword},
			hit:          h,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.hit.CreatedAt.Equal(b.hit.CreatedAt) {
			return a.hit.CreatedAt.After(b.hit.CreatedAt)
		}
		return a.Ref.ID < b.Ref.ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]store.SearchResult, len(ranked))
	for i, r := range ranked {
		out[i] = r.SearchResult
	}
	return out, nil
}

// SearchBySemantic returns the entities in scope nearest to vector. Scores
// are exact cosine similarities mapped to [0,1] from the stored embeddings;
// index distances only select candidates.
func (s *Store) SearchBySemantic(ctx context.Context, vector []float32, scope store.Scope, limit int) ([]store.SearchResult, error) {
	if err := checkSearch(scope, limit); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, memerr.New(memerr.CodeStoreInvalidInput, "semantic search needs a query vector")
	}

	hits, err := s.vectors.Search(ctx, vector, scope, limit*semanticOverfetch)
	if err != nil {
		return nil, err
	}

	out := make([]store.SearchResult, 0, len(hits))
	for _, h := range hits {
		emb, ref, err := s.embeddingOf(ctx, h.Ref)
		if memerr.IsNotFound(err) {
			s.logger.Warn("vector index entry without entity", "entity_id", h.Ref.ID, "kind", h.Ref.Kind)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !scope.Owns(ref) {
			continue
		}
		out = append(out, store.SearchResult{
			Ref:   ref,
			Score: clamp01((store.Cosine(vector, emb) + 1) / 2),
			Match: store.MatchSemantic,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Ref.ID < out[j].Ref.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) embeddingOf(ctx context.Context, ref store.EntityRef) ([]float32, store.EntityRef, error) {
	switch ref.Kind {
	case store.KindExchange:
		ex, rec, err := load[store.Exchange](ctx, s, store.CollectionExchanges, ref.ID)
		if err != nil {
			return nil, store.EntityRef{}, err
		}
		return ex.Embedding, rec.Ref(), nil
	case store.KindTopic:
		t, rec, err := load[store.Topic](ctx, s, store.CollectionTopics, ref.ID)
		if err != nil {
			return nil, store.EntityRef{}, err
		}
		return t.Embedding, rec.Ref(), nil
	case store.KindConversation:
		c, rec, err := load[store.Conversation](ctx, s, store.CollectionConversations, ref.ID)
		if err != nil {
			return nil, store.EntityRef{}, err
		}
		return c.Embedding, rec.Ref(), nil
	case store.KindSummary:
		sum, rec, err := load[store.Summary](ctx, s, store.CollectionSummaries, ref.ID)
		if err != nil {
			return nil, store.EntityRef{}, err
		}
		return sum.Embedding, rec.Ref(), nil
	default:
		return nil, store.EntityRef{}, memerr.Errorf(memerr.CodeStoreHierarchyCorrupt,
			"vector index holds unsupported kind %q", ref.Kind)
	}
}

// SearchByTemporal returns exchanges in scope created within rng, newest
// first, scored by recency decay.
func (s *Store) SearchByTemporal(ctx context.Context, rng store.TimeRange, scope store.Scope, limit int) ([]store.SearchResult, error) {
	if err := checkSearch(scope, limit); err != nil {
		return nil, err
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && !rng.From.Before(rng.To) {
		return nil, memerr.Errorf(memerr.CodeStoreInvalidInput, "empty time range [%s, %s)", rng.From, rng.To)
	}

	recs, err := s.docs.Query(ctx, store.RecordQuery{
		Collection: store.CollectionExchanges,
		Scope:      scope,
		Range:      rng,
		Newest:     true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]store.SearchResult, 0, len(recs))
	for _, rec := range recs {
		out = append(out, store.SearchResult{
			Ref:   rec.Ref(),
			Score: s.prio.Recency(rec.CreatedAt, now),
			Match: store.MatchTemporal,
		})
	}
	return out, nil
}

func checkSearch(scope store.Scope, limit int) error {
	if !scope.Valid() {
		return memerr.Errorf(memerr.CodeStoreInvalidInput, "invalid scope %s/%q", scope.Level, scope.ID)
	}
	if limit <= 0 {
		return memerr.Errorf(memerr.CodeStoreInvalidInput, "search limit must be > 0, got %d", limit)
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

