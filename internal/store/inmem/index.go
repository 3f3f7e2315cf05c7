// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package inmem

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// --- Keyword index ---

var _ store.KeywordIndex = (*KeywordIndex)(nil)

type keywordEntry struct {
	doc store.KeywordDoc
	tf  map[string]int
}

// KeywordIndex is an inverted index from term to document ids.
type KeywordIndex struct {
	mu       sync.RWMutex
	docs     map[string]keywordEntry
	postings map[string]map[string]struct{}
}

func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{
		docs:     make(map[string]keywordEntry),
		postings: make(map[string]map[string]struct{}),
	}
}

func (k *KeywordIndex) Index(_ context.Context, doc store.KeywordDoc) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.removeLocked(doc.Ref.ID)

	tf := make(map[string]int)
	for _, term := range store.Terms(doc.Text) {
		tf[term]++
	}
	for term := range tf {
		ids := k.postings[term]
		if ids == nil {
			ids = make(map[string]struct{})
			k.postings[term] = ids
		}
		ids[doc.Ref.ID] = struct{}{}
	}
	k.docs[doc.Ref.ID] = keywordEntry{doc: doc, tf: tf}
	return nil
}

func (k *KeywordIndex) Remove(_ context.Context, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.removeLocked(id)
	return nil
}

func (k *KeywordIndex) removeLocked(id string) {
	entry, ok := k.docs[id]
	if !ok {
		return
	}
	for term := range entry.tf {
		delete(k.postings[term], id)
		if len(k.postings[term]) == 0 {
			delete(k.postings, term)
		}
	}
	delete(k.docs, id)
}

func (k *KeywordIndex) Search(_ context.Context, terms []string, scope store.Scope, limit int) ([]store.KeywordHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	matched := make(map[string]struct{})
	for _, term := range terms {
		for id := range k.postings[strings.ToLower(term)] {
			matched[id] = struct{}{}
		}
	}

	hits := make([]store.KeywordHit, 0, len(matched))
	for id := range matched {
		entry := k.docs[id]
		if !scope.Owns(entry.doc.Ref) {
			continue
		}
		tf := make(map[string]int)
		for _, term := range terms {
			t := strings.ToLower(term)
			if n := entry.tf[t]; n > 0 {
				tf[t] = n
			}
		}
		hits = append(hits, store.KeywordHit{Ref: entry.doc.Ref, TermFreq: tf, CreatedAt: entry.doc.CreatedAt})
	}

	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].Ref.ID < hits[j].Ref.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (k *KeywordIndex) Close() error { return nil }

// --- Vector index ---

var _ store.VectorIndex = (*VectorIndex)(nil)

type vectorEntry struct {
	ref store.EntityRef
	vec []float32
}

// VectorIndex performs exact brute-force cosine search, which satisfies
// the approximate nearest-neighbour contract.
type VectorIndex struct {
	mu      sync.RWMutex
	dims    int
	entries map[string]vectorEntry
}

func NewVectorIndex(dims int) *VectorIndex {
	return &VectorIndex{dims: dims, entries: make(map[string]vectorEntry)}
}

func (v *VectorIndex) Upsert(_ context.Context, ref store.EntityRef, embedding []float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.dims <= 0 && len(v.entries) == 0 {
		v.dims = len(embedding)
	}
	if len(embedding) != v.dims {
		return memerr.Errorf(memerr.CodeStoreVectorDimensionValue,
			"embedding has %d dimensions, index expects %d", len(embedding), v.dims)
	}
	v.entries[ref.ID] = vectorEntry{ref: ref, vec: append([]float32(nil), embedding...)}
	return nil
}

func (v *VectorIndex) Search(_ context.Context, query []float32, scope store.Scope, k int) ([]store.VectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.entries) > 0 && len(query) != v.dims {
		return nil, memerr.Errorf(memerr.CodeStoreVectorDimensionValue,
			"query has %d dimensions, index expects %d", len(query), v.dims)
	}

	hits := make([]store.VectorHit, 0, len(v.entries))
	for _, e := range v.entries {
		if !scope.Owns(e.ref) {
			continue
		}
		hits = append(hits, store.VectorHit{Ref: e.ref, Distance: 1 - store.Cosine(query, e.vec)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Ref.ID < hits[j].Ref.ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (v *VectorIndex) Delete(_ context.Context, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		delete(v.entries, id)
	}
	return nil
}

func (v *VectorIndex) Count(_ context.Context, scope store.Scope) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	n := 0
	for _, e := range v.entries {
		if scope.Owns(e.ref) {
			n++
		}
	}
	return n, nil
}

func (v *VectorIndex) Close() error { return nil }
