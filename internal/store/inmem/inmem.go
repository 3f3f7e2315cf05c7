// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package inmem is an in-process storage backend. It keeps every
// collection, index and archive in maps guarded by a single RWMutex and
// is used by tests and ephemeral deployments.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

func init() {
	store.RegisterBackend("memory", func(cfg store.StorageConfig) (*store.Backend, error) {
		return New(cfg.VectorDimensions), nil
	})
}

// New returns a backend whose vector index accepts vectors of dims
// dimensions. dims <= 0 accepts any length fixed by the first insert.
func New(dims int) *store.Backend {
	return &store.Backend{
		Documents: NewDocumentStore(),
		Keywords:  NewKeywordIndex(),
		Vectors:   NewVectorIndex(dims),
		Archive:   NewArchiveStore(),
	}
}

// --- Documents ---

var _ store.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements store.DocumentStore over maps.
type DocumentStore struct {
	mu   sync.RWMutex
	data map[store.Collection]map[string]*store.Record
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{data: make(map[store.Collection]map[string]*store.Record)}
}

func cloneRecord(r *store.Record) *store.Record {
	cp := *r
	cp.Payload = append([]byte(nil), r.Payload...)
	return &cp
}

func (d *DocumentStore) Put(_ context.Context, rec *store.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	coll := d.data[rec.Collection]
	if coll == nil {
		coll = make(map[string]*store.Record)
		d.data[rec.Collection] = coll
	}
	if _, exists := coll[rec.ID]; exists {
		return memerr.New(memerr.CodeStoreConflict, "record already exists",
			memerr.FieldEntityID(rec.ID), memerr.FieldKind(string(rec.Collection)))
	}
	coll[rec.ID] = cloneRecord(rec)
	return nil
}

func (d *DocumentStore) CompareAndSwap(_ context.Context, rec *store.Record, expectedVersion int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.data[rec.Collection][rec.ID]
	if !ok {
		return memerr.New(memerr.CodeStoreEntityNotFound, "record not found",
			memerr.FieldEntityID(rec.ID), memerr.FieldKind(string(rec.Collection)))
	}
	if cur.Version != expectedVersion {
		return memerr.New(memerr.CodeStoreConflict, "version mismatch",
			memerr.FieldEntityID(rec.ID), memerr.Field("expected", expectedVersion), memerr.Field("actual", cur.Version))
	}
	d.data[rec.Collection][rec.ID] = cloneRecord(rec)
	return nil
}

func (d *DocumentStore) Get(_ context.Context, coll store.Collection, id string) (*store.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.data[coll][id]
	if !ok {
		return nil, memerr.New(memerr.CodeStoreEntityNotFound, "record not found",
			memerr.FieldEntityID(id), memerr.FieldKind(string(coll)))
	}
	return cloneRecord(rec), nil
}

func (d *DocumentStore) Query(_ context.Context, q store.RecordQuery) ([]*store.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	filter := store.ListFilter{Tiers: q.Tiers}
	var out []*store.Record
	for _, rec := range d.data[q.Collection] {
		if q.ParentID != "" && rec.ParentID != q.ParentID {
			continue
		}
		if !q.Scope.Owns(rec.Ref()) {
			continue
		}
		if rec.Tier != "" && !filter.AllowsTier(rec.Tier) {
			continue
		}
		if !q.Range.Contains(rec.CreatedAt) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if q.Newest {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (d *DocumentStore) Delete(_ context.Context, coll store.Collection, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data[coll], id)
	return nil
}

func (d *DocumentStore) Close() error { return nil }

// --- Archive ---

var _ store.ArchiveStore = (*ArchiveStore)(nil)

type archived struct {
	sessionID string
	blob      []byte
}

// ArchiveStore implements store.ArchiveStore over a map.
type ArchiveStore struct {
	mu      sync.RWMutex
	entries map[string]archived
}

func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{entries: make(map[string]archived)}
}

func (a *ArchiveStore) Put(_ context.Context, id, sessionID string, blob []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[id] = archived{sessionID: sessionID, blob: append([]byte(nil), blob...)}
	return nil
}

func (a *ArchiveStore) Get(_ context.Context, id string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.entries[id]
	if !ok {
		return nil, memerr.New(memerr.CodeStorePromotionNotFound, "no archived verbatim content", memerr.FieldEntityID(id))
	}
	return append([]byte(nil), e.blob...), nil
}

func (a *ArchiveStore) Count(_ context.Context, sessionID string) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := 0
	for _, e := range a.entries {
		if sessionID == "" || e.sessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (a *ArchiveStore) Close() error { return nil }
