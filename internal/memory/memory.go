// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package memory is the context store: the session hierarchy, its three
// secondary indices and the hot/warm/cold tiering policy.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/prioritize"
	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/tokens"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// TieringConfig controls demotion.
type TieringConfig struct {
	// HotThreshold demotes hot entities scoring below it to warm.
	HotThreshold float64 `mapstructure:"hot_threshold"`
	// ColdThreshold demotes warm entities scoring below it to cold.
	ColdThreshold float64 `mapstructure:"cold_threshold"`
	// TopicVerbatimCap is the most hot verbatim tokens a topic may hold;
	// the lowest scoring hot exchanges are demoted to warm above it.
	TopicVerbatimCap int `mapstructure:"topic_verbatim_cap"`
	// SummaryRatio sets summary targets as a fraction of source tokens.
	SummaryRatio float64 `mapstructure:"summary_ratio"`
}

// Config parameterises a Store.
type Config struct {
	Tiering TieringConfig `mapstructure:"tiering"`
	// CASRetries bounds optimistic update retries.
	CASRetries int `mapstructure:"cas_retries"`
}

func DefaultConfig() Config {
	return Config{
		Tiering: TieringConfig{
			HotThreshold:     0.35,
			ColdThreshold:    0.15,
			TopicVerbatimCap: 4000,
			SummaryRatio:     0.3,
		},
		CASRetries: 5,
	}
}

func (c Config) Validate() error {
	t := c.Tiering
	if t.ColdThreshold < 0 || t.HotThreshold > 1 || t.ColdThreshold > t.HotThreshold {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
			"tiering thresholds must satisfy 0 <= cold (%v) <= hot (%v) <= 1", t.ColdThreshold, t.HotThreshold)
	}
	if t.TopicVerbatimCap <= 0 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "topic_verbatim_cap must be > 0, got %d", t.TopicVerbatimCap)
	}
	if t.SummaryRatio <= 0 || t.SummaryRatio >= 1 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "summary_ratio must be in (0,1), got %v", t.SummaryRatio)
	}
	if c.CASRetries < 1 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "cas_retries must be >= 1, got %d", c.CASRetries)
	}
	return nil
}

// Deps are the collaborators of a Store. Backend, Prioritizer, Compressor,
// Embedder and Analyzer are required.
type Deps struct {
	Backend     *store.Backend
	Prioritizer *prioritize.Prioritizer
	Compressor  *compress.Compressor
	Embedder    provider.Embedder
	Analyzer    provider.Analyzer
	Logger      *slog.Logger
	// Now overrides the clock (for testing).
	Now func() time.Time
}

// Store owns every entity and keeps the keyword, vector and time indices
// consistent with each write. Writes within one session are serialized;
// reads are not.
type Store struct {
	cfg      Config
	docs     store.DocumentStore
	keywords store.KeywordIndex
	vectors  store.VectorIndex
	archive  store.ArchiveStore
	prio     *prioritize.Prioritizer
	comp     *compress.Compressor
	counter  tokens.Counter
	embedder provider.Embedder
	analyzer provider.Analyzer
	logger   *slog.Logger
	now      func() time.Time
	locks    sessionLocks
}

// New creates a Store.
func New(cfg Config, deps Deps) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Backend == nil || deps.Prioritizer == nil || deps.Compressor == nil || deps.Embedder == nil || deps.Analyzer == nil {
		return nil, memerr.New(memerr.CodeConfigValidateInvalidValue,
			"memory store requires backend, prioritizer, compressor, embedder and analyzer")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Store{
		cfg:      cfg,
		docs:     deps.Backend.Documents,
		keywords: deps.Backend.Keywords,
		vectors:  deps.Backend.Vectors,
		archive:  deps.Backend.Archive,
		prio:     deps.Prioritizer,
		comp:     deps.Compressor,
		counter:  deps.Compressor.Counter(),
		embedder: deps.Embedder,
		analyzer: deps.Analyzer,
		logger:   deps.Logger,
		now:      deps.Now,
		locks:    sessionLocks{m: make(map[string]*sessionLock)},
	}, nil
}

// Prioritizer returns the scoring model shared with retrieval.
func (s *Store) Prioritizer() *prioritize.Prioritizer { return s.prio }

// Counter returns the token counter used for every cost.
func (s *Store) Counter() tokens.Counter { return s.counter }

// Now returns the store clock.
func (s *Store) Now() time.Time { return s.now() }

func newID() string { return uuid.NewString() }

// --- per-session write serialization ---

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*sessionLock
}

// lock acquires the write lock for sessionID and returns its release.
func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	sl, ok := l.m[sessionID]
	if !ok {
		sl = &sessionLock{}
		l.m[sessionID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.m, sessionID)
		}
		l.mu.Unlock()
	}
}

// --- record mapping ---

// recordOf builds the backend record for an entity. Hierarchy columns
// place every entity at its own level: a topic's TopicID is its own id.
func recordOf(v any) (*store.Record, error) {
	var (
		rec  store.Record
		meta store.Meta
	)
	switch e := v.(type) {
	case *store.Session:
		meta = e.Meta
		rec = store.Record{Collection: store.CollectionSessions, SessionID: e.ID}
	case *store.Conversation:
		meta = e.Meta
		rec = store.Record{
			Collection: store.CollectionConversations, SessionID: e.SessionID,
			ConversationID: e.ID, ParentID: e.SessionID, Tier: e.Tier,
		}
	case *store.Topic:
		meta = e.Meta
		rec = store.Record{
			Collection: store.CollectionTopics, SessionID: e.SessionID,
			ConversationID: e.ConversationID, TopicID: e.ID, ParentID: e.ConversationID, Tier: e.Tier,
		}
	case *store.Exchange:
		meta = e.Meta
		rec = store.Record{
			Collection: store.CollectionExchanges, SessionID: e.SessionID,
			ConversationID: e.ConversationID, TopicID: e.TopicID, ParentID: e.TopicID, Tier: e.Tier,
		}
	case *store.Summary:
		meta = e.Meta
		rec = store.Record{Collection: store.CollectionSummaries, SessionID: e.SessionID, ParentID: e.OwnerID}
	default:
		return nil, memerr.Errorf(memerr.CodeStoreInvalidInput, "unsupported entity type %T", v)
	}

	payload, err := store.Marshal(v)
	if err != nil {
		return nil, err
	}
	rec.ID = meta.ID
	rec.CreatedAt = meta.CreatedAt
	rec.UpdatedAt = meta.UpdatedAt
	rec.Version = meta.Version
	rec.Payload = payload
	return &rec, nil
}

// summaryRecord places a summary under its owner so scoped reads see it.
func summaryRecord(sum *store.Summary, owner store.EntityRef) (*store.Record, error) {
	rec, err := recordOf(sum)
	if err != nil {
		return nil, err
	}
	rec.ConversationID = owner.ConversationID
	rec.TopicID = owner.TopicID
	return rec, nil
}

func decode[T any](rec *store.Record) (*T, error) {
	var v T
	if err := store.Unmarshal(rec.Payload, &v); err != nil {
		return nil, memerr.With(err, memerr.FieldEntityID(rec.ID))
	}
	return &v, nil
}

func load[T any](ctx context.Context, s *Store, coll store.Collection, id string) (*T, *store.Record, error) {
	rec, err := s.docs.Get(ctx, coll, id)
	if err != nil {
		return nil, nil, err
	}
	v, err := decode[T](rec)
	if err != nil {
		return nil, nil, err
	}
	return v, rec, nil
}

// loadScoped loads an entity and hides it behind NotFound when scope does
// not own it.
func loadScoped[T any](ctx context.Context, s *Store, scope store.Scope, kind store.Kind, id string) (*T, *store.Record, error) {
	if !scope.Valid() {
		return nil, nil, memerr.Errorf(memerr.CodeStoreInvalidInput, "invalid scope %s/%q", scope.Level, scope.ID)
	}
	v, rec, err := load[T](ctx, s, store.CollectionFor(kind), id)
	if err != nil {
		return nil, nil, err
	}
	if !scope.Owns(rec.Ref()) {
		return nil, nil, memerr.New(memerr.CodeStoreScopeNotFound, string(kind)+" not found in scope",
			memerr.FieldEntityID(id), memerr.FieldKind(string(kind)))
	}
	return v, rec, nil
}

// update applies mutate under optimistic concurrency, retrying on version
// conflicts. mutate reports whether it changed anything; unchanged
// entities are not written.
func update[T any](ctx context.Context, s *Store, coll store.Collection, id string, mutate func(*T) (bool, error)) (*T, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.CASRetries; attempt++ {
		v, rec, err := load[T](ctx, s, coll, id)
		if err != nil {
			return nil, err
		}
		changed, err := mutate(v)
		if err != nil {
			return nil, err
		}
		if !changed {
			return v, nil
		}

		meta := metaOf(v)
		meta.Version = rec.Version + 1
		meta.Touch(s.now())

		next, err := recordOf(v)
		if err != nil {
			return nil, err
		}
		if coll == store.CollectionSummaries {
			next.ConversationID, next.TopicID = rec.ConversationID, rec.TopicID
		}
		err = s.docs.CompareAndSwap(ctx, next, rec.Version)
		if err == nil {
			return v, nil
		}
		if !memerr.IsConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, memerr.Wrapf(lastErr, memerr.CodeStoreConflict, "updating %s %s: retries exhausted", coll, id)
}

func metaOf(v any) *store.Meta {
	switch e := v.(type) {
	case *store.Session:
		return &e.Meta
	case *store.Conversation:
		return &e.Meta
	case *store.Topic:
		return &e.Meta
	case *store.Exchange:
		return &e.Meta
	case *store.Summary:
		return &e.Meta
	default:
		panic("memory: metaOf on unsupported entity")
	}
}

func newMeta(now time.Time) store.Meta {
	return store.Meta{ID: newID(), CreatedAt: now, UpdatedAt: now, Version: 1}
}
