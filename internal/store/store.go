// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package store

import (
	"context"
	"time"
)

// Collection names a family of records in the DocumentStore.
type Collection string

const (
	CollectionSessions      Collection = "sessions"
	CollectionConversations Collection = "conversations"
	CollectionTopics        Collection = "topics"
	CollectionExchanges     Collection = "exchanges"
	CollectionSummaries     Collection = "summaries"
)

// CollectionFor maps an entity kind to its collection.
func CollectionFor(kind Kind) Collection {
	switch kind {
	case KindSession:
		return CollectionSessions
	case KindConversation:
		return CollectionConversations
	case KindTopic:
		return CollectionTopics
	case KindExchange:
		return CollectionExchanges
	case KindSummary:
		return CollectionSummaries
	default:
		return ""
	}
}

// Record is the backend representation of one entity. The hierarchy columns
// are duplicated out of Payload so backends can maintain the per-scope
// time-ordered index without decoding.
type Record struct {
	Collection     Collection
	ID             string
	SessionID      string
	ConversationID string
	TopicID        string
	ParentID       string
	Tier           Tier
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int64
	// Payload is the deterministic CBOR encoding of the entity.
	Payload []byte
}

// Kind returns the entity kind stored in the record's collection.
func (r *Record) Kind() Kind {
	switch r.Collection {
	case CollectionSessions:
		return KindSession
	case CollectionConversations:
		return KindConversation
	case CollectionTopics:
		return KindTopic
	case CollectionSummaries:
		return KindSummary
	default:
		return KindExchange
	}
}

// Ref returns the record's position in the hierarchy.
func (r *Record) Ref() EntityRef {
	return EntityRef{
		ID:             r.ID,
		Kind:           r.Kind(),
		SessionID:      r.SessionID,
		ConversationID: r.ConversationID,
		TopicID:        r.TopicID,
	}
}

// RecordQuery selects records from one collection. Results are ordered by
// CreatedAt (ascending unless Newest is set) and then by ID.
type RecordQuery struct {
	Collection Collection
	ParentID   string
	Scope      Scope
	Tiers      []Tier
	Range      TimeRange
	Newest     bool
	Limit      int
}

// DocumentStore is the durable per-collection record backend. Reads observe
// all writes that returned before them.
type DocumentStore interface {
	// Put inserts a new record. It fails with a conflict if the id exists.
	Put(ctx context.Context, rec *Record) error
	// CompareAndSwap replaces rec only if the stored version equals
	// expectedVersion. It fails with a conflict otherwise.
	CompareAndSwap(ctx context.Context, rec *Record, expectedVersion int64) error
	Get(ctx context.Context, coll Collection, id string) (*Record, error)
	Query(ctx context.Context, q RecordQuery) ([]*Record, error)
	// Delete is used only to roll back a create whose index writes failed.
	Delete(ctx context.Context, coll Collection, id string) error
	Close() error
}

// KeywordDoc is the text indexed for one entity.
type KeywordDoc struct {
	Ref       EntityRef
	Text      string
	CreatedAt time.Time
}

// KeywordHit is a candidate from the inverted index with per-term
// frequencies for the requested terms.
type KeywordHit struct {
	Ref       EntityRef
	TermFreq  map[string]int
	CreatedAt time.Time
}

// KeywordIndex is the inverted keyword index.
type KeywordIndex interface {
	// Index adds or replaces the document for doc.Ref.ID.
	Index(ctx context.Context, doc KeywordDoc) error
	Remove(ctx context.Context, id string) error
	// Search returns documents in scope containing any of terms, newest
	// first. A limit <= 0 returns every match.
	Search(ctx context.Context, terms []string, scope Scope, limit int) ([]KeywordHit, error)
	Close() error
}

// VectorHit is an approximate nearest-neighbour candidate. Distance is
// backend specific; callers rescore from stored embeddings.
type VectorHit struct {
	Ref      EntityRef
	Distance float64
}

// VectorIndex is the approximate nearest-neighbour index.
type VectorIndex interface {
	Upsert(ctx context.Context, ref EntityRef, embedding []float32) error
	Search(ctx context.Context, query []float32, scope Scope, k int) ([]VectorHit, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context, scope Scope) (int, error)
	Close() error
}

// ArchiveStore keeps the verbatim content of demoted exchanges so explicit
// promotion can restore it.
type ArchiveStore interface {
	// Put stores a sealed archive blob (see SealArchive).
	Put(ctx context.Context, id, sessionID string, blob []byte) error
	// Get returns the sealed blob or a not-found error.
	Get(ctx context.Context, id string) ([]byte, error)
	Count(ctx context.Context, sessionID string) (int, error)
	Close() error
}
