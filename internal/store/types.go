// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package store

import (
	"time"
)

// --- Kinds and tiers ---

// Kind identifies the entity type of a stored record.
type Kind string

const (
	KindSession      Kind = "session"
	KindConversation Kind = "conversation"
	KindTopic        Kind = "topic"
	KindExchange     Kind = "exchange"
	KindSummary      Kind = "summary"
)

// Tier is the retention state of a conversation, topic or exchange.
type Tier string

const (
	// TierHot entities are retained verbatim.
	TierHot Tier = "hot"
	// TierWarm entities are retained verbatim but are eligible for eviction.
	TierWarm Tier = "warm"
	// TierCold entities retain only their summary and embedding.
	TierCold Tier = "cold"
)

// rank orders tiers so demotion can be checked as rank(new) >= rank(old).
func (t Tier) rank() int {
	switch t {
	case TierHot:
		return 0
	case TierWarm:
		return 1
	case TierCold:
		return 2
	default:
		return -1
	}
}

// Colder reports whether t is strictly colder than other.
func (t Tier) Colder(other Tier) bool {
	return t.rank() > other.rank()
}

// MatchType records which index produced a search hit.
type MatchType string

const (
	MatchKeyword  MatchType = "keyword"
	MatchSemantic MatchType = "semantic"
	MatchTemporal MatchType = "temporal"
)

// --- Common metadata ---

// Meta is embedded in every entity.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Version is incremented on every persisted mutation and used for
	// optimistic compare-and-set.
	Version int64 `json:"version"`
	// Extensions is the open, caller-defined metadata field.
	Extensions map[string]string `json:"extensions,omitempty"`
}

// touch advances UpdatedAt, never moving it backwards.
func (m *Meta) touch(now time.Time) {
	if now.After(m.UpdatedAt) {
		m.UpdatedAt = now
	}
}

// Touch is the exported form of touch for engine packages.
func (m *Meta) Touch(now time.Time) { m.touch(now) }

// --- Hierarchy entities ---

// SessionConfig holds per-session defaults supplied at creation.
type SessionConfig struct {
	// MaxTokens is the default turn budget for the session; 0 uses the
	// deployment default.
	MaxTokens int `json:"max_tokens"`
}

// Session is the root of the hierarchy.
type Session struct {
	Meta
	UserID string        `json:"user_id"`
	Config SessionConfig `json:"config"`
}

// Scored carries the mutable prioritisation state shared by conversations,
// topics and exchanges.
type Scored struct {
	Embedding  []float32 `json:"embedding,omitempty"`
	Importance float64   `json:"importance"`
	Engagement int       `json:"engagement"`
	Tier       Tier      `json:"tier"`
}

// Conversation aggregates topics within a session.
type Conversation struct {
	Meta
	Scored
	SessionID string `json:"session_id"`
	Summary   string `json:"summary,omitempty"`
	SummaryID string `json:"summary_id,omitempty"`
	// Stale is set whenever a descendant changes; Summary and Embedding are
	// recomputed by the next tiering pass.
	Stale bool `json:"stale"`
}

// Topic aggregates exchanges within a conversation.
type Topic struct {
	Meta
	Scored
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
	Title          string `json:"title,omitempty"`
	// Embedding (from Scored) holds the running centroid of the topic's
	// exchange embeddings; CentroidCount is the number of vectors folded in.
	CentroidCount int    `json:"centroid_count"`
	Summary       string `json:"summary,omitempty"`
	SummaryID     string `json:"summary_id,omitempty"`
	SummaryStale  bool   `json:"summary_stale"`
}

// Exchange is one user/system message pair. Verbatim fields are immutable
// after creation and are cleared only by cold demotion.
type Exchange struct {
	Meta
	Scored
	TopicID        string `json:"topic_id"`
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`

	UserMessage   string `json:"user_message,omitempty"`
	SystemMessage string `json:"system_message,omitempty"`

	// Derived once at creation.
	Entities  []string `json:"entities,omitempty"`
	Intents   []string `json:"intents,omitempty"`
	Sentiment float64  `json:"sentiment"`

	// Digest is the hex BLAKE3 digest of the verbatim pair.
	Digest string `json:"digest"`
	// SummaryID references the Summary produced on cold demotion.
	SummaryID string `json:"summary_id,omitempty"`
	// SummaryText mirrors the Summary content for cold exchanges so read
	// paths do not need a second lookup.
	SummaryText string `json:"summary_text,omitempty"`
}

// Verbatim renders the message pair as stored content. Cold exchanges
// return their summary text instead.
func (e *Exchange) Verbatim() string {
	if e.Tier == TierCold {
		return e.SummaryText
	}
	return RenderExchange(e.UserMessage, e.SystemMessage)
}

// RenderExchange formats a message pair for token accounting and prompts.
func RenderExchange(userMsg, systemMsg string) string {
	if systemMsg == "" {
		return "User: " + userMsg
	}
	return "User: " + userMsg + "\nAssistant: " + systemMsg
}

// Summary is a derived, compressible artifact referencing its sources.
type Summary struct {
	Meta
	SessionID string    `json:"session_id"`
	OwnerID   string    `json:"owner_id"`
	OwnerKind Kind      `json:"owner_kind"`
	SourceIDs []string  `json:"source_ids"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	// Ratio is output/input tokens of the compression that produced Content.
	Ratio        float64 `json:"ratio"`
	SourceTokens int     `json:"source_tokens"`
	Tokens       int     `json:"tokens"`
	// Level is 1 for summaries of verbatim content and increases for
	// summaries of summaries.
	Level    int    `json:"level"`
	Strategy string `json:"strategy"`
}

// --- References and search ---

// EntityRef identifies an entity and its position in the hierarchy.
type EntityRef struct {
	ID             string `json:"id"`
	Kind           Kind   `json:"kind"`
	SessionID      string `json:"session_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	TopicID        string `json:"topic_id,omitempty"`
}

// SearchResult is one ranked hit from a Store search primitive.
type SearchResult struct {
	Ref   EntityRef `json:"ref"`
	Score float64   `json:"score"`
	Match MatchType `json:"match"`
}

// TimeRange is a half-open interval [From, To). Zero bounds are open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether ts falls inside the range.
func (r TimeRange) Contains(ts time.Time) bool {
	if !r.From.IsZero() && ts.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !ts.Before(r.To) {
		return false
	}
	return true
}

// ListFilter constrains list operations.
type ListFilter struct {
	Range TimeRange
	// Tiers restricts results to the given tiers; empty means all.
	Tiers []Tier
	Limit int
}

// AllowsTier reports whether t passes the tier filter.
func (f ListFilter) AllowsTier(t Tier) bool {
	if len(f.Tiers) == 0 {
		return true
	}
	for _, want := range f.Tiers {
		if want == t {
			return true
		}
	}
	return false
}

// WeightedTerm is a keyword search term. Original query terms carry weight
// 1; expansion terms carry a lower weight and never replace originals.
type WeightedTerm struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// Usage reports memory statistics for a session.
type Usage struct {
	SessionID       string       `json:"session_id"`
	Conversations   int          `json:"conversations"`
	Topics          int          `json:"topics"`
	Exchanges       map[Tier]int `json:"exchanges"`
	Summaries       int          `json:"summaries"`
	VerbatimTokens  int          `json:"verbatim_tokens"`
	SummaryTokens   int          `json:"summary_tokens"`
	VectorCount     int          `json:"vector_count"`
	ArchivedEntries int          `json:"archived_entries"`
}
