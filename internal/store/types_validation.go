// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package store

import (
	"unicode/utf8"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Valid reports whether the tier is a known retention state.
func (t Tier) Valid() bool {
	return t.rank() >= 0
}

// Valid reports whether the kind is a known entity type.
func (k Kind) Valid() bool {
	return CollectionFor(k) != ""
}

// Validate checks the session's creation-time fields.
func (s Session) Validate() error {
	if s.ID == "" {
		return memerr.New(memerr.CodeStoreInvalidInput, "session: ID is required")
	}
	if s.CreatedAt.IsZero() {
		return memerr.New(memerr.CodeStoreInvalidInput, "session: CreatedAt is required")
	}
	if s.Config.MaxTokens < 0 {
		return memerr.Errorf(memerr.CodeStoreInvalidInput, "session: MaxTokens must be >= 0, got %d", s.Config.MaxTokens)
	}
	if !utf8.ValidString(s.UserID) {
		return memerr.New(memerr.CodeStoreInvalidInput, "session: UserID is not valid UTF-8")
	}
	return nil
}

// Validate checks the shared prioritisation fields.
func (s Scored) Validate() error {
	if s.Importance < 0 || s.Importance > 1 {
		return memerr.Errorf(memerr.CodeStoreInvalidInput, "importance must be in [0,1], got %v", s.Importance)
	}
	if s.Engagement < 0 {
		return memerr.Errorf(memerr.CodeStoreInvalidInput, "engagement must be >= 0, got %d", s.Engagement)
	}
	if !s.Tier.Valid() {
		return memerr.Errorf(memerr.CodeStoreInvalidInput, "invalid tier %q", s.Tier)
	}
	return nil
}

// Validate checks that the Conversation has its parent and valid scoring.
func (c Conversation) Validate() error {
	if c.ID == "" {
		return memerr.New(memerr.CodeStoreInvalidInput, "conversation: ID is required")
	}
	if c.SessionID == "" {
		return memerr.New(memerr.CodeStoreInvalidInput, "conversation: SessionID is required")
	}
	return c.Scored.Validate()
}

// Validate checks that the Topic has its parents and valid scoring.
func (t Topic) Validate() error {
	if t.ID == "" {
		return memerr.New(memerr.CodeStoreInvalidInput, "topic: ID is required")
	}
	if t.ConversationID == "" || t.SessionID == "" {
		return memerr.New(memerr.CodeStoreInvalidInput, "topic: ConversationID and SessionID are required")
	}
	if t.CentroidCount < 0 {
		return memerr.Errorf(memerr.CodeStoreInvalidInput, "topic: CentroidCount must be >= 0, got %d", t.CentroidCount)
	}
	if !utf8.ValidString(t.Title) {
		return memerr.New(memerr.CodeStoreInvalidInput, "topic: Title is not valid UTF-8")
	}
	return t.Scored.Validate()
}

// Validate checks that the Exchange has its parents, content and valid
// scoring. Cold exchanges must not carry verbatim content.
func (e Exchange) Validate() error {
	if e.ID == "" {
		return memerr.New(memerr.CodeStoreInvalidInput, "exchange: ID is required")
	}
	if e.TopicID == "" || e.ConversationID == "" || e.SessionID == "" {
		return memerr.New(memerr.CodeStoreInvalidInput, "exchange: TopicID, ConversationID and SessionID are required")
	}
	if e.Tier == TierCold {
		if e.UserMessage != "" || e.SystemMessage != "" {
			return memerr.New(memerr.CodeStoreInvalidInput, "exchange: cold exchange must not hold verbatim content")
		}
	} else if e.UserMessage == "" {
		return memerr.New(memerr.CodeStoreInvalidInput, "exchange: UserMessage is required")
	}
	if err := ValidText(e.UserMessage, e.SystemMessage, e.SummaryText); err != nil {
		return memerr.Wrap(err, memerr.CodeStoreInvalidInput, "exchange")
	}
	return e.Scored.Validate()
}

// Validate checks that the Summary references its owner and sources.
func (s Summary) Validate() error {
	if s.ID == "" {
		return memerr.New(memerr.CodeStoreInvalidInput, "summary: ID is required")
	}
	if s.OwnerID == "" || !s.OwnerKind.Valid() {
		return memerr.New(memerr.CodeStoreInvalidInput, "summary: OwnerID and a valid OwnerKind are required")
	}
	if len(s.SourceIDs) == 0 {
		return memerr.New(memerr.CodeStoreInvalidInput, "summary: SourceIDs must not be empty")
	}
	if s.Level < 1 {
		return memerr.Errorf(memerr.CodeStoreInvalidInput, "summary: Level must be >= 1, got %d", s.Level)
	}
	if !utf8.ValidString(s.Content) {
		return memerr.New(memerr.CodeStoreInvalidInput, "summary: Content is not valid UTF-8")
	}
	return nil
}

// ValidText rejects text the payload codec cannot store as a CBOR text
// string.
func ValidText(texts ...string) error {
	for i, t := range texts {
		if !utf8.ValidString(t) {
			return memerr.Errorf(memerr.CodeStoreInvalidInput, "text %d is not valid UTF-8", i)
		}
	}
	return nil
}
