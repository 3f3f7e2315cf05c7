// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package store

// ScopeLevel selects how much of the hierarchy a search or read may see.
type ScopeLevel string

const (
	ScopeAll          ScopeLevel = "all"
	ScopeSession      ScopeLevel = "session"
	ScopeConversation ScopeLevel = "conversation"
	ScopeTopic        ScopeLevel = "topic"
)

// Scope is a caller's view into the hierarchy. The zero value is ScopeAll.
type Scope struct {
	Level ScopeLevel `json:"level"`
	ID    string     `json:"id"`
}

// All returns the unrestricted scope.
func All() Scope { return Scope{Level: ScopeAll} }

// InSession scopes to a session.
func InSession(id string) Scope { return Scope{Level: ScopeSession, ID: id} }

// InConversation scopes to a conversation.
func InConversation(id string) Scope { return Scope{Level: ScopeConversation, ID: id} }

// InTopic scopes to a topic.
func InTopic(id string) Scope { return Scope{Level: ScopeTopic, ID: id} }

// Owns reports whether an entity at ref's position is visible in s.
func (s Scope) Owns(ref EntityRef) bool {
	switch s.Level {
	case "", ScopeAll:
		return true
	case ScopeSession:
		return ref.SessionID == s.ID || (ref.Kind == KindSession && ref.ID == s.ID)
	case ScopeConversation:
		return ref.ConversationID == s.ID || (ref.Kind == KindConversation && ref.ID == s.ID)
	case ScopeTopic:
		return ref.TopicID == s.ID || (ref.Kind == KindTopic && ref.ID == s.ID)
	default:
		return false
	}
}

// Valid reports whether the scope is well formed.
func (s Scope) Valid() bool {
	switch s.Level {
	case "", ScopeAll:
		return true
	case ScopeSession, ScopeConversation, ScopeTopic:
		return s.ID != ""
	default:
		return false
	}
}
