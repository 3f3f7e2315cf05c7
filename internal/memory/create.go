// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package memory

import (
	"context"
	"strings"
	"time"

	"github.com/memorg-dev/memorg/internal/prioritize"
	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// CreateSession starts a new hierarchy root.
func (s *Store) CreateSession(ctx context.Context, userID string, cfg store.SessionConfig) (*store.Session, error) {
	sess := &store.Session{Meta: newMeta(s.now()), UserID: userID, Config: cfg}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	if err := s.insert(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Debug("session created", "session_id", sess.ID, "user_id", userID)
	return sess, nil
}

// CreateConversation adds a conversation to a session.
func (s *Store) CreateConversation(ctx context.Context, sessionID string) (*store.Conversation, error) {
	if _, _, err := load[store.Session](ctx, s, store.CollectionSessions, sessionID); err != nil {
		return nil, err
	}

	release := s.locks.lock(sessionID)
	defer release()

	now := s.now()
	conv := &store.Conversation{
		Meta:      newMeta(now),
		Scored:    store.Scored{Importance: s.freshScore(now), Tier: store.TierHot},
		SessionID: sessionID,
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	if err := s.insert(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// CreateTopic adds a topic to a conversation. The title is optional; a
// titled topic is keyword searchable immediately.
func (s *Store) CreateTopic(ctx context.Context, conversationID, title string) (*store.Topic, error) {
	conv, _, err := load[store.Conversation](ctx, s, store.CollectionConversations, conversationID)
	if err != nil {
		return nil, err
	}

	release := s.locks.lock(conv.SessionID)
	defer release()

	now := s.now()
	topic := &store.Topic{
		Meta:           newMeta(now),
		Scored:         store.Scored{Importance: s.freshScore(now), Tier: store.TierHot},
		ConversationID: conv.ID,
		SessionID:      conv.SessionID,
		Title:          strings.TrimSpace(title),
	}
	if err := topic.Validate(); err != nil {
		return nil, err
	}
	if err := s.insert(ctx, topic); err != nil {
		return nil, err
	}
	if topic.Title != "" {
		if err := s.keywords.Index(ctx, topicKeywordDoc(topic)); err != nil {
			return nil, s.rollback(ctx, err, topic.ID, store.CollectionTopics)
		}
	}
	if err := s.markConversationStale(ctx, conv.ID); err != nil {
		return nil, err
	}
	return topic, nil
}

// AppendExchange records a user/system message pair under a topic. NLU
// analysis and embedding run before anything is written, so a collaborator
// failure leaves the store untouched.
func (s *Store) AppendExchange(ctx context.Context, topicID, userMsg, systemMsg string) (*store.Exchange, error) {
	if strings.TrimSpace(userMsg) == "" {
		return nil, memerr.New(memerr.CodeStoreInvalidInput, "user message must not be empty",
			memerr.Field("topic_id", topicID))
	}
	if err := store.ValidText(userMsg, systemMsg); err != nil {
		return nil, memerr.With(err, memerr.Field("topic_id", topicID))
	}
	topic, _, err := load[store.Topic](ctx, s, store.CollectionTopics, topicID)
	if err != nil {
		return nil, err
	}

	text := store.RenderExchange(userMsg, systemMsg)
	analysis, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	release := s.locks.lock(topic.SessionID)
	defer release()

	// Re-read under the session lock so the centroid is current.
	topic, _, err = load[store.Topic](ctx, s, store.CollectionTopics, topicID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ex := &store.Exchange{
		Meta:           newMeta(now),
		TopicID:        topic.ID,
		ConversationID: topic.ConversationID,
		SessionID:      topic.SessionID,
		UserMessage:    userMsg,
		SystemMessage:  systemMsg,
		Entities:       analysis.Entities,
		Intents:        analysis.Intents,
		Sentiment:      analysis.Sentiment,
		Digest:         store.Digest(userMsg, systemMsg),
	}
	ex.Embedding = vecs[0]
	ex.Tier = store.TierHot
	ex.Importance = s.prio.Score(
		prioritize.Subject{Timestamp: now, Embedding: ex.Embedding},
		prioritize.Context{Now: now, Centroid: topic.Embedding},
	)
	if err := ex.Validate(); err != nil {
		return nil, err
	}

	if err := s.insert(ctx, ex); err != nil {
		return nil, err
	}
	ref := exchangeRef(ex)
	if err := s.keywords.Index(ctx, store.KeywordDoc{Ref: ref, Text: text, CreatedAt: ex.CreatedAt}); err != nil {
		return nil, s.rollback(ctx, err, ex.ID, store.CollectionExchanges)
	}
	if err := s.vectors.Upsert(ctx, ref, ex.Embedding); err != nil {
		return nil, s.rollback(ctx, err, ex.ID, store.CollectionExchanges)
	}

	topic, err = update(ctx, s, store.CollectionTopics, topic.ID, func(t *store.Topic) (bool, error) {
		t.Embedding = store.FoldCentroid(t.Embedding, t.CentroidCount, ex.Embedding)
		t.CentroidCount++
		t.SummaryStale = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.vectors.Upsert(ctx, topicRef(topic), topic.Embedding); err != nil {
		return nil, err
	}
	if err := s.markConversationStale(ctx, topic.ConversationID); err != nil {
		return nil, err
	}

	s.logger.Debug("exchange appended",
		"session_id", ex.SessionID, "topic_id", ex.TopicID, "exchange_id", ex.ID, "importance", ex.Importance)
	return ex, nil
}

// RecordEngagement adds delta to an entity's engagement counter and
// rescores it. Only conversations, topics and exchanges carry engagement.
func (s *Store) RecordEngagement(ctx context.Context, ref store.EntityRef, delta int) error {
	if delta == 0 {
		return nil
	}
	bump := func(sc *store.Scored) {
		sc.Engagement = max(0, sc.Engagement+delta)
	}

	now := s.now()
	var err error
	switch ref.Kind {
	case store.KindExchange:
		var ex *store.Exchange
		ex, err = update(ctx, s, store.CollectionExchanges, ref.ID, func(e *store.Exchange) (bool, error) {
			bump(&e.Scored)
			return true, nil
		})
		if err == nil {
			_, err = s.rescoreExchange(ctx, ex.ID, now)
		}
	case store.KindTopic:
		_, err = update(ctx, s, store.CollectionTopics, ref.ID, func(t *store.Topic) (bool, error) {
			bump(&t.Scored)
			return true, nil
		})
	case store.KindConversation:
		_, err = update(ctx, s, store.CollectionConversations, ref.ID, func(c *store.Conversation) (bool, error) {
			bump(&c.Scored)
			return true, nil
		})
	default:
		return memerr.Errorf(memerr.CodeStoreInvalidInput, "%s entities carry no engagement", ref.Kind)
	}
	return err
}

// freshScore is the Prioritizer's score for an entity created at now with
// no content or engagement yet.
func (s *Store) freshScore(now time.Time) float64 {
	return s.prio.Score(prioritize.Subject{Timestamp: now}, prioritize.Context{Now: now})
}

func (s *Store) insert(ctx context.Context, v any) error {
	rec, err := recordOf(v)
	if err != nil {
		return err
	}
	return s.docs.Put(ctx, rec)
}

func (s *Store) markConversationStale(ctx context.Context, id string) error {
	_, err := update(ctx, s, store.CollectionConversations, id, func(c *store.Conversation) (bool, error) {
		c.Stale = true
		return true, nil
	})
	return err
}

// rollback undoes a create whose index writes failed and returns cause.
func (s *Store) rollback(ctx context.Context, cause error, id string, coll store.Collection) error {
	errs := []error{cause}
	if err := s.keywords.Remove(ctx, id); err != nil {
		errs = append(errs, err)
	}
	if err := s.vectors.Delete(ctx, []string{id}); err != nil {
		errs = append(errs, err)
	}
	if err := s.docs.Delete(ctx, coll, id); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 1 {
		s.logger.Error("rollback incomplete", "entity_id", id, "error", memerr.Join(errs[1:]...))
	}
	return cause
}

func exchangeRef(e *store.Exchange) store.EntityRef {
	return store.EntityRef{
		ID: e.ID, Kind: store.KindExchange,
		SessionID: e.SessionID, ConversationID: e.ConversationID, TopicID: e.TopicID,
	}
}

func topicRef(t *store.Topic) store.EntityRef {
	return store.EntityRef{
		ID: t.ID, Kind: store.KindTopic,
		SessionID: t.SessionID, ConversationID: t.ConversationID, TopicID: t.ID,
	}
}

func conversationRef(c *store.Conversation) store.EntityRef {
	return store.EntityRef{
		ID: c.ID, Kind: store.KindConversation,
		SessionID: c.SessionID, ConversationID: c.ID,
	}
}

func topicKeywordDoc(t *store.Topic) store.KeywordDoc {
	text := t.Title
	if t.Summary != "" {
		text = strings.TrimSpace(text + "\n" + t.Summary)
	}
	return store.KeywordDoc{Ref: topicRef(t), Text: text, CreatedAt: t.CreatedAt}
}
