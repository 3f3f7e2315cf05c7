// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package memory

import (
	"context"
	"strings"
	"time"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// GetSession returns a session visible in scope.
func (s *Store) GetSession(ctx context.Context, scope store.Scope, id string) (*store.Session, error) {
	v, _, err := loadScoped[store.Session](ctx, s, scope, store.KindSession, id)
	return v, err
}

// GetConversation returns a conversation visible in scope.
func (s *Store) GetConversation(ctx context.Context, scope store.Scope, id string) (*store.Conversation, error) {
	v, _, err := loadScoped[store.Conversation](ctx, s, scope, store.KindConversation, id)
	return v, err
}

// GetTopic returns a topic visible in scope.
func (s *Store) GetTopic(ctx context.Context, scope store.Scope, id string) (*store.Topic, error) {
	v, _, err := loadScoped[store.Topic](ctx, s, scope, store.KindTopic, id)
	return v, err
}

// GetExchange returns an exchange visible in scope. Cold exchanges carry
// no verbatim content; Verbatim returns their summary.
func (s *Store) GetExchange(ctx context.Context, scope store.Scope, id string) (*store.Exchange, error) {
	v, _, err := loadScoped[store.Exchange](ctx, s, scope, store.KindExchange, id)
	return v, err
}

// GetSummary returns a derived summary visible in scope.
func (s *Store) GetSummary(ctx context.Context, scope store.Scope, id string) (*store.Summary, error) {
	v, _, err := loadScoped[store.Summary](ctx, s, scope, store.KindSummary, id)
	return v, err
}

// ListSessions returns sessions, oldest first.
func (s *Store) ListSessions(ctx context.Context, f store.ListFilter) ([]*store.Session, error) {
	return list[store.Session](ctx, s, store.CollectionSessions, "", f)
}

// ListConversations returns the conversations of a session, oldest first.
func (s *Store) ListConversations(ctx context.Context, sessionID string, f store.ListFilter) ([]*store.Conversation, error) {
	if _, _, err := load[store.Session](ctx, s, store.CollectionSessions, sessionID); err != nil {
		return nil, err
	}
	return list[store.Conversation](ctx, s, store.CollectionConversations, sessionID, f)
}

// ListTopics returns the topics of a conversation, oldest first.
func (s *Store) ListTopics(ctx context.Context, conversationID string, f store.ListFilter) ([]*store.Topic, error) {
	if _, _, err := load[store.Conversation](ctx, s, store.CollectionConversations, conversationID); err != nil {
		return nil, err
	}
	return list[store.Topic](ctx, s, store.CollectionTopics, conversationID, f)
}

// ListExchanges returns the exchanges of a topic, oldest first.
func (s *Store) ListExchanges(ctx context.Context, topicID string, f store.ListFilter) ([]*store.Exchange, error) {
	if _, _, err := load[store.Topic](ctx, s, store.CollectionTopics, topicID); err != nil {
		return nil, err
	}
	return list[store.Exchange](ctx, s, store.CollectionExchanges, topicID, f)
}

// RecentExchanges returns up to limit of the newest exchanges in scope,
// newest first.
func (s *Store) RecentExchanges(ctx context.Context, scope store.Scope, limit int) ([]*store.Exchange, error) {
	if !scope.Valid() {
		return nil, memerr.Errorf(memerr.CodeStoreInvalidInput, "invalid scope %s/%q", scope.Level, scope.ID)
	}
	recs, err := s.docs.Query(ctx, store.RecordQuery{
		Collection: store.CollectionExchanges,
		Scope:      scope,
		Newest:     true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	return decodeAll[store.Exchange](recs)
}

func list[T any](ctx context.Context, s *Store, coll store.Collection, parentID string, f store.ListFilter) ([]*T, error) {
	if f.Limit < 0 {
		return nil, memerr.Errorf(memerr.CodeStoreInvalidInput, "list limit must be >= 0, got %d", f.Limit)
	}
	for _, t := range f.Tiers {
		if !t.Valid() {
			return nil, memerr.Errorf(memerr.CodeStoreInvalidInput, "invalid tier filter %q", t)
		}
	}
	recs, err := s.docs.Query(ctx, store.RecordQuery{
		Collection: coll,
		ParentID:   parentID,
		Tiers:      f.Tiers,
		Range:      f.Range,
		Limit:      f.Limit,
	})
	if err != nil {
		return nil, err
	}
	return decodeAll[T](recs)
}

func decodeAll[T any](recs []*store.Record) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v, err := decode[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// View is a tier-safe, read-only projection of an entity used by
// retrieval and allocation. Content never includes discarded verbatim
// text.
type View struct {
	Ref        store.EntityRef
	Tier       store.Tier
	Content    string
	Tokens     int
	Embedding  []float32
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Importance float64
	Engagement int
	// SummaryOnly is set when Content is a summary standing in for
	// content that is no longer retained.
	SummaryOnly bool
	segments    []compress.Segment
}

// Document returns the view as compressor input.
func (v View) Document() compress.Document {
	segs := v.segments
	if len(segs) == 0 {
		segs = []compress.Segment{{ID: v.Ref.ID, Text: v.Content, Score: v.Importance}}
	}
	return compress.Document{ID: v.Ref.ID, Kind: v.Ref.Kind, Segments: append([]compress.Segment(nil), segs...)}
}

// Resolve hydrates references into views, in order. Every ref must be
// visible in scope.
func (s *Store) Resolve(ctx context.Context, scope store.Scope, refs []store.EntityRef) ([]View, error) {
	views := make([]View, 0, len(refs))
	for _, ref := range refs {
		v, err := s.view(ctx, scope, ref)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Store) view(ctx context.Context, scope store.Scope, ref store.EntityRef) (View, error) {
	var v View
	switch ref.Kind {
	case store.KindExchange:
		ex, rec, err := loadScoped[store.Exchange](ctx, s, scope, ref.Kind, ref.ID)
		if err != nil {
			return View{}, err
		}
		v = scoredView(rec.Ref(), ex.Meta, ex.Scored)
		v.Content = ex.Verbatim()
		v.SummaryOnly = ex.Tier == store.TierCold
		v.segments = exchangeSegments(ex)
	case store.KindTopic:
		t, rec, err := loadScoped[store.Topic](ctx, s, scope, ref.Kind, ref.ID)
		if err != nil {
			return View{}, err
		}
		v = scoredView(rec.Ref(), t.Meta, t.Scored)
		v.Content = topicContent(t)
		v.SummaryOnly = t.Summary != ""
	case store.KindConversation:
		c, rec, err := loadScoped[store.Conversation](ctx, s, scope, ref.Kind, ref.ID)
		if err != nil {
			return View{}, err
		}
		v = scoredView(rec.Ref(), c.Meta, c.Scored)
		v.Content = c.Summary
		v.SummaryOnly = true
	case store.KindSummary:
		sum, rec, err := loadScoped[store.Summary](ctx, s, scope, ref.Kind, ref.ID)
		if err != nil {
			return View{}, err
		}
		v = View{
			Ref: rec.Ref(), Content: sum.Content, Embedding: sum.Embedding,
			CreatedAt: sum.CreatedAt, UpdatedAt: sum.UpdatedAt, Importance: 1, SummaryOnly: true,
		}
	default:
		return View{}, memerr.Errorf(memerr.CodeStoreInvalidInput, "%s entities have no content view", ref.Kind)
	}
	v.Tokens = s.counter.Count(v.Content)
	return v, nil
}

func scoredView(ref store.EntityRef, m store.Meta, sc store.Scored) View {
	return View{
		Ref:        ref,
		Tier:       sc.Tier,
		Embedding:  sc.Embedding,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Importance: sc.Importance,
		Engagement: sc.Engagement,
	}
}

// exchangeSegments splits an exchange into its user and assistant turns so
// compression can keep either one whole.
func exchangeSegments(ex *store.Exchange) []compress.Segment {
	if ex.Tier == store.TierCold {
		return []compress.Segment{{ID: ex.ID, Text: ex.SummaryText, Score: ex.Importance}}
	}
	segs := []compress.Segment{{ID: ex.ID + "#user", Text: "User: " + ex.UserMessage, Score: ex.Importance}}
	if ex.SystemMessage != "" {
		segs = append(segs, compress.Segment{ID: ex.ID + "#assistant", Text: "Assistant: " + ex.SystemMessage, Score: ex.Importance})
	}
	return segs
}

func topicContent(t *store.Topic) string {
	var b strings.Builder
	if t.Title != "" {
		b.WriteString("Topic: ")
		b.WriteString(t.Title)
	}
	if t.Summary != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Summary)
	}
	return b.String()
}

// Usage reports memory statistics for a session.
func (s *Store) Usage(ctx context.Context, sessionID string) (store.Usage, error) {
	if _, _, err := load[store.Session](ctx, s, store.CollectionSessions, sessionID); err != nil {
		return store.Usage{}, err
	}
	scope := store.InSession(sessionID)
	u := store.Usage{SessionID: sessionID, Exchanges: make(map[store.Tier]int)}

	count := func(coll store.Collection) ([]*store.Record, error) {
		return s.docs.Query(ctx, store.RecordQuery{Collection: coll, Scope: scope})
	}

	convs, err := count(store.CollectionConversations)
	if err != nil {
		return store.Usage{}, err
	}
	u.Conversations = len(convs)

	topics, err := count(store.CollectionTopics)
	if err != nil {
		return store.Usage{}, err
	}
	u.Topics = len(topics)

	exRecs, err := count(store.CollectionExchanges)
	if err != nil {
		return store.Usage{}, err
	}
	exchanges, err := decodeAll[store.Exchange](exRecs)
	if err != nil {
		return store.Usage{}, err
	}
	for _, ex := range exchanges {
		u.Exchanges[ex.Tier]++
		if ex.Tier != store.TierCold {
			u.VerbatimTokens += s.counter.Count(ex.Verbatim())
		}
	}

	sumRecs, err := count(store.CollectionSummaries)
	if err != nil {
		return store.Usage{}, err
	}
	summaries, err := decodeAll[store.Summary](sumRecs)
	if err != nil {
		return store.Usage{}, err
	}
	u.Summaries = len(summaries)
	for _, sum := range summaries {
		u.SummaryTokens += s.counter.Count(sum.Content)
	}

	if u.VectorCount, err = s.vectors.Count(ctx, scope); err != nil {
		return store.Usage{}, err
	}
	if u.ArchivedEntries, err = s.archive.Count(ctx, sessionID); err != nil {
		return store.Usage{}, err
	}
	return u, nil
}
