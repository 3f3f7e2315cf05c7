// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/prioritize"
	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Report summarises a tiering pass.
type Report struct {
	Sessions  int `json:"sessions"`
	Rescored  int `json:"rescored"`
	Warmed    int `json:"warmed"`
	Cooled    int `json:"cooled"`
	Summaries int `json:"summaries"`
}

func (r *Report) add(o Report) {
	r.Sessions += o.Sessions
	r.Rescored += o.Rescored
	r.Warmed += o.Warmed
	r.Cooled += o.Cooled
	r.Summaries += o.Summaries
}

// RunTiering rescores every session and applies demotions. A failing
// session does not stop the pass; failures are joined into the returned
// error. Re-running with an unchanged clock and store writes nothing.
func (s *Store) RunTiering(ctx context.Context) (Report, error) {
	sessions, err := s.ListSessions(ctx, store.ListFilter{})
	if err != nil {
		return Report{}, err
	}

	var (
		total Report
		errs  []error
	)
	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return total, context.Cause(ctx)
		}
		r, err := s.TierSession(ctx, sess.ID)
		total.add(r)
		if err != nil {
			s.logger.Warn("tiering session failed", "session_id", sess.ID, "error", err)
			errs = append(errs, memerr.With(err, memerr.FieldSessionID(sess.ID)))
		}
	}
	return total, memerr.Join(errs...)
}

// TierSession runs one tiering pass over a session under its write lock.
func (s *Store) TierSession(ctx context.Context, sessionID string) (Report, error) {
	if _, _, err := load[store.Session](ctx, s, store.CollectionSessions, sessionID); err != nil {
		return Report{}, err
	}

	release := s.locks.lock(sessionID)
	defer release()

	rep := Report{Sessions: 1}
	now := s.now()

	convs, err := list[store.Conversation](ctx, s, store.CollectionConversations, sessionID, store.ListFilter{})
	if err != nil {
		return rep, err
	}
	var errs []error
	for _, conv := range convs {
		if err := ctx.Err(); err != nil {
			return rep, context.Cause(ctx)
		}
		if err := s.tierConversation(ctx, conv, now, &rep); err != nil {
			errs = append(errs, memerr.With(err, memerr.Field("conversation_id", conv.ID)))
		}
	}
	return rep, memerr.Join(errs...)
}

func (s *Store) tierConversation(ctx context.Context, conv *store.Conversation, now time.Time, rep *Report) error {
	topics, err := list[store.Topic](ctx, s, store.CollectionTopics, conv.ID, store.ListFilter{})
	if err != nil {
		return err
	}

	// Topics score against the centroid the conversation will hold after
	// this pass so that an immediate re-run changes nothing.
	centroids := make([][]float32, 0, len(topics))
	for _, t := range topics {
		if t.SessionID != conv.SessionID || t.ConversationID != conv.ID {
			return hierarchyCorrupt(t.ID, store.KindTopic, conv.ID)
		}
		centroids = append(centroids, t.Embedding)
	}
	centroid := store.Mean(centroids)

	lastActivity := conv.CreatedAt
	refreshed := false
	for _, t := range topics {
		activity, changed, err := s.tierTopic(ctx, centroid, t, now, rep)
		if err != nil {
			return err
		}
		if activity.After(lastActivity) {
			lastActivity = activity
		}
		refreshed = refreshed || changed
	}

	conv, _, err = load[store.Conversation](ctx, s, store.CollectionConversations, conv.ID)
	if err != nil {
		return err
	}
	if conv.Stale || refreshed {
		// Topics were rewritten above; read them back for their summaries.
		if topics, err = list[store.Topic](ctx, s, store.CollectionTopics, conv.ID, store.ListFilter{}); err != nil {
			return err
		}
		if conv, err = s.refreshConversation(ctx, conv, topics); err != nil {
			return err
		}
		rep.Summaries++
	}

	score := s.prio.Score(
		prioritize.Subject{Timestamp: lastActivity, Embedding: conv.Embedding, Engagement: conv.Engagement},
		prioritize.Context{Now: now},
	)
	tier := s.demoteTo(conv.Tier, score)
	_, err = update(ctx, s, store.CollectionConversations, conv.ID, func(c *store.Conversation) (bool, error) {
		return applyScore(&c.Scored, score, tier), nil
	})
	if err != nil {
		return err
	}
	rep.Rescored++
	return nil
}

type exchangePlan struct {
	ex    *store.Exchange
	score float64
	tier  store.Tier
	cost  int
}

// tierTopic rescores a topic's exchanges and the topic itself. It returns
// the time of the topic's latest exchange and whether its summary was
// rewritten.
func (s *Store) tierTopic(ctx context.Context, convCentroid []float32, t *store.Topic, now time.Time, rep *Report) (time.Time, bool, error) {
	exchanges, err := list[store.Exchange](ctx, s, store.CollectionExchanges, t.ID, store.ListFilter{})
	if err != nil {
		return time.Time{}, false, err
	}

	lastActivity := t.CreatedAt
	plans := make([]exchangePlan, 0, len(exchanges))
	hotTokens := 0
	for _, ex := range exchanges {
		if ex.TopicID != t.ID || ex.ConversationID != t.ConversationID || ex.SessionID != t.SessionID {
			return time.Time{}, false, hierarchyCorrupt(ex.ID, store.KindExchange, t.ID)
		}
		if ex.CreatedAt.After(lastActivity) {
			lastActivity = ex.CreatedAt
		}
		if ex.Tier == store.TierCold {
			continue
		}
		score := s.exchangeScore(ex, t.Embedding, now)
		p := exchangePlan{ex: ex, score: score, tier: s.demoteTo(ex.Tier, score), cost: s.counter.Count(ex.Verbatim())}
		if p.tier == store.TierHot {
			hotTokens += p.cost
		}
		plans = append(plans, p)
	}

	if limit := s.cfg.Tiering.TopicVerbatimCap; hotTokens > limit {
		// Over the cap: the lowest scoring hot exchanges go warm first,
		// older before newer on equal scores.
		hot := make([]int, 0, len(plans))
		for i, p := range plans {
			if p.tier == store.TierHot {
				hot = append(hot, i)
			}
		}
		sort.SliceStable(hot, func(a, b int) bool {
			pa, pb := plans[hot[a]], plans[hot[b]]
			if pa.score != pb.score {
				return pa.score < pb.score
			}
			return pa.ex.CreatedAt.Before(pb.ex.CreatedAt)
		})
		for _, i := range hot {
			if hotTokens <= limit {
				break
			}
			plans[i].tier = store.TierWarm
			hotTokens -= plans[i].cost
		}
	}

	cooled := false
	for _, p := range plans {
		if p.tier == store.TierCold {
			if err := s.demoteCold(ctx, p.ex, p.score); err != nil {
				return time.Time{}, false, err
			}
			rep.Cooled++
			cooled = true
		} else {
			_, err := update(ctx, s, store.CollectionExchanges, p.ex.ID, func(e *store.Exchange) (bool, error) {
				return applyScore(&e.Scored, p.score, p.tier), nil
			})
			if err != nil {
				return time.Time{}, false, err
			}
			if p.tier == store.TierWarm && p.ex.Tier == store.TierHot {
				rep.Warmed++
			}
		}
		rep.Rescored++
	}

	refreshed := false
	if t.SummaryStale || cooled {
		if exchanges, err = list[store.Exchange](ctx, s, store.CollectionExchanges, t.ID, store.ListFilter{}); err != nil {
			return time.Time{}, false, err
		}
		if t, err = s.refreshTopic(ctx, t, exchanges); err != nil {
			return time.Time{}, false, err
		}
		rep.Summaries++
		refreshed = true
	}

	score := s.prio.Score(
		prioritize.Subject{Timestamp: lastActivity, Embedding: t.Embedding, Engagement: t.Engagement},
		prioritize.Context{Now: now, Centroid: convCentroid},
	)
	tier := s.demoteTo(t.Tier, score)
	_, err = update(ctx, s, store.CollectionTopics, t.ID, func(tp *store.Topic) (bool, error) {
		return applyScore(&tp.Scored, score, tier), nil
	})
	if err != nil {
		return time.Time{}, false, err
	}
	rep.Rescored++
	return lastActivity, refreshed, nil
}

func (s *Store) exchangeScore(ex *store.Exchange, centroid []float32, now time.Time) float64 {
	return s.prio.Score(
		prioritize.Subject{Timestamp: ex.CreatedAt, Embedding: ex.Embedding, Engagement: ex.Engagement},
		prioritize.Context{Now: now, Centroid: centroid},
	)
}

// rescoreExchange recomputes one exchange's importance without changing
// its tier.
func (s *Store) rescoreExchange(ctx context.Context, id string, now time.Time) (*store.Exchange, error) {
	ex, _, err := load[store.Exchange](ctx, s, store.CollectionExchanges, id)
	if err != nil {
		return nil, err
	}
	topic, _, err := load[store.Topic](ctx, s, store.CollectionTopics, ex.TopicID)
	if memerr.IsNotFound(err) {
		return nil, hierarchyCorrupt(ex.ID, store.KindExchange, ex.TopicID)
	}
	if err != nil {
		return nil, err
	}
	score := s.exchangeScore(ex, topic.Embedding, now)
	return update(ctx, s, store.CollectionExchanges, id, func(e *store.Exchange) (bool, error) {
		return applyScore(&e.Scored, score, e.Tier), nil
	})
}

// demoteTo returns the tier score maps to, never warmer than current.
func (s *Store) demoteTo(current store.Tier, score float64) store.Tier {
	target := store.TierHot
	switch {
	case score < s.cfg.Tiering.ColdThreshold:
		target = store.TierCold
	case score < s.cfg.Tiering.HotThreshold:
		target = store.TierWarm
	}
	if current.Colder(target) {
		return current
	}
	return target
}

func applyScore(sc *store.Scored, score float64, tier store.Tier) bool {
	if sc.Importance == score && sc.Tier == tier {
		return false
	}
	sc.Importance = score
	sc.Tier = tier
	return true
}

// demoteCold archives an exchange's verbatim pair, replaces it with a
// compressed summary and re-indexes the summary text. The embedding stays.
func (s *Store) demoteCold(ctx context.Context, ex *store.Exchange, score float64) error {
	doc := compress.Document{ID: ex.ID, Kind: store.KindExchange, Segments: exchangeSegments(ex)}
	res, err := s.summarize(ctx, doc, true)
	if err != nil {
		return err
	}

	blob, err := store.SealArchive(ex.UserMessage, ex.SystemMessage)
	if err != nil {
		return err
	}
	if err := s.archive.Put(ctx, ex.ID, ex.SessionID, blob); err != nil {
		return err
	}

	ref := exchangeRef(ex)
	sum, err := s.putSummary(ctx, ex.SummaryID, ref, &store.Summary{
		SessionID:    ex.SessionID,
		OwnerID:      ex.ID,
		OwnerKind:    store.KindExchange,
		SourceIDs:    []string{ex.ID},
		Content:      res.Content,
		Embedding:    ex.Embedding,
		Ratio:        res.Ratio,
		SourceTokens: res.OriginalTokens,
		Tokens:       res.Tokens,
		Level:        1,
		Strategy:     string(res.Strategy),
	})
	if err != nil {
		return err
	}

	ex, err = update(ctx, s, store.CollectionExchanges, ex.ID, func(e *store.Exchange) (bool, error) {
		e.Tier = store.TierCold
		e.Importance = score
		e.UserMessage = ""
		e.SystemMessage = ""
		e.SummaryID = sum.ID
		e.SummaryText = sum.Content
		return true, nil
	})
	if err != nil {
		return err
	}
	if err := s.keywords.Index(ctx, store.KeywordDoc{Ref: ref, Text: ex.SummaryText, CreatedAt: ex.CreatedAt}); err != nil {
		return err
	}
	s.logger.Debug("exchange demoted to cold",
		"session_id", ex.SessionID, "exchange_id", ex.ID, "ratio", sum.Ratio)
	return nil
}

// summarize compresses d to the configured summary ratio. When strict is
// set the result is shorter than d whenever d has content to drop.
func (s *Store) summarize(ctx context.Context, d compress.Document, strict bool) (compress.Result, error) {
	total := s.comp.Tokens(d)
	floor := s.comp.MinimalTokens(d, nil)
	target := max(int(math.Ceil(s.cfg.Tiering.SummaryRatio*float64(total))), floor)
	if strict && target >= total {
		target = max(floor, total-1)
	}
	return s.comp.Compress(ctx, d, target, nil)
}

// putSummary rewrites the summary with id, or creates one when id is
// empty or gone.
func (s *Store) putSummary(ctx context.Context, id string, owner store.EntityRef, draft *store.Summary) (*store.Summary, error) {
	if id != "" {
		sum, err := update(ctx, s, store.CollectionSummaries, id, func(sm *store.Summary) (bool, error) {
			sm.SourceIDs = draft.SourceIDs
			sm.Content = draft.Content
			sm.Embedding = draft.Embedding
			sm.Ratio = draft.Ratio
			sm.SourceTokens = draft.SourceTokens
			sm.Tokens = draft.Tokens
			sm.Level = draft.Level
			sm.Strategy = draft.Strategy
			return true, nil
		})
		if err == nil {
			return sum, nil
		}
		if !memerr.IsNotFound(err) {
			return nil, err
		}
	}

	draft.Meta = newMeta(s.now())
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	rec, err := summaryRecord(draft, owner)
	if err != nil {
		return nil, err
	}
	if err := s.docs.Put(ctx, rec); err != nil {
		return nil, err
	}
	return draft, nil
}

func (s *Store) summaryLevel(ctx context.Context, id string) int {
	if id == "" {
		return 0
	}
	sum, _, err := load[store.Summary](ctx, s, store.CollectionSummaries, id)
	if err != nil {
		return 0
	}
	return sum.Level
}

// refreshTopic rebuilds a topic summary from its exchanges in order. Cold
// exchanges contribute their summaries, which raises the level.
func (s *Store) refreshTopic(ctx context.Context, t *store.Topic, exchanges []*store.Exchange) (*store.Topic, error) {
	doc := compress.Document{ID: t.ID, Kind: store.KindTopic}
	level := 1
	var sources []string
	for _, ex := range exchanges {
		text := ex.Verbatim()
		if text == "" {
			continue
		}
		doc.Segments = append(doc.Segments, compress.Segment{ID: ex.ID, Text: text, Score: ex.Importance})
		sources = append(sources, ex.ID)
		if ex.Tier == store.TierCold {
			level = 2
		}
	}

	if len(sources) == 0 {
		return update(ctx, s, store.CollectionTopics, t.ID, func(tp *store.Topic) (bool, error) {
			if !tp.SummaryStale {
				return false, nil
			}
			tp.SummaryStale = false
			return true, nil
		})
	}

	res, err := s.summarize(ctx, doc, false)
	if err != nil {
		return nil, err
	}
	sum, err := s.putSummary(ctx, t.SummaryID, topicRef(t), &store.Summary{
		SessionID:    t.SessionID,
		OwnerID:      t.ID,
		OwnerKind:    store.KindTopic,
		SourceIDs:    sources,
		Content:      res.Content,
		Embedding:    t.Embedding,
		Ratio:        res.Ratio,
		SourceTokens: res.OriginalTokens,
		Tokens:       res.Tokens,
		Level:        level,
		Strategy:     string(res.Strategy),
	})
	if err != nil {
		return nil, err
	}

	t, err = update(ctx, s, store.CollectionTopics, t.ID, func(tp *store.Topic) (bool, error) {
		tp.Summary = sum.Content
		tp.SummaryID = sum.ID
		tp.SummaryStale = false
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.keywords.Index(ctx, topicKeywordDoc(t)); err != nil {
		return nil, err
	}
	return t, nil
}

// refreshConversation recomputes a conversation's embedding as the mean of
// its topic centroids and its summary from the topic summaries.
func (s *Store) refreshConversation(ctx context.Context, conv *store.Conversation, topics []*store.Topic) (*store.Conversation, error) {
	centroids := make([][]float32, 0, len(topics))
	doc := compress.Document{ID: conv.ID, Kind: store.KindConversation}
	var sources []string
	level := 1
	for _, t := range topics {
		centroids = append(centroids, t.Embedding)
		text := topicContent(t)
		if text == "" {
			continue
		}
		doc.Segments = append(doc.Segments, compress.Segment{ID: t.ID, Text: text, Score: t.Importance})
		sources = append(sources, t.ID)
		level = max(level, s.summaryLevel(ctx, t.SummaryID)+1)
	}
	embedding := store.Mean(centroids)

	var (
		content string
		sumID   = conv.SummaryID
	)
	if len(sources) > 0 {
		res, err := s.summarize(ctx, doc, false)
		if err != nil {
			return nil, err
		}
		sum, err := s.putSummary(ctx, conv.SummaryID, conversationRef(conv), &store.Summary{
			SessionID:    conv.SessionID,
			OwnerID:      conv.ID,
			OwnerKind:    store.KindConversation,
			SourceIDs:    sources,
			Content:      res.Content,
			Embedding:    embedding,
			Ratio:        res.Ratio,
			SourceTokens: res.OriginalTokens,
			Tokens:       res.Tokens,
			Level:        level,
			Strategy:     string(res.Strategy),
		})
		if err != nil {
			return nil, err
		}
		content, sumID = sum.Content, sum.ID
	}

	conv, err := update(ctx, s, store.CollectionConversations, conv.ID, func(c *store.Conversation) (bool, error) {
		c.Embedding = embedding
		c.Summary = content
		c.SummaryID = sumID
		c.Stale = false
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	ref := conversationRef(conv)
	if len(embedding) > 0 {
		if err := s.vectors.Upsert(ctx, ref, embedding); err != nil {
			return nil, err
		}
	}
	if content != "" {
		if err := s.keywords.Index(ctx, store.KeywordDoc{Ref: ref, Text: content, CreatedAt: conv.CreatedAt}); err != nil {
			return nil, err
		}
	}
	s.logger.Debug("conversation summary refreshed",
		"session_id", conv.SessionID, "conversation_id", conv.ID, "topics", len(topics))
	return conv, nil
}

// Promote moves an entity to the hot tier on explicit request. Cold
// exchanges are re-expanded from the archive; when the archive no longer
// holds them promotion fails with a not-found error.
func (s *Store) Promote(ctx context.Context, scope store.Scope, id string) (store.EntityRef, error) {
	if !scope.Valid() {
		return store.EntityRef{}, memerr.Errorf(memerr.CodeStoreInvalidInput, "invalid scope %s/%q", scope.Level, scope.ID)
	}
	kind, err := s.kindOf(ctx, id)
	if err != nil {
		return store.EntityRef{}, err
	}

	switch kind {
	case store.KindExchange:
		ex, rec, err := loadScoped[store.Exchange](ctx, s, scope, kind, id)
		if err != nil {
			return store.EntityRef{}, err
		}
		release := s.locks.lock(ex.SessionID)
		defer release()
		return rec.Ref(), s.promoteExchange(ctx, id)
	case store.KindTopic:
		t, rec, err := loadScoped[store.Topic](ctx, s, scope, kind, id)
		if err != nil {
			return store.EntityRef{}, err
		}
		release := s.locks.lock(t.SessionID)
		defer release()
		_, err = update(ctx, s, store.CollectionTopics, id, func(tp *store.Topic) (bool, error) {
			return promoteScored(&tp.Scored), nil
		})
		return rec.Ref(), err
	case store.KindConversation:
		c, rec, err := loadScoped[store.Conversation](ctx, s, scope, kind, id)
		if err != nil {
			return store.EntityRef{}, err
		}
		release := s.locks.lock(c.SessionID)
		defer release()
		_, err = update(ctx, s, store.CollectionConversations, id, func(cv *store.Conversation) (bool, error) {
			return promoteScored(&cv.Scored), nil
		})
		return rec.Ref(), err
	default:
		return store.EntityRef{}, memerr.Errorf(memerr.CodeStoreInvalidInput, "%s entities have no tier", kind)
	}
}

func (s *Store) promoteExchange(ctx context.Context, id string) error {
	ex, _, err := load[store.Exchange](ctx, s, store.CollectionExchanges, id)
	if err != nil {
		return err
	}
	if ex.Tier != store.TierCold {
		_, err := update(ctx, s, store.CollectionExchanges, id, func(e *store.Exchange) (bool, error) {
			return promoteScored(&e.Scored), nil
		})
		return err
	}

	blob, err := s.archive.Get(ctx, id)
	if err != nil {
		return err
	}
	userMsg, systemMsg, err := store.OpenArchive(blob, ex.Digest)
	if err != nil {
		return memerr.With(err, memerr.FieldEntityID(id))
	}

	ex, err = update(ctx, s, store.CollectionExchanges, id, func(e *store.Exchange) (bool, error) {
		e.Tier = store.TierHot
		e.UserMessage = userMsg
		e.SystemMessage = systemMsg
		e.SummaryText = ""
		return true, nil
	})
	if err != nil {
		return err
	}
	if err := s.keywords.Index(ctx, store.KeywordDoc{Ref: exchangeRef(ex), Text: ex.Verbatim(), CreatedAt: ex.CreatedAt}); err != nil {
		return err
	}
	// The topic summary now cites verbatim content again.
	if _, err := update(ctx, s, store.CollectionTopics, ex.TopicID, func(t *store.Topic) (bool, error) {
		t.SummaryStale = true
		return true, nil
	}); err != nil {
		return err
	}
	s.logger.Debug("exchange promoted", "session_id", ex.SessionID, "exchange_id", id)
	return nil
}

func promoteScored(sc *store.Scored) bool {
	if sc.Tier == store.TierHot {
		return false
	}
	sc.Tier = store.TierHot
	return true
}

// kindOf finds the collection holding id among the tiered kinds.
func (s *Store) kindOf(ctx context.Context, id string) (store.Kind, error) {
	for _, kind := range []store.Kind{store.KindExchange, store.KindTopic, store.KindConversation, store.KindSummary, store.KindSession} {
		_, err := s.docs.Get(ctx, store.CollectionFor(kind), id)
		if err == nil {
			return kind, nil
		}
		if !memerr.IsNotFound(err) {
			return "", err
		}
	}
	return "", memerr.New(memerr.CodeStoreEntityNotFound, "entity not found", memerr.FieldEntityID(id))
}

func hierarchyCorrupt(id string, kind store.Kind, parentID string) error {
	return memerr.New(memerr.CodeStoreHierarchyCorrupt, string(kind)+" is attached to the wrong parent",
		memerr.FieldEntityID(id), memerr.FieldKind(string(kind)), memerr.Field("parent_id", parentID))
}
