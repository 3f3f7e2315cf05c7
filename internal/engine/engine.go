// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package engine runs conversation turns: it retrieves, allocates and
// assembles the context window for a user message, one turn per session
// at a time.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memorg-dev/memorg/internal/memory"
	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/internal/retrieval"
	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/window"
	"github.com/memorg-dev/memorg/internal/workmem"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// fitAttempts bounds re-allocation when rendered text outgrows the
// estimate made from section overhead.
const fitAttempts = 3

// Config parameterises an Engine.
type Config struct {
	// DefaultBudget applies when neither the caller nor the session sets one.
	DefaultBudget int `mapstructure:"default_budget"`
	TopK          int `mapstructure:"top_k"`
	// RecentExchanges is how many of the newest exchanges are pinned.
	RecentExchanges int `mapstructure:"recent_exchanges"`
	// Model and ResponseTokens configure Respond's generation call.
	Model          string `mapstructure:"model"`
	ResponseTokens int    `mapstructure:"response_tokens"`
	// Timeout bounds one turn, including time queued behind others.
	Timeout time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		DefaultBudget:   4000,
		TopK:            8,
		RecentExchanges: 3,
		ResponseTokens:  1024,
		Timeout:         2 * time.Minute,
	}
}

func (c Config) Validate() error {
	switch {
	case c.DefaultBudget <= 0:
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "default_budget must be > 0, got %d", c.DefaultBudget)
	case c.TopK <= 0:
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "top_k must be > 0, got %d", c.TopK)
	case c.RecentExchanges < 0:
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "recent_exchanges must be >= 0, got %d", c.RecentExchanges)
	case c.ResponseTokens < 0:
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "response_tokens must be >= 0, got %d", c.ResponseTokens)
	case c.Timeout < 0:
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "turn timeout must be >= 0, got %s", c.Timeout)
	}
	return nil
}

// Memory is the part of the context store a turn reads and writes.
type Memory interface {
	GetSession(ctx context.Context, scope store.Scope, id string) (*store.Session, error)
	GetConversation(ctx context.Context, scope store.Scope, id string) (*store.Conversation, error)
	GetTopic(ctx context.Context, scope store.Scope, id string) (*store.Topic, error)
	RecentExchanges(ctx context.Context, scope store.Scope, limit int) ([]*store.Exchange, error)
	Resolve(ctx context.Context, scope store.Scope, refs []store.EntityRef) ([]memory.View, error)
	AppendExchange(ctx context.Context, topicID, userMsg, systemMsg string) (*store.Exchange, error)
}

// Deps are the collaborators of an Engine. Generator is only needed by
// Respond.
type Deps struct {
	Memory    Memory
	Retrieval *retrieval.Engine
	Allocator *workmem.Allocator
	Assembler *window.Assembler
	Generator provider.Generator
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine runs turns. Turns for one session are serialized; a new turn
// supersedes any the session still has queued or in flight.
type Engine struct {
	cfg       Config
	mem       Memory
	retrieval *retrieval.Engine
	alloc     *workmem.Allocator
	asm       *window.Assembler
	gen       provider.Generator
	logger    *slog.Logger
	now       func() time.Time
	lanes     *LanePool
	turns     *turnTracker
}

// New creates an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Memory == nil || deps.Retrieval == nil || deps.Allocator == nil || deps.Assembler == nil {
		return nil, memerr.New(memerr.CodeConfigValidateInvalidValue,
			"engine requires memory, retrieval, allocator and assembler")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:       cfg,
		mem:       deps.Memory,
		retrieval: deps.Retrieval,
		alloc:     deps.Allocator,
		asm:       deps.Assembler,
		gen:       deps.Generator,
		logger:    logger,
		now:       now,
		lanes:     NewLanePool(logger),
		turns:     newTurnTracker(),
	}, nil
}

// Close stops every session lane after queued turns drain.
func (e *Engine) Close() {
	e.lanes.Close()
}

// TurnOptions tune one turn.
type TurnOptions struct {
	// TopicID is the topic the message belongs to. Recent exchanges are
	// taken from it, or from the whole session when empty. Respond
	// requires it.
	TopicID string
	// Scope limits retrieval. The zero value searches the session.
	Scope store.Scope
	// Pinned are entities that must appear in the window.
	Pinned []store.EntityRef
	// Quotas override the allocator's per content type quotas.
	Quotas map[string]int
	// TopK overrides the configured candidate count.
	TopK int
}

// TurnContext is the prepared context window for one turn.
type TurnContext struct {
	SessionID  string
	TopicID    string
	Budget     int
	State      window.State
	Query      retrieval.ProcessedQuery
	Candidates []retrieval.Candidate
	Allocation workmem.Allocation
	Payload    window.Payload
}

// PrepareTurnContext assembles the context window for userMessage within
// budget tokens. A budget of 0 uses the session's configured budget.
// A newer turn for the same session cancels this one with
// engine.turn.superseded.
func (e *Engine) PrepareTurnContext(ctx context.Context, sessionID, userMessage string, budget int, opts TurnOptions) (*TurnContext, error) {
	if err := checkTurn(sessionID, userMessage, budget); err != nil {
		return nil, err
	}

	var tc *TurnContext
	err := e.runTurn(ctx, sessionID, func(ctx context.Context) error {
		var err error
		tc, err = e.prepare(ctx, sessionID, userMessage, budget, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tc, nil
}

// Response is a completed turn.
type Response struct {
	Turn     *TurnContext
	Reply    string
	Usage    provider.Usage
	Exchange *store.Exchange
}

// Respond runs a full turn: it prepares the window, generates a reply and
// records the exchange under opts.TopicID. A turn superseded before the
// exchange is recorded returns engine.turn.superseded and stores nothing.
func (e *Engine) Respond(ctx context.Context, sessionID, userMessage string, budget int, opts TurnOptions) (*Response, error) {
	if err := checkTurn(sessionID, userMessage, budget); err != nil {
		return nil, err
	}
	if e.gen == nil {
		return nil, memerr.New(memerr.CodeConfigValidateInvalidValue, "responding requires a generator")
	}
	if opts.TopicID == "" {
		return nil, memerr.New(memerr.CodeEngineInvalidInput, "respond needs a topic id",
			memerr.FieldSessionID(sessionID))
	}

	var res *Response
	err := e.runTurn(ctx, sessionID, func(ctx context.Context) error {
		tc, err := e.prepare(ctx, sessionID, userMessage, budget, opts)
		if err != nil {
			return err
		}
		out, err := e.gen.Generate(ctx, provider.GenerateRequest{
			Model:    e.cfg.Model,
			Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: tc.Payload.Text}},
			Options:  provider.GenerateOptions{MaxTokens: e.cfg.ResponseTokens},
		})
		if err != nil {
			return memerr.With(err, memerr.FieldSessionID(sessionID))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		ex, err := e.mem.AppendExchange(ctx, tc.TopicID, userMessage, out.Text)
		if err != nil {
			return err
		}
		res = &Response{Turn: tc, Reply: out.Text, Usage: out.Usage, Exchange: ex}
		return nil
	})
	// A recorded exchange stands even if a newer turn arrived meanwhile.
	if res != nil {
		return res, nil
	}
	return nil, err
}

func checkTurn(sessionID, userMessage string, budget int) error {
	if sessionID == "" {
		return memerr.New(memerr.CodeEngineInvalidInput, "session id is required")
	}
	if strings.TrimSpace(userMessage) == "" {
		return memerr.New(memerr.CodeEngineInvalidInput, "user message must not be empty",
			memerr.FieldSessionID(sessionID))
	}
	if budget < 0 {
		return memerr.Errorf(memerr.CodeEngineInvalidInput, "budget must be >= 0, got %d", budget)
	}
	return nil
}

// runTurn executes fn on the session's lane. Earlier turns of the session
// are cancelled first; if this turn is itself superseded its outcome is
// replaced by the supersede error.
func (e *Engine) runTurn(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	turnCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := e.turns.begin(sessionID, cancel)
	defer done()

	err := e.lanes.Submit(turnCtx, sessionID, fn)
	if cause := context.Cause(turnCtx); memerr.IsSuperseded(cause) {
		e.logger.Debug("turn superseded", "session_id", sessionID)
		return cause
	}
	return err
}

func (e *Engine) prepare(ctx context.Context, sessionID, msg string, budget int, opts TurnOptions) (*TurnContext, error) {
	inSession := store.InSession(sessionID)
	sess, err := e.mem.GetSession(ctx, store.All(), sessionID)
	if err != nil {
		return nil, err
	}
	if budget == 0 {
		budget = sess.Config.MaxTokens
	}
	if budget == 0 {
		budget = e.cfg.DefaultBudget
	}

	scope, err := e.retrievalScope(ctx, sessionID, opts.Scope)
	if err != nil {
		return nil, err
	}
	recentScope := inSession
	if opts.TopicID != "" {
		if _, err := e.mem.GetTopic(ctx, inSession, opts.TopicID); err != nil {
			return nil, err
		}
		recentScope = store.InTopic(opts.TopicID)
	}

	var recent []*store.Exchange
	if e.cfg.RecentExchanges > 0 {
		if recent, err = e.mem.RecentExchanges(ctx, recentScope, e.cfg.RecentExchanges); err != nil {
			return nil, err
		}
	}

	now := e.now()
	pq, err := e.retrieval.Process(ctx, msg, retrieval.QueryContext{Now: now})
	if err != nil {
		return nil, err
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	cands, err := e.retrieval.Retrieve(ctx, pq, scope, topK)
	if err != nil {
		return nil, err
	}

	items := make([]workmem.Item, 0, len(cands)+len(recent)+len(opts.Pinned))
	have := make(map[string]bool, cap(items))
	for _, c := range cands {
		items = append(items, workmem.FromView(c.View, c.Score))
		have[c.Ref.ID] = true
	}

	// Recent exchanges and caller pins join the candidates when retrieval
	// did not surface them.
	var missing []store.EntityRef
	recentSet := make(map[string]bool, len(recent))
	pinned := make([]string, 0, len(recent)+len(opts.Pinned))
	for _, ex := range recent {
		ref := store.EntityRef{ID: ex.ID, Kind: store.KindExchange}
		recentSet[ex.ID] = true
		pinned = append(pinned, ex.ID)
		if !have[ex.ID] {
			have[ex.ID] = true
			missing = append(missing, ref)
		}
	}
	for _, ref := range opts.Pinned {
		pinned = append(pinned, ref.ID)
		if !have[ref.ID] {
			have[ref.ID] = true
			missing = append(missing, ref)
		}
	}
	if len(missing) > 0 {
		views, err := e.mem.Resolve(ctx, inSession, missing)
		if err != nil {
			return nil, err
		}
		for _, v := range views {
			items = append(items, workmem.FromView(v, 1))
		}
	}

	state := e.asm.SelectState(window.StateInput{
		Now:            now,
		LastActivity:   lastActivity(recent),
		PriorExchanges: len(recent),
		Topics:         topicsOf(items),
	})
	tpl, err := e.asm.Template(state)
	if err != nil {
		return nil, err
	}

	system := e.asm.SystemInstruction()
	avail := budget - e.asm.Overhead(tpl, system, msg)
	for range fitAttempts {
		if avail < 0 {
			break
		}
		alloc, err := e.alloc.Allocate(ctx, workmem.Request{
			Items:  items,
			Budget: avail,
			Pinned: pinned,
			Quotas: opts.Quotas,
		})
		if err != nil {
			return nil, memerr.With(err, memerr.FieldSessionID(sessionID))
		}
		payload, err := e.asm.FillTemplate(tpl, window.Fill{
			System: system,
			Parts:  window.Partition(alloc.Items, recentSet),
			Query:  msg,
		})
		if err != nil {
			return nil, memerr.With(err, memerr.FieldSessionID(sessionID))
		}
		if payload.Composition.Tokens <= budget {
			e.logger.Info("turn context prepared",
				"session_id", sessionID,
				"state", state,
				"budget", budget,
				"tokens", payload.Composition.Tokens,
				"items", payload.Composition.Items,
				"candidates", len(cands))
			return &TurnContext{
				SessionID:  sessionID,
				TopicID:    opts.TopicID,
				Budget:     budget,
				State:      state,
				Query:      pq,
				Candidates: cands,
				Allocation: alloc,
				Payload:    payload,
			}, nil
		}
		avail -= payload.Composition.Tokens - budget
	}
	return nil, memerr.New(memerr.CodeEngineBudgetExceeded,
		fmt.Sprintf("budget of %d tokens cannot hold the %s window", budget, state),
		memerr.FieldSessionID(sessionID), memerr.Field("budget", budget))
}

// retrievalScope confines scope to the session. A conversation or topic
// scope must belong to it.
func (e *Engine) retrievalScope(ctx context.Context, sessionID string, scope store.Scope) (store.Scope, error) {
	inSession := store.InSession(sessionID)
	switch scope.Level {
	case "", store.ScopeAll:
		return inSession, nil
	case store.ScopeSession:
		if scope.ID != sessionID {
			return store.Scope{}, memerr.New(memerr.CodeStoreScopeNotFound, "scope is outside the session",
				memerr.FieldSessionID(sessionID), memerr.Field("scope_id", scope.ID))
		}
		return scope, nil
	case store.ScopeConversation:
		if _, err := e.mem.GetConversation(ctx, inSession, scope.ID); err != nil {
			return store.Scope{}, err
		}
		return scope, nil
	case store.ScopeTopic:
		if _, err := e.mem.GetTopic(ctx, inSession, scope.ID); err != nil {
			return store.Scope{}, err
		}
		return scope, nil
	default:
		return store.Scope{}, memerr.Errorf(memerr.CodeEngineInvalidInput, "invalid scope level %q", scope.Level)
	}
}

func lastActivity(recent []*store.Exchange) time.Time {
	if len(recent) == 0 {
		return time.Time{}
	}
	return recent[0].CreatedAt
}

func topicsOf(items []workmem.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch it.Ref.Kind {
		case store.KindExchange:
			out = append(out, it.Ref.TopicID)
		case store.KindTopic:
			out = append(out, it.Ref.ID)
		}
	}
	return out
}
