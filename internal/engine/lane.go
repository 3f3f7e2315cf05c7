// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package engine

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

type workItem struct {
	fn     func(context.Context) error
	ctx    context.Context
	result chan<- error
}

// Lane runs the turns of one session one at a time, in submission order.
type Lane struct {
	sessionID string
	logger    *slog.Logger
	queue     chan workItem
	done      chan struct{}
	closing   chan struct{}

	// after, when set, is the done channel of the session's previous lane;
	// nothing runs here until it closes.
	after <-chan struct{}

	once sync.Once
}

// NewLane starts a lane for sessionID. Close releases its goroutine.
func NewLane(sessionID string, logger *slog.Logger) *Lane {
	return newLane(sessionID, logger, nil)
}

func newLane(sessionID string, logger *slog.Logger, after <-chan struct{}) *Lane {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Lane{
		sessionID: sessionID,
		logger:    logger,
		queue:     make(chan workItem, 64),
		after:     after,
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Lane) run() {
	defer close(l.done)
	if l.after != nil {
		<-l.after
	}
	for {
		select {
		case w := <-l.queue:
			l.execute(w)
		case <-l.closing:
			for {
				select {
				case w := <-l.queue:
					l.execute(w)
				default:
					return
				}
			}
		}
	}
}

func (l *Lane) execute(w workItem) {
	// Superseded or abandoned turns never start.
	if err := w.ctx.Err(); err != nil {
		w.result <- err
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("turn panicked",
					"session_id", l.sessionID,
					"panic", r,
					"stack", string(debug.Stack()))
				err = memerr.Errorf(memerr.CodeEngineTurnFailure, "worker panic: %v", r)
			}
		}()
		err = w.fn(w.ctx)
	}()

	w.result <- err
}

// Submit queues fn and waits for its result. A ctx that ends first returns
// ctx.Err(); fn then never starts unless it already had. Submitting to a
// closed lane fails with CodeEngineLaneClosed.
func (l *Lane) Submit(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.closing:
		return l.closedErr("lane is closed")
	default:
	}

	result := make(chan error, 1)
	w := workItem{fn: fn, ctx: ctx, result: result}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closing:
		return l.closedErr("lane is closed")
	case l.queue <- w:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closing:
		return l.closedErr("lane closed while waiting for result")
	case err := <-result:
		return err
	}
}

func (l *Lane) closedErr(msg string) error {
	return memerr.New(memerr.CodeEngineLaneClosed, msg, memerr.FieldSessionID(l.sessionID))
}

// Close stops accepting work and waits for queued work to drain. It is
// idempotent.
func (l *Lane) Close() {
	l.once.Do(func() {
		close(l.closing)
		<-l.done
	})
}

type pooledLane struct {
	lane *Lane
	refs int
}

// LanePool keeps one Lane per active session. A lane is retired once no
// Submit through the pool is outstanding for its session; the session's
// next lane starts only after the retired one has finished.
type LanePool struct {
	mu      sync.Mutex
	lanes   map[string]*pooledLane
	retired map[string]chan struct{}
	logger  *slog.Logger
	closed  bool
}

func NewLanePool(logger *slog.Logger) *LanePool {
	return &LanePool{
		lanes:   make(map[string]*pooledLane),
		retired: make(map[string]chan struct{}),
		logger:  logger,
	}
}

// Get returns the session's lane, creating it if needed. After Close it
// returns a closed lane.
func (p *LanePool) Get(sessionID string) *Lane {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lookup(sessionID).lane
}

// Submit runs fn on the session's lane.
func (p *LanePool) Submit(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	p.mu.Lock()
	pl := p.lookup(sessionID)
	pl.refs++
	p.mu.Unlock()

	defer p.release(sessionID, pl)
	return pl.lane.Submit(ctx, fn)
}

// lookup must be called with p.mu held.
func (p *LanePool) lookup(sessionID string) *pooledLane {
	if pl, ok := p.lanes[sessionID]; ok {
		return pl
	}
	if p.closed {
		l := newLane(sessionID, p.logger, nil)
		l.Close()
		return &pooledLane{lane: l}
	}
	pl := &pooledLane{lane: newLane(sessionID, p.logger, p.retired[sessionID])}
	p.lanes[sessionID] = pl
	return pl
}

func (p *LanePool) release(sessionID string, pl *pooledLane) {
	p.mu.Lock()
	pl.refs--
	if pl.refs > 0 || p.closed || p.lanes[sessionID] != pl {
		p.mu.Unlock()
		return
	}
	delete(p.lanes, sessionID)
	p.retired[sessionID] = pl.lane.done
	p.mu.Unlock()

	// A cancelled turn may still be running; Close waits for it.
	go func() {
		pl.lane.Close()
		p.mu.Lock()
		if p.retired[sessionID] == pl.lane.done {
			delete(p.retired, sessionID)
		}
		p.mu.Unlock()
	}()
}

// Len is the number of live lanes.
func (p *LanePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lanes)
}

// Close shuts down every lane.
func (p *LanePool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pl := range p.lanes {
		pl.lane.Close()
	}
	p.lanes = make(map[string]*pooledLane)
	p.closed = true
}
