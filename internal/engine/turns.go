// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package engine

import (
	"context"
	"sync"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// turnTracker remembers the live turns of each session so a new turn can
// cancel them.
type turnTracker struct {
	mu     sync.Mutex
	seq    uint64
	active map[string]map[uint64]context.CancelCauseFunc
}

func newTurnTracker() *turnTracker {
	return &turnTracker{active: make(map[string]map[uint64]context.CancelCauseFunc)}
}

// begin supersedes every live turn of the session and registers a new
// one. The returned func unregisters it.
func (t *turnTracker) begin(sessionID string, cancel context.CancelCauseFunc) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, prev := range t.active[sessionID] {
		prev(memerr.New(memerr.CodeEngineTurnSuperseded, "superseded by a newer turn",
			memerr.FieldSessionID(sessionID)))
	}

	t.seq++
	id := t.seq
	t.active[sessionID] = map[uint64]context.CancelCauseFunc{id: cancel}

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if live := t.active[sessionID]; live != nil {
			delete(live, id)
			if len(live) == 0 {
				delete(t.active, sessionID)
			}
		}
	}
}
