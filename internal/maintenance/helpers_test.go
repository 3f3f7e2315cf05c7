// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package maintenance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/memory"
	"github.com/memorg-dev/memorg/internal/prioritize"
	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/store/inmem"
	"github.com/memorg-dev/memorg/internal/tokens"
)

type storeHarness struct {
	store *memory.Store
}

func newStoreHarness(t *testing.T) storeHarness {
	t.Helper()
	embedder, err := provider.NewHashEmbedder(32)
	require.NoError(t, err)
	comp, err := compress.New(compress.DefaultConfig(), tokens.Estimator{}, nil, nil)
	require.NoError(t, err)
	prio, err := prioritize.New(prioritize.DefaultConfig())
	require.NoError(t, err)
	s, err := memory.New(memory.DefaultConfig(), memory.Deps{
		Backend:     inmem.New(32),
		Prioritizer: prio,
		Compressor:  comp,
		Embedder:    embedder,
		Analyzer:    provider.LexicalAnalyzer{},
	})
	require.NoError(t, err)

	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "user-1", store.SessionConfig{})
	require.NoError(t, err)
	conv, err := s.CreateConversation(ctx, sess.ID)
	require.NoError(t, err)
	topic, err := s.CreateTopic(ctx, conv.ID, "Notes")
	require.NoError(t, err)
	_, err = s.AppendExchange(ctx, topic.ID, "Remember the milk.", "Will do.")
	require.NoError(t, err)
	return storeHarness{store: s}
}
