// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/provider"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

func TestLexicalAnalyzer(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantEntities  []string
		wantIntents   []string
		wantSentiment func(float64) bool
	}{
		{
			name:          "question with entities",
			text:          "How do I deploy to Google Cloud from New York?",
			wantEntities:  []string{"I", "Google Cloud", "New York"},
			wantIntents:   []string{provider.IntentQuestion},
			wantSentiment: func(s float64) bool { return s == 0 },
		},
		{
			name:          "request",
			text:          "Please summarize the \"quarterly report\" for me.",
			wantEntities:  []string{"quarterly report"},
			wantIntents:   []string{provider.IntentRequest},
			wantSentiment: func(s float64) bool { return s == 0 },
		},
		{
			name:          "gratitude is positive",
			text:          "Thanks, that was great",
			wantIntents:   []string{provider.IntentGratitude},
			wantSentiment: func(s float64) bool { return s > 0 },
		},
		{
			name:          "negation flips",
			text:          "the build is not good",
			wantIntents:   []string{provider.IntentStatement},
			wantSentiment: func(s float64) bool { return s == -1 },
		},
		{
			name:          "greeting",
			text:          "hello there",
			wantIntents:   []string{provider.IntentGreeting},
			wantSentiment: func(s float64) bool { return s == 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := provider.LexicalAnalyzer{}.Analyze(context.Background(), tt.text)
			require.NoError(t, err)
			if tt.wantEntities != nil {
				assert.Equal(t, tt.wantEntities, a.Entities)
			}
			assert.Equal(t, tt.wantIntents, a.Intents)
			assert.True(t, tt.wantSentiment(a.Sentiment), "sentiment %v", a.Sentiment)
		})
	}
}

func TestLexicalAnalyzer_Deterministic(t *testing.T) {
	text := "Alice met Bob in Paris. They loved it!"
	a1, err := provider.LexicalAnalyzer{}.Analyze(context.Background(), text)
	require.NoError(t, err)
	a2, err := provider.LexicalAnalyzer{}.Analyze(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, []string{"Bob", "Paris"}, a1.Entities)
}

type scriptedGenerator struct {
	text string
	req  provider.GenerateRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	g.req = req
	return provider.GenerateResponse{Text: g.text}, nil
}

func TestGenerativeAnalyzer(t *testing.T) {
	gen := &scriptedGenerator{text: "Sure!\n```json\n{\"entities\":[\"Go\"],\"intents\":[\"question\"],\"sentiment\":3}\n```"}
	a, err := provider.NewGenerativeAnalyzer(gen, "small").Analyze(context.Background(), "is Go fast?")
	require.NoError(t, err)
	assert.Equal(t, []string{"Go"}, a.Entities)
	assert.Equal(t, []string{"question"}, a.Intents)
	assert.Equal(t, 1.0, a.Sentiment)
	assert.Equal(t, "small", gen.req.Model)
	require.Len(t, gen.req.Messages, 1)
	assert.Equal(t, "is Go fast?", gen.req.Messages[0].Content)
}

func TestParseAnalysis_Malformed(t *testing.T) {
	for _, raw := range []string{"no json here", "{not json}"} {
		_, err := provider.ParseAnalysis(raw)
		require.Error(t, err)
		assert.True(t, memerr.IsUnavailable(err))
	}
}
