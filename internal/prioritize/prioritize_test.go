// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package prioritize_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/prioritize"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newPrioritizer(t *testing.T) *prioritize.Prioritizer {
	t.Helper()
	p, err := prioritize.New(prioritize.DefaultConfig())
	require.NoError(t, err)
	return p
}

func TestScoreIsDeterministic(t *testing.T) {
	p := newPrioritizer(t)
	s := prioritize.Subject{Timestamp: now.Add(-3 * time.Hour), Embedding: []float32{1, 0}, Engagement: 4}
	c := prioritize.Context{Now: now, Centroid: []float32{1, 1}}

	first := p.Score(s, c)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.Score(s, c))
	}
}

func TestScoreNonIncreasingInAge(t *testing.T) {
	p := newPrioritizer(t)
	c := prioritize.Context{Now: now, Centroid: []float32{0.3, 0.7}}

	prev := math.Inf(1)
	for hours := 0; hours <= 24*90; hours += 7 {
		s := prioritize.Subject{Timestamp: now.Add(-time.Duration(hours) * time.Hour), Embedding: []float32{0.5, 0.5}, Engagement: 2}
		score := p.Score(s, c)
		assert.LessOrEqual(t, score, prev, "age %dh", hours)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
		prev = score
	}
}

func TestScoreFactors(t *testing.T) {
	p := newPrioritizer(t)

	fresh := prioritize.Subject{Timestamp: now}
	assert.InDelta(t, 0.5, p.Score(fresh, prioritize.Context{Now: now}), 1e-9, "recency only")

	aligned := prioritize.Subject{Timestamp: now, Embedding: []float32{1, 0}}
	assert.InDelta(t, 0.8, p.Score(aligned, prioritize.Context{Now: now, Centroid: []float32{2, 0}}), 1e-9)

	opposed := prioritize.Subject{Timestamp: now, Embedding: []float32{-1, 0}}
	assert.InDelta(t, 0.5, p.Score(opposed, prioritize.Context{Now: now, Centroid: []float32{1, 0}}), 1e-9,
		"negative similarity contributes nothing")

	engaged := prioritize.Subject{Timestamp: now, Engagement: 10}
	assert.InDelta(t, 0.6, p.Score(engaged, prioritize.Context{Now: now}), 1e-9)

	future := prioritize.Subject{Timestamp: now.Add(time.Hour)}
	assert.InDelta(t, 1.0, p.Recency(future.Timestamp, now), 1e-12)
}

func TestScoreClampsToUnitInterval(t *testing.T) {
	cfg := prioritize.DefaultConfig()
	cfg.Weights = prioritize.Weights{Recency: 2, Coherence: 2, Engagement: 2}
	p, err := prioritize.New(cfg)
	require.NoError(t, err)

	s := prioritize.Subject{Timestamp: now, Embedding: []float32{1}, Engagement: 100}
	assert.Equal(t, 1.0, p.Score(s, prioritize.Context{Now: now, Centroid: []float32{1}}))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*prioritize.Config)
	}{
		{"negative weight", func(c *prioritize.Config) { c.Weights.Recency = -1 }},
		{"all zero", func(c *prioritize.Config) { c.Weights = prioritize.Weights{} }},
		{"negative decay", func(c *prioritize.Config) { c.DecayPerHour = -0.1 }},
		{"zero saturation", func(c *prioritize.Config) { c.EngagementSaturation = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := prioritize.DefaultConfig()
			tt.mutate(&cfg)
			_, err := prioritize.New(cfg)
			require.Error(t, err)
			assert.True(t, memerr.IsInvalidInput(err))
		})
	}
}

type item struct {
	name  string
	score float64
	at    time.Time
}

func (i item) RankScore() float64  { return i.score }
func (i item) RankTime() time.Time { return i.at }

func names(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name
	}
	return out
}

func TestRankOrderingAndTieBreaks(t *testing.T) {
	items := []item{
		{"low", 0.1, now},
		{"tie-old", 0.5, now.Add(-time.Hour)},
		{"tie-new", 0.5, now},
		{"tie-new-second", 0.5, now},
		{"high", 0.9, now.Add(-48 * time.Hour)},
	}

	ranked := prioritize.Rank(items, 0)
	assert.Equal(t, []string{"high", "tie-new", "tie-new-second", "tie-old", "low"}, names(ranked))
	assert.Equal(t, "low", items[0].name, "input must not be reordered")

	assert.Equal(t, []string{"high", "tie-new"}, names(prioritize.Rank(items, 2)))
	assert.Len(t, prioritize.Rank(items, 50), 5)
}
