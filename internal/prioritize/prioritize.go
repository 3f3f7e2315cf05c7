// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package prioritize scores stored entities by recency, topic coherence and
// engagement. Every function here is pure; time is an input.
package prioritize

import (
	"math"
	"sort"
	"time"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Weights are the per-factor coefficients of Score.
type Weights struct {
	Recency    float64 `mapstructure:"recency"`
	Coherence  float64 `mapstructure:"coherence"`
	Engagement float64 `mapstructure:"engagement"`
}

// Config parameterises a Prioritizer.
type Config struct {
	Weights Weights `mapstructure:"weights"`
	// DecayPerHour is λ in exp(-λ·age), with age measured in hours.
	DecayPerHour float64 `mapstructure:"decay_per_hour"`
	// EngagementSaturation is the counter value at which the engagement
	// factor reaches one half.
	EngagementSaturation float64 `mapstructure:"engagement_saturation"`
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		Weights:              Weights{Recency: 0.5, Coherence: 0.3, Engagement: 0.2},
		DecayPerHour:         0.01,
		EngagementSaturation: 10,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	w := c.Weights
	if w.Recency < 0 || w.Coherence < 0 || w.Engagement < 0 {
		return memerr.New(memerr.CodeConfigValidateInvalidValue, "prioritizer weights must be >= 0")
	}
	if w.Recency+w.Coherence+w.Engagement == 0 {
		return memerr.New(memerr.CodeConfigValidateInvalidValue, "prioritizer weights must not all be zero")
	}
	if c.DecayPerHour < 0 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "decay_per_hour must be >= 0, got %v", c.DecayPerHour)
	}
	if c.EngagementSaturation <= 0 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "engagement_saturation must be > 0, got %v", c.EngagementSaturation)
	}
	return nil
}

// Subject is the part of an entity the score depends on.
type Subject struct {
	Timestamp  time.Time
	Embedding  []float32
	Engagement int
}

// Context is the scoring environment.
type Context struct {
	Now time.Time
	// Centroid is the parent scope's centroid embedding. Nil disables the
	// coherence factor's contribution.
	Centroid []float32
}

// Factors is the per-factor breakdown of a score, each in [0,1].
type Factors struct {
	Recency    float64
	Coherence  float64
	Engagement float64
}

// Prioritizer is the deterministic importance model.
type Prioritizer struct {
	cfg Config
}

// New returns a Prioritizer. An invalid configuration is rejected.
func New(cfg Config) (*Prioritizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Prioritizer{cfg: cfg}, nil
}

// Config returns the active configuration.
func (p *Prioritizer) Config() Config { return p.cfg }

// Recency is exp(-λ·ageHours). Timestamps in the future count as age 0.
func (p *Prioritizer) Recency(ts, now time.Time) float64 {
	age := now.Sub(ts).Hours()
	if age < 0 {
		age = 0
	}
	return math.Exp(-p.cfg.DecayPerHour * age)
}

// Explain returns the factor breakdown for s.
func (p *Prioritizer) Explain(s Subject, c Context) Factors {
	f := Factors{Recency: p.Recency(s.Timestamp, c.Now)}
	if len(c.Centroid) > 0 {
		f.Coherence = math.Max(0, store.Cosine(s.Embedding, c.Centroid))
	}
	if s.Engagement > 0 {
		e := float64(s.Engagement)
		f.Engagement = e / (e + p.cfg.EngagementSaturation)
	}
	return f
}

// Score combines the factors with the configured weights and clamps the
// result to [0,1].
func (p *Prioritizer) Score(s Subject, c Context) float64 {
	f := p.Explain(s, c)
	w := p.cfg.Weights
	return clamp01(w.Recency*f.Recency + w.Coherence*f.Coherence + w.Engagement*f.Engagement)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Ranked is anything Rank can order.
type Ranked interface {
	RankScore() float64
	RankTime() time.Time
}

// Rank sorts items by descending score, ties broken by more recent
// timestamp and then by input order, and truncates to limit when limit > 0.
// The input slice is not modified.
func Rank[T Ranked](items []T, limit int) []T {
	out := make([]T, len(items))
	copy(out, items)

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].RankScore(), out[j].RankScore()
		if si != sj {
			return si > sj
		}
		return out[i].RankTime().After(out[j].RankTime())
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
