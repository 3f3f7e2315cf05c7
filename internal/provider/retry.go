// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// RetryConfig bounds calls to an external collaborator.
type RetryConfig struct {
	// Timeout applies to each attempt.
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// DefaultRetryConfig returns the collaborator call defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Timeout:         30 * time.Second,
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Validate reports configuration errors.
func (c RetryConfig) Validate() error {
	if c.Timeout <= 0 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "collaborator timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxAttempts == 0 {
		return memerr.New(memerr.CodeConfigValidateInvalidValue, "collaborator max_attempts must be >= 1")
	}
	if c.InitialInterval < 0 || c.MaxInterval < c.InitialInterval {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
			"collaborator backoff intervals invalid: initial %s, max %s", c.InitialInterval, c.MaxInterval)
	}
	return nil
}

func (c RetryConfig) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	return b
}

// Call runs fn with a per-attempt timeout and exponential backoff. Request
// validation failures are not retried. When attempts are exhausted the
// error is reported as collaborator unavailability. A cancelled ctx
// returns its cause unchanged.
func Call[T any](ctx context.Context, name string, cfg RetryConfig, tracker *HealthTracker, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if tracker != nil && !tracker.IsHealthy() {
		return zero, memerr.New(memerr.CodeProviderUnavailable, "collaborator cooling down after failure",
			memerr.FieldProvider(name))
	}

	attempts := 0
	op := func() (T, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		v, err := fn(actx)
		if err == nil {
			return v, nil
		}
		if memerr.IsInvalidInput(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(cfg.backOff()),
		backoff.WithMaxTries(cfg.MaxAttempts),
	)
	if err == nil {
		if tracker != nil {
			tracker.RecordSuccess()
		}
		return v, nil
	}

	if ctx.Err() != nil {
		return zero, context.Cause(ctx)
	}
	if memerr.IsInvalidInput(err) {
		return zero, err
	}

	if tracker != nil {
		tracker.RecordFailure()
	}
	// The cause is rendered into the message rather than wrapped so the
	// unavailable code is the one callers classify on.
	return zero, memerr.New(memerr.CodeProviderUnavailable,
		name+" unavailable: "+err.Error(),
		memerr.FieldProvider(name), memerr.Field("attempts", attempts))
}

// ResilientEmbedder applies Call to every Embed.
type ResilientEmbedder struct {
	inner   Embedder
	cfg     RetryConfig
	tracker *HealthTracker
}

func NewResilientEmbedder(inner Embedder, cfg RetryConfig, tracker *HealthTracker) *ResilientEmbedder {
	return &ResilientEmbedder{inner: inner, cfg: cfg, tracker: tracker}
}

func (r *ResilientEmbedder) Name() string { return NameOf(r.inner) }

func (r *ResilientEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := Call(ctx, r.Name(), r.cfg, r.tracker, func(ctx context.Context) ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, memerr.Errorf(memerr.CodeProviderUnavailable,
			"%s returned %d embeddings for %d inputs", r.Name(), len(vecs), len(texts))
	}
	return vecs, nil
}

// ResilientGenerator applies Call to every Generate.
type ResilientGenerator struct {
	inner   Generator
	cfg     RetryConfig
	tracker *HealthTracker
}

func NewResilientGenerator(inner Generator, cfg RetryConfig, tracker *HealthTracker) *ResilientGenerator {
	return &ResilientGenerator{inner: inner, cfg: cfg, tracker: tracker}
}

func (r *ResilientGenerator) Name() string { return NameOf(r.inner) }

func (r *ResilientGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	return Call(ctx, r.Name(), r.cfg, r.tracker, func(ctx context.Context) (GenerateResponse, error) {
		return r.inner.Generate(ctx, req)
	})
}

// ResilientAnalyzer applies Call to every Analyze.
type ResilientAnalyzer struct {
	inner   Analyzer
	cfg     RetryConfig
	tracker *HealthTracker
}

func NewResilientAnalyzer(inner Analyzer, cfg RetryConfig, tracker *HealthTracker) *ResilientAnalyzer {
	return &ResilientAnalyzer{inner: inner, cfg: cfg, tracker: tracker}
}

func (r *ResilientAnalyzer) Name() string { return NameOf(r.inner) }

func (r *ResilientAnalyzer) Analyze(ctx context.Context, text string) (Analysis, error) {
	return Call(ctx, r.Name(), r.cfg, r.tracker, func(ctx context.Context) (Analysis, error) {
		return r.inner.Analyze(ctx, text)
	})
}
