// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package provider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/provider"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

func fastRetry() provider.RetryConfig {
	return provider.RetryConfig{
		Timeout:         time.Second,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestCall_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := provider.Call(context.Background(), "flaky", fastRetry(), nil, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestCall_ExhaustedRetriesAreUnavailable(t *testing.T) {
	tracker := newTracker(t, time.Minute)
	calls := 0
	_, err := provider.Call(context.Background(), "down", fastRetry(), tracker, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("503 service unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, memerr.IsUnavailable(err))
	assert.Equal(t, memerr.ClassUnavailable, memerr.Classify(err))
	assert.Contains(t, err.Error(), "503")
	assert.False(t, tracker.IsHealthy())

	_, err = provider.Call(context.Background(), "down", fastRetry(), tracker, func(context.Context) (int, error) {
		t.Fatal("cooling-down collaborator must not be called")
		return 0, nil
	})
	assert.True(t, memerr.IsUnavailable(err))
}

func TestCall_InvalidRequestIsNotRetried(t *testing.T) {
	calls := 0
	_, err := provider.Call(context.Background(), "strict", fastRetry(), nil, func(context.Context) (int, error) {
		calls++
		return 0, memerr.New(memerr.CodeProviderRequestInvalid, "prompt too long")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, memerr.IsInvalidInput(err))
}

func TestCall_AttemptTimeout(t *testing.T) {
	cfg := fastRetry()
	cfg.Timeout = 5 * time.Millisecond
	cfg.MaxAttempts = 2

	_, err := provider.Call(context.Background(), "slow", cfg, nil, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, memerr.IsUnavailable(err))
}

func TestCall_CancelledContextReturnsCause(t *testing.T) {
	cause := errors.New("superseded by newer turn")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	_, err := provider.Call(ctx, "any", fastRetry(), nil, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, cause)
}

func TestRetryConfig_Validate(t *testing.T) {
	require.NoError(t, provider.DefaultRetryConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*provider.RetryConfig)
	}{
		{"zero timeout", func(c *provider.RetryConfig) { c.Timeout = 0 }},
		{"zero attempts", func(c *provider.RetryConfig) { c.MaxAttempts = 0 }},
		{"max below initial", func(c *provider.RetryConfig) { c.MaxInterval = time.Microsecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := provider.DefaultRetryConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, memerr.IsInvalidInput(err))
		})
	}
}

type countingEmbedder struct {
	fail  int
	calls int
	short bool
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.calls <= c.fail {
		return nil, errors.New("timeout")
	}
	n := len(texts)
	if c.short {
		n--
	}
	return make([][]float32, n), nil
}

func TestResilientEmbedder(t *testing.T) {
	inner := &countingEmbedder{fail: 1}
	e := provider.NewResilientEmbedder(inner, fastRetry(), nil)
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 2, inner.calls)

	short := provider.NewResilientEmbedder(&countingEmbedder{short: true}, fastRetry(), nil)
	_, err = short.Embed(context.Background(), []string{"a", "b"})
	assert.True(t, memerr.IsUnavailable(err))
}
