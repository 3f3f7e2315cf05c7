// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package tokens measures content cost in model tokens.
package tokens

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// DefaultEncoding is the BPE used when none is configured.
const DefaultEncoding = "cl100k_base"

// Counter returns the token cost of a piece of text. Implementations must
// be pure: the same text always costs the same.
type Counter interface {
	Count(text string) int
}

// Estimator approximates cost as one token per four runes, rounded up. It
// needs no vocabulary and is used when a BPE cannot be loaded.
type Estimator struct{}

func (Estimator) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Tiktoken counts tokens with a tiktoken BPE encoding.
type Tiktoken struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, memerr.Wrapf(err, memerr.CodeConfigLoadReadFailure, "loading tiktoken encoding %q", encoding)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// New returns a tiktoken counter for encoding, or the Estimator when
// counter is "estimate" or the encoding cannot be loaded.
func New(counter, encoding string, logger *slog.Logger) Counter {
	if counter == "estimate" {
		return Estimator{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	tok, err := NewTiktoken(encoding)
	if err != nil {
		logger.Warn("tiktoken unavailable, falling back to estimator", "encoding", encoding, "error", err)
		return Estimator{}
	}
	return tok
}
