// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package provider

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/zeebo/blake3"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// LocalProviderName is the registry name of the offline collaborators.
const LocalProviderName = "local"

// HashEmbedder is an offline Embedder using signed feature hashing over
// lowercased terms. Texts sharing vocabulary land near each other; it
// has no notion of synonymy.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder producing dims-wide unit vectors.
func NewHashEmbedder(dims int) (*HashEmbedder, error) {
	if dims <= 0 {
		return nil, memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
			"local embedder dimensions must be positive, got %d", dims)
	}
	return &HashEmbedder{dims: dims}, nil
}

func (e *HashEmbedder) Name() string { return LocalProviderName }

// Dimensions returns the output vector width.
func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, term := range store.Terms(text) {
		sum := blake3.Sum256([]byte(term))
		idx := binary.LittleEndian.Uint32(sum[:4]) % uint32(e.dims)
		if sum[4]&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
