// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package store

// DefaultVectorDimensions matches OpenAI text-embedding-3-small.
const DefaultVectorDimensions = 1536

// StorageConfig controls which backend the store factory uses.
type StorageConfig struct {
	Backend          string // "sqlite" (default) or "memory".
	DataDir          string // Directory holding the sqlite database files.
	VectorDimensions int    // Embedding dimensions; 0 uses the default (1536).
}
