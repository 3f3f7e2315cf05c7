// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package sqlite is the durable storage backend. Records, the FTS5 keyword
// index and the verbatim archive share records.db; the sqlite-vec index
// lives in vectors.db. Build with -tags sqlite_fts5.
package sqlite

import (
	"os"
	"path/filepath"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", newBackend)
}

func newBackend(cfg store.StorageConfig) (*store.Backend, error) {
	if cfg.DataDir == "" {
		return nil, memerr.New(memerr.CodeStoreInvalidInput, "sqlite backend requires a data directory")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, dbFailure("creating data dir: %w", err)
	}
	return Open(cfg.DataDir, cfg.VectorDimensions)
}

// Open creates all backend components under dir.
func Open(dir string, vectorDims int) (*store.Backend, error) {
	// Open records.db once and share it between the document store, keyword
	// index and archive to avoid WAL contention. The document store owns it.
	docs, err := NewDocumentStore(filepath.Join(dir, "records.db"))
	if err != nil {
		return nil, err
	}

	keywords, err := NewKeywordIndexWithDB(docs.db)
	if err != nil {
		_ = docs.Close()
		return nil, err
	}

	archive, err := NewArchiveStoreWithDB(docs.db)
	if err != nil {
		_ = docs.Close()
		return nil, err
	}

	vectors, err := NewVectorIndex(filepath.Join(dir, "vectors.db"), vectorDims)
	if err != nil {
		_ = docs.Close()
		return nil, err
	}

	return &store.Backend{
		Documents: docs,
		Keywords:  keywords,
		Vectors:   vectors,
		Archive:   archive,
	}, nil
}
