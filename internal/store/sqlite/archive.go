// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Compile-time interface check.
var _ store.ArchiveStore = (*ArchiveStore)(nil)

// ArchiveStore keeps sealed verbatim blobs of cold exchanges.
// The connection is shared with the DocumentStore, which closes it.
type ArchiveStore struct {
	db *sql.DB
}

// NewArchiveStoreWithDB uses an existing connection owned by the caller.
func NewArchiveStoreWithDB(db *sql.DB) (*ArchiveStore, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS archive (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	blob       BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archive_session ON archive(session_id);`
	if _, err := db.Exec(ddl); err != nil {
		return nil, dbFailure("migrating archive table: %w", err)
	}
	return &ArchiveStore{db: db}, nil
}

func (a *ArchiveStore) Close() error { return nil }

// Put stores or replaces a sealed blob.
func (a *ArchiveStore) Put(ctx context.Context, id, sessionID string, blob []byte) error {
	const q = `INSERT INTO archive (id, session_id, blob) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET session_id = excluded.session_id, blob = excluded.blob`
	if _, err := a.db.ExecContext(ctx, q, id, sessionID, blob); err != nil {
		return dbFailure("archiving %s: %w", id, err)
	}
	return nil
}

// Get returns the sealed blob for id.
func (a *ArchiveStore) Get(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	err := a.db.QueryRowContext(ctx, `SELECT blob FROM archive WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memerr.New(memerr.CodeStorePromotionNotFound, "no archived verbatim content", memerr.FieldEntityID(id))
	}
	if err != nil {
		return nil, dbFailure("reading archive %s: %w", id, err)
	}
	return blob, nil
}

// Count returns the number of archived entries for a session, or all
// entries when sessionID is empty.
func (a *ArchiveStore) Count(ctx context.Context, sessionID string) (int, error) {
	q := `SELECT COUNT(*) FROM archive`
	var args []any
	if sessionID != "" {
		q += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}

	var n int
	if err := a.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, dbFailure("counting archive: %w", err)
	}
	return n, nil
}
