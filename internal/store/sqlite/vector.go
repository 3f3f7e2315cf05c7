// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.VectorIndex = (*VectorIndex)(nil)

// VectorIndex implements store.VectorIndex backed by SQLite with sqlite-vec.
type VectorIndex struct {
	db         *sql.DB
	dimensions int
}

// NewVectorIndex opens (or creates) a SQLite database at dbPath and
// initialises the vec0 virtual table and companion scope table.
func NewVectorIndex(dbPath string, dimensions int) (*VectorIndex, error) {
	db, err := openDB(dbPath, func(db *sql.DB) error { return migrateVector(db, dimensions) })
	if err != nil {
		return nil, err
	}
	return &VectorIndex{db: db, dimensions: dimensions}, nil
}

func migrateVector(db *sql.DB, dimensions int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`,
		dimensions,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating vectors virtual table: %w", err)
	}

	const scopeDDL = `
CREATE TABLE IF NOT EXISTS vector_scope (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	session_id      TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	topic_id        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_vector_scope_session ON vector_scope(session_id);`
	if _, err := db.Exec(scopeDDL); err != nil {
		return fmt.Errorf("creating vector_scope table: %w", err)
	}

	return nil
}

func (v *VectorIndex) checkDims(n int) error {
	if n != v.dimensions {
		return memerr.Errorf(memerr.CodeStoreVectorDimensionValue,
			"embedding has %d dimensions, index expects %d", n, v.dimensions)
	}
	return nil
}

// Upsert inserts or replaces a vector and its hierarchy position.
func (v *VectorIndex) Upsert(ctx context.Context, ref store.EntityRef, embedding []float32) error {
	if err := v.checkDims(len(embedding)); err != nil {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return dbFailure("serializing embedding: %w", err)
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return dbFailure("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// vec0 does not support ON CONFLICT; delete first for upsert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, ref.ID); err != nil {
		return dbFailure("deleting existing vector %s: %w", ref.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO vectors(id, embedding) VALUES (?, ?)`, ref.ID, blob); err != nil {
		return dbFailure("inserting vector %s: %w", ref.ID, err)
	}

	const scopeQ = `INSERT INTO vector_scope(id, kind, session_id, conversation_id, topic_id) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, session_id = excluded.session_id,
	conversation_id = excluded.conversation_id, topic_id = excluded.topic_id`
	if _, err := tx.ExecContext(ctx, scopeQ, ref.ID, string(ref.Kind), ref.SessionID, ref.ConversationID, ref.TopicID); err != nil {
		return dbFailure("upserting vector scope %s: %w", ref.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return dbFailure("committing vector upsert: %w", err)
	}
	return nil
}

// Search performs a k-nearest-neighbour search restricted to scope.
// vec0 cannot filter on the companion table, so the KNN query overfetches
// and widens until k in-scope hits are found or the index is exhausted.
func (v *VectorIndex) Search(ctx context.Context, query []float32, scope store.Scope, k int) ([]store.VectorHit, error) {
	if err := v.checkDims(len(query)); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, dbFailure("serializing query vector: %w", err)
	}

	total, err := v.Count(ctx, store.All())
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	clause, scopeArgs, err := scopeClause("s.", scope)
	if err != nil {
		return nil, err
	}

	q := `SELECT knn.id, knn.distance, s.kind, s.session_id, s.conversation_id, s.topic_id
FROM (SELECT id, distance FROM vectors WHERE embedding MATCH ? AND k = ?) knn
JOIN vector_scope s ON s.id = knn.id
WHERE 1 = 1` + clause + `
ORDER BY knn.distance, knn.id
LIMIT ?`

	fetch := k * 8
	for {
		if fetch > total {
			fetch = total
		}
		args := append([]any{blob, fetch}, scopeArgs...)
		args = append(args, k)

		hits, err := v.query(ctx, q, args)
		if err != nil {
			return nil, err
		}
		if len(hits) >= k || fetch >= total {
			return hits, nil
		}
		fetch *= 2
	}
}

func (v *VectorIndex) query(ctx context.Context, q string, args []any) ([]store.VectorHit, error) {
	rows, err := v.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbFailure("searching vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []store.VectorHit
	for rows.Next() {
		var (
			h    store.VectorHit
			kind string
		)
		if err := rows.Scan(&h.Ref.ID, &h.Distance, &kind, &h.Ref.SessionID, &h.Ref.ConversationID, &h.Ref.TopicID); err != nil {
			return nil, dbFailure("scanning vector result: %w", err)
		}
		h.Ref.Kind = store.Kind(kind)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, dbFailure("iterating vector results: %w", err)
	}
	return hits, nil
}

// Delete removes vectors and their scope rows by ID.
func (v *VectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return dbFailure("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id IN (`+placeholders(len(ids))+`)`, args...); err != nil {
		return dbFailure("deleting vectors: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_scope WHERE id IN (`+placeholders(len(ids))+`)`, args...); err != nil {
		return dbFailure("deleting vector scope: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return dbFailure("committing vector delete: %w", err)
	}
	return nil
}

// Count returns the number of vectors visible in scope.
func (v *VectorIndex) Count(ctx context.Context, scope store.Scope) (int, error) {
	clause, args, err := scopeClause("", scope)
	if err != nil {
		return 0, err
	}

	var n int
	if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_scope WHERE 1 = 1`+clause, args...).Scan(&n); err != nil {
		return 0, dbFailure("counting vectors: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (v *VectorIndex) Close() error {
	return v.db.Close()
}
