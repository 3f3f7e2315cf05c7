// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Compile-time interface check.
var _ store.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements store.DocumentStore backed by a single SQLite
// records table. The hierarchy columns double as the per-scope
// time-ordered index.
type DocumentStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewDocumentStore opens (or creates) a SQLite database at dbPath and
// initialises the records table.
func NewDocumentStore(dbPath string) (*DocumentStore, error) {
	db, err := openDB(dbPath, migrateDocuments)
	if err != nil {
		return nil, err
	}
	return &DocumentStore{db: db, ownsDB: true}, nil
}

// NewDocumentStoreWithDB uses an existing connection. The caller keeps
// ownership of db.
func NewDocumentStoreWithDB(db *sql.DB) (*DocumentStore, error) {
	if err := migrateDocuments(db); err != nil {
		return nil, dbFailure("migrating records table: %w", err)
	}
	return &DocumentStore{db: db}, nil
}

func migrateDocuments(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS records (
	collection      TEXT NOT NULL,
	id              TEXT NOT NULL,
	session_id      TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	topic_id        TEXT NOT NULL DEFAULT '',
	parent_id       TEXT NOT NULL DEFAULT '',
	tier            TEXT NOT NULL DEFAULT '',
	created_ns      INTEGER NOT NULL,
	updated_ns      INTEGER NOT NULL,
	version         INTEGER NOT NULL,
	payload         BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_records_parent ON records(collection, parent_id, created_ns);
CREATE INDEX IF NOT EXISTS idx_records_session ON records(collection, session_id, created_ns);
CREATE INDEX IF NOT EXISTS idx_records_conversation ON records(collection, conversation_id, created_ns);
CREATE INDEX IF NOT EXISTS idx_records_topic ON records(collection, topic_id, created_ns);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection if this store opened it.
func (d *DocumentStore) Close() error {
	if !d.ownsDB {
		return nil
	}
	return d.db.Close()
}

// Put inserts a new record, failing with a conflict if it already exists.
func (d *DocumentStore) Put(ctx context.Context, rec *store.Record) error {
	const q = `INSERT INTO records (collection, id, session_id, conversation_id, topic_id, parent_id, tier, created_ns, updated_ns, version, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(collection, id) DO NOTHING`

	res, err := d.db.ExecContext(ctx, q,
		string(rec.Collection), rec.ID, rec.SessionID, rec.ConversationID, rec.TopicID, rec.ParentID,
		string(rec.Tier), toNanos(rec.CreatedAt), toNanos(rec.UpdatedAt), rec.Version, rec.Payload,
	)
	if err != nil {
		return dbFailure("inserting record %s/%s: %w", rec.Collection, rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return dbFailure("checking insert of %s: %w", rec.ID, err)
	}
	if n == 0 {
		return memerr.New(memerr.CodeStoreConflict, "record already exists",
			memerr.FieldEntityID(rec.ID), memerr.FieldKind(string(rec.Collection)))
	}
	return nil
}

// CompareAndSwap replaces a record only if its stored version matches.
func (d *DocumentStore) CompareAndSwap(ctx context.Context, rec *store.Record, expectedVersion int64) error {
	const q = `UPDATE records
SET session_id = ?, conversation_id = ?, topic_id = ?, parent_id = ?, tier = ?, created_ns = ?, updated_ns = ?, version = ?, payload = ?
WHERE collection = ? AND id = ? AND version = ?`

	res, err := d.db.ExecContext(ctx, q,
		rec.SessionID, rec.ConversationID, rec.TopicID, rec.ParentID, string(rec.Tier),
		toNanos(rec.CreatedAt), toNanos(rec.UpdatedAt), rec.Version, rec.Payload,
		string(rec.Collection), rec.ID, expectedVersion,
	)
	if err != nil {
		return dbFailure("updating record %s/%s: %w", rec.Collection, rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return dbFailure("checking update of %s: %w", rec.ID, err)
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing record from a lost race.
	if _, err := d.Get(ctx, rec.Collection, rec.ID); err != nil {
		return err
	}
	return memerr.New(memerr.CodeStoreConflict, "version mismatch",
		memerr.FieldEntityID(rec.ID), memerr.Field("expected", expectedVersion))
}

// Get returns one record or a not-found error.
func (d *DocumentStore) Get(ctx context.Context, coll store.Collection, id string) (*store.Record, error) {
	const q = `SELECT collection, id, session_id, conversation_id, topic_id, parent_id, tier, created_ns, updated_ns, version, payload
FROM records WHERE collection = ? AND id = ?`

	rec, err := scanRecord(d.db.QueryRowContext(ctx, q, string(coll), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memerr.New(memerr.CodeStoreEntityNotFound, "record not found",
			memerr.FieldEntityID(id), memerr.FieldKind(string(coll)))
	}
	if err != nil {
		return nil, dbFailure("getting record %s/%s: %w", coll, id, err)
	}
	return rec, nil
}

// Query lists records in created order, filtered by parent, scope, tier and
// time range.
func (d *DocumentStore) Query(ctx context.Context, rq store.RecordQuery) ([]*store.Record, error) {
	var b strings.Builder
	b.WriteString(`SELECT collection, id, session_id, conversation_id, topic_id, parent_id, tier, created_ns, updated_ns, version, payload
FROM records WHERE collection = ?`)
	args := []any{string(rq.Collection)}

	if rq.ParentID != "" {
		b.WriteString(" AND parent_id = ?")
		args = append(args, rq.ParentID)
	}

	clause, scopeArgs, err := scopeClause("", rq.Scope)
	if err != nil {
		return nil, err
	}
	b.WriteString(clause)
	args = append(args, scopeArgs...)

	if len(rq.Tiers) > 0 {
		b.WriteString(" AND tier IN (" + placeholders(len(rq.Tiers)) + ")")
		for _, t := range rq.Tiers {
			args = append(args, string(t))
		}
	}
	if !rq.Range.From.IsZero() {
		b.WriteString(" AND created_ns >= ?")
		args = append(args, toNanos(rq.Range.From))
	}
	if !rq.Range.To.IsZero() {
		b.WriteString(" AND created_ns < ?")
		args = append(args, toNanos(rq.Range.To))
	}

	if rq.Newest {
		b.WriteString(" ORDER BY created_ns DESC, id ASC")
	} else {
		b.WriteString(" ORDER BY created_ns ASC, id ASC")
	}
	if rq.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, rq.Limit)
	}

	rows, err := d.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, dbFailure("querying %s: %w", rq.Collection, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, dbFailure("scanning record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbFailure("iterating records: %w", err)
	}
	return out, nil
}

// Delete removes a record. Missing records are not an error.
func (d *DocumentStore) Delete(ctx context.Context, coll store.Collection, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, string(coll), id); err != nil {
		return dbFailure("deleting record %s/%s: %w", coll, id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*store.Record, error) {
	var (
		rec                  store.Record
		coll, tier           string
		createdNs, updatedNs int64
	)
	if err := row.Scan(&coll, &rec.ID, &rec.SessionID, &rec.ConversationID, &rec.TopicID, &rec.ParentID,
		&tier, &createdNs, &updatedNs, &rec.Version, &rec.Payload); err != nil {
		return nil, err
	}
	rec.Collection = store.Collection(coll)
	rec.Tier = store.Tier(tier)
	rec.CreatedAt = fromNanos(createdNs)
	rec.UpdatedAt = fromNanos(updatedNs)
	return &rec, nil
}
