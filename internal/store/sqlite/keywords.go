// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/memorg-dev/memorg/internal/store"
)

// Compile-time interface check.
var _ store.KeywordIndex = (*KeywordIndex)(nil)

// KeywordIndex implements store.KeywordIndex with an FTS5 external-content
// table kept in sync by triggers. FTS5 selects candidates; term
// frequencies are counted with store.Terms so they agree with query
// processing.
type KeywordIndex struct {
	db     *sql.DB
	ownsDB bool
}

// NewKeywordIndex opens (or creates) a SQLite database at dbPath with the
// keyword tables.
func NewKeywordIndex(dbPath string) (*KeywordIndex, error) {
	db, err := openDB(dbPath, migrateKeywords)
	if err != nil {
		return nil, err
	}
	return &KeywordIndex{db: db, ownsDB: true}, nil
}

// NewKeywordIndexWithDB uses an existing connection owned by the caller.
func NewKeywordIndexWithDB(db *sql.DB) (*KeywordIndex, error) {
	if err := migrateKeywords(db); err != nil {
		return nil, dbFailure("migrating keyword tables: %w", err)
	}
	return &KeywordIndex{db: db}, nil
}

func migrateKeywords(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS keyword_docs (
	rowid           INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT UNIQUE NOT NULL,
	kind            TEXT NOT NULL,
	session_id      TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	topic_id        TEXT NOT NULL DEFAULT '',
	created_ns      INTEGER NOT NULL,
	content         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_keyword_docs_session ON keyword_docs(session_id);

CREATE VIRTUAL TABLE IF NOT EXISTS keyword_docs_fts USING fts5(
	content,
	content='keyword_docs',
	content_rowid='rowid',
	tokenize='unicode61 remove_diacritics 0'
);

-- Triggers to keep FTS index in sync with the main table.
CREATE TRIGGER IF NOT EXISTS keyword_docs_ai AFTER INSERT ON keyword_docs BEGIN
	INSERT INTO keyword_docs_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS keyword_docs_ad AFTER DELETE ON keyword_docs BEGIN
	INSERT INTO keyword_docs_fts(keyword_docs_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS keyword_docs_au AFTER UPDATE ON keyword_docs BEGIN
	INSERT INTO keyword_docs_fts(keyword_docs_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	INSERT INTO keyword_docs_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`
	_, err := db.Exec(ddl)
	return err
}

func (k *KeywordIndex) Close() error {
	if !k.ownsDB {
		return nil
	}
	return k.db.Close()
}

// Index inserts or replaces the document for doc.Ref.ID.
func (k *KeywordIndex) Index(ctx context.Context, doc store.KeywordDoc) error {
	const q = `INSERT INTO keyword_docs (id, kind, session_id, conversation_id, topic_id, created_ns, content)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	kind = excluded.kind,
	session_id = excluded.session_id,
	conversation_id = excluded.conversation_id,
	topic_id = excluded.topic_id,
	created_ns = excluded.created_ns,
	content = excluded.content`

	_, err := k.db.ExecContext(ctx, q,
		doc.Ref.ID, string(doc.Ref.Kind), doc.Ref.SessionID, doc.Ref.ConversationID, doc.Ref.TopicID,
		toNanos(doc.CreatedAt), doc.Text,
	)
	if err != nil {
		return dbFailure("indexing keywords for %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// Remove drops a document from the index.
func (k *KeywordIndex) Remove(ctx context.Context, id string) error {
	if _, err := k.db.ExecContext(ctx, `DELETE FROM keyword_docs WHERE id = ?`, id); err != nil {
		return dbFailure("removing keywords for %s: %w", id, err)
	}
	return nil
}

// Search returns in-scope documents matching any term, newest first.
func (k *KeywordIndex) Search(ctx context.Context, terms []string, scope store.Scope, limit int) ([]store.KeywordHit, error) {
	var quoted []string
	var wanted []string
	for _, term := range terms {
		for _, t := range store.Terms(term) {
			quoted = append(quoted, quoteFTS(t))
			wanted = append(wanted, t)
		}
	}
	if len(quoted) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	clause, scopeArgs, err := scopeClause("d.", scope)
	if err != nil {
		return nil, err
	}

	q := `SELECT d.id, d.kind, d.session_id, d.conversation_id, d.topic_id, d.created_ns, d.content
FROM keyword_docs d
JOIN keyword_docs_fts fts ON d.rowid = fts.rowid
WHERE fts.content MATCH ?` + clause + `
ORDER BY d.created_ns DESC, d.id ASC
LIMIT ?`

	args := append([]any{strings.Join(quoted, " OR ")}, scopeArgs...)
	args = append(args, limit)

	rows, err := k.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbFailure("searching keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []store.KeywordHit
	for rows.Next() {
		var (
			hit       store.KeywordHit
			kind      string
			createdNs int64
			content   string
		)
		if err := rows.Scan(&hit.Ref.ID, &kind, &hit.Ref.SessionID, &hit.Ref.ConversationID, &hit.Ref.TopicID, &createdNs, &content); err != nil {
			return nil, dbFailure("scanning keyword hit: %w", err)
		}
		hit.Ref.Kind = store.Kind(kind)
		hit.CreatedAt = fromNanos(createdNs)
		hit.TermFreq = store.TermFrequencies(content, wanted)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, dbFailure("iterating keyword hits: %w", err)
	}
	return hits, nil
}
