// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package sqlite

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// openDB opens (or creates) a SQLite database at dbPath and runs migrate.
func openDB(dbPath string, migrate func(*sql.DB) error) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, memerr.Errorf(memerr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, memerr.Errorf(memerr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, memerr.Errorf(memerr.CodeStoreDatabaseFailure, "migrating %s: %w", dbPath, err)
	}

	return db, nil
}

// toNanos stores timestamps as integers so ORDER BY and range filters
// compare chronologically.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// scopeClause renders a scope as an SQL predicate over the hierarchy
// columns. prefix is the table alias including the trailing dot.
func scopeClause(prefix string, scope store.Scope) (string, []any, error) {
	switch scope.Level {
	case "", store.ScopeAll:
		return "", nil, nil
	case store.ScopeSession:
		return " AND " + prefix + "session_id = ?", []any{scope.ID}, nil
	case store.ScopeConversation:
		return " AND " + prefix + "conversation_id = ?", []any{scope.ID}, nil
	case store.ScopeTopic:
		return " AND " + prefix + "topic_id = ?", []any{scope.ID}, nil
	default:
		return "", nil, memerr.Errorf(memerr.CodeStoreInvalidInput, "unknown scope level %q", scope.Level)
	}
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	p := strings.Repeat("?,", n)
	return p[:len(p)-1]
}

func dbFailure(format string, args ...any) error {
	return memerr.Errorf(memerr.CodeStoreDatabaseFailure, format, args...)
}

// quoteFTS wraps a term as an FTS5 string literal so operators inside it
// are treated as text.
func quoteFTS(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}
