// Package sqlite stores the corpus in a single-file SQLite database, for local
// single-node mirrors.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table.
type Config struct {
	Path  string
	Table string
}

const schema = `CREATE TABLE IF NOT EXISTS %[1]s (
	id           TEXT PRIMARY KEY,
	doc_id       TEXT NOT NULL UNIQUE,
	category     TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	requisites   TEXT NOT NULL DEFAULT '',
	text         TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL UNIQUE,
	parsed_at    TIMESTAMP NOT NULL,
	published_at TIMESTAMP,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_category_doc_id_idx ON %[1]s (category, doc_id);`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// CorpusStore is a corpus.CorpusStore on database/sql with the modernc driver.
type CorpusStore struct {
	db    *sql.DB
	table string
}

// Open opens (creating if needed) the database at cfg.Path, applies pragmas
// and ensures the schema.
func Open(ctx context.Context, cfg Config) (*CorpusStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage.sqlite.path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer; ":memory:" databases also live on one connection.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	store, err := NewCorpusStore(db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(schema, store.table)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return store, nil
}

// NewCorpusStore wraps an open database without touching its schema.
func NewCorpusStore(db *sql.DB, table string) (*CorpusStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if table == "" {
		table = "docs_cntd"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CorpusStore{db: db, table: table}, nil
}

// Close closes the database.
func (s *CorpusStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is still reachable.
func (s *CorpusStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping sqlite", err)
	}
	return nil
}

// Count returns the number of documents in category; empty counts all.
func (s *CorpusStore) Count(ctx context.Context, category string) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE (?1 = '' OR category = ?1)`, s.table)
	var n int
	if err := s.db.QueryRowContext(ctx, query, category).Scan(&n); err != nil {
		return 0, classify("count documents", err)
	}
	return n, nil
}

// ReadIDs returns one doc_id-ordered range of identifiers.
func (s *CorpusStore) ReadIDs(ctx context.Context, category string, offset, limit int) ([]string, error) {
	query := fmt.Sprintf(`SELECT doc_id FROM %s WHERE (?1 = '' OR category = ?1) ORDER BY doc_id LIMIT ?2 OFFSET ?3`, s.table)
	rows, err := s.db.QueryContext(ctx, query, category, limit, offset)
	if err != nil {
		return nil, classify("read document ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan document id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read document ids", err)
	}
	return ids, nil
}

// Insert writes record; a duplicate doc_id or url is a uniqueness conflict.
func (s *CorpusStore) Insert(ctx context.Context, record corpus.DocumentRecord) error {
	if record.ID == "" || record.DocID == "" {
		return corpus.Errorf(corpus.KindMalformedResponse, "insert document", "id and doc_id are required")
	}
	query := fmt.Sprintf(`INSERT INTO %s
(id, doc_id, category, title, requisites, text, url, parsed_at, published_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	var published any
	if record.PublishedAt != nil {
		published = record.PublishedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.DocID,
		record.Category,
		record.Title,
		record.Requisites,
		record.Text,
		record.URL,
		record.ParsedAt.UTC(),
		published,
		record.CreatedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		err = classify("insert document", err)
		var kerr *corpus.Error
		if errors.As(err, &kerr) {
			return kerr.WithID(record.DocID)
		}
		return err
	}
	return nil
}

// classify maps driver errors onto the corpus taxonomy. The extended result
// code is preferred; the message check covers wrapped or proxied drivers.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return corpus.E(corpus.KindUniquenessConflict, op, err)
		}
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return corpus.E(corpus.KindTimeout, op, err)
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL, sqlite3.SQLITE_READONLY:
			return corpus.E(corpus.KindStoreUnavailable, op, err)
		}
		return corpus.E(corpus.KindMalformedResponse, op, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return corpus.E(corpus.KindUniquenessConflict, op, err)
	case errors.Is(err, sql.ErrConnDone), strings.Contains(msg, "database is closed"):
		return corpus.E(corpus.KindStoreUnavailable, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return corpus.E(corpus.KindTimeout, op, err)
	}
	return corpus.E(corpus.KindUnknown, op, err)
}
