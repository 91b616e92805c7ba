// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is the documents table created by the bundled migrations.
const DefaultTable = "docs_cntd"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// NewPool opens a pgx pool from cfg and verifies connectivity.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, classify("connect postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("ping postgres", err)
	}
	return pool, nil
}

// CorpusStore reads and writes corpus documents in Postgres.
type CorpusStore struct {
	pool  querier
	table string
}

// NewCorpusStore constructs a store over an existing pool.
func NewCorpusStore(pool querier, table string) (*CorpusStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CorpusStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *CorpusStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Count returns the number of documents in category; empty counts all.
func (s *CorpusStore) Count(ctx context.Context, category string) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE ($1 = '' OR category = $1)`, s.table)
	var n int64
	if err := s.pool.QueryRow(ctx, query, category).Scan(&n); err != nil {
		return 0, classify("count documents", err)
	}
	return int(n), nil
}

// ReadIDs returns one doc_id-ordered range of identifiers.
func (s *CorpusStore) ReadIDs(ctx context.Context, category string, offset, limit int) ([]string, error) {
	query := fmt.Sprintf(`SELECT doc_id FROM %s
WHERE ($1 = '' OR category = $1)
ORDER BY doc_id
LIMIT $2 OFFSET $3`, s.table)
	rows, err := s.pool.Query(ctx, query, category, limit, offset)
	if err != nil {
		return nil, classify("read document ids", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
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

// Insert writes record once. A row already holding the doc_id or url leaves
// the table untouched and yields a uniqueness conflict.
func (s *CorpusStore) Insert(ctx context.Context, record corpus.DocumentRecord) error {
	if record.ID == "" || record.DocID == "" {
		return corpus.Errorf(corpus.KindMalformedResponse, "insert document", "id and doc_id are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	doc_id,
	category,
	title,
	requisites,
	text,
	url,
	parsed_at,
	published_at,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		record.ID,
		record.DocID,
		record.Category,
		record.Title,
		record.Requisites,
		record.Text,
		record.URL,
		record.ParsedAt,
		record.PublishedAt,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		err = classify("insert document", err)
		var kerr *corpus.Error
		if errors.As(err, &kerr) {
			return kerr.WithID(record.DocID)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return corpus.Errorf(corpus.KindUniquenessConflict, "insert document", "doc_id or url already stored").WithID(record.DocID)
	}
	return nil
}
