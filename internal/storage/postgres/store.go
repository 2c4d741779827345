// Package postgres provides a Postgres-backed document store. Item documents
// are kept as JSONB keyed by canonical URL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/nextrequest-crawler/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	SourcesTable    string
	ItemsTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of *pgxpool.Pool used by Store; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.Repository on Postgres.
type Store struct {
	pool    Pool
	sources string
	items   string
}

// NewStore connects to Postgres using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
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
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewStoreWithPool(pool, cfg.SourcesTable, cfg.ItemsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool Pool, sourcesTable, itemsTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if sourcesTable == "" {
		sourcesTable = "sources"
	}
	if itemsTable == "" {
		itemsTable = "items"
	}
	for _, name := range []string{sourcesTable, itemsTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &Store{pool: pool, sources: sourcesTable, items: itemsTable}, nil
}

// EnsureSchema creates the tables and indexes when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	subdomain TEXT PRIMARY KEY,
	count BIGINT,
	total_count BIGINT,
	completed BOOLEAN,
	last_accessed TIMESTAMPTZ,
	lease_owner TEXT
)`, s.sources),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	document JSONB NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.items),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_domain_idx ON %s (domain)`, s.items, s.items),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// GetSource loads one source row.
func (s *Store) GetSource(ctx context.Context, subdomain string) (store.Source, error) {
	query := fmt.Sprintf(`
		SELECT subdomain, count, total_count, completed, last_accessed, lease_owner
		FROM %s
		WHERE subdomain = $1;
	`, s.sources)
	src, err := scanSource(s.pool.QueryRow(ctx, query, subdomain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Source{}, store.ErrNotFound
		}
		return store.Source{}, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

// ListSources returns every source ordered by subdomain.
func (s *Store) ListSources(ctx context.Context) ([]store.Source, error) {
	query := fmt.Sprintf(`
		SELECT subdomain, count, total_count, completed, last_accessed, lease_owner
		FROM %s
		ORDER BY subdomain;
	`, s.sources)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []store.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources: %w", err)
	}
	return sources, nil
}

// EnsureSource inserts a key-only row if the source is unknown.
func (s *Store) EnsureSource(ctx context.Context, subdomain string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (subdomain) VALUES ($1)
		ON CONFLICT (subdomain) DO NOTHING;
	`, s.sources)
	if _, err := s.pool.Exec(ctx, query, subdomain); err != nil {
		return fmt.Errorf("failed to ensure source: %w", err)
	}
	return nil
}

// Heartbeat upserts last_accessed and total_count.
func (s *Store) Heartbeat(ctx context.Context, subdomain string, totalCount int64, at time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (subdomain, total_count, last_accessed)
		VALUES ($1, $2, $3)
		ON CONFLICT (subdomain) DO UPDATE
		SET total_count = EXCLUDED.total_count, last_accessed = EXCLUDED.last_accessed;
	`, s.sources)
	if _, err := s.pool.Exec(ctx, query, subdomain, totalCount, at); err != nil {
		return fmt.Errorf("failed to heartbeat source: %w", err)
	}
	return nil
}

// ClaimSource takes the lease with a single conditional upsert.
func (s *Store) ClaimSource(ctx context.Context, subdomain, token string, at, staleBefore time.Time) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (subdomain, last_accessed, lease_owner)
		VALUES ($1, $2, $3)
		ON CONFLICT (subdomain) DO UPDATE
		SET last_accessed = EXCLUDED.last_accessed, lease_owner = EXCLUDED.lease_owner
		WHERE %[1]s.completed IS NOT TRUE
			AND (%[1]s.last_accessed IS NULL OR %[1]s.last_accessed < $4);
	`, s.sources)
	tag, err := s.pool.Exec(ctx, query, subdomain, at, token, staleBefore)
	if err != nil {
		return false, fmt.Errorf("failed to claim source: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSource clears lease_owner when token still owns the lease.
func (s *Store) ReleaseSource(ctx context.Context, subdomain, token string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET lease_owner = NULL
		WHERE subdomain = $1 AND lease_owner = $2;
	`, s.sources)
	if _, err := s.pool.Exec(ctx, query, subdomain, token); err != nil {
		return fmt.Errorf("failed to release source: %w", err)
	}
	return nil
}

// IncrementCount atomically bumps count and refreshes progress fields.
func (s *Store) IncrementCount(ctx context.Context, subdomain string, delta, totalCount int64, at time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (subdomain, count, total_count, completed, last_accessed)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (subdomain) DO UPDATE
		SET count = COALESCE(%[1]s.count, 0) + EXCLUDED.count,
			total_count = EXCLUDED.total_count,
			completed = FALSE,
			last_accessed = EXCLUDED.last_accessed;
	`, s.sources)
	if _, err := s.pool.Exec(ctx, query, subdomain, delta, totalCount, at); err != nil {
		return fmt.Errorf("failed to increment source count: %w", err)
	}
	return nil
}

// MarkCompleted flags the source as fully crawled.
func (s *Store) MarkCompleted(ctx context.Context, subdomain string, totalCount int64, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET completed = TRUE, last_accessed = $2, total_count = $3
		WHERE subdomain = $1;
	`, s.sources)
	tag, err := s.pool.Exec(ctx, query, subdomain, at, totalCount)
	if err != nil {
		return fmt.Errorf("failed to mark source completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ResetSources nulls every field except the key.
func (s *Store) ResetSources(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET count = NULL, total_count = NULL, completed = NULL,
			last_accessed = NULL, lease_owner = NULL;
	`, s.sources)
	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset sources: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ItemExists reports whether an item with url is stored.
func (s *Store) ItemExists(ctx context.Context, url string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE url = $1);`, s.items)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, url).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check item: %w", err)
	}
	return exists, nil
}

// InsertItems bulk-inserts items in one statement, skipping existing URLs.
func (s *Store) InsertItems(ctx context.Context, items []store.Item) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	urls := make([]string, len(items))
	domains := make([]string, len(items))
	docs := make([]string, len(items))
	for i, item := range items {
		doc, err := json.Marshal(item.Fields)
		if err != nil {
			return 0, fmt.Errorf("marshal item %s: %w", item.URL, err)
		}
		urls[i] = item.URL
		domains[i] = item.Domain
		docs[i] = string(doc)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (url, domain, document)
		SELECT u, d, doc::jsonb
		FROM unnest($1::text[], $2::text[], $3::text[]) AS t(u, d, doc)
		ON CONFLICT (url) DO NOTHING;
	`, s.items)
	tag, err := s.pool.Exec(ctx, query, urls, domains, docs)
	if err != nil {
		return 0, fmt.Errorf("insert items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSource(row pgx.Row) (store.Source, error) {
	var (
		src        store.Source
		completed  *bool
		leaseOwner *string
	)
	if err := row.Scan(
		&src.Subdomain,
		&src.Count,
		&src.TotalCount,
		&completed,
		&src.LastAccessed,
		&leaseOwner,
	); err != nil {
		return store.Source{}, err
	}
	if completed != nil {
		src.Completed = *completed
	}
	if leaseOwner != nil {
		src.LeaseOwner = *leaseOwner
	}
	return src, nil
}
