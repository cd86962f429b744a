// Package postgres provides a Postgres-backed property collection store.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "properties"

// Config controls the Postgres connection pool used for property rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// Store keeps one row per property, ordered by seq. Update serializes
// writers with a transaction-scoped advisory lock keyed on the table name.
type Store struct {
	pool  pgxPool
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, table string) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the property table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	seq BIGINT NOT NULL,
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Load returns every property in insertion order.
func (s *Store) Load(ctx context.Context) ([]crawler.Property, error) {
	rows, err := s.pool.Query(ctx, s.selectQuery())
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	current, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	out := make([]crawler.Property, len(current))
	for i, r := range current {
		out[i] = r.prop
	}
	return out, nil
}

// Update applies fn inside a transaction and writes only the rows that changed.
func (s *Store) Update(ctx context.Context, fn crawler.UpdateFunc) ([]crawler.Property, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", s.table); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	rows, err := tx.Query(ctx, s.selectQuery())
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	current, err := scanRows(rows)
	if err != nil {
		return nil, err
	}

	props := make([]crawler.Property, len(current))
	previous := make(map[string]row, len(current))
	for i, r := range current {
		props[i] = r.prop
		previous[r.prop.ID] = r
	}
	next, err := storage.Apply(props, fn)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	keep := make(map[string]struct{}, len(next))
	for i, p := range next {
		if p.ID == "" {
			return nil, crawler.ErrMissingID
		}
		if _, dup := keep[p.ID]; dup {
			return nil, fmt.Errorf("duplicate property id %q", p.ID)
		}
		keep[p.ID] = struct{}{}

		encoded, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode property %s: %w", p.ID, err)
		}
		if prev, ok := previous[p.ID]; ok && prev.seq == int64(i) && bytes.Equal(prev.encoded, encoded) {
			continue
		}
		if _, err := tx.Exec(ctx, s.upsertQuery(), p.ID, int64(i), encoded); err != nil {
			return nil, fmt.Errorf("upsert property %s: %w", p.ID, err)
		}
	}

	var removed []string
	for _, r := range current {
		if _, ok := keep[r.prop.ID]; !ok {
			removed = append(removed, r.prop.ID)
		}
	}
	if len(removed) > 0 {
		query := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", s.table)
		if _, err := tx.Exec(ctx, query, removed); err != nil {
			return nil, fmt.Errorf("delete properties: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return crawler.CloneAll(next), nil
}

func (s *Store) selectQuery() string {
	return fmt.Sprintf("SELECT id, seq, data FROM %s ORDER BY seq, id", s.table)
}

func (s *Store) upsertQuery() string {
	return fmt.Sprintf(`
INSERT INTO %s (id, seq, data, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE SET seq = EXCLUDED.seq, data = EXCLUDED.data, updated_at = now()`, s.table)
}

type row struct {
	prop    crawler.Property
	seq     int64
	encoded []byte
}

func scanRows(rows pgx.Rows) ([]row, error) {
	defer rows.Close()
	var out []row
	for rows.Next() {
		var (
			id   string
			seq  int64
			data []byte
		)
		if err := rows.Scan(&id, &seq, &data); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		var p crawler.Property
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode property %s: %w", id, err)
		}
		if p.ID == "" {
			p.ID = id
		}
		// Re-encode so change detection does not depend on JSONB formatting.
		encoded, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode property %s: %w", id, err)
		}
		out = append(out, row{prop: p, seq: seq, encoded: encoded})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate properties: %w", err)
	}
	return out, nil
}
