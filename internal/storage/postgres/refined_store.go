// Package postgres mirrors the refined dataset into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/game-reviews-crawler/internal/dataset"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "refined_games"

// RefinedStoreConfig controls the Postgres connection pool used for refined rows.
type RefinedStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RefinedStore replaces the contents of a table with the latest refined rows.
type RefinedStore struct {
	pool  txPool
	table string
}

// NewRefinedStore creates a Postgres-backed RefinedStore using the provided config.
func NewRefinedStore(ctx context.Context, cfg RefinedStoreConfig) (*RefinedStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &RefinedStore{pool: pool, table: table}, nil
}

// NewRefinedStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRefinedStoreWithPool(pool txPool, table string) (*RefinedStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RefinedStore{pool: pool, table: table}, nil
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
func (s *RefinedStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureTable creates the target table when it does not exist.
func (s *RefinedStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	row_index    integer PRIMARY KEY,
	title        text NOT NULL,
	platform     text NOT NULL,
	release_date date NOT NULL,
	metascore    smallint NOT NULL,
	userscore    double precision NOT NULL,
	genres       text[] NOT NULL,
	critics      jsonb NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// LoadRefined replaces the table contents with refined in one transaction.
// Genres are stored as the set labels, critics as a JSON object without
// sentinel entries. It returns the number of rows written.
func (s *RefinedStore) LoadRefined(ctx context.Context, refined dataset.Refined) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("refined store is not configured")
	}
	if err := s.EnsureTable(ctx); err != nil {
		return 0, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return 0, rollback(ctx, tx, fmt.Errorf("clear %s: %w", s.table, err))
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	row_index,
	title,
	platform,
	release_date,
	metascore,
	userscore,
	genres,
	critics
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)
	for i, row := range refined.Rows {
		genres := refined.GenresOf(i)
		if genres == nil {
			genres = []string{}
		}
		critics, err := json.Marshal(refined.CriticsOf(i))
		if err != nil {
			return 0, rollback(ctx, tx, fmt.Errorf("marshal critics: %w", err))
		}
		args := []any{
			i,
			row.General.Title,
			row.General.Platform,
			row.General.ReleaseDate,
			int16(row.General.Metascore),
			row.General.Userscore,
			genres,
			critics,
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return 0, rollback(ctx, tx, fmt.Errorf("insert row %d: %w", i, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit refined rows: %w", err)
	}
	return len(refined.Rows), nil
}

func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	if err := tx.Rollback(ctx); err != nil {
		return fmt.Errorf("%w (rollback: %v)", cause, err)
	}
	return cause
}
