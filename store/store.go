// Package store wraps a pgx connection pool behind a narrow interface so
// repositories can be exercised against a fake in tests without a live
// database.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expensecore/expense-engine/config"
)

// Pool is the subset of pgxpool.Pool every repository depends on.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Open creates a pgx pool from the configured DATABASE_URL.
func Open(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	return pool, nil
}

// ErrNoRows re-exports pgx.ErrNoRows so repositories don't need to import
// pgx directly just to check it.
var ErrNoRows = pgx.ErrNoRows
