package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// maxAttempts and retryBaseDelay implement §7's "retried with exponential
// backoff, up to 3 attempts" requirement for apperr.TransientFault. The
// backoff schedule (baseDelay * 2^attempt) mirrors the gateway analytics
// pipeline's flush-with-retry loop.
const (
	maxAttempts    = 3
	retryBaseDelay = 50 * time.Millisecond
)

// RetryingPool wraps a Pool so every repository built on top of it gets
// exponential-backoff retry for transient failures at the adapter boundary,
// without each repository having to implement its own retry loop. Query and
// Exec errors are retried directly; QueryRow's error is deferred to Scan by
// pgx, so the returned Row replays the query on each Scan attempt instead.
//
// Begin is passed through unretried: restarting a transaction after a
// partially-applied statement risks double-applying work the caller cannot
// see, so retrying a transaction boundary is left to the caller.
type RetryingPool struct {
	inner Pool
}

// WithRetry wraps inner with §7's retry policy.
func WithRetry(inner Pool) *RetryingPool {
	return &RetryingPool{inner: inner}
}

func (p *RetryingPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	var rows pgx.Rows
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rows, err = p.inner.Query(ctx, sql, args...)
		if err == nil {
			return rows, nil
		}
		if attempt < maxAttempts-1 {
			sleep(ctx, attempt)
		}
	}
	return nil, err
}

func (p *RetryingPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tag, err = p.inner.Exec(ctx, sql, args...)
		if err == nil {
			return tag, nil
		}
		if attempt < maxAttempts-1 {
			sleep(ctx, attempt)
		}
	}
	return tag, err
}

func (p *RetryingPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &retryingRow{pool: p.inner, ctx: ctx, sql: sql, args: args}
}

func (p *RetryingPool) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.inner.Begin(ctx)
}

// retryingRow defers retry to Scan, since pgx's QueryRow only surfaces an
// error when the caller scans the row.
type retryingRow struct {
	pool Pool
	ctx  context.Context
	sql  string
	args []any
}

func (r *retryingRow) Scan(dest ...any) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = r.pool.QueryRow(r.ctx, r.sql, r.args...).Scan(dest...)
		if err == nil || errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if attempt < maxAttempts-1 {
			sleep(r.ctx, attempt)
		}
	}
	return err
}

// sleep backs off base*2^attempt, bailing out early if ctx is done.
func sleep(ctx context.Context, attempt int) {
	select {
	case <-ctx.Done():
	case <-time.After(retryBaseDelay * time.Duration(uint(1)<<uint(attempt))):
	}
}
