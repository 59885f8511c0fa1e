package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	err error
}

func (r fakeRow) Scan(dest ...any) error { return r.err }

type fakePool struct {
	execErrs     []error
	execCalls    int
	queryRowErrs []error
	queryRowCalls int
}

func (p *fakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	i := p.queryRowCalls
	p.queryRowCalls++
	if i < len(p.queryRowErrs) {
		return fakeRow{err: p.queryRowErrs[i]}
	}
	return fakeRow{}
}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	i := p.execCalls
	p.execCalls++
	if i < len(p.execErrs) {
		return pgconn.CommandTag{}, p.execErrs[i]
	}
	return pgconn.CommandTag{}, nil
}

func (p *fakePool) Begin(ctx context.Context) (pgx.Tx, error) { return nil, nil }

func TestRetryingPoolExecSucceedsAfterTransientFailures(t *testing.T) {
	inner := &fakePool{execErrs: []error{errors.New("conn reset"), errors.New("conn reset")}}
	pool := WithRetry(inner)

	if _, err := pool.Exec(context.Background(), "UPDATE x SET y = 1"); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if inner.execCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.execCalls)
	}
}

func TestRetryingPoolExecGivesUpAfterMaxAttempts(t *testing.T) {
	failure := errors.New("conn reset")
	inner := &fakePool{execErrs: []error{failure, failure, failure, failure}}
	pool := WithRetry(inner)

	_, err := pool.Exec(context.Background(), "UPDATE x SET y = 1")
	if !errors.Is(err, failure) {
		t.Fatalf("expected last failure returned after exhausting attempts, got %v", err)
	}
	if inner.execCalls != maxAttempts {
		t.Fatalf("expected exactly %d attempts, got %d", maxAttempts, inner.execCalls)
	}
}

func TestRetryingPoolQueryRowScanRetriesOnTransientError(t *testing.T) {
	inner := &fakePool{queryRowErrs: []error{errors.New("conn reset")}}
	pool := WithRetry(inner)

	var n int
	if err := pool.QueryRow(context.Background(), "SELECT 1").Scan(&n); err != nil {
		t.Fatalf("expected success on second attempt, got %v", err)
	}
	if inner.queryRowCalls != 2 {
		t.Fatalf("expected 2 attempts, got %d", inner.queryRowCalls)
	}
}

func TestRetryingPoolQueryRowScanDoesNotRetryNoRows(t *testing.T) {
	inner := &fakePool{queryRowErrs: []error{pgx.ErrNoRows, pgx.ErrNoRows}}
	pool := WithRetry(inner)

	var n int
	err := pool.QueryRow(context.Background(), "SELECT 1").Scan(&n)
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows surfaced immediately, got %v", err)
	}
	if inner.queryRowCalls != 1 {
		t.Fatalf("expected no retry for ErrNoRows, got %d calls", inner.queryRowCalls)
	}
}
