// Package pgtest opens the opt-in Postgres used by integration tests and
// provisions an isolated schema per test.
//
// Tests run only when LOYALTY_DATABASE_URL is set. Outside CI an unreachable
// Postgres skips instead of failing.
package pgtest

import (
	"context"
	_ "embed"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loyalty/cmd/internal/ids"
)

// EnvKey names the DSN variable that enables integration tests.
const EnvKey = "LOYALTY_DATABASE_URL"

//go:embed schema.sql
var schemaSQL string

// Open connects to the integration database or skips the test.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvKey))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvKey + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvKey, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if ShouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable (%s set): %v", EnvKey, err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	t.Cleanup(pool.Close)
	return pool
}

// NewSchema creates a throwaway schema, applies the loyalty tables to it and
// drops it when the test ends.
func NewSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "loyalty_it_" + strings.ToLower(ids.New(time.Time{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+Ident(schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+Ident(schema)+` CASCADE`)
	})

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SET LOCAL search_path TO `+Ident(schema)); err != nil {
		t.Fatalf("set search_path: %v", err)
	}
	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit schema: %v", err)
	}
	return schema
}

// Exec runs sql and fails the test on error.
func Exec(t *testing.T, pool *pgxpool.Pool, sql string, args ...any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, sql, args...); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
}

// Ident quotes a single identifier.
func Ident(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// Table quotes schema.table.
func Table(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// ShouldSkip reports whether err means Postgres is simply not running locally.
func ShouldSkip(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
