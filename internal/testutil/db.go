// README: Test helpers for DB- and Redis-backed tests; both skip unless their env var is set.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"zerowaste/internal/infra"
)

// DB connects to ZW_TEST_DSN, applies migrations and empties every table.
func DB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("ZW_TEST_DSN")
	if dsn == "" {
		t.Skip("ZW_TEST_DSN not set; skipping DB-backed test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := infra.Migrate(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE status_events, requests, donations, categories, users"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

// Redis connects to ZW_REDIS_ADDR and flushes the selected database.
func Redis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("ZW_REDIS_ADDR")
	if addr == "" {
		t.Skip("ZW_REDIS_ADDR not set; skipping Redis-backed test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return rdb
}
