package sequence

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"craftline/internal/db"
	"craftline/internal/migrate"
)

func mustOpen(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func nextCommitted(t *testing.T, conn *sql.DB, prefix string) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	v, err := Next(ctx, tx, prefix)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestNextStartsAtOneAndIncrements(t *testing.T) {
	conn := mustOpen(t)
	if v := nextCommitted(t, conn, "WO-2026"); v != 1 {
		t.Fatalf("first value = %d, want 1", v)
	}
	if v := nextCommitted(t, conn, "WO-2026"); v != 2 {
		t.Fatalf("second value = %d, want 2", v)
	}
}

func TestPrefixesAreIndependent(t *testing.T) {
	conn := mustOpen(t)
	nextCommitted(t, conn, "WO-2026")
	nextCommitted(t, conn, "WO-2026")
	if v := nextCommitted(t, conn, "WO-2027"); v != 1 {
		t.Fatalf("new prefix value = %d, want 1", v)
	}
}

func TestRollbackDoesNotBurnValues(t *testing.T) {
	conn := mustOpen(t)
	ctx := context.Background()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Next(ctx, tx, "WO-2026"); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	if v := nextCommitted(t, conn, "WO-2026"); v != 1 {
		t.Fatalf("value after rollback = %d, want 1", v)
	}
}

func TestConcurrentCallersGetContiguousValues(t *testing.T) {
	conn := mustOpen(t)
	const workers = 8

	ctx := context.Background()
	values := make(chan int64, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := conn.BeginTx(ctx, nil)
			if err != nil {
				errs <- err
				return
			}
			defer tx.Rollback()
			v, err := Next(ctx, tx, "WO-2026")
			if err != nil {
				errs <- err
				return
			}
			if err := tx.Commit(); err != nil {
				errs <- err
				return
			}
			values <- v
		}()
	}
	wg.Wait()
	close(values)
	close(errs)
	for err := range errs {
		t.Fatalf("worker: %v", err)
	}
	seen := map[int64]bool{}
	for v := range values {
		seen[v] = true
	}

	if len(seen) != workers {
		t.Fatalf("got %d distinct values, want %d", len(seen), workers)
	}
	for v := int64(1); v <= workers; v++ {
		if !seen[v] {
			t.Fatalf("missing value %d", v)
		}
	}
}

func TestCurrentReflectsCommittedState(t *testing.T) {
	conn := mustOpen(t)
	ctx := context.Background()

	v, err := Current(ctx, conn, "WO-2026")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if v != 0 {
		t.Fatalf("unused prefix current = %d, want 0", v)
	}
	nextCommitted(t, conn, "WO-2026")
	v, err = Current(ctx, conn, "WO-2026")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if v != 1 {
		t.Fatalf("current = %d, want 1", v)
	}
}

func TestFormatCode(t *testing.T) {
	prefix := YearPrefix("WO", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	if prefix != "WO-2026" {
		t.Fatalf("year prefix = %q", prefix)
	}
	if got := FormatCode(prefix, 42, 5); got != "WO-2026-00042" {
		t.Fatalf("code = %q, want WO-2026-00042", got)
	}
}
