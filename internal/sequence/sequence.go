// Package sequence hands out gap-free counters per code prefix.
// Counters only move inside the caller's transaction, so a rolled back
// work order never burns a number.
package sequence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Next increments and returns the counter for a prefix. The first call
// for a prefix returns 1. The row lock taken by the upsert serializes
// concurrent callers, which is what keeps the values contiguous.
func Next(ctx context.Context, tx *sql.Tx, prefix string) (int64, error) {
	if prefix == "" {
		return 0, fmt.Errorf("sequence: empty prefix")
	}
	var value int64
	err := tx.QueryRowContext(ctx, `INSERT INTO code_sequences(prefix,last_value) VALUES (?,1)
ON CONFLICT(prefix) DO UPDATE SET last_value=last_value+1
RETURNING last_value`, prefix).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", prefix, err)
	}
	return value, nil
}

// Current returns the last value handed out for a prefix without
// moving the counter. Zero means the prefix has never been used.
func Current(ctx context.Context, db *sql.DB, prefix string) (int64, error) {
	var value int64
	err := db.QueryRowContext(ctx, `SELECT last_value FROM code_sequences WHERE prefix=?`, prefix).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return value, err
}

// YearPrefix builds the per-year sequence scope, e.g. "WO-2026".
func YearPrefix(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, t.UTC().Year())
}

// FormatCode renders a full work order code, e.g. "WO-2026-00042".
func FormatCode(yearPrefix string, value int64, padWidth int) string {
	return fmt.Sprintf("%s-%0*d", yearPrefix, padWidth, value)
}
