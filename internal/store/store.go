// Package store is the crank's embedded operational database. It uses
// modernc.org/sqlite, the pure-Go driver the pack also reaches for
// (see AKJUS-bsc-erigon's go.mod), so the binary stays a single static
// executable with no cgo dependency. WAL journaling is enabled (spec §4.1);
// the pool holds a single connection, so reads and writes are serialized
// through it.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store owns the database handle and the repositories built on top of it.
type Store struct {
	db *sql.DB

	TxHistory    *TxHistoryRepo
	PendingOps   *PendingOpsRepo
	Locks        *DistributedLocksRepo
	OrderCache   *OrderCacheRepo
	Settlements  *SettlementsRepo
}

// Open opens (creating if absent) the sqlite database at path, applies
// pragmas, and runs migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY under WAL; readers use
	// the same pool since sqlite serializes writers internally.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{db: db}
	s.TxHistory = &TxHistoryRepo{db: db}
	s.PendingOps = &PendingOpsRepo{db: db}
	s.Locks = &DistributedLocksRepo{db: db}
	s.OrderCache = &OrderCacheRepo{db: db}
	s.Settlements = &SettlementsRepo{db: db}
	if err := s.ensureSettlementsSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate settlements schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schemaVersion = 1

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_meta (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signature TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		buy_order_id BLOB,
		sell_order_id BLOB,
		slot INTEGER,
		error_msg TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_history_status ON transaction_history(status, type)`,
	`CREATE TABLE IF NOT EXISTS pending_operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		natural_key TEXT NOT NULL UNIQUE,
		payload BLOB NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 5,
		last_error TEXT NOT NULL DEFAULT '',
		locked_by TEXT NOT NULL DEFAULT '',
		locked_at DATETIME,
		not_before DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_ops_ready ON pending_operations(status, not_before)`,
	`CREATE TABLE IF NOT EXISTS distributed_locks (
		name TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_cache (
		order_id BLOB PRIMARY KEY,
		pair_id TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		owner TEXT NOT NULL,
		slot INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_cache_pair ON order_cache(pair_id, side, status)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_meta'").Scan(&count); err != nil {
		return fmt.Errorf("check schema_meta: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}

	if count == 0 {
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_meta(version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
	}

	return tx.Commit()
}
