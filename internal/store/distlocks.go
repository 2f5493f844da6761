package store

import (
	"context"
	"database/sql"
	"time"
)

// DistributedLocksRepo is the distributed_locks contract (spec §4.2): a
// durable, cross-instance advisory lock keyed by name, used so a second
// crank instance sharing this database cannot double-process the same pair.
type DistributedLocksRepo struct{ db *sql.DB }

// Acquire attempts to take name for owner until expiresAt. It succeeds if
// the row is absent or already expired; otherwise it fails without blocking.
func (r *DistributedLocksRepo) Acquire(ctx context.Context, name, owner string, expiresAt time.Time) (bool, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO distributed_locks (name, owner, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		 WHERE distributed_locks.expires_at < ?`,
		name, owner, expiresAt, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Release drops name, but only if owner still holds it.
func (r *DistributedLocksRepo) Release(ctx context.Context, name, owner string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM distributed_locks WHERE name = ? AND owner = ?`, name, owner)
	return err
}

// Extend pushes name's expiry to expiresAt, but only if owner still holds it.
func (r *DistributedLocksRepo) Extend(ctx context.Context, name, owner string, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE distributed_locks SET expires_at = ? WHERE name = ? AND owner = ?`, expiresAt, name, owner)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseAllByOwner drops every lock held by owner, used on clean shutdown.
func (r *DistributedLocksRepo) ReleaseAllByOwner(ctx context.Context, owner string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM distributed_locks WHERE owner = ?`, owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsHeld reports whether name is currently held by anyone (not expired).
func (r *DistributedLocksRepo) IsHeld(ctx context.Context, name string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM distributed_locks WHERE name = ? AND expires_at >= ?`, name, time.Now()).Scan(&count)
	return count > 0, err
}

// IsHeldBy reports whether name is currently held by owner specifically.
func (r *DistributedLocksRepo) IsHeldBy(ctx context.Context, name, owner string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM distributed_locks WHERE name = ? AND owner = ? AND expires_at >= ?`,
		name, owner, time.Now()).Scan(&count)
	return count > 0, err
}
