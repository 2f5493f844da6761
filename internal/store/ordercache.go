package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/luxfi/crank/internal/domain"
)

// OrderCacheRepo is the order_cache contract (spec §4.1): the last-known
// projection of orders observed from the ledger. The orchestrator does not
// read it; it lists matched pairs from the ledger on every poll.
type OrderCacheRepo struct{ db *sql.DB }

// Upsert writes e, but only if e.Slot is newer than (or equal to) the stored
// slot, preserving slot-monotonicity against out-of-order ledger delivery.
func (r *OrderCacheRepo) Upsert(ctx context.Context, e domain.OrderCacheEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO order_cache (order_id, pair_id, side, status, owner, slot, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(order_id) DO UPDATE SET
			pair_id = excluded.pair_id, side = excluded.side, status = excluded.status,
			owner = excluded.owner, slot = excluded.slot, updated_at = excluded.updated_at
		 WHERE excluded.slot >= order_cache.slot`,
		e.OrderID[:], e.PairID, string(e.Side), string(e.Status), e.Owner, e.Slot, e.UpdatedAt)
	return err
}

// UpdateStatus transitions a cached order's status without touching slot.
func (r *OrderCacheRepo) UpdateStatus(ctx context.Context, orderID [16]byte, status domain.OrderStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE order_cache SET status = ?, updated_at = ? WHERE order_id = ?`,
		string(status), time.Now(), orderID[:])
	return err
}

func scanOrderCacheRows(rows *sql.Rows) ([]domain.OrderCacheEntry, error) {
	var out []domain.OrderCacheEntry
	for rows.Next() {
		var e domain.OrderCacheEntry
		var orderID []byte
		var side, status string
		if err := rows.Scan(&orderID, &e.PairID, &side, &status, &e.Owner, &e.Slot, &e.UpdatedAt); err != nil {
			return nil, err
		}
		copy(e.OrderID[:], orderID)
		e.Side = domain.OrderSide(side)
		e.Status = domain.OrderStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

const orderCacheColumns = `order_id, pair_id, side, status, owner, slot, updated_at`

// FindOpenByTradingPair returns cached orders for pairID that are still
// Active or Matching.
func (r *OrderCacheRepo) FindOpenByTradingPair(ctx context.Context, pairID string) ([]domain.OrderCacheEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderCacheColumns+` FROM order_cache WHERE pair_id = ? AND status IN (?, ?)`,
		pairID, string(domain.OrderActive), string(domain.OrderMatching))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderCacheRows(rows)
}

// FindOpenBuyOrders returns open buy-side orders for pairID.
func (r *OrderCacheRepo) FindOpenBuyOrders(ctx context.Context, pairID string) ([]domain.OrderCacheEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderCacheColumns+` FROM order_cache WHERE pair_id = ? AND side = ? AND status IN (?, ?)`,
		pairID, string(domain.SideBuy), string(domain.OrderActive), string(domain.OrderMatching))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderCacheRows(rows)
}

// FindOpenSellOrders returns open sell-side orders for pairID.
func (r *OrderCacheRepo) FindOpenSellOrders(ctx context.Context, pairID string) ([]domain.OrderCacheEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderCacheColumns+` FROM order_cache WHERE pair_id = ? AND side = ? AND status IN (?, ?)`,
		pairID, string(domain.SideSell), string(domain.OrderActive), string(domain.OrderMatching))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderCacheRows(rows)
}

// FindByOwner returns every cached order owned by owner.
func (r *OrderCacheRepo) FindByOwner(ctx context.Context, owner string) ([]domain.OrderCacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderCacheColumns+` FROM order_cache WHERE owner = ?`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderCacheRows(rows)
}

// FindMatching returns cached orders currently marked OrderMatching.
func (r *OrderCacheRepo) FindMatching(ctx context.Context) ([]domain.OrderCacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderCacheColumns+` FROM order_cache WHERE status = ?`, string(domain.OrderMatching))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderCacheRows(rows)
}

// DeleteFinalized removes cached rows in a terminal order status
// (Cancelled/Expired) older than olderThan, bounding table growth.
func (r *OrderCacheRepo) DeleteFinalized(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM order_cache WHERE status IN (?, ?) AND updated_at < ?`,
		string(domain.OrderCancelled), string(domain.OrderExpired), olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InvalidateStale removes cached rows not refreshed since cutoff, forcing a
// fresh ledger read next poll rather than acting on possibly-stale state.
func (r *OrderCacheRepo) InvalidateStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM order_cache WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
