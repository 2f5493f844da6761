package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/luxfi/crank/internal/domain"
)

// TxHistoryRepo is the transaction_history contract (spec §4.1): every
// on-chain or relayer transaction the crank submits or observes, deduped by
// signature.
type TxHistoryRepo struct{ db *sql.DB }

func idBytes(id *[16]byte) []byte {
	if id == nil {
		return nil
	}
	b := make([]byte, 16)
	copy(b, id[:])
	return b
}

// Create inserts a new history row. Re-inserting the same signature returns
// ErrAlreadyExists, the dedupe guarantee spec §8 invariant 4 requires.
func (r *TxHistoryRepo) Create(ctx context.Context, e domain.TransactionHistoryEntry) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transaction_history
			(signature, type, status, buy_order_id, sell_order_id, slot, error_msg, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Signature, string(e.Type), string(e.Status), idBytes(e.BuyOrderID), idBytes(e.SellOrderID),
		nullUint64(e.Slot), e.ErrorMsg, e.Latency.Milliseconds(), e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, err
	}
	return res.LastInsertId()
}

func nullUint64(v *uint64) any {
	if v == nil {
		return nil
	}
	return *v
}

// FindBySignature returns the row for signature, or (zero, false, nil) if absent.
func (r *TxHistoryRepo) FindBySignature(ctx context.Context, signature string) (domain.TransactionHistoryEntry, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, signature, type, status, buy_order_id, sell_order_id, slot, error_msg, latency_ms, created_at
		 FROM transaction_history WHERE signature = ?`, signature)
	e, err := scanTxHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TransactionHistoryEntry{}, false, nil
	}
	if err != nil {
		return domain.TransactionHistoryEntry{}, false, err
	}
	return e, true, nil
}

func scanTxHistory(row *sql.Row) (domain.TransactionHistoryEntry, error) {
	var e domain.TransactionHistoryEntry
	var typ, status string
	var buyID, sellID []byte
	var slot sql.NullInt64
	var latencyMs int64
	if err := row.Scan(&e.ID, &e.Signature, &typ, &status, &buyID, &sellID, &slot, &e.ErrorMsg, &latencyMs, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Type = domain.TxType(typ)
	e.Status = domain.TxStatus(status)
	e.Latency = time.Duration(latencyMs) * time.Millisecond
	if buyID != nil {
		var b [16]byte
		copy(b[:], buyID)
		e.BuyOrderID = &b
	}
	if sellID != nil {
		var s [16]byte
		copy(s[:], sellID)
		e.SellOrderID = &s
	}
	if slot.Valid {
		u := uint64(slot.Int64)
		e.Slot = &u
	}
	return e, nil
}

// UpdateStatus sets a row's status and overwrites its error message with
// errMsg, whatever the new status.
func (r *TxHistoryRepo) UpdateStatus(ctx context.Context, signature string, status domain.TxStatus, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transaction_history SET status = ?, error_msg = ? WHERE signature = ?`,
		string(status), errMsg, signature)
	return err
}

// FindPendingByType returns rows of the given type still in TxPending.
func (r *TxHistoryRepo) FindPendingByType(ctx context.Context, typ domain.TxType) ([]domain.TransactionHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, signature, type, status, buy_order_id, sell_order_id, slot, error_msg, latency_ms, created_at
		 FROM transaction_history WHERE type = ? AND status = ?`, string(typ), string(domain.TxPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTxHistoryRows(rows)
}

func scanTxHistoryRows(rows *sql.Rows) ([]domain.TransactionHistoryEntry, error) {
	var out []domain.TransactionHistoryEntry
	for rows.Next() {
		var e domain.TransactionHistoryEntry
		var typ, status string
		var buyID, sellID []byte
		var slot sql.NullInt64
		var latencyMs int64
		if err := rows.Scan(&e.ID, &e.Signature, &typ, &status, &buyID, &sellID, &slot, &e.ErrorMsg, &latencyMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = domain.TxType(typ)
		e.Status = domain.TxStatus(status)
		e.Latency = time.Duration(latencyMs) * time.Millisecond
		if buyID != nil {
			var b [16]byte
			copy(b[:], buyID)
			e.BuyOrderID = &b
		}
		if sellID != nil {
			var s [16]byte
			copy(s[:], sellID)
			e.SellOrderID = &s
		}
		if slot.Valid {
			u := uint64(slot.Int64)
			e.Slot = &u
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// WasRecentlyMatched reports whether a TxMatch row for this pair was
// recorded within window, guarding against double-processing a match the
// orchestrator already saw this poll cycle.
func (r *TxHistoryRepo) WasRecentlyMatched(ctx context.Context, buyOrderID, sellOrderID [16]byte, window time.Duration) (bool, error) {
	var count int
	cutoff := time.Now().Add(-window)
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM transaction_history
		 WHERE type = ? AND buy_order_id = ? AND sell_order_id = ? AND created_at >= ?`,
		string(domain.TxMatch), buyOrderID[:], sellOrderID[:], cutoff).Scan(&count)
	return count > 0, err
}

// GetCountByStatus returns the row count in each TxStatus.
func (r *TxHistoryRepo) GetCountByStatus(ctx context.Context) (domain.StatusCounts, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, count(*) FROM transaction_history GROUP BY status`)
	if err != nil {
		return domain.StatusCounts{}, err
	}
	defer rows.Close()
	var out domain.StatusCounts
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return domain.StatusCounts{}, err
		}
		switch domain.TxStatus(status) {
		case domain.TxPending:
			out.Pending = n
		case domain.TxConfirmed:
			out.Confirmed = n
		case domain.TxFailed:
			out.Failed = n
		case domain.TxExpired:
			out.Expired = n
		}
	}
	return out, rows.Err()
}

// Cleanup deletes terminal rows older than olderThan, bounding table growth.
func (r *TxHistoryRepo) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transaction_history WHERE created_at < ? AND status IN (?, ?, ?)`,
		olderThan, string(domain.TxConfirmed), string(domain.TxFailed), string(domain.TxExpired))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetRecent returns the most recent limit rows across all types/statuses.
func (r *TxHistoryRepo) GetRecent(ctx context.Context, limit int) ([]domain.TransactionHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, signature, type, status, buy_order_id, sell_order_id, slot, error_msg, latency_ms, created_at
		 FROM transaction_history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTxHistoryRows(rows)
}
