package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/luxfi/crank/internal/domain"
)

// SettlementsRepo persists domain.SettlementRequest rows. It satisfies
// settlement.Store without that package importing database/sql directly.
type SettlementsRepo struct{ db *sql.DB }

func (s *Store) ensureSettlementsSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		buy_order_id BLOB NOT NULL,
		sell_order_id BLOB NOT NULL,
		base_asset TEXT NOT NULL,
		quote_asset TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		base_transfer_id TEXT NOT NULL DEFAULT '',
		quote_transfer_id TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	)`)
	return err
}

// CreateIfAbsent inserts req if no row with req.ID exists yet; otherwise it
// returns the existing row, satisfying the state machine's idempotent
// Initiate contract.
func (r *SettlementsRepo) CreateIfAbsent(ctx context.Context, req domain.SettlementRequest) (domain.SettlementRequest, bool, error) {
	existing, ok, err := r.Get(ctx, req.ID)
	if err != nil {
		return domain.SettlementRequest{}, false, err
	}
	if ok {
		return existing, false, nil
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO settlements
			(id, buy_order_id, sell_order_id, base_asset, quote_asset, method, status,
			 base_transfer_id, quote_transfer_id, failure_reason, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, '', '', '', ?, ?)`,
		req.ID, req.BuyOrderID[:], req.SellOrderID[:], req.BaseAsset, req.QuoteAsset,
		string(req.Method), string(req.Status), req.CreatedAt, req.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race with a concurrent insert; read back what won.
			existing, ok, getErr := r.Get(ctx, req.ID)
			if getErr != nil {
				return domain.SettlementRequest{}, false, getErr
			}
			if ok {
				return existing, false, nil
			}
		}
		return domain.SettlementRequest{}, false, err
	}
	return req, true, nil
}

// Get returns the settlement row for id, or (zero, false, nil) if absent.
func (r *SettlementsRepo) Get(ctx context.Context, id string) (domain.SettlementRequest, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, buy_order_id, sell_order_id, base_asset, quote_asset, method, status,
		        base_transfer_id, quote_transfer_id, failure_reason, created_at, expires_at
		 FROM settlements WHERE id = ?`, id)

	var s domain.SettlementRequest
	var buyID, sellID []byte
	var method, status string
	if err := row.Scan(&s.ID, &buyID, &sellID, &s.BaseAsset, &s.QuoteAsset, &method, &status,
		&s.BaseTransferID, &s.QuoteTransferID, &s.FailureReason, &s.CreatedAt, &s.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SettlementRequest{}, false, nil
		}
		return domain.SettlementRequest{}, false, err
	}
	copy(s.BuyOrderID[:], buyID)
	copy(s.SellOrderID[:], sellID)
	s.Method = domain.TransferMethod(method)
	s.Status = domain.SettlementStatus(status)
	return s, true, nil
}

// UpdateStatus atomically transitions id from `from` to `to`, applying
// mutate to the in-memory row first so the caller can set e.g. a transfer
// id in the same statement. Returns false if id wasn't in `from`.
func (r *SettlementsRepo) UpdateStatus(ctx context.Context, id string, from, to domain.SettlementStatus, mutate func(*domain.SettlementRequest)) (bool, error) {
	row, ok, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok || row.Status != from {
		return false, nil
	}
	if mutate != nil {
		mutate(&row)
	}
	row.Status = to

	res, err := r.db.ExecContext(ctx,
		`UPDATE settlements SET status = ?, base_transfer_id = ?, quote_transfer_id = ?, failure_reason = ?
		 WHERE id = ? AND status = ?`,
		string(to), row.BaseTransferID, row.QuoteTransferID, row.FailureReason, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FindByStatus returns settlement rows currently in status. Nothing in this
// module calls it; no expiry sweep runs over its results.
func (r *SettlementsRepo) FindByStatus(ctx context.Context, status domain.SettlementStatus) ([]domain.SettlementRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, buy_order_id, sell_order_id, base_asset, quote_asset, method, status,
		        base_transfer_id, quote_transfer_id, failure_reason, created_at, expires_at
		 FROM settlements WHERE status = ?`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SettlementRequest
	for rows.Next() {
		var s domain.SettlementRequest
		var buyID, sellID []byte
		var method, st string
		if err := rows.Scan(&s.ID, &buyID, &sellID, &s.BaseAsset, &s.QuoteAsset, &method, &st,
			&s.BaseTransferID, &s.QuoteTransferID, &s.FailureReason, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, err
		}
		copy(s.BuyOrderID[:], buyID)
		copy(s.SellOrderID[:], sellID)
		s.Method = domain.TransferMethod(method)
		s.Status = domain.SettlementStatus(st)
		out = append(out, s)
	}
	return out, rows.Err()
}
