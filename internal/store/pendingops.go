package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/luxfi/crank/internal/domain"
)

// PendingOpsRepo is the pending_operations contract (spec §4.1): guaranteed-
// eventual-execution work, chiefly rollback compensating transfers. Unique on
// NaturalKey so re-enqueueing the same operation is idempotent.
type PendingOpsRepo struct{ db *sql.DB }

var ErrAlreadyExists = errors.New("pending operation already exists")

// Create inserts a new pending operation. If naturalKey already exists it
// returns ErrAlreadyExists rather than erroring the caller's whole batch.
func (r *PendingOpsRepo) Create(ctx context.Context, typ, naturalKey string, payload []byte, maxRetries int, notBefore *time.Time) (int64, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_operations
			(type, natural_key, payload, status, retry_count, max_retries, last_error, locked_by, locked_at, not_before, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, '', '', NULL, ?, ?, ?)`,
		typ, naturalKey, payload, string(domain.OpPending), maxRetries, notBefore, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, err
	}
	return res.LastInsertId()
}

func isUniqueViolation(err error) bool {
	return err != nil && (containsFold(err.Error(), "unique") || containsFold(err.Error(), "constraint"))
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			a, b := s[i+j], substr[j]
			if a >= 'A' && a <= 'Z' {
				a += 'a' - 'A'
			}
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func scanPendingOp(row interface{ Scan(...any) error }) (domain.PendingOperation, error) {
	var op domain.PendingOperation
	var status string
	var lockedAt, notBefore sql.NullTime
	var lockedBy sql.NullString
	if err := row.Scan(&op.ID, &op.Type, &op.NaturalKey, &op.Payload, &status, &op.RetryCount,
		&op.MaxRetries, &op.LastError, &lockedBy, &lockedAt, &notBefore, &op.CreatedAt, &op.UpdatedAt); err != nil {
		return op, err
	}
	op.Status = domain.PendingOpStatus(status)
	if lockedBy.Valid {
		op.LockedBy = lockedBy.String
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		op.LockedAt = &t
	}
	if notBefore.Valid {
		t := notBefore.Time
		op.NotBefore = &t
	}
	return op, nil
}

const pendingOpColumns = `id, type, natural_key, payload, status, retry_count, max_retries, last_error, locked_by, locked_at, not_before, created_at, updated_at`

// FindReadyToProcess returns up to limit rows that are OpPending, whose
// not_before has elapsed, ordered oldest first.
func (r *PendingOpsRepo) FindReadyToProcess(ctx context.Context, limit int) ([]domain.PendingOperation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pendingOpColumns+` FROM pending_operations
		 WHERE status = ? AND (not_before IS NULL OR not_before <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		string(domain.OpPending), time.Now(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PendingOperation
	for rows.Next() {
		op, err := scanPendingOp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// MarkInProgress claims id for owner, moving it to OpInProgress. Returns
// false if the row was not in OpPending (already claimed by someone else).
func (r *PendingOpsRepo) MarkInProgress(ctx context.Context, id int64, owner string) (bool, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations SET status = ?, locked_by = ?, locked_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.OpInProgress), owner, now, now, id, string(domain.OpPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkCompleted moves id to OpCompleted.
func (r *PendingOpsRepo) MarkCompleted(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations SET status = ?, locked_by = '', locked_at = NULL, updated_at = ? WHERE id = ?`,
		string(domain.OpCompleted), time.Now(), id)
	return err
}

// MarkFailed moves id to OpFailed with lastErr recorded.
func (r *PendingOpsRepo) MarkFailed(ctx context.Context, id int64, lastErr string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations SET status = ?, last_error = ?, locked_by = '', locked_at = NULL, updated_at = ? WHERE id = ?`,
		string(domain.OpFailed), lastErr, time.Now(), id)
	return err
}

// ResetForRetry bumps retry_count, records lastErr, and moves id back to
// OpPending with a notBefore backoff floor. If retry_count would exceed
// max_retries the caller should call MarkFailed instead.
func (r *PendingOpsRepo) ResetForRetry(ctx context.Context, id int64, lastErr string, notBefore time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations
		 SET status = ?, retry_count = retry_count + 1, last_error = ?, locked_by = '', locked_at = NULL,
		     not_before = ?, updated_at = ?
		 WHERE id = ?`,
		string(domain.OpPending), lastErr, notBefore, time.Now(), id)
	return err
}

// ReleaseStaleLocks reclaims OpInProgress rows whose locked_at predates
// cutoff, returning them to OpPending for another worker to pick up.
func (r *PendingOpsRepo) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations SET status = ?, locked_by = '', locked_at = NULL, updated_at = ?
		 WHERE status = ? AND locked_at < ?`,
		string(domain.OpPending), time.Now(), string(domain.OpInProgress), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FailAllByType marks every OpPending row of the given type as OpFailed with
// reason recorded, used to discard stale MPC-waiting operations. Returns the
// number of rows affected.
func (r *PendingOpsRepo) FailAllByType(ctx context.Context, typ, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations SET status = ?, last_error = ?, locked_by = '', locked_at = NULL, updated_at = ?
		 WHERE type = ? AND status = ?`,
		string(domain.OpFailed), reason, time.Now(), typ, string(domain.OpPending))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Exists reports whether naturalKey has already been enqueued.
func (r *PendingOpsRepo) Exists(ctx context.Context, naturalKey string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM pending_operations WHERE natural_key = ?`, naturalKey).Scan(&count)
	return count > 0, err
}
