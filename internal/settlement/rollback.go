package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/luxfi/crank/internal/domain"
	"github.com/luxfi/crank/internal/errs"
	"github.com/luxfi/crank/internal/lockmgr"
	"github.com/luxfi/crank/internal/obslog"
	"github.com/luxfi/crank/internal/relayer"
	"github.com/luxfi/crank/internal/store"
)

// Transferer is the subset of relayer.Client the rollback worker needs,
// narrowed to an interface so tests can fake it without standing up HTTP.
type Transferer interface {
	Transfer(ctx context.Context, req relayer.TransferRequest) (*relayer.TransferResponse, error)
}

// RollbackWorker drains pending_operations rows of type "rollback", issuing
// the reverse transfer for a settlement whose base leg succeeded but whose
// quote leg could not be locally recovered (spec §4.4's RollingBack path).
type RollbackWorker struct {
	ops       *store.PendingOpsRepo
	locks     *lockmgr.Manager
	transfers Transferer
	machine   *Machine
	observer  obslog.Observer
	ownerTag  string
}

func NewRollbackWorker(ops *store.PendingOpsRepo, locks *lockmgr.Manager, transfers Transferer, machine *Machine, observer obslog.Observer, ownerTag string) *RollbackWorker {
	if observer == nil {
		observer = obslog.NoopObserver{}
	}
	return &RollbackWorker{ops: ops, locks: locks, transfers: transfers, machine: machine, observer: observer, ownerTag: ownerTag}
}

// Enqueue schedules a compensating transfer for settlementID's base leg.
// Dedup is on the settlement id itself, so re-entering RollingBack for the
// same settlement never double-enqueues.
func (w *RollbackWorker) Enqueue(ctx context.Context, settlementID, originalTransferID string) error {
	payload, err := json.Marshal(domain.RollbackPayload{
		SettlementID:       settlementID,
		OriginalTransferID: originalTransferID,
	})
	if err != nil {
		return errs.Wrap(errs.KindInternal, errs.CodeInternal, "marshal rollback payload", err)
	}
	naturalKey := "rollback:" + settlementID
	_, err = w.ops.Create(ctx, "rollback", naturalKey, payload, 5, nil)
	if err != nil && err != store.ErrAlreadyExists {
		return errs.Wrap(errs.KindSettlement, errs.CodeRollbackFailed, "enqueue rollback", err)
	}
	return nil
}

// ProcessOnce drains up to limit ready rollback operations, returning the
// number processed successfully.
func (w *RollbackWorker) ProcessOnce(ctx context.Context, limit int) (int, error) {
	ready, err := w.ops.FindReadyToProcess(ctx, limit)
	if err != nil {
		return 0, errs.Wrap(errs.KindInternal, errs.CodeInternal, "list ready rollbacks", err)
	}

	processed := 0
	for _, op := range ready {
		if op.Type != "rollback" {
			continue
		}
		ok, err := w.ops.MarkInProgress(ctx, op.ID, w.ownerTag)
		if err != nil || !ok {
			continue
		}
		if w.processOne(ctx, op) {
			processed++
		}
	}
	return processed, nil
}

func (w *RollbackWorker) processOne(ctx context.Context, op domain.PendingOperation) bool {
	var payload domain.RollbackPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		w.ops.MarkFailed(ctx, op.ID, "malformed rollback payload: "+err.Error())
		return false
	}

	lockKey := "rollback:" + payload.SettlementID
	acquired, err := w.locks.Acquire(ctx, lockKey, lockmgr.DefaultTTL)
	if err != nil || !acquired {
		w.requeue(ctx, op, "could not acquire rollback lock")
		return false
	}
	defer w.locks.Release(ctx, lockKey)

	_, err = w.transfers.Transfer(ctx, relayer.TransferRequest{
		Reference: "rollback:" + payload.OriginalTransferID,
	})
	if err != nil {
		if op.RetryCount+1 >= op.MaxRetries {
			w.ops.MarkFailed(ctx, op.ID, err.Error())
			w.observer.OnAlert(obslog.AlertSettlementRollbackFailed,
				"rollback exhausted retries, needs manual intervention",
				map[string]any{"settlementID": payload.SettlementID, "error": err.Error()})
			return false
		}
		w.requeue(ctx, op, err.Error())
		return false
	}

	if err := w.machine.MarkFailed(ctx, payload.SettlementID, domain.SettlementRollingBack, "TransferFailed"); err != nil {
		// Already moved by another path; not fatal to the rollback itself.
		_ = err
	}
	w.ops.MarkCompleted(ctx, op.ID)
	return true
}

func (w *RollbackWorker) requeue(ctx context.Context, op domain.PendingOperation, reason string) {
	backoff := time.Duration(1<<uint(op.RetryCount)) * time.Second
	if backoff > time.Minute {
		backoff = time.Minute
	}
	w.ops.ResetForRetry(ctx, op.ID, reason, time.Now().Add(backoff))
}
