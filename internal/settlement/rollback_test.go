package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/crank/internal/domain"
	"github.com/luxfi/crank/internal/lockmgr"
	"github.com/luxfi/crank/internal/obslog"
	"github.com/luxfi/crank/internal/relayer"
	"github.com/luxfi/crank/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeTransferer always succeeds, simulating the compensating transfer in
// the rollback protocol.
type fakeTransferer struct{}

func (f *fakeTransferer) Transfer(ctx context.Context, req relayer.TransferRequest) (*relayer.TransferResponse, error) {
	return &relayer.TransferResponse{TransferID: "rollback-tx-1", Status: "confirmed"}, nil
}

func TestRollbackWorker_SuccessMarksSettlementFailed(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := store.Open(ctx, "file::memory:?cache=shared")
	require.NoError(err)
	defer db.Close()

	locks := lockmgr.NewManager(db.Locks, "test-owner")
	machine := New(db.Settlements, obslog.NoopObserver{}, time.Minute)

	buy, sell := twoIDs()
	row, err := machine.Initiate(ctx, buy, sell, "SOL", "USDC", domain.MethodPrivate)
	require.NoError(err)
	require.NoError(machine.RecordBaseTransfer(ctx, row.ID, "base-tx-1"))
	require.NoError(machine.BeginRollback(ctx, row.ID, domain.SettlementBaseTransferred))

	transferer := &fakeTransferer{}
	worker := NewRollbackWorker(db.PendingOps, locks, transferer, machine, obslog.NoopObserver{}, "test-owner")
	require.NoError(worker.Enqueue(ctx, row.ID, row.BaseTransferID))

	n, err := worker.ProcessOnce(ctx, 10)
	require.NoError(err)
	require.Equal(1, n)

	final, ok, err := machine.Get(ctx, row.ID)
	require.NoError(err)
	require.True(ok)
	require.Equal(domain.SettlementFailed, final.Status, "a successful compensating transfer must mark the settlement Failed, not Expired")
	require.Equal("TransferFailed", final.FailureReason)
}
