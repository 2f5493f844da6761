package store

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/crank/internal/domain"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTxHistory_CreateAndFindBySignature(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.TxHistory.Create(ctx, domain.TransactionHistoryEntry{
		Signature: "sig-1",
		Type:      domain.TxMatch,
		Status:    domain.TxPending,
		CreatedAt: time.Now(),
	})
	require.NoError(err)

	entry, ok, err := s.TxHistory.FindBySignature(ctx, "sig-1")
	require.NoError(err)
	require.True(ok)
	require.Equal(domain.TxMatch, entry.Type)
	require.Equal(domain.TxPending, entry.Status)
}

func TestTxHistory_UpdateStatusAndCounts(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.TxHistory.Create(ctx, domain.TransactionHistoryEntry{
		Signature: "sig-2", Type: domain.TxSettlement, Status: domain.TxPending, CreatedAt: time.Now(),
	})
	require.NoError(err)

	require.NoError(s.TxHistory.UpdateStatus(ctx, "sig-2", domain.TxConfirmed, ""))

	counts, err := s.TxHistory.GetCountByStatus(ctx)
	require.NoError(err)
	require.Equal(int64(1), counts.Confirmed)
}

func TestPendingOps_DedupesNaturalKey(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.PendingOps.Create(ctx, "rollback", "rollback:settlement-1", []byte("{}"), 5, nil)
	require.NoError(err)

	_, err = s.PendingOps.Create(ctx, "rollback", "rollback:settlement-1", []byte("{}"), 5, nil)
	require.ErrorIs(err, ErrAlreadyExists)
}

func TestPendingOps_ClaimLifecycle(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.PendingOps.Create(ctx, "rollback", "rollback:settlement-2", []byte("{}"), 5, nil)
	require.NoError(err)

	ready, err := s.PendingOps.FindReadyToProcess(ctx, 10)
	require.NoError(err)
	require.Len(ready, 1)

	claimed, err := s.PendingOps.MarkInProgress(ctx, id, "worker-1")
	require.NoError(err)
	require.True(claimed)

	claimedAgain, err := s.PendingOps.MarkInProgress(ctx, id, "worker-2")
	require.NoError(err)
	require.False(claimedAgain)

	require.NoError(s.PendingOps.MarkCompleted(ctx, id))
}

func TestDistributedLocks_AcquireReleaseExtend(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.Locks.Acquire(ctx, "pair-1", "owner-a", time.Now().Add(time.Minute))
	require.NoError(err)
	require.True(ok)

	ok, err = s.Locks.Acquire(ctx, "pair-1", "owner-b", time.Now().Add(time.Minute))
	require.NoError(err)
	require.False(ok)

	held, err := s.Locks.IsHeldBy(ctx, "pair-1", "owner-a")
	require.NoError(err)
	require.True(held)

	require.NoError(s.Locks.Release(ctx, "pair-1", "owner-a"))

	held, err = s.Locks.IsHeld(ctx, "pair-1")
	require.NoError(err)
	require.False(held)
}

func TestOrderCache_UpsertIsSlotMonotonic(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	var orderID [16]byte
	orderID[0] = 9

	require.NoError(s.OrderCache.Upsert(ctx, domain.OrderCacheEntry{
		OrderID: orderID, PairID: "SOL-USDC", Side: domain.SideBuy, Status: domain.OrderActive,
		Owner: "wallet-1", Slot: 100, UpdatedAt: time.Now(),
	}))
	require.NoError(s.OrderCache.Upsert(ctx, domain.OrderCacheEntry{
		OrderID: orderID, PairID: "SOL-USDC", Side: domain.SideBuy, Status: domain.OrderMatching,
		Owner: "wallet-1", Slot: 50, UpdatedAt: time.Now(),
	}))

	rows, err := s.OrderCache.FindOpenByTradingPair(ctx, "SOL-USDC")
	require.NoError(err)
	require.Len(rows, 1)
	require.Equal(domain.OrderActive, rows[0].Status) // stale slot=50 write was rejected
}

func TestSettlements_CreateIfAbsentAndUpdateStatus(t *testing.T) {
	require := require.New(t)
	s := openTestStore(t)
	ctx := context.Background()

	var buy, sell [16]byte
	buy[0], sell[0] = 1, 2

	req := domain.SettlementRequest{
		ID: "settlement-1", BuyOrderID: buy, SellOrderID: sell,
		BaseAsset: "SOL", QuoteAsset: "USDC", Method: domain.MethodPrivate,
		Status: domain.SettlementPending, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute),
	}
	row, created, err := s.Settlements.CreateIfAbsent(ctx, req)
	require.NoError(err)
	require.True(created)
	require.Equal(domain.SettlementPending, row.Status)

	_, created, err = s.Settlements.CreateIfAbsent(ctx, req)
	require.NoError(err)
	require.False(created)

	ok, err := s.Settlements.UpdateStatus(ctx, "settlement-1", domain.SettlementPending, domain.SettlementBaseTransferred, nil)
	require.NoError(err)
	require.True(ok)
}
