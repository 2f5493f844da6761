package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/crank/internal/domain"
	"github.com/luxfi/crank/internal/ledger"
	"github.com/luxfi/crank/internal/lockmgr"
	"github.com/luxfi/crank/internal/obslog"
	"github.com/luxfi/crank/internal/relayer"
	"github.com/luxfi/crank/internal/settlement"
	"github.com/luxfi/crank/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeLedger reports a fixed set of matched pairs exactly once, then goes
// quiet, so a test can assert settlement happened without racing a poll loop.
type fakeLedger struct {
	mu    sync.Mutex
	pairs []ledger.MatchedPair
	pair  domain.TradingPair
}

func (f *fakeLedger) ListFilledOrderPairs(ctx context.Context) ([]ledger.MatchedPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pairs
	f.pairs = nil
	return out, nil
}

func (f *fakeLedger) FetchTradingPair(ctx context.Context, pairID string) (domain.TradingPair, error) {
	return f.pair, nil
}
func (f *fakeLedger) SubmitTransaction(ctx context.Context, raw []byte) (string, error) {
	return "", nil
}
func (f *fakeLedger) ConfirmSignature(ctx context.Context, signature string) error { return nil }
func (f *fakeLedger) FetchAccountBalance(ctx context.Context, wallet, asset string) (ledger.Balance, error) {
	return ledger.Balance{}, nil
}
func (f *fakeLedger) SubscribeNewBlocks(ctx context.Context) (<-chan uint64, error) {
	ch := make(chan uint64)
	close(ch)
	return ch, nil
}

var _ ledger.Ledger = (*fakeLedger)(nil)

// fakeTransferer always succeeds, recording every call it received.
type fakeTransferer struct {
	mu    sync.Mutex
	calls []relayer.TransferRequest
}

func (f *fakeTransferer) UploadProof(ctx context.Context, req relayer.ProofUploadRequest) error {
	return nil
}

func (f *fakeTransferer) Transfer(ctx context.Context, req relayer.TransferRequest) (*relayer.TransferResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	return &relayer.TransferResponse{TransferID: "transfer-" + req.Reference + "-" + string(rune('0'+n)), Status: "confirmed"}, nil
}

func (f *fakeTransferer) ConfirmTransfer(ctx context.Context, transferID string) (*relayer.TransferResponse, error) {
	return &relayer.TransferResponse{TransferID: transferID, Status: "confirmed"}, nil
}

var _ Transferer = (*fakeTransferer)(nil)

func newTestOrchestrator(t *testing.T, l ledger.Ledger, tr Transferer) (*Orchestrator, *store.SettlementsRepo, *store.TxHistoryRepo) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	locks := lockmgr.NewManager(db.Locks, "test-owner")
	machine := settlement.New(db.Settlements, obslog.NoopObserver{}, time.Minute)
	rollback := settlement.NewRollbackWorker(db.PendingOps, locks, tr, machine, obslog.NoopObserver{}, "test-owner")

	o := New(Deps{
		Ledger:       l,
		Locks:        locks,
		Machine:      machine,
		Rollback:     rollback,
		Transfers:    tr,
		TxHistory:    db.TxHistory,
		PendingOps:   db.PendingOps,
		Observer:     obslog.NoopObserver{},
		PollInterval: time.Hour,
		Cooldown:     time.Minute,
	})
	return o, db.Settlements, db.TxHistory
}

func TestRunOnce_SettlesMatchedPair(t *testing.T) {
	require := require.New(t)

	var buy, sell [16]byte
	buy[0], sell[0] = 1, 2
	fl := &fakeLedger{
		pairs: []ledger.MatchedPair{{
			Buy:  domain.Order{ID: buy, PairID: "SOL-USDC", Side: domain.SideBuy},
			Sell: domain.Order{ID: sell, PairID: "SOL-USDC", Side: domain.SideSell},
		}},
		pair: domain.TradingPair{ID: "SOL-USDC", BaseAsset: "SOL", QuoteAsset: "USDC"},
	}
	ft := &fakeTransferer{}

	o, settlements, txHistory := newTestOrchestrator(t, fl, ft)

	var successes int
	o.OnSuccess = func() { successes++ }

	o.RunOnce(context.Background())

	require.Equal(1, successes)
	require.Len(ft.calls, 2, "expected one base-leg and one quote-leg transfer")

	id := settlement.ID(buy, sell)
	row, ok, err := settlements.Get(context.Background(), id)
	require.NoError(err)
	require.True(ok)
	require.Equal(domain.SettlementCompleted, row.Status)

	recent, err := txHistory.GetRecent(context.Background(), 10)
	require.NoError(err)
	var confirmedSettlements int
	for _, e := range recent {
		if e.Type == domain.TxSettlement && e.Status == domain.TxConfirmed {
			confirmedSettlements++
		}
	}
	require.Equal(2, confirmedSettlements, "expected two confirmed TransactionHistory rows, one per leg")

	recentlyMatched, err := txHistory.WasRecentlyMatched(context.Background(), buy, sell, time.Minute)
	require.NoError(err)
	require.True(recentlyMatched)
}

func TestRunOnce_NoMatchedPairsIsNoop(t *testing.T) {
	require := require.New(t)

	fl := &fakeLedger{}
	ft := &fakeTransferer{}
	o, _, _ := newTestOrchestrator(t, fl, ft)

	var failures int
	o.OnFailure = func(error) { failures++ }

	o.RunOnce(context.Background())

	require.Equal(0, failures)
	require.Empty(ft.calls)
}

// TestSettlePair_CooldownSkipsRetry verifies that once a pair is put into
// cooldown, a second settlePair call for the same pair is a no-op until the
// cooldown window elapses.
func TestSettlePair_CooldownSkipsRetry(t *testing.T) {
	require := require.New(t)

	var buy, sell [16]byte
	buy[0], sell[0] = 5, 6
	pair := ledger.MatchedPair{
		Buy:  domain.Order{ID: buy, PairID: "SOL-USDC", Side: domain.SideBuy},
		Sell: domain.Order{ID: sell, PairID: "SOL-USDC", Side: domain.SideSell},
	}
	fl := &fakeLedger{pair: domain.TradingPair{ID: "SOL-USDC", BaseAsset: "SOL", QuoteAsset: "USDC"}}
	ft := &fakeTransferer{}
	o, _, _ := newTestOrchestrator(t, fl, ft)

	pairKey := settlement.ID(buy, sell)
	o.setCooldown(pairKey)

	err := o.settlePair(context.Background(), pair)
	require.NoError(err)
	require.Empty(ft.calls, "settlePair should have skipped a pair still in cooldown")
}

func TestStartStop_NoGoroutineLeak(t *testing.T) {
	require := require.New(t)

	fl := &fakeLedger{}
	ft := &fakeTransferer{}
	o, _, _ := newTestOrchestrator(t, fl, ft)

	o.Start(context.Background())
	require.False(o.IsPaused())
	o.Pause()
	require.True(o.IsPaused())
	o.Resume()
	require.False(o.IsPaused())
	o.Stop()
}
