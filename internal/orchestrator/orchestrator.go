// Package orchestrator drives the top-level poll loop (spec §4.5): list
// matched-but-unsettled order pairs, settle each one through the state
// machine, and run periodic maintenance (rollback drain, stale-lock reclaim)
// alongside it. No expiry sweep runs: settlements past their expiry deadline
// are not moved to Expired by this package. It is the component every other
// package in this module exists to serve.
package orchestrator

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/crank/internal/domain"
	"github.com/luxfi/crank/internal/errs"
	"github.com/luxfi/crank/internal/ledger"
	"github.com/luxfi/crank/internal/lockmgr"
	"github.com/luxfi/crank/internal/metrics"
	"github.com/luxfi/crank/internal/obslog"
	"github.com/luxfi/crank/internal/relayer"
	"github.com/luxfi/crank/internal/settlement"
	"github.com/luxfi/crank/internal/store"
)

const maintenanceInterval = 30 * time.Second

// dedupWindow is the lookback TxHistory.WasRecentlyMatched uses to decide a
// pair was already observed this cycle (spec §4.5 step 2).
const dedupWindow = 300 * time.Second

// Transferer narrows relayer.Client to what a settlement leg needs.
type Transferer interface {
	UploadProof(ctx context.Context, req relayer.ProofUploadRequest) error
	Transfer(ctx context.Context, req relayer.TransferRequest) (*relayer.TransferResponse, error)
	ConfirmTransfer(ctx context.Context, transferID string) (*relayer.TransferResponse, error)
}

// Orchestrator is the poll-loop owner.
type Orchestrator struct {
	ledger     ledger.Ledger
	locks      *lockmgr.Manager
	machine    *settlement.Machine
	rollback   *settlement.RollbackWorker
	transfers  Transferer
	txHistory  *store.TxHistoryRepo
	pendingOps *store.PendingOpsRepo
	observer   obslog.Observer
	metrics    *metrics.Metrics

	pollInterval  time.Duration
	cooldown      time.Duration
	lockTimeout   time.Duration
	preferPrivate bool

	// cooldowns tracks, per pair-key, the time before which new settlement
	// attempts for that pair are skipped (spec §4.4 "Cooldown after
	// failure"). In-memory only: it resets to zero on restart, which is
	// safe because the durable state machine is the source of truth.
	cooldownsMu sync.Mutex
	cooldowns   map[string]time.Time

	// OnSuccess/OnFailure let an external supervisor track consecutive poll
	// failures without the orchestrator importing the supervisor package.
	OnSuccess func()
	OnFailure func(error)

	iteration int64
	paused    atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles the Orchestrator's collaborators.
type Deps struct {
	Ledger        ledger.Ledger
	Locks         *lockmgr.Manager
	Machine       *settlement.Machine
	Rollback      *settlement.RollbackWorker
	Transfers     Transferer
	TxHistory     *store.TxHistoryRepo
	PendingOps    *store.PendingOpsRepo
	Observer      obslog.Observer
	Metrics       *metrics.Metrics
	PollInterval  time.Duration
	Cooldown      time.Duration
	LockTimeout   time.Duration
	PreferPrivate bool
}

func New(d Deps) *Orchestrator {
	observer := d.Observer
	if observer == nil {
		observer = obslog.NoopObserver{}
	}
	lockTimeout := d.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = lockmgr.DefaultTTL
	}
	return &Orchestrator{
		ledger:        d.Ledger,
		locks:         d.Locks,
		machine:       d.Machine,
		rollback:      d.Rollback,
		transfers:     d.Transfers,
		txHistory:     d.TxHistory,
		pendingOps:    d.PendingOps,
		observer:      observer,
		metrics:       d.Metrics,
		pollInterval:  d.PollInterval,
		cooldown:      d.Cooldown,
		lockTimeout:   lockTimeout,
		preferPrivate: d.PreferPrivate,
		cooldowns:     make(map[string]time.Time),
	}
}

// Start launches the poll loop and maintenance tasks as background
// goroutines. It returns immediately; call Stop to shut down cleanly.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(2)
	go o.pollLoop(ctx)
	go o.maintenanceLoop(ctx)
}

// Stop cancels both loops and waits for them to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Pause suspends new poll iterations without tearing down the loop; the
// supervisor uses this for its sustained-failure cooldown (spec §4.6).
func (o *Orchestrator) Pause()  { o.paused.Store(true) }
func (o *Orchestrator) Resume() { o.paused.Store(false) }
func (o *Orchestrator) IsPaused() bool { return o.paused.Load() }

func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.paused.Load() {
				continue
			}
			o.runOnce(ctx)
		}
	}
}

func (o *Orchestrator) maintenanceLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.ProcessRollbackQueue(ctx)
			o.reclaimStaleLocks(ctx)
		}
	}
}

// RunOnce executes a single poll iteration synchronously. It is exposed so
// an admin surface (or a test) can trigger an immediate poll outside the
// ticker cadence.
func (o *Orchestrator) RunOnce(ctx context.Context) {
	o.runOnce(ctx)
}

// runOnce executes a single poll iteration: list matched pairs, filter
// already-recently-processed ones, and settle each.
func (o *Orchestrator) runOnce(ctx context.Context) {
	iter := atomic.AddInt64(&o.iteration, 1)
	o.observer.OnPollStart(iter)
	if o.metrics != nil {
		o.metrics.Polls.Inc()
	}

	pairs, err := o.ledger.ListFilledOrderPairs(ctx)
	if err != nil {
		o.recordFailure(ctx, err)
		return
	}

	for _, pair := range pairs {
		if err := o.settlePair(ctx, pair); err != nil {
			o.recordFailure(ctx, err)
			continue
		}
		if o.metrics != nil {
			o.metrics.Successes.Inc()
		}
		if o.OnSuccess != nil {
			o.OnSuccess()
		}
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, err error) {
	if o.metrics != nil {
		o.metrics.Failures.Inc()
	}
	class := errs.Classify(err)
	o.observer.OnAlert(obslog.AlertMpcCallbackFailed, "poll iteration failure", map[string]any{
		"classification": class,
		"error":          err.Error(),
	})
	if o.OnFailure != nil {
		o.OnFailure(err)
	}
}

// inCooldown reports whether pairKey is still within its post-failure
// cooldown window.
func (o *Orchestrator) inCooldown(pairKey string) bool {
	o.cooldownsMu.Lock()
	defer o.cooldownsMu.Unlock()
	until, ok := o.cooldowns[pairKey]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(o.cooldowns, pairKey)
		return false
	}
	return true
}

// setCooldown starts a fresh cooldown window for pairKey after a failed
// settlement attempt (spec §4.4 "Cooldown after failure").
func (o *Orchestrator) setCooldown(pairKey string) {
	if o.cooldown <= 0 {
		return
	}
	o.cooldownsMu.Lock()
	o.cooldowns[pairKey] = time.Now().Add(o.cooldown)
	o.cooldownsMu.Unlock()
}

// settlePair drives one matched (buy, sell) pair through the state machine:
// filter by cooldown and dedup, acquire the dual lock, resolve pair
// metadata, pick a transfer method, and step
// Initiate -> RecordBaseTransfer -> RecordQuoteTransfer -> Complete.
func (o *Orchestrator) settlePair(ctx context.Context, pair ledger.MatchedPair) error {
	pairKey := settlement.ID(pair.Buy.ID, pair.Sell.ID)

	if o.inCooldown(pairKey) {
		return nil
	}

	if o.txHistory != nil {
		recentlyMatched, err := o.txHistory.WasRecentlyMatched(ctx, pair.Buy.ID, pair.Sell.ID, dedupWindow)
		if err == nil && recentlyMatched {
			if row, found, _ := o.machine.Get(ctx, pairKey); found && row.Status == domain.SettlementCompleted {
				return nil // already done
			}
		}
	}

	lockKey := "settlement:" + pairKey
	acquired, err := o.locks.Acquire(ctx, lockKey, o.lockTimeout)
	if err != nil {
		return err
	}
	if !acquired {
		return nil // another worker already owns this pair this cycle
	}
	defer o.locks.Release(ctx, lockKey)

	o.recordMatch(ctx, pairKey, pair)

	tradingPair, err := o.ledger.FetchTradingPair(ctx, pair.Buy.PairID)
	if err != nil {
		return err
	}

	method := selectMethod(tradingPair, o.preferPrivate)

	row, err := o.machine.Initiate(ctx, pair.Buy.ID, pair.Sell.ID, tradingPair.BaseAsset, tradingPair.QuoteAsset, method)
	if err != nil {
		return err
	}
	if row.Status.IsTerminal() {
		return nil // already settled or already failed out; nothing to do
	}

	if row.Status == domain.SettlementPending {
		if err := o.transferLeg(ctx, row.ID, row.BaseAsset, true); err != nil {
			return o.handleLegFailure(ctx, pairKey, row, err)
		}
		row.Status = domain.SettlementBaseTransferred
	}
	if row.Status == domain.SettlementBaseTransferred {
		if err := o.transferLeg(ctx, row.ID, row.QuoteAsset, false); err != nil {
			return o.handleLegFailure(ctx, pairKey, row, err)
		}
		row.Status = domain.SettlementQuoteTransferred
	}
	return o.machine.Complete(ctx, row.ID)
}

// recordMatch writes a TxMatch history row for pairKey, feeding
// TxHistory.WasRecentlyMatched's dedup window. A duplicate insert (another
// worker already recorded this match) is expected and ignored.
func (o *Orchestrator) recordMatch(ctx context.Context, pairKey string, pair ledger.MatchedPair) {
	if o.txHistory == nil {
		return
	}
	buyID, sellID := pair.Buy.ID, pair.Sell.ID
	_, err := o.txHistory.Create(ctx, domain.TransactionHistoryEntry{
		Signature:   "match:" + pairKey,
		Type:        domain.TxMatch,
		Status:      domain.TxConfirmed,
		BuyOrderID:  &buyID,
		SellOrderID: &sellID,
		CreatedAt:   time.Now(),
	})
	if err != nil && err != store.ErrAlreadyExists {
		o.observer.OnAlert(obslog.AlertMpcCallbackFailed, "failed to record match history", map[string]any{"error": err.Error()})
	}
}

// selectMethod picks Private transfer when both the base and quote asset are
// in the relayer's supported-mint set and the operator prefers the private
// path, else falls back to Public settlement.
func selectMethod(pair domain.TradingPair, preferPrivate bool) domain.TransferMethod {
	if !preferPrivate {
		return domain.MethodPublic
	}
	if _, err := relayer.MintForToken(pair.BaseAsset); err != nil {
		return domain.MethodPublic
	}
	if _, err := relayer.MintForToken(pair.QuoteAsset); err != nil {
		return domain.MethodPublic
	}
	return domain.MethodPrivate
}

func (o *Orchestrator) transferLeg(ctx context.Context, settlementID, asset string, base bool) error {
	start := time.Now()
	resp, err := o.transfers.Transfer(ctx, relayer.TransferRequest{
		Token:     asset,
		Reference: settlementID,
	})
	if err != nil {
		return err
	}
	if o.txHistory != nil {
		_, err := o.txHistory.Create(ctx, domain.TransactionHistoryEntry{
			Signature: resp.TransferID,
			Type:      domain.TxSettlement,
			Status:    domain.TxConfirmed,
			Latency:   time.Since(start),
			CreatedAt: time.Now(),
		})
		if err != nil && err != store.ErrAlreadyExists {
			o.observer.OnAlert(obslog.AlertMpcCallbackFailed, "failed to record transfer history", map[string]any{"error": err.Error()})
		}
	}
	if base {
		return o.machine.RecordBaseTransfer(ctx, settlementID, resp.TransferID)
	}
	return o.machine.RecordQuoteTransfer(ctx, settlementID, resp.TransferID)
}

// handleLegFailure classifies err and either lets the caller retry next
// poll (locally recoverable) or begins the rollback protocol for whatever
// has already transferred. Either way it starts pairKey's post-failure
// cooldown (spec §4.4).
func (o *Orchestrator) handleLegFailure(ctx context.Context, pairKey string, row domain.SettlementRequest, err error) error {
	o.setCooldown(pairKey)
	if errs.IsLocallyRecoverable(err) {
		return err
	}
	if row.Status == domain.SettlementBaseTransferred {
		// row may predate this poll's base leg; read the recorded id back.
		baseTransferID := row.BaseTransferID
		if cur, found, gErr := o.machine.Get(ctx, row.ID); gErr == nil && found {
			baseTransferID = cur.BaseTransferID
		}
		if bErr := o.machine.BeginRollback(ctx, row.ID, row.Status); bErr == nil {
			o.rollback.Enqueue(ctx, row.ID, baseTransferID)
		}
		return err
	}
	o.machine.MarkFailed(ctx, row.ID, row.Status, err.Error())
	return err
}

// ProcessRollbackQueue drains ready compensating transfers. Exposed as a
// public operation so an admin surface can trigger an out-of-band drain.
func (o *Orchestrator) ProcessRollbackQueue(ctx context.Context) {
	if _, err := o.rollback.ProcessOnce(ctx, 50); err != nil {
		o.observer.OnAlert(obslog.AlertSettlementRollbackFailed, "rollback drain failed", map[string]any{"error": err.Error()})
		return
	}
	if o.metrics == nil || o.pendingOps == nil {
		return
	}
	ready, err := o.pendingOps.FindReadyToProcess(ctx, math.MaxInt32)
	if err != nil {
		return
	}
	queued := 0
	for _, op := range ready {
		if op.Type == "rollback" {
			queued++
		}
	}
	o.metrics.RollbackQueueSize.Set(float64(queued))
}

// pendingOpTypeMpcWait marks a pending_operations row as waiting on an MPC
// callback that has not yet arrived.
const pendingOpTypeMpcWait = "mpc_wait"

func (o *Orchestrator) reclaimStaleLocks(ctx context.Context) {
	o.locks.ReleaseStaleLocal()
	if o.pendingOps == nil {
		return
	}
	if _, err := o.pendingOps.ReleaseStaleLocks(ctx, time.Now().Add(-o.lockTimeout)); err != nil {
		o.observer.OnAlert(obslog.AlertMpcCallbackFailed, "stale pending-op lock reclaim failed", map[string]any{"error": err.Error()})
	}
}

// SkipPendingMpcComputations marks every pending MPC-waiting row as failed
// (spec §4.5).
func (o *Orchestrator) SkipPendingMpcComputations(ctx context.Context) {
	if o.pendingOps == nil {
		return
	}
	n, err := o.pendingOps.FailAllByType(ctx, pendingOpTypeMpcWait, "skipped by operator")
	if err != nil {
		o.observer.OnAlert(obslog.AlertMpcCallbackFailed, "failed to skip pending MPC computations", map[string]any{"error": err.Error()})
		return
	}
	if n > 0 {
		o.observer.OnAlert(obslog.AlertMpcCallbackFailed, "skipped pending MPC computations", map[string]any{"count": n})
	}
}
