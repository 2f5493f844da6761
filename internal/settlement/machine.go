// Package settlement implements the settlement state machine (spec §4.4):
// Pending -> BaseTransferred -> QuoteTransferred -> Completed, with
// RollingBack and the terminal Failed/Expired states. Every transition is a
// single atomic update keyed by settlement id, and Initiate is idempotent so
// a re-observed matched pair never creates a duplicate row.
package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/luxfi/crank/internal/domain"
	"github.com/luxfi/crank/internal/errs"
	"github.com/luxfi/crank/internal/metrics"
	"github.com/luxfi/crank/internal/obslog"
)

// Store is the persistence seam the state machine drives. It is satisfied by
// store.SettlementsRepo over the settlements table; kept as an interface here
// so machine.go has no direct sqlite dependency.
type Store interface {
	CreateIfAbsent(ctx context.Context, req domain.SettlementRequest) (domain.SettlementRequest, bool, error)
	Get(ctx context.Context, id string) (domain.SettlementRequest, bool, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.SettlementStatus, mutate func(*domain.SettlementRequest)) (bool, error)
}

// Machine drives SettlementRequest rows through their lifecycle.
type Machine struct {
	store    Store
	observer obslog.Observer
	metrics  *metrics.Metrics
	expiry   time.Duration
}

func New(store Store, observer obslog.Observer, expiry time.Duration) *Machine {
	if observer == nil {
		observer = obslog.NoopObserver{}
	}
	return &Machine{store: store, observer: observer, expiry: expiry}
}

// WithMetrics attaches m so every transition updates the per-status gauge.
func (m *Machine) WithMetrics(met *metrics.Metrics) *Machine {
	m.metrics = met
	return m
}

func (m *Machine) trackTransition(from, to domain.SettlementStatus) {
	if m.metrics == nil {
		return
	}
	if from != "" {
		m.metrics.SettlementsByStatus.WithLabelValues(string(from)).Dec()
	}
	m.metrics.SettlementsByStatus.WithLabelValues(string(to)).Inc()
}

// ID derives a stable settlement id from a canonically-ordered order pair,
// so re-observing the same match always yields the same row.
func ID(buyOrderID, sellOrderID [16]byte) string {
	a, b := domain.PairKey(buyOrderID, sellOrderID)
	h := sha256.New()
	h.Write(a[:])
	h.Write(b[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Initiate creates the settlement row if absent, or returns the existing
// row unchanged — the idempotency guarantee spec §8's invariant 1 requires.
func (m *Machine) Initiate(ctx context.Context, buyOrderID, sellOrderID [16]byte, baseAsset, quoteAsset string, method domain.TransferMethod) (domain.SettlementRequest, error) {
	id := ID(buyOrderID, sellOrderID)
	req := domain.SettlementRequest{
		ID:          id,
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		BaseAsset:   baseAsset,
		QuoteAsset:  quoteAsset,
		Method:      method,
		Status:      domain.SettlementPending,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(m.expiry),
	}
	row, created, err := m.store.CreateIfAbsent(ctx, req)
	if err != nil {
		return domain.SettlementRequest{}, errs.Wrap(errs.KindSettlement, errs.CodeSettlementFailed, "initiate settlement", err)
	}
	if created {
		m.observer.OnSettlementTransition(id, "", string(domain.SettlementPending))
		m.trackTransition("", domain.SettlementPending)
	}
	return row, nil
}

// RecordBaseTransfer moves a Pending settlement to BaseTransferred.
func (m *Machine) RecordBaseTransfer(ctx context.Context, id, transferID string) error {
	ok, err := m.store.UpdateStatus(ctx, id, domain.SettlementPending, domain.SettlementBaseTransferred,
		func(r *domain.SettlementRequest) { r.BaseTransferID = transferID })
	if err != nil {
		return errs.Wrap(errs.KindSettlement, errs.CodeSettlementFailed, "record base transfer", err)
	}
	if !ok {
		return errs.New(errs.KindSettlement, errs.CodeSettlementFailed,
			fmt.Sprintf("settlement %s not in Pending", id))
	}
	m.observer.OnSettlementTransition(id, string(domain.SettlementPending), string(domain.SettlementBaseTransferred))
	m.trackTransition(domain.SettlementPending, domain.SettlementBaseTransferred)
	return nil
}

// RecordQuoteTransfer moves a BaseTransferred settlement to QuoteTransferred.
func (m *Machine) RecordQuoteTransfer(ctx context.Context, id, transferID string) error {
	ok, err := m.store.UpdateStatus(ctx, id, domain.SettlementBaseTransferred, domain.SettlementQuoteTransferred,
		func(r *domain.SettlementRequest) { r.QuoteTransferID = transferID })
	if err != nil {
		return errs.Wrap(errs.KindSettlement, errs.CodeSettlementFailed, "record quote transfer", err)
	}
	if !ok {
		return errs.New(errs.KindSettlement, errs.CodeSettlementFailed,
			fmt.Sprintf("settlement %s not in BaseTransferred", id))
	}
	m.observer.OnSettlementTransition(id, string(domain.SettlementBaseTransferred), string(domain.SettlementQuoteTransferred))
	m.trackTransition(domain.SettlementBaseTransferred, domain.SettlementQuoteTransferred)
	return nil
}

// Complete moves a QuoteTransferred settlement to the terminal Completed state.
func (m *Machine) Complete(ctx context.Context, id string) error {
	ok, err := m.store.UpdateStatus(ctx, id, domain.SettlementQuoteTransferred, domain.SettlementCompleted, nil)
	if err != nil {
		return errs.Wrap(errs.KindSettlement, errs.CodeSettlementFailed, "complete settlement", err)
	}
	if !ok {
		return errs.New(errs.KindSettlement, errs.CodeSettlementFailed,
			fmt.Sprintf("settlement %s not in QuoteTransferred", id))
	}
	m.observer.OnSettlementTransition(id, string(domain.SettlementQuoteTransferred), string(domain.SettlementCompleted))
	m.trackTransition(domain.SettlementQuoteTransferred, domain.SettlementCompleted)
	return nil
}

// MarkFailed moves a non-terminal settlement straight to the terminal
// Failed state, recording reason. Used for classifications that cannot be
// locally recovered and do not warrant a rollback (e.g. validation failures
// before any transfer happened).
func (m *Machine) MarkFailed(ctx context.Context, id string, from domain.SettlementStatus, reason string) error {
	ok, err := m.store.UpdateStatus(ctx, id, from, domain.SettlementFailed,
		func(r *domain.SettlementRequest) { r.FailureReason = reason })
	if err != nil {
		return errs.Wrap(errs.KindSettlement, errs.CodeSettlementFailed, "mark settlement failed", err)
	}
	if !ok {
		return errs.New(errs.KindSettlement, errs.CodeSettlementFailed,
			fmt.Sprintf("settlement %s not in %s", id, from))
	}
	m.observer.OnSettlementTransition(id, string(from), string(domain.SettlementFailed))
	m.trackTransition(from, domain.SettlementFailed)
	return nil
}

// Expire moves a non-terminal settlement to the terminal Expired state
// because its expiry deadline elapsed without completing.
func (m *Machine) Expire(ctx context.Context, id string, from domain.SettlementStatus) error {
	ok, err := m.store.UpdateStatus(ctx, id, from, domain.SettlementExpired, nil)
	if err != nil {
		return errs.Wrap(errs.KindSettlement, errs.CodeSettlementFailed, "expire settlement", err)
	}
	if !ok {
		return errs.New(errs.KindSettlement, errs.CodeSettlementFailed,
			fmt.Sprintf("settlement %s not in %s", id, from))
	}
	m.observer.OnSettlementTransition(id, string(from), string(domain.SettlementExpired))
	m.trackTransition(from, domain.SettlementExpired)
	return nil
}

// BeginRollback moves a settlement that has transferred at least its base
// leg into RollingBack, the entry point for the compensating-transfer
// protocol in rollback.go.
func (m *Machine) BeginRollback(ctx context.Context, id string, from domain.SettlementStatus) error {
	ok, err := m.store.UpdateStatus(ctx, id, from, domain.SettlementRollingBack, nil)
	if err != nil {
		return errs.Wrap(errs.KindSettlement, errs.CodeSettlementFailed, "begin rollback", err)
	}
	if !ok {
		return errs.New(errs.KindSettlement, errs.CodeSettlementFailed,
			fmt.Sprintf("settlement %s not in %s", id, from))
	}
	m.observer.OnSettlementTransition(id, string(from), string(domain.SettlementRollingBack))
	m.trackTransition(from, domain.SettlementRollingBack)
	return nil
}

// Get returns the settlement row for id, or (zero, false, nil) if absent.
func (m *Machine) Get(ctx context.Context, id string) (domain.SettlementRequest, bool, error) {
	return m.store.Get(ctx, id)
}

// IsExpired reports whether row's deadline has elapsed.
func IsExpired(row domain.SettlementRequest) bool {
	return !row.Status.IsTerminal() && time.Now().After(row.ExpiresAt)
}
