// Package domain holds the data model the crank owns: orders and trading
// pairs as observed from the ledger, and the settlement/transaction/lock
// rows the crank itself creates and mutates.
package domain

import "time"

// OrderSide is the side of an order book entry.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus mirrors the on-chain order status observed via the Ledger.
type OrderStatus string

const (
	OrderActive    OrderStatus = "active"
	OrderMatching  OrderStatus = "matching"
	OrderInactive  OrderStatus = "inactive"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

// Order is a read-only projection of an on-chain order. The crank never
// mutates it; a fresh copy is fetched from the Ledger every poll.
type Order struct {
	ID               [16]byte
	Owner            string
	PairID           string
	Side             OrderSide
	Status           OrderStatus
	Filled           bool
	PendingMatchID   [32]byte
	IsMatching       bool
}

// HasPendingMatch reports whether the order carries a non-default
// match-request id, i.e. it has been matched by MPC but not yet settled.
func (o Order) HasPendingMatch() bool {
	var zero [32]byte
	return o.PendingMatchID != zero
}

// TradingPair is the base/quote asset pairing an order trades against.
type TradingPair struct {
	ID        string
	BaseAsset string
	QuoteAsset string
}

// TransferMethod is how a settlement's two legs move funds.
type TransferMethod string

const (
	MethodPrivate TransferMethod = "private"
	MethodPublic  TransferMethod = "public"
)

// SettlementStatus is the state-machine position of a SettlementRequest.
// See internal/settlement for the transition graph.
type SettlementStatus string

const (
	SettlementPending          SettlementStatus = "pending"
	SettlementBaseTransferred  SettlementStatus = "base_transferred"
	SettlementQuoteTransferred SettlementStatus = "quote_transferred"
	SettlementCompleted        SettlementStatus = "completed"
	SettlementFailed           SettlementStatus = "failed"
	SettlementExpired          SettlementStatus = "expired"
	SettlementRollingBack      SettlementStatus = "rolling_back"
)

// IsTerminal reports whether s never transitions again.
func (s SettlementStatus) IsTerminal() bool {
	switch s {
	case SettlementCompleted, SettlementFailed, SettlementExpired:
		return true
	default:
		return false
	}
}

// SettlementRequest is the durable row owned and mutated by the settlement
// state machine. Its id is derived from the (buy, sell) order pair.
type SettlementRequest struct {
	ID             string
	BuyOrderID     [16]byte
	SellOrderID    [16]byte
	BaseAsset      string
	QuoteAsset     string
	Method         TransferMethod
	Status         SettlementStatus
	BaseTransferID string
	QuoteTransferID string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	FailureReason  string
}

// TxType classifies a TransactionHistoryEntry.
type TxType string

const (
	TxMatch      TxType = "match"
	TxSettlement TxType = "settlement"
	TxRollback   TxType = "rollback"
	TxOther      TxType = "other"
)

// TxStatus is the lifecycle of a TransactionHistoryEntry.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxExpired   TxStatus = "expired"
)

// TransactionHistoryEntry records a single on-chain or relayer transaction
// the crank submitted or observed, keyed uniquely by Signature.
type TransactionHistoryEntry struct {
	ID         int64
	Signature  string
	Type       TxType
	Status     TxStatus
	BuyOrderID *[16]byte
	SellOrderID *[16]byte
	Slot       *uint64
	ErrorMsg   string
	Latency    time.Duration
	CreatedAt  time.Time
}

// StatusCounts is the result of TransactionHistory.GetCountByStatus.
type StatusCounts struct {
	Pending   int64
	Confirmed int64
	Failed    int64
	Expired   int64
}

// PendingOpStatus is the lifecycle of a PendingOperation row.
type PendingOpStatus string

const (
	OpPending    PendingOpStatus = "pending"
	OpInProgress PendingOpStatus = "in_progress"
	OpCompleted  PendingOpStatus = "completed"
	OpFailed     PendingOpStatus = "failed"
)

// PendingOperation is guaranteed-eventual-execution work, chiefly rollbacks.
// Unique on NaturalKey so re-enqueueing the same compensating transfer is a
// no-op.
type PendingOperation struct {
	ID         int64
	Type       string
	NaturalKey string
	Payload    []byte // JSON
	Status     PendingOpStatus
	RetryCount int
	MaxRetries int
	LastError  string
	LockedBy   string
	LockedAt   *time.Time
	NotBefore  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RollbackPayload is the JSON body of a "rollback" PendingOperation.
type RollbackPayload struct {
	SettlementID       string `json:"settlement_id"`
	OriginalTransferID string `json:"original_transfer_id"`
}

// DistributedLock is a durable, cross-instance advisory lock row.
type DistributedLock struct {
	Name      string
	Owner     string
	ExpiresAt time.Time
}

// OrderCacheEntry is the last-known-slot projection of an order, as stored
// by store.OrderCacheRepo.
type OrderCacheEntry struct {
	OrderID   [16]byte
	PairID    string
	Side      OrderSide
	Status    OrderStatus
	Owner     string
	Slot      uint64
	UpdatedAt time.Time
}

// PairKey canonically (lexicographically) orders a (buy, sell) order-id pair
// so it can be used as a lock key and settlement id seed regardless of
// observation order.
func PairKey(buy, sell [16]byte) (a, b [16]byte) {
	for i := range buy {
		if buy[i] != sell[i] {
			if buy[i] < sell[i] {
				return buy, sell
			}
			return sell, buy
		}
	}
	return buy, sell
}
