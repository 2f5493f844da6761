// Package ledger declares the on-chain collaborator the CORE depends on.
// Instruction encoding, account-byte decoding, and cluster RPC are explicitly
// out of scope (spec §1) — a concrete implementation lives outside this
// module and is injected at the orchestrator boundary.
package ledger

import (
	"context"

	"github.com/luxfi/crank/internal/domain"
)

// MatchedPair is a (buy, sell) order pair the Ledger reports as filled but
// unsettled: both orders are Inactive, filled, and share a non-default
// pending-match-request id (spec §4.5 step 1).
type MatchedPair struct {
	Buy  domain.Order
	Sell domain.Order
}

// Balance is the result of Ledger.FetchAccountBalance.
type Balance struct {
	Available       uint64
	Deposited       uint64
	WithdrawnToEscrow uint64
	Migrated        bool
}

// Ledger is the abstract on-chain collaborator: fetch filled orders, fetch
// pair/exchange metadata, submit transactions, confirm signatures, fetch
// balances, subscribe to new blocks. The CORE never decodes account bytes
// itself; it only consumes the typed results below (spec §6).
type Ledger interface {
	// ListFilledOrderPairs returns matched-but-unsettled order pairs per
	// spec §4.5 step 1.
	ListFilledOrderPairs(ctx context.Context) ([]MatchedPair, error)

	// FetchTradingPair resolves pair/exchange metadata for pairID.
	FetchTradingPair(ctx context.Context, pairID string) (domain.TradingPair, error)

	// SubmitTransaction submits a signed transaction and returns its
	// signature.
	SubmitTransaction(ctx context.Context, raw []byte) (signature string, err error)

	// ConfirmSignature blocks until signature is confirmed, fails, or ctx
	// is cancelled.
	ConfirmSignature(ctx context.Context, signature string) error

	// FetchAccountBalance returns the wallet's balance for the given asset.
	FetchAccountBalance(ctx context.Context, wallet, asset string) (Balance, error)

	// SubscribeNewBlocks streams slot numbers as new blocks are produced,
	// closing the channel when ctx is cancelled.
	SubscribeNewBlocks(ctx context.Context) (<-chan uint64, error)
}
