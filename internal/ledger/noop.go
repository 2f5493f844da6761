package ledger

import (
	"context"

	"github.com/luxfi/crank/internal/domain"
)

// Noop is a Ledger that reports no filled pairs, returns an already-closed
// block channel, and fails every other call, reads included. It exists so the binary links and starts without a concrete
// on-chain collaborator wired in; a real deployment replaces it with an
// adapter over the actual cluster RPC client at the orchestrator boundary.
type Noop struct{}

func (Noop) ListFilledOrderPairs(ctx context.Context) ([]MatchedPair, error) { return nil, nil }

func (Noop) FetchTradingPair(ctx context.Context, pairID string) (domain.TradingPair, error) {
	return domain.TradingPair{}, errNotConfigured
}

func (Noop) SubmitTransaction(ctx context.Context, raw []byte) (string, error) {
	return "", errNotConfigured
}

func (Noop) ConfirmSignature(ctx context.Context, signature string) error {
	return errNotConfigured
}

func (Noop) FetchAccountBalance(ctx context.Context, wallet, asset string) (Balance, error) {
	return Balance{}, errNotConfigured
}

func (Noop) SubscribeNewBlocks(ctx context.Context) (<-chan uint64, error) {
	ch := make(chan uint64)
	close(ch)
	return ch, nil
}

var errNotConfigured = noopError("ledger not configured")

type noopError string

func (e noopError) Error() string { return string(e) }

var _ Ledger = Noop{}
