// Package mpc validates callbacks from the MPC collaborator. Computation of
// the underlying order-matching primitives is out of scope (spec §1); this
// package only consumes and strongly types the results.
package mpc

import "math/big"

// CallbackType is the tagged discriminator on every MPC callback.
type CallbackType string

const (
	ComparePrices        CallbackType = "compare_prices"
	CalculateFill        CallbackType = "calculate_fill"
	CheckLiquidation     CallbackType = "check_liquidation"
	CalculateMarginRatio CallbackType = "calculate_margin_ratio"
	CalculatePnl         CallbackType = "calculate_pnl"
	CalculateFunding     CallbackType = "calculate_funding"
)

// CallbackError is the optional error envelope carried on any callback.
type CallbackError struct {
	Code    string
	Message string
}

// Envelope is the shape every MPC callback carries regardless of type.
type Envelope struct {
	Type          CallbackType
	RequestID     string // 32-byte hex
	Signature     string // >= 32 hex characters
	Timestamp     int64
	ClusterOffset int64
	Error         *CallbackError
	Payload       map[string]any // type-specific fields, parsed per Type
}

// ComparePricesResult is the typed result of a compare_prices callback.
type ComparePricesResult struct {
	RequestID string
	Equal     bool
	Diff      *big.Int
}

// CalculateFillResult is the typed result of a calculate_fill callback.
// FillAmount must be strictly positive; FillValue must be non-negative.
type CalculateFillResult struct {
	RequestID  string
	FillAmount *big.Int
	FillValue  *big.Int
}

// CheckLiquidationResult is the typed result of a check_liquidation callback.
type CheckLiquidationResult struct {
	RequestID       string
	ShouldLiquidate bool
	MarginRatio     *big.Int
}

// CalculateMarginRatioResult is the typed result of a
// calculate_margin_ratio callback.
type CalculateMarginRatioResult struct {
	RequestID   string
	MarginRatio *big.Int
}

// CalculatePnlResult is the typed result of a calculate_pnl callback.
type CalculatePnlResult struct {
	RequestID string
	Pnl       *big.Int // signed; never coerced to a machine-precision float
}

// CalculateFundingResult is the typed result of a calculate_funding
// callback.
type CalculateFundingResult struct {
	RequestID   string
	FundingRate *big.Int // signed
}

// OnChainEvent is a decoded on-chain event the validator also checks field
// lengths for (encryptedFillAmount must be 64 bytes, requestId 32 bytes).
type OnChainEvent struct {
	RequestID           []byte
	EncryptedFillAmount []byte
}
