package mpc

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/luxfi/crank/internal/errs"
)

const (
	requestIDBytes           = 32
	minSignatureHexChars     = 32
	encryptedFillAmountBytes = 64
)

// VerifyMode selects how Validator checks the MPC signature. Production
// signature verification against the cluster's aggregate key is an open
// question (spec §9); until a verification backend is wired, Production mode
// always rejects so a misconfigured deployment fails loud rather than trusting
// an unverified callback.
type VerifyMode int

const (
	Dev VerifyMode = iota
	Production
)

// Validator parses and validates MPC callbacks per spec §4.7. It never
// computes matching/liquidation/funding itself; it only rejects malformed or
// unsigned callbacks and hands back strongly typed results.
type Validator struct {
	Mode VerifyMode
}

func New(mode VerifyMode) *Validator {
	return &Validator{Mode: mode}
}

func (v *Validator) checkEnvelope(env Envelope) error {
	if env.RequestID == "" {
		return errs.New(errs.KindMpc, errs.CodeMpcInvalid, "missing requestId")
	}
	raw, err := hex.DecodeString(env.RequestID)
	if err != nil {
		return errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "requestId is not hex", err)
	}
	if len(raw) != requestIDBytes {
		return errs.New(errs.KindMpc, errs.CodeMpcInvalid,
			fmt.Sprintf("requestId must be %d bytes, got %d", requestIDBytes, len(raw)))
	}
	if len(env.Signature) < minSignatureHexChars {
		return errs.New(errs.KindMpc, errs.CodeMpcInvalid, "signature too short")
	}
	if _, err := hex.DecodeString(env.Signature); err != nil {
		return errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "signature is not hex", err)
	}
	if env.ClusterOffset < 0 {
		return errs.New(errs.KindMpc, errs.CodeMpcInvalid, "clusterOffset must be non-negative")
	}
	return nil
}

// VerifySignature checks env.Signature against the MPC cluster's aggregate
// key. Dev mode always succeeds so local/integration runs never need a live
// cluster; Production mode has no verification backend wired yet and always
// fails closed.
func (v *Validator) VerifySignature(env Envelope) error {
	if v.Mode == Dev {
		return nil
	}
	return errs.New(errs.KindMpc, errs.CodeMpcSignatureBad,
		"production MPC signature verification has no backend configured")
}

func bigFromPayload(payload map[string]any, key string) (*big.Int, error) {
	raw, ok := payload[key]
	if !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("field %q is not a string", key)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("field %q is not a base-10 integer", key)
	}
	return n, nil
}

func boolFromPayload(payload map[string]any, key string) (bool, error) {
	raw, ok := payload[key]
	if !ok {
		return false, fmt.Errorf("missing field %q", key)
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("field %q is not a bool", key)
	}
	return b, nil
}

// ParseComparePrices validates and parses a compare_prices callback.
func (v *Validator) ParseComparePrices(env Envelope) (*ComparePricesResult, error) {
	if env.Type != ComparePrices {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcUnknownType, "not a compare_prices callback")
	}
	if err := v.checkEnvelope(env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcCallbackFailed, env.Error.Message)
	}
	if err := v.VerifySignature(env); err != nil {
		return nil, err
	}
	equal, err := boolFromPayload(env.Payload, "equal")
	if err != nil {
		return nil, errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "compare_prices payload", err)
	}
	diff, err := bigFromPayload(env.Payload, "diff")
	if err != nil {
		return nil, errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "compare_prices payload", err)
	}
	return &ComparePricesResult{RequestID: env.RequestID, Equal: equal, Diff: diff}, nil
}

// ParseCalculateFill validates and parses a calculate_fill callback.
// fillAmount must be strictly positive and fillValue must be non-negative;
// a violation is rejected rather than silently clamped.
func (v *Validator) ParseCalculateFill(env Envelope) (*CalculateFillResult, error) {
	if env.Type != CalculateFill {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcUnknownType, "not a calculate_fill callback")
	}
	if err := v.checkEnvelope(env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcCallbackFailed, env.Error.Message)
	}
	if err := v.VerifySignature(env); err != nil {
		return nil, err
	}
	fillAmount, err := bigFromPayload(env.Payload, "fillAmount")
	if err != nil {
		return nil, errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "calculate_fill payload", err)
	}
	if fillAmount.Sign() <= 0 {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcInvalid, "fillAmount must be positive")
	}
	fillValue, err := bigFromPayload(env.Payload, "fillValue")
	if err != nil {
		return nil, errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "calculate_fill payload", err)
	}
	if fillValue.Sign() < 0 {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcInvalid, "fillValue must be non-negative")
	}
	return &CalculateFillResult{RequestID: env.RequestID, FillAmount: fillAmount, FillValue: fillValue}, nil
}

// ParseCheckLiquidation validates and parses a check_liquidation callback.
func (v *Validator) ParseCheckLiquidation(env Envelope) (*CheckLiquidationResult, error) {
	if env.Type != CheckLiquidation {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcUnknownType, "not a check_liquidation callback")
	}
	if err := v.checkEnvelope(env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcCallbackFailed, env.Error.Message)
	}
	if err := v.VerifySignature(env); err != nil {
		return nil, err
	}
	should, err := boolFromPayload(env.Payload, "shouldLiquidate")
	if err != nil {
		return nil, errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "check_liquidation payload", err)
	}
	ratio, err := bigFromPayload(env.Payload, "marginRatio")
	if err != nil {
		return nil, errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "check_liquidation payload", err)
	}
	return &CheckLiquidationResult{RequestID: env.RequestID, ShouldLiquidate: should, MarginRatio: ratio}, nil
}

// ParseCalculateMarginRatio validates and parses a calculate_margin_ratio callback.
func (v *Validator) ParseCalculateMarginRatio(env Envelope) (*CalculateMarginRatioResult, error) {
	if env.Type != CalculateMarginRatio {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcUnknownType, "not a calculate_margin_ratio callback")
	}
	if err := v.checkEnvelope(env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcCallbackFailed, env.Error.Message)
	}
	if err := v.VerifySignature(env); err != nil {
		return nil, err
	}
	ratio, err := bigFromPayload(env.Payload, "marginRatio")
	if err != nil {
		return nil, errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "calculate_margin_ratio payload", err)
	}
	return &CalculateMarginRatioResult{RequestID: env.RequestID, MarginRatio: ratio}, nil
}

// ParseCalculatePnl validates and parses a calculate_pnl callback. Pnl is
// signed and kept as a big.Int throughout; it is never coerced to float64.
func (v *Validator) ParseCalculatePnl(env Envelope) (*CalculatePnlResult, error) {
	if env.Type != CalculatePnl {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcUnknownType, "not a calculate_pnl callback")
	}
	if err := v.checkEnvelope(env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcCallbackFailed, env.Error.Message)
	}
	if err := v.VerifySignature(env); err != nil {
		return nil, err
	}
	pnl, err := bigFromPayload(env.Payload, "pnl")
	if err != nil {
		return nil, errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "calculate_pnl payload", err)
	}
	return &CalculatePnlResult{RequestID: env.RequestID, Pnl: pnl}, nil
}

// ParseCalculateFunding validates and parses a calculate_funding callback.
func (v *Validator) ParseCalculateFunding(env Envelope) (*CalculateFundingResult, error) {
	if env.Type != CalculateFunding {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcUnknownType, "not a calculate_funding callback")
	}
	if err := v.checkEnvelope(env); err != nil {
		return nil, err
	}
	if env.Error != nil {
		return nil, errs.New(errs.KindMpc, errs.CodeMpcCallbackFailed, env.Error.Message)
	}
	if err := v.VerifySignature(env); err != nil {
		return nil, err
	}
	rate, err := bigFromPayload(env.Payload, "fundingRate")
	if err != nil {
		return nil, errs.Wrap(errs.KindMpc, errs.CodeMpcInvalid, "calculate_funding payload", err)
	}
	return &CalculateFundingResult{RequestID: env.RequestID, FundingRate: rate}, nil
}

// ValidateOnChainEvent checks the fixed-width fields a decoded on-chain
// settlement event must carry before the orchestrator trusts it.
func ValidateOnChainEvent(ev OnChainEvent) error {
	if len(ev.RequestID) != requestIDBytes {
		return errs.New(errs.KindMpc, errs.CodeMpcInvalid,
			fmt.Sprintf("on-chain requestId must be %d bytes, got %d", requestIDBytes, len(ev.RequestID)))
	}
	if len(ev.EncryptedFillAmount) != encryptedFillAmountBytes {
		return errs.New(errs.KindMpc, errs.CodeMpcInvalid,
			fmt.Sprintf("on-chain encryptedFillAmount must be %d bytes, got %d", encryptedFillAmountBytes, len(ev.EncryptedFillAmount)))
	}
	return nil
}
