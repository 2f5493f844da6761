package mpc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func validRequestID() string {
	return strings.Repeat("ab", 32)
}

func validSignature() string {
	return strings.Repeat("cd", 32)
}

func TestParseCalculateFill_Valid(t *testing.T) {
	require := require.New(t)
	v := New(Dev)

	env := Envelope{
		Type:      CalculateFill,
		RequestID: validRequestID(),
		Signature: validSignature(),
		Payload: map[string]any{
			"fillAmount": "1000",
			"fillValue":  "5000",
		},
	}
	res, err := v.ParseCalculateFill(env)
	require.NoError(err)
	require.Equal(int64(1000), res.FillAmount.Int64())
	require.Equal(int64(5000), res.FillValue.Int64())
}

func TestParseCalculateFill_RejectsNonPositiveFillAmount(t *testing.T) {
	require := require.New(t)
	v := New(Dev)

	env := Envelope{
		Type:      CalculateFill,
		RequestID: validRequestID(),
		Signature: validSignature(),
		Payload: map[string]any{
			"fillAmount": "0",
			"fillValue":  "5000",
		},
	}
	_, err := v.ParseCalculateFill(env)
	require.Error(err)
}

func TestParseCalculateFill_RejectsNegativeFillValue(t *testing.T) {
	require := require.New(t)
	v := New(Dev)

	env := Envelope{
		Type:      CalculateFill,
		RequestID: validRequestID(),
		Signature: validSignature(),
		Payload: map[string]any{
			"fillAmount": "10",
			"fillValue":  "-1",
		},
	}
	_, err := v.ParseCalculateFill(env)
	require.Error(err)
}

func TestCheckEnvelope_RejectsBadRequestIDLength(t *testing.T) {
	require := require.New(t)
	v := New(Dev)

	env := Envelope{
		Type:      ComparePrices,
		RequestID: "ab",
		Signature: validSignature(),
		Payload:   map[string]any{"equal": true, "diff": "0"},
	}
	_, err := v.ParseComparePrices(env)
	require.Error(err)
}

func TestCheckEnvelope_RejectsNonHexRequestID(t *testing.T) {
	require := require.New(t)
	v := New(Dev)

	env := Envelope{
		Type:      ComparePrices,
		RequestID: strings.Repeat("zz", 32),
		Signature: validSignature(),
		Payload:   map[string]any{"equal": true, "diff": "0"},
	}
	_, err := v.ParseComparePrices(env)
	require.Error(err)
}

func TestCheckEnvelope_RejectsNegativeClusterOffset(t *testing.T) {
	require := require.New(t)
	v := New(Dev)

	env := Envelope{
		Type:          ComparePrices,
		RequestID:     validRequestID(),
		Signature:     validSignature(),
		ClusterOffset: -1,
		Payload:       map[string]any{"equal": true, "diff": "0"},
	}
	_, err := v.ParseComparePrices(env)
	require.Error(err)
}

func TestCheckEnvelope_RejectsShortSignature(t *testing.T) {
	require := require.New(t)
	v := New(Dev)

	env := Envelope{
		Type:      ComparePrices,
		RequestID: validRequestID(),
		Signature: "abcd",
		Payload:   map[string]any{"equal": true, "diff": "0"},
	}
	_, err := v.ParseComparePrices(env)
	require.Error(err)
}

func TestParseComparePrices_WrongType(t *testing.T) {
	require := require.New(t)
	v := New(Dev)

	env := Envelope{Type: CalculateFill, RequestID: validRequestID(), Signature: validSignature()}
	_, err := v.ParseComparePrices(env)
	require.Error(err)
}

func TestVerifySignature_ProductionFailsClosed(t *testing.T) {
	require := require.New(t)
	v := New(Production)

	env := Envelope{Type: ComparePrices, RequestID: validRequestID(), Signature: validSignature()}
	require.Error(v.VerifySignature(env))
}

func TestValidateOnChainEvent(t *testing.T) {
	require := require.New(t)

	ev := OnChainEvent{
		RequestID:           make([]byte, 32),
		EncryptedFillAmount: make([]byte, 64),
	}
	require.NoError(ValidateOnChainEvent(ev))

	ev.EncryptedFillAmount = make([]byte, 10)
	require.Error(ValidateOnChainEvent(ev))
}
