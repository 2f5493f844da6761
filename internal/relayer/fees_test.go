package relayer

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNetAmount(t *testing.T) {
	require := require.New(t)

	net := NetAmount(big.NewInt(10000))
	require.Equal(big.NewInt(9900), net)

	net = NetAmount(big.NewInt(0))
	require.Equal(big.NewInt(0), net)
}

func TestGrossAmount_RoundTrips(t *testing.T) {
	require := require.New(t)

	for _, net := range []int64{1, 99, 9900, 1_000_000} {
		gross := GrossAmount(big.NewInt(net))
		require.GreaterOrEqual(NetAmount(gross).Int64(), net)
	}
}

func TestTokenForMint(t *testing.T) {
	require := require.New(t)

	tok, err := TokenForMint("So11111111111111111111111111111111111111112")
	require.NoError(err)
	require.Equal("SOL", tok)

	_, err = TokenForMint("not-a-real-mint")
	require.Error(err)
}

func TestMintForToken_Alias(t *testing.T) {
	require := require.New(t)

	mint, err := MintForToken("WSOL")
	require.NoError(err)
	require.Equal("So11111111111111111111111111111111111111112", mint)
}
