package relayer

import "math/big"

// FeeBps is the relayer's flat fee, 100 basis points (1%), per spec §6.
const FeeBps = 100

var bpsDenominator = big.NewInt(10000)

// NetAmount returns gross with the relayer's fee deducted, rounding the fee
// down so the sum of net+fee never exceeds gross.
func NetAmount(gross *big.Int) *big.Int {
	fee := feeFor(gross)
	return new(big.Int).Sub(gross, fee)
}

// GrossAmount returns the gross amount that nets to at least net after the
// relayer's fee, i.e. the inverse of NetAmount for quoting purposes.
func GrossAmount(net *big.Int) *big.Int {
	// gross - floor(gross * bps / 10000) = net
	// solved by scaling net up by 10000/(10000-bps), then correcting for
	// integer rounding by nudging up while the fee still undershoots.
	num := new(big.Int).Mul(net, bpsDenominator)
	den := big.NewInt(10000 - FeeBps)
	gross := new(big.Int).Div(num, den)
	for NetAmount(gross).Cmp(net) < 0 {
		gross.Add(gross, big.NewInt(1))
	}
	return gross
}

func feeFor(gross *big.Int) *big.Int {
	fee := new(big.Int).Mul(gross, big.NewInt(FeeBps))
	fee.Div(fee, bpsDenominator)
	return fee
}
