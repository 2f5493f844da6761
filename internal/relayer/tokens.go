package relayer

import "github.com/luxfi/crank/internal/errs"

// mintToToken is the closed mint-address -> relayer-token-symbol map (spec
// §6). The relayer only knows about tokens on this list; TokenForMint and
// MintForToken return a validation error for anything else.
var mintToToken = map[string]string{
	"So11111111111111111111111111111111111111112":  "SOL",
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v":  "USDC",
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB":  "USDT",
	"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":   "MSOL",
	"7dHbWXmci3dT8UFYWYZweBLXgycu7Y3iL6trKn1Y7ARj":  "STSOL",
	"J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn":  "JITOSOL",
	"bSo13r4TkiE4KumL71LsHTPpL2euBYLFx6h9HP3piy1":   "BSOL",
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263":  "BONK",
	"jtojtomepa8beP8AuQc6eXt5FriJwfFMwQx2v2f9mCL":   "JTO",
	"rndrizKT3MK1iimdxRdWabcF7Zg7AR5T4nud4EkHBof":   "RNDR",
	"WENWENvqqNya429ubCdR81ZmD69brwQaaBYY6p3LCpk":   "WEN",
	"HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3":  "PYTH",
	"A8C3xuqscfmyLrte3VmTqrAq8kgMASius9AFNANwpump":  "FARTCOIN",
	"EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm":  "WIF",
	"5z3EqYQo9HiCEs3R84RCDMu2n7anpDMxRhdK8PSWmrRC":  "RAY",
	"27G8MtK7VtTcCHkpASjSDdkWWYfoqT6ggEuKidVJidD4":  "JLP",
	"kinXdEcpDQeHPEuQnqmUgtYykqKGVFq6CeVX5iAHJq6":   "KIN",
}

// tokenToMint is derived from mintToToken for the reverse lookup direction.
var tokenToMint = func() map[string]string {
	m := make(map[string]string, len(mintToToken))
	for mint, tok := range mintToToken {
		m[tok] = mint
	}
	return m
}()

// aliases maps a small set of alternate symbols onto the canonical token
// name, matching how the relayer's own API documents accepted symbols.
var aliases = map[string]string{
	"WSOL":    "SOL",
	"MARINADE_SOL": "MSOL",
}

// TokenForMint resolves mint to its relayer token symbol.
func TokenForMint(mint string) (string, error) {
	if tok, ok := mintToToken[mint]; ok {
		return tok, nil
	}
	return "", errs.New(errs.KindValidation, errs.CodeValidationFailed, "unsupported mint: "+mint)
}

// MintForToken resolves a token symbol (or alias) back to its mint address.
func MintForToken(token string) (string, error) {
	if canon, ok := aliases[token]; ok {
		token = canon
	}
	if mint, ok := tokenToMint[token]; ok {
		return mint, nil
	}
	return "", errs.New(errs.KindValidation, errs.CodeValidationFailed, "unsupported token: "+token)
}
