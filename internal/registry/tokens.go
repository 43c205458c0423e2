package registry

import "strings"

// Token is a pinned registry entry: the only address trusted for its symbol
// on a given chain. The zero address marks the chain's native asset.
type Token struct {
	Symbol   string
	Address  string
	Decimals int
	Native   bool
}

const NativeSentinel = "0x0000000000000000000000000000000000000000"

// Order within each slice is the display order for the tokens command.
var tokensByChainID = map[int64][]Token{
	1: {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18, Native: true},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
		{Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
	},
	100: {
		{Symbol: "XDAI", Address: NativeSentinel, Decimals: 18, Native: true},
		{Symbol: "WXDAI", Address: "0xe91D153E0b41518A2Ce8Dd3D7944Fa863463a97d", Decimals: 18},
		{Symbol: "USDC", Address: "0xDDAfbb505ad214D7b80b1f830fcCc89B60fb7A83", Decimals: 6},
		{Symbol: "WETH", Address: "0x6A023CCd1ff6F2045C3309768eAd9E68F978f6e1", Decimals: 18},
		{Symbol: "GNO", Address: "0x9C58BAcC331c9aa871AFD802DB6379a98e80CEdb", Decimals: 18},
	},
	42161: {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18, Native: true},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WBTC", Address: "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f", Decimals: 8},
	},
	8453: {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18, Native: true},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "DAI", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
	},
}

// Protected symbols are high-value tickers commonly impersonated by scam
// deployments. For these only the pinned registry address is trusted.
var protectedSymbols = map[string]struct{}{
	"ETH":   {},
	"WETH":  {},
	"USDC":  {},
	"USDT":  {},
	"DAI":   {},
	"WBTC":  {},
	"XDAI":  {},
	"WXDAI": {},
	"GNO":   {},
}

// Aliases are consulted before the primary registry lookup.
var symbolAliases = map[string]string{
	"ETHEREUM": "ETH",
	"ETHER":    "ETH",
	"TETHER":   "USDT",
	"GNOSIS":   "GNO",
}

// CanonicalSymbol normalizes a user-supplied symbol reference: trims an
// optional currency sigil, uppercases, and applies the alias table.
func CanonicalSymbol(ref string) string {
	s := strings.ToUpper(strings.TrimSpace(ref))
	s = strings.TrimPrefix(s, "$")
	if alias, ok := symbolAliases[s]; ok {
		return alias
	}
	return s
}

// LookupToken returns the pinned entry for a canonical symbol on chainID.
func LookupToken(chainID int64, symbol string) (Token, bool) {
	for _, t := range tokensByChainID[chainID] {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// VerifiedAddress returns the pinned address for symbol on chainID, if any.
func VerifiedAddress(chainID int64, symbol string) (string, bool) {
	t, ok := LookupToken(chainID, symbol)
	if !ok {
		return "", false
	}
	return t.Address, true
}

func IsProtectedSymbol(symbol string) bool {
	_, ok := protectedSymbols[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}

// Tokens returns the registry entries for chainID in display order.
func Tokens(chainID int64) []Token {
	src := tokensByChainID[chainID]
	out := make([]Token, len(src))
	copy(out, src)
	return out
}

// NativeToken returns the native-asset entry for chainID.
func NativeToken(chainID int64) (Token, bool) {
	for _, t := range tokensByChainID[chainID] {
		if t.Native {
			return t, true
		}
	}
	return Token{}, false
}
