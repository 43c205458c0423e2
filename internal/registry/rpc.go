package registry

import (
	"fmt"
	"strings"
)

// Canonical default EVM RPC endpoints by chain ID, used whenever the
// configuration does not pin an endpoint.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	100:   "https://rpc.gnosischain.com",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide rpc_url", chainID)
}
