package registry

import (
	"fmt"
	"strings"
)

// Batch-auction API base URLs by chain ID. Paths below the base follow the
// order-book API shape: /quote, /orders, /orders/{uid}, /app_data/{hash}.
var auctionAPIByChainID = map[int64]string{
	1:     "https://api.cow.fi/mainnet/api/v1",
	100:   "https://api.cow.fi/xdai/api/v1",
	42161: "https://api.cow.fi/arbitrum_one/api/v1",
	8453:  "https://api.cow.fi/base/api/v1",
}

func AuctionAPIURL(chainID int64) (string, bool) {
	value, ok := auctionAPIByChainID[chainID]
	return value, ok
}

func ResolveAuctionAPIURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimRight(strings.TrimSpace(override), "/"), nil
	}
	if value, ok := AuctionAPIURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no auction api configured for chain id %d", chainID)
}
