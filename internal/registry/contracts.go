package registry

// Canonical batch-auction protocol deployments. The settlement contract and
// its vault relayer share addresses across supported chains.
const (
	settlementAddress   = "0x9008D19f58AAbD9eD0D60971565AA8510560ab41"
	vaultRelayerAddress = "0xC92E8bdf79f0507f65a392b0ab4667716BFE0110"
)

var auctionChainIDs = map[int64]struct{}{
	1:     {},
	100:   {},
	42161: {},
	8453:  {},
}

func SettlementContract(chainID int64) (string, bool) {
	if _, ok := auctionChainIDs[chainID]; !ok {
		return "", false
	}
	return settlementAddress, true
}

// VaultRelayer is the spender the vault must approve before a batch-auction
// order can settle; the settlement contract itself never pulls funds.
func VaultRelayer(chainID int64) (string, bool) {
	if _, ok := auctionChainIDs[chainID]; !ok {
		return "", false
	}
	return vaultRelayerAddress, true
}

// WrappedNative returns the canonical wrapped form of the chain's native
// asset. The auction protocol settles ERC20 balances only, so native input
// is wrapped through this contract first.
func WrappedNative(chainID int64) (string, bool) {
	var symbol string
	switch chainID {
	case 100:
		symbol = "WXDAI"
	default:
		symbol = "WETH"
	}
	return VerifiedAddress(chainID, symbol)
}
