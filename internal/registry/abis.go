package registry

// ABI fragments shared by the resolver, allowance manager, and executors.
const (
	ERC20MinimalABI = `[
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	WrappedNativeABI = `[
		{"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
	]`

	// Role-permission module entry point. Every state-changing call the agent
	// makes goes through this function; the module checks the role key against
	// its scoping rules and executes from the vault.
	RolesModifierABI = `[
		{"name":"execTransactionWithRole","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"},{"name":"roleKey","type":"bytes32"},{"name":"shouldRevert","type":"bool"}],"outputs":[{"name":"success","type":"bool"}]}
	]`

	// Batch-auction settlement contract: on-chain presignature toggle.
	SettlementABI = `[
		{"name":"setPreSignature","type":"function","stateMutability":"nonpayable","inputs":[{"name":"orderUid","type":"bytes"},{"name":"signed","type":"bool"}],"outputs":[]}
	]`
)
