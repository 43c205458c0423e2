package model

import "math/big"

// Venue selects the execution path for a swap.
type Venue string

const (
	// VenueRouter executes immediately against the approved router with
	// calldata supplied by the quote service.
	VenueRouter Venue = "router"
	// VenueAuction submits a presign order to the batch-auction order book
	// and tracks it to a terminal state.
	VenueAuction Venue = "auction"
)

// ApprovalMode bounds how far an allowance raise may go.
type ApprovalMode string

const (
	ApprovalExact ApprovalMode = "exact"
	ApprovalMax   ApprovalMode = "max"
)

// TokenDescriptor is the result of resolving a user-supplied token
// reference. Verified means the address equals the registry's pinned entry
// for the symbol. A protected symbol resolved to a different address carries
// a non-empty Warning and Verified=false; the caller decides whether to
// proceed. Descriptors are constructed per resolution and never shared.
type TokenDescriptor struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Verified bool   `json:"verified"`
	Native   bool   `json:"native"`
	Warning  string `json:"warning,omitempty"`
}

// RouteQuote is a direct-venue quote carrying ready-to-submit calldata.
// Quotes are fetched fresh per attempt and never reused; prices move.
type RouteQuote struct {
	AmountIn     *big.Int
	AmountOut    *big.Int
	MinAmountOut *big.Int // nil when the service leaves protection to us
	Route        []string
	Recipient    string // where the service says output funds land
	Target       string // router contract the calldata is addressed to
	Calldata     []byte
	EthValue     *big.Int
	IsMultiHop   bool
}

// Envelope wraps every command result for rendering. Machine consumers read
// the JSON form; the plain form flattens Data into key=value lines.
type Envelope struct {
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the rendered form of a typed failure.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SwapSummary is the rendered outcome of one swap invocation.
type SwapSummary struct {
	Venue        string   `json:"venue"`
	ChainID      int64    `json:"chain_id"`
	FromToken    string   `json:"from_token"`
	FromAddress  string   `json:"from_address"`
	ToToken      string   `json:"to_token"`
	ToAddress    string   `json:"to_address"`
	AmountIn     string   `json:"amount_in"`
	AmountOut    string   `json:"amount_out"`
	MinAmountOut string   `json:"min_amount_out"`
	Route        []string `json:"route,omitempty"`
	Executed     bool     `json:"executed"`
	TxHash       string   `json:"tx_hash,omitempty"`
	OrderUID     string   `json:"order_uid,omitempty"`
	OrderStatus  string   `json:"order_status,omitempty"`
	BalanceAfter string   `json:"balance_after,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}
