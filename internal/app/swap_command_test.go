package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/MithrandirBalrog/Clawlett/internal/registry"
)

const (
	testVault  = "0x2222222222222222222222222222222222222222"
	testRoles  = "0x1111111111111111111111111111111111111111"
	testRouter = "0x3333333333333333333333333333333333333333"

	// Mainnet pinned USDC; symbol lookups resolve here.
	usdcMainnet = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	// An unpinned deployment whose on-chain symbol collides with USDC.
	usdcImposter = "0xdddddddddddddddddddddddddddddddddddddddd"
)

var appERC20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20MinimalABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

type chainRPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// fakeReadChain serves the read-only RPC surface the quote path touches:
// ERC-20 metadata, token balances, and the native balance of the vault.
type fakeReadChain struct {
	nativeBalance *big.Int
	tokenBalances map[common.Address]*big.Int
	symbols       map[common.Address]string
	decimals      map[common.Address]uint8
}

func newReadChain(nativeBalance *big.Int) *fakeReadChain {
	return &fakeReadChain{
		nativeBalance: nativeBalance,
		tokenBalances: map[common.Address]*big.Int{},
		symbols: map[common.Address]string{
			common.HexToAddress(usdcMainnet):  "USDC",
			common.HexToAddress(usdcImposter): "USDC",
		},
		decimals: map[common.Address]uint8{
			common.HexToAddress(usdcMainnet):  6,
			common.HexToAddress(usdcImposter): 6,
		},
	}
}

func (c *fakeReadChain) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chainRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var result any
		switch req.Method {
		case "eth_getBalance":
			result = fmt.Sprintf("0x%x", c.nativeBalance)
		case "eth_call":
			out, err := c.answerCall(req.Params[0])
			if err != nil {
				t.Errorf("eth_call: %v", err)
				return
			}
			result = out
		default:
			t.Errorf("unexpected rpc method %s", req.Method)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": json.RawMessage(req.ID), "result": result,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *fakeReadChain) answerCall(raw json.RawMessage) (string, error) {
	var call struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Input string `json:"input"`
	}
	if err := json.Unmarshal(raw, &call); err != nil {
		return "", err
	}
	data := call.Input
	if data == "" {
		data = call.Data
	}
	to := common.HexToAddress(call.To)
	payload := common.FromHex(data)
	if len(payload) < 4 {
		return "", fmt.Errorf("short calldata %q", data)
	}

	var (
		out []byte
		err error
	)
	switch {
	case bytes.Equal(payload[:4], appERC20.Methods["symbol"].ID):
		out, err = appERC20.Methods["symbol"].Outputs.Pack(c.symbols[to])
	case bytes.Equal(payload[:4], appERC20.Methods["decimals"].ID):
		out, err = appERC20.Methods["decimals"].Outputs.Pack(c.decimals[to])
	case bytes.Equal(payload[:4], appERC20.Methods["balanceOf"].ID):
		balance := c.tokenBalances[to]
		if balance == nil {
			balance = new(big.Int)
		}
		out, err = appERC20.Methods["balanceOf"].Outputs.Pack(balance)
	default:
		return "", fmt.Errorf("unexpected selector %x", payload[:4])
	}
	if err != nil {
		return "", err
	}
	return "0x" + common.Bytes2Hex(out), nil
}

// countingAggregator serves one fixed quote and records how often it is hit.
type countingAggregator struct {
	mu    sync.Mutex
	calls int
	quote map[string]any
}

func (a *countingAggregator) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.calls++
		a.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.quote)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (a *countingAggregator) hits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func writeSwapConfig(t *testing.T, rpcURL, aggregatorURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`output: json
vault:
  chain_id: 1
  address: %q
  roles: %q
  role_key: swapper
  router: %q
endpoints:
  rpc_url: %q
  aggregator_url: %q
journal:
  path: %q
  lock_path: %q
`, testVault, testRoles, testRouter, rpcURL, aggregatorURL,
		filepath.Join(dir, "swaps.db"), filepath.Join(dir, "swaps.lock"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	for _, key := range []string{
		"CLAWLETT_OUTPUT", "CLAWLETT_TIMEOUT", "CLAWLETT_RPC_URL",
		"CLAWLETT_AGGREGATOR_URL", "CLAWLETT_AUCTION_API_URL", "CLAWLETT_SLIPPAGE",
	} {
		t.Setenv(key, "")
	}
}

func decodeEnvelope(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("parse envelope: %v output=%s", err, buf.String())
	}
	return env
}

func oneEther() *big.Int {
	eth, _ := new(big.Int).SetString("1000000000000000000", 10)
	return eth
}

func TestSwapQuoteAppliesSlippage(t *testing.T) {
	isolateEnv(t)
	chain := newReadChain(oneEther())
	rpc := chain.serve(t)
	agg := &countingAggregator{quote: map[string]any{
		"amountOut": "350000000",
		"to":        testRouter,
		"calldata":  "0x12345678aabb",
		"value":     "100000000000000000",
		"recipient": testVault,
		"route":     []string{"ETH", "USDC"},
	}}
	aggSrv := agg.serve(t)
	cfg := writeSwapConfig(t, rpc.URL, aggSrv.URL)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"swap", "0.1", "ETH", "to", "USDC", "--slippage", "0.01", "--config", cfg})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}

	env := decodeEnvelope(t, &stdout)
	data, _ := env["data"].(map[string]any)
	if data == nil {
		t.Fatalf("missing data in envelope: %s", stdout.String())
	}
	if got := data["min_amount_out"]; got != "346.5" {
		t.Fatalf("min_amount_out = %v, want 346.5", got)
	}
	if got := data["amount_out"]; got != "350" {
		t.Fatalf("amount_out = %v, want 350", got)
	}
	if got := data["executed"]; got != false {
		t.Fatalf("quote-only run must not execute, got executed=%v", got)
	}
	if agg.hits() != 1 {
		t.Fatalf("expected exactly one quote request, got %d", agg.hits())
	}
}

func TestSwapBalanceGateSkipsQuote(t *testing.T) {
	isolateEnv(t)
	chain := newReadChain(big.NewInt(1)) // 1 wei, far below 0.1 ETH
	rpc := chain.serve(t)
	agg := &countingAggregator{quote: map[string]any{}}
	aggSrv := agg.serve(t)
	cfg := writeSwapConfig(t, rpc.URL, aggSrv.URL)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"swap", "0.1", "ETH", "to", "USDC", "--config", cfg})
	if code != 40 {
		t.Fatalf("expected insufficient-balance exit 40, got %d stderr=%s", code, stderr.String())
	}
	if agg.hits() != 0 {
		t.Fatalf("quote service must not be consulted when the vault cannot fund the swap, got %d hits", agg.hits())
	}
	env := decodeEnvelope(t, &stderr)
	if env["success"] != false {
		t.Fatalf("expected success=false envelope, got %s", stderr.String())
	}
}

func TestSwapRejectsQuoteTargetingForeignContract(t *testing.T) {
	isolateEnv(t)
	chain := newReadChain(oneEther())
	rpc := chain.serve(t)
	agg := &countingAggregator{quote: map[string]any{
		"amountOut": "350000000",
		"to":        "0x4444444444444444444444444444444444444444",
		"calldata":  "0x12345678aabb",
		"value":     "100000000000000000",
		"recipient": testVault,
	}}
	aggSrv := agg.serve(t)
	cfg := writeSwapConfig(t, rpc.URL, aggSrv.URL)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"swap", "0.1", "ETH", "to", "USDC", "--config", cfg})
	if code != 32 {
		t.Fatalf("expected unsafe-quote exit 32, got %d stderr=%s", code, stderr.String())
	}
}

func TestSwapUnverifiedTokenGate(t *testing.T) {
	isolateEnv(t)
	chain := newReadChain(oneEther())
	rpc := chain.serve(t)
	agg := &countingAggregator{quote: map[string]any{
		"amountOut": "350000000",
		"to":        testRouter,
		"calldata":  "0x12345678aabb",
		"value":     "100000000000000000",
		"recipient": testVault,
	}}
	aggSrv := agg.serve(t)
	cfg := writeSwapConfig(t, rpc.URL, aggSrv.URL)

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"swap", "0.1", "ETH", "to", usdcImposter, "--config", cfg})
	if code != 21 {
		t.Fatalf("expected protected-token exit 21, got %d stderr=%s", code, stderr.String())
	}
	env := decodeEnvelope(t, &stderr)
	errInfo, _ := env["error"].(map[string]any)
	if errInfo == nil || !strings.Contains(errInfo["message"].(string), "--allow-unverified") {
		t.Fatalf("error should point at --allow-unverified: %s", stderr.String())
	}

	// The same swap proceeds with the override, carrying the warning through.
	stdout.Reset()
	stderr.Reset()
	r = NewRunnerWithWriters(&stdout, &stderr)
	code = r.Run([]string{"swap", "0.1", "ETH", "to", usdcImposter, "--allow-unverified", "--config", cfg})
	if code != 0 {
		t.Fatalf("expected exit 0 with --allow-unverified, got %d stderr=%s", code, stderr.String())
	}
	env = decodeEnvelope(t, &stdout)
	warnings, _ := env["warnings"].([]any)
	if len(warnings) != 1 {
		t.Fatalf("expected one impersonation warning, got %v", env["warnings"])
	}
}

func TestSwapUsageErrors(t *testing.T) {
	isolateEnv(t)
	cfg := writeSwapConfig(t, "http://127.0.0.1:0", "http://127.0.0.1:0")
	cases := []struct {
		name string
		args []string
	}{
		{"unparseable phrase", []string{"swap", "lots", "of", "nonsense", "--config", cfg}},
		{"unknown venue", []string{"swap", "0.1", "ETH", "to", "USDC", "--venue", "otc", "--config", cfg}},
		{"conflicting output flags", []string{"tokens", "--json", "--plain"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			r := NewRunnerWithWriters(&stdout, &stderr)
			if code := r.Run(tc.args); code != 2 {
				t.Fatalf("expected usage exit 2, got %d stderr=%s", code, stderr.String())
			}
		})
	}
}

func TestSwapRejectsExcessiveSlippage(t *testing.T) {
	isolateEnv(t)
	cfg := writeSwapConfig(t, "http://127.0.0.1:0", "http://127.0.0.1:0")

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"swap", "0.1", "ETH", "to", "USDC", "--slippage", "0.75", "--config", cfg})
	if code != 33 {
		t.Fatalf("expected invalid-slippage exit 33, got %d stderr=%s", code, stderr.String())
	}
}
