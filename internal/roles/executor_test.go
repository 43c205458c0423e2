package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/roles/signer"
)

var (
	rolesAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	vaultAddr  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	routerAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// fakeChain is a JSON-RPC endpoint covering the executor's full submission
// path: preflight reads, simulation, fee discovery, broadcast, receipt poll.
type fakeChain struct {
	mu            sync.Mutex
	chainID       int64
	code          map[common.Address]string
	callErr       *rpcError
	receiptStatus uint64
	sentTxs       []*types.Transaction
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (c *fakeChain) handle(t *testing.T, w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var result any
	var rpcErr *rpcError
	switch req.Method {
	case "eth_chainId":
		result = fmt.Sprintf("0x%x", c.chainID)
	case "eth_getCode":
		var addr string
		_ = json.Unmarshal(req.Params[0], &addr)
		code, ok := c.code[common.HexToAddress(addr)]
		if !ok {
			code = "0x"
		}
		result = code
	case "eth_call":
		if c.callErr != nil {
			rpcErr = c.callErr
		} else {
			result = "0x"
		}
	case "eth_estimateGas":
		if c.callErr != nil {
			rpcErr = c.callErr
		} else {
			result = "0x30d40"
		}
	case "eth_maxPriorityFeePerGas":
		result = "0x77359400"
	case "eth_getBlockByNumber":
		header := &types.Header{
			Number:     big.NewInt(100),
			Difficulty: big.NewInt(0),
			GasLimit:   30_000_000,
			BaseFee:    big.NewInt(1_000_000_000),
		}
		result = header
	case "eth_getTransactionCount":
		result = "0x0"
	case "eth_sendRawTransaction":
		var raw string
		_ = json.Unmarshal(req.Params[0], &raw)
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(common.FromHex(raw)); err != nil {
			t.Errorf("decode raw tx: %v", err)
		}
		c.sentTxs = append(c.sentTxs, tx)
		result = tx.Hash().Hex()
	case "eth_getTransactionReceipt":
		if len(c.sentTxs) == 0 {
			result = nil
		} else {
			tx := c.sentTxs[len(c.sentTxs)-1]
			result = &types.Receipt{
				Type:              types.DynamicFeeTxType,
				Status:            c.receiptStatus,
				CumulativeGasUsed: 100_000,
				Logs:              []*types.Log{},
				TxHash:            tx.Hash(),
				GasUsed:           100_000,
				BlockNumber:       big.NewInt(101),
			}
		}
	default:
		rpcErr = &rpcError{Code: -32601, Message: "method not supported in test: " + req.Method}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{"jsonrpc": "2.0", "id": json.RawMessage(req.ID)}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestExecutor(t *testing.T, chain *fakeChain, configuredChainID int64) *Executor {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chain.handle(t, w, r)
	}))
	t.Cleanup(srv.Close)
	client, err := ethclient.Dial(srv.URL)
	if err != nil {
		t.Fatalf("dial test rpc: %v", err)
	}
	t.Cleanup(client.Close)

	s, err := signer.New(signer.Config{
		PrivateKeyHex: "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1",
	})
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}
	roleKey, err := ParseRoleKey("swapper")
	if err != nil {
		t.Fatalf("parse role key: %v", err)
	}
	opts := DefaultOptions()
	opts.PollInterval = 5 * time.Millisecond
	opts.ReceiptTimeout = time.Second
	exec, err := NewExecutor(client, s, configuredChainID, rolesAddr, vaultAddr, roleKey, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("create executor: %v", err)
	}
	return exec
}

func deployedChain() *fakeChain {
	return &fakeChain{
		chainID: 1,
		code: map[common.Address]string{
			rolesAddr: "0x6080",
			vaultAddr: "0x6080",
		},
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func TestParseRoleKey(t *testing.T) {
	key, err := ParseRoleKey("swapper")
	if err != nil {
		t.Fatalf("ParseRoleKey failed: %v", err)
	}
	if string(key[:7]) != "swapper" || key[7] != 0 {
		t.Fatalf("label key not left-aligned zero-padded: %x", key)
	}

	hexKey := "0x" + strings.Repeat("ab", 32)
	key, err = ParseRoleKey(hexKey)
	if err != nil {
		t.Fatalf("ParseRoleKey hex failed: %v", err)
	}
	if key[0] != 0xab || key[31] != 0xab {
		t.Fatalf("hex key mangled: %x", key)
	}

	for _, bad := range []string{"", "0x1234", strings.Repeat("x", 33)} {
		if _, err := ParseRoleKey(bad); !clierr.Is(err, clierr.CodeConfig) {
			t.Fatalf("ParseRoleKey(%q): expected config error, got %v", bad, err)
		}
	}
}

func TestPreflightChainMismatch(t *testing.T) {
	chain := deployedChain()
	chain.chainID = 100
	exec := newTestExecutor(t, chain, 1)
	if err := exec.Preflight(context.Background()); !clierr.Is(err, clierr.CodeChainMismatch) {
		t.Fatalf("expected chain-mismatch, got %v", err)
	}
}

func TestPreflightMissingBytecode(t *testing.T) {
	chain := deployedChain()
	delete(chain.code, vaultAddr)
	exec := newTestExecutor(t, chain, 1)
	if err := exec.Preflight(context.Background()); !clierr.Is(err, clierr.CodeNotDeployed) {
		t.Fatalf("expected not-deployed, got %v", err)
	}
}

func TestPreflightChecksVenueTargets(t *testing.T) {
	chain := deployedChain()
	exec := newTestExecutor(t, chain, 1)

	// The roles contract and vault are deployed but the router is codeless;
	// an inner call to it would succeed while moving nothing.
	err := exec.Preflight(context.Background(), Target{Name: "router", Addr: routerAddr})
	if !clierr.Is(err, clierr.CodeNotDeployed) {
		t.Fatalf("expected not-deployed for codeless router, got %v", err)
	}

	chain.mu.Lock()
	chain.code[routerAddr] = "0x6080"
	chain.mu.Unlock()
	if err := exec.Preflight(context.Background(), Target{Name: "router", Addr: routerAddr}); err != nil {
		t.Fatalf("Preflight with deployed router failed: %v", err)
	}
}

func TestExecWrapsCallThroughRoleContract(t *testing.T) {
	chain := deployedChain()
	exec := newTestExecutor(t, chain, 1)

	innerData := common.FromHex("0x12345678aabb")
	txHash, err := exec.Exec(context.Background(), Call{
		To:        routerAddr,
		Value:     big.NewInt(42),
		Data:      innerData,
		Operation: OperationCall,
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if txHash == "" {
		t.Fatal("expected a transaction hash")
	}

	chain.mu.Lock()
	defer chain.mu.Unlock()
	if len(chain.sentTxs) != 1 {
		t.Fatalf("expected 1 broadcast tx, got %d", len(chain.sentTxs))
	}
	tx := chain.sentTxs[0]
	if tx.To() == nil || *tx.To() != rolesAddr {
		t.Fatalf("outer tx target = %v, want role contract", tx.To())
	}
	if tx.Value().Sign() != 0 {
		t.Fatalf("outer tx value = %s, must be zero", tx.Value())
	}

	method, ok := exec.rolesABI.Methods["execTransactionWithRole"]
	if !ok {
		t.Fatal("missing execTransactionWithRole in abi")
	}
	data := tx.Data()
	if len(data) < 4 || string(data[:4]) != string(method.ID) {
		t.Fatalf("outer calldata selector mismatch")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack role calldata: %v", err)
	}
	if got := args[0].(common.Address); got != routerAddr {
		t.Fatalf("inner target = %s", got.Hex())
	}
	if got := args[1].(*big.Int); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("inner value = %s", got)
	}
	if got := args[2].([]byte); string(got) != string(innerData) {
		t.Fatalf("inner calldata mismatch")
	}
	if got := args[5].(bool); !got {
		t.Fatal("shouldRevert must be true")
	}
}

func TestExecSimulationRevertStopsBeforeBroadcast(t *testing.T) {
	chain := deployedChain()
	chain.callErr = &rpcError{Code: 3, Message: "execution reverted"}
	exec := newTestExecutor(t, chain, 1)

	_, err := exec.Exec(context.Background(), Call{To: routerAddr, Data: []byte{0x01}})
	if !clierr.Is(err, clierr.CodeExecutionReverted) {
		t.Fatalf("expected execution-reverted, got %v", err)
	}
	chain.mu.Lock()
	defer chain.mu.Unlock()
	if len(chain.sentTxs) != 0 {
		t.Fatalf("reverted simulation must not broadcast, got %d txs", len(chain.sentTxs))
	}
}

func TestExecRevertedReceipt(t *testing.T) {
	chain := deployedChain()
	chain.receiptStatus = types.ReceiptStatusFailed
	exec := newTestExecutor(t, chain, 1)

	_, err := exec.Exec(context.Background(), Call{To: routerAddr, Data: []byte{0x01}})
	if !clierr.Is(err, clierr.CodeExecutionReverted) {
		t.Fatalf("expected execution-reverted, got %v", err)
	}
	chain.mu.Lock()
	defer chain.mu.Unlock()
	if len(chain.sentTxs) != 1 {
		t.Fatalf("expected exactly one broadcast, got %d; reverts are never retried", len(chain.sentTxs))
	}
}

func TestDecodeRevertData(t *testing.T) {
	reason := decodeRevertData(encodeErrorString(t, "slippage too high"))
	if reason != "slippage too high" {
		t.Fatalf("decoded reason = %q", reason)
	}
	reason = decodeRevertData(common.FromHex("0xdeadbeef"))
	if !strings.Contains(reason, "0xdeadbeef") {
		t.Fatalf("expected custom selector in reason, got %q", reason)
	}
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	encoded, err := (abi.Arguments{{Type: stringTy}}).Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, encoded...)
}
