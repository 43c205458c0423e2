package roles

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/registry"
	"github.com/MithrandirBalrog/Clawlett/internal/roles/signer"
)

// Operation selects the inner call type forwarded by the role contract.
const (
	OperationCall         uint8 = 0
	OperationDelegateCall uint8 = 1
)

// Call is one vault action routed through the role contract. Value is spent
// from the vault's balance; the agent's outer transaction always carries
// zero value.
type Call struct {
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation uint8
}

// Submitter executes vault calls. Satisfied by *Executor in production and by
// fakes in tests.
type Submitter interface {
	Exec(ctx context.Context, call Call) (string, error)
}

// Options tune transaction submission. Defaults favor safety: simulate
// before broadcast, generous receipt timeout, modest gas headroom.
type Options struct {
	Simulate       bool
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	GasMultiplier  float64
}

func DefaultOptions() Options {
	return Options{
		Simulate:       true,
		PollInterval:   2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
	}
}

// Executor submits vault actions through a role-permission contract. The
// agent key signs outer transactions addressed to the role contract; the
// contract checks the role's scope and forwards the inner call from the
// vault. A swap that the role does not permit reverts on-chain, so the
// blast radius of a leaked agent key is bounded by the role scope.
type Executor struct {
	client   *ethclient.Client
	signer   signer.Signer
	chainID  int64
	roles    common.Address
	vault    common.Address
	roleKey  [32]byte
	rolesABI abi.ABI
	opts     Options
	log      zerolog.Logger
}

func NewExecutor(client *ethclient.Client, txSigner signer.Signer, chainID int64, rolesAddr, vault common.Address, roleKey [32]byte, opts Options, log zerolog.Logger) (*Executor, error) {
	if client == nil {
		return nil, clierr.New(clierr.CodeInternal, "missing rpc client")
	}
	if txSigner == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing agent signer")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	parsed, err := abi.JSON(strings.NewReader(registry.RolesModifierABI))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse roles abi", err)
	}
	return &Executor{
		client:   client,
		signer:   txSigner,
		chainID:  chainID,
		roles:    rolesAddr,
		vault:    vault,
		roleKey:  roleKey,
		rolesABI: parsed,
		opts:     opts,
		log:      log,
	}, nil
}

// ParseRoleKey accepts either a 32-byte hex key or a short ASCII label,
// which is left-aligned and zero-padded the way role contracts store it.
func ParseRoleKey(raw string) ([32]byte, error) {
	var key [32]byte
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return key, clierr.New(clierr.CodeConfig, "role key is required")
	}
	if strings.HasPrefix(clean, "0x") {
		buf := common.FromHex(clean)
		if len(buf) != 32 {
			return key, clierr.New(clierr.CodeConfig,
				fmt.Sprintf("role key must be 32 bytes, got %d", len(buf)))
		}
		copy(key[:], buf)
		return key, nil
	}
	if len(clean) > 32 {
		return key, clierr.New(clierr.CodeConfig, "role key label exceeds 32 bytes")
	}
	copy(key[:], clean)
	return key, nil
}

// Target names a contract the flow will call, checked for deployed bytecode
// during preflight. An inner call to a codeless address succeeds trivially
// and would report a swap that moved nothing, so every call target is
// verified up front.
type Target struct {
	Name string
	Addr common.Address
}

// Preflight verifies the connected chain and the deployment of the role
// contract, the vault, and every venue contract the flow will call. Run once
// per invocation, before any signing.
func (e *Executor) Preflight(ctx context.Context, targets ...Target) error {
	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if chainID.Int64() != e.chainID {
		return clierr.New(clierr.CodeChainMismatch,
			fmt.Sprintf("rpc endpoint serves chain %d, configured vault lives on chain %d", chainID.Int64(), e.chainID))
	}
	checks := append([]Target{
		{Name: "role contract", Addr: e.roles},
		{Name: "vault", Addr: e.vault},
	}, targets...)
	for _, target := range checks {
		code, err := e.client.CodeAt(ctx, target.Addr, nil)
		if err != nil {
			return clierr.Wrap(clierr.CodeUnavailable, "read contract code", err)
		}
		if len(code) == 0 {
			return clierr.New(clierr.CodeNotDeployed,
				fmt.Sprintf("%s %s has no bytecode on chain %d", target.Name, target.Addr.Hex(), e.chainID))
		}
	}
	return nil
}

// Exec wraps the call into the role contract's execution entrypoint, signs
// with the agent key and broadcasts, then waits for the receipt. A revert is
// terminal; priced actions are never retried because the quote that priced
// them has expired.
func (e *Executor) Exec(ctx context.Context, call Call) (string, error) {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	data, err := e.rolesABI.Pack("execTransactionWithRole",
		call.To, value, call.Data, call.Operation, e.roleKey, true)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "encode role execution", err)
	}

	chainID := big.NewInt(e.chainID)
	from := e.signer.Address()
	// The outer transaction never carries value; the vault funds the call.
	msg := ethereum.CallMsg{From: from, To: &e.roles, Value: new(big.Int), Data: data}

	if e.opts.Simulate {
		if _, err := e.client.CallContract(ctx, msg, nil); err != nil {
			return "", wrapExecutionRevert("simulate role execution", err)
		}
	}

	gasLimit, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return "", wrapExecutionRevert("estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * e.opts.GasMultiplier)

	tipCap, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000)
	}
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &e.roles,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := e.signer.SignTx(chainID, tx)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	txHash := signed.Hash()
	e.log.Info().
		Str("tx", txHash.Hex()).
		Str("target", call.To.Hex()).
		Msg("role execution submitted")

	if err := e.awaitReceipt(ctx, txHash); err != nil {
		return txHash.Hex(), err
	}
	return txHash.Hex(), nil
}

func (e *Executor) awaitReceipt(ctx context.Context, txHash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.client.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return clierr.New(clierr.CodeExecutionReverted,
				fmt.Sprintf("transaction %s reverted on-chain", txHash.Hex()))
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			// Transient RPC polling failures are tolerated until timeout.
			e.log.Debug().Err(err).Msg("receipt poll failed, retrying")
		}
		select {
		case <-waitCtx.Done():
			return clierr.Wrap(clierr.CodeUnavailable, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// errorStringSelector prefixes Error(string) revert data.
var errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

func wrapExecutionRevert(msg string, err error) error {
	reason := decodeRevertFromError(err)
	if reason != "" {
		return clierr.New(clierr.CodeExecutionReverted, fmt.Sprintf("%s: %s", msg, reason))
	}
	return clierr.Wrap(clierr.CodeExecutionReverted, msg, err)
}

type dataError interface {
	ErrorData() interface{}
}

func decodeRevertFromError(err error) string {
	var de dataError
	if !errors.As(err, &de) {
		return ""
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return ""
	}
	return decodeRevertData(common.FromHex(raw))
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if string(data[:4]) != string(errorStringSelector) {
		return fmt.Sprintf("custom error 0x%x", data[:4])
	}
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		return ""
	}
	out, err := (abi.Arguments{{Type: stringTy}}).Unpack(data[4:])
	if err != nil || len(out) != 1 {
		return ""
	}
	reason, _ := out[0].(string)
	return reason
}
