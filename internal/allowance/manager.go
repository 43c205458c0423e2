package allowance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/model"
	"github.com/MithrandirBalrog/Clawlett/internal/registry"
	"github.com/MithrandirBalrog/Clawlett/internal/roles"
)

// MaxUint256 is the unlimited approval amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Manager keeps the vault's ERC-20 allowances aligned with what a pending
// swap needs. Approvals execute from the vault through the role contract, so
// the spender sees the vault as owner. Reads go straight to the chain; the
// current allowance is never cached between invocations.
type Manager struct {
	client   *ethclient.Client
	submit   roles.Submitter
	vault    common.Address
	erc20ABI abi.ABI
	log      zerolog.Logger
}

func NewManager(client *ethclient.Client, submit roles.Submitter, vault common.Address, log zerolog.Logger) (*Manager, error) {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20MinimalABI))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse erc20 abi", err)
	}
	return &Manager{client: client, submit: submit, vault: vault, erc20ABI: parsed, log: log}, nil
}

// Current reads the vault's live allowance for spender on token.
func (m *Manager) Current(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	data, err := m.erc20ABI.Pack("allowance", m.vault, spender)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode allowance call", err)
	}
	out, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read allowance", err)
	}
	vals, err := m.erc20ABI.Unpack("allowance", out)
	if err != nil || len(vals) != 1 {
		return nil, clierr.New(clierr.CodeUnavailable, "malformed allowance response")
	}
	current, ok := vals[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "malformed allowance response")
	}
	return current, nil
}

// Ensure raises the vault's allowance for spender when the current one does
// not cover amount. A sufficient allowance is left untouched, so re-running
// a swap after a downstream failure never stacks approvals. Native input
// needs no allowance and returns immediately.
func (m *Manager) Ensure(ctx context.Context, token model.TokenDescriptor, spender common.Address, amount *big.Int, mode model.ApprovalMode) (string, error) {
	if token.Native {
		return "", nil
	}
	tokenAddr := common.HexToAddress(token.Address)

	current, err := m.Current(ctx, tokenAddr, spender)
	if err != nil {
		return "", err
	}
	if current.Cmp(amount) >= 0 {
		m.log.Debug().
			Str("token", token.Symbol).
			Str("spender", spender.Hex()).
			Msg("allowance already sufficient")
		return "", nil
	}

	target := amount
	if mode == model.ApprovalMax {
		target = MaxUint256
	}
	data, err := m.erc20ABI.Pack("approve", spender, target)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "encode approve call", err)
	}
	txHash, err := m.submit.Exec(ctx, roles.Call{
		To:        tokenAddr,
		Value:     new(big.Int),
		Data:      data,
		Operation: roles.OperationCall,
	})
	if err != nil {
		return txHash, clierr.Wrap(clierr.CodeApproval,
			fmt.Sprintf("approve %s for %s", token.Symbol, spender.Hex()), err)
	}
	m.log.Info().
		Str("token", token.Symbol).
		Str("spender", spender.Hex()).
		Str("tx", txHash).
		Msg("allowance raised")
	return txHash, nil
}

// Revoke zeroes the vault's allowance for spender. Used after exact-mode
// swaps; a failure here leaves a residual allowance but never fails the
// swap, so callers log and continue.
func (m *Manager) Revoke(ctx context.Context, token model.TokenDescriptor, spender common.Address) (string, error) {
	if token.Native {
		return "", nil
	}
	data, err := m.erc20ABI.Pack("approve", spender, new(big.Int))
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "encode approve call", err)
	}
	txHash, err := m.submit.Exec(ctx, roles.Call{
		To:        common.HexToAddress(token.Address),
		Value:     new(big.Int),
		Data:      data,
		Operation: roles.OperationCall,
	})
	if err != nil {
		return txHash, clierr.Wrap(clierr.CodeApproval,
			fmt.Sprintf("revoke %s allowance for %s", token.Symbol, spender.Hex()), err)
	}
	return txHash, nil
}
