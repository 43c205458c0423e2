package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/model"
	"github.com/MithrandirBalrog/Clawlett/internal/registry"
)

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Resolver turns a user-supplied token reference (symbol or address) into a
// verified descriptor. Resolution is read-only: it issues eth_call only.
type Resolver struct {
	client  *ethclient.Client
	chainID int64
}

func NewResolver(client *ethclient.Client, chainID int64) *Resolver {
	return &Resolver{client: client, chainID: chainID}
}

// Resolve implements the anti-impersonation contract: a protected symbol is
// only trusted at its pinned registry address. An address whose on-chain
// symbol collides with a protected ticker is returned with Verified=false
// and a warning rather than rejected, since the caller may legitimately want
// an unlisted token that shares a symbol.
func (r *Resolver) Resolve(ctx context.Context, reference string) (model.TokenDescriptor, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return model.TokenDescriptor{}, clierr.New(clierr.CodeUsage, "token reference is required")
	}

	if common.IsHexAddress(ref) {
		return r.resolveAddress(ctx, common.HexToAddress(ref))
	}
	return r.resolveSymbol(ctx, ref)
}

func (r *Resolver) resolveAddress(ctx context.Context, addr common.Address) (model.TokenDescriptor, error) {
	if addr == (common.Address{}) {
		return r.nativeDescriptor()
	}

	symbol, decimals, err := r.fetchMetadata(ctx, addr)
	if err != nil {
		return model.TokenDescriptor{}, err
	}

	desc := model.TokenDescriptor{
		Address:  addr.Hex(),
		Symbol:   symbol,
		Decimals: decimals,
	}

	canonical := registry.CanonicalSymbol(symbol)
	pinned, hasPin := registry.VerifiedAddress(r.chainID, canonical)
	switch {
	case hasPin && strings.EqualFold(pinned, addr.Hex()):
		desc.Verified = true
	case registry.IsProtectedSymbol(canonical):
		desc.Warning = fmt.Sprintf(
			"symbol %s matches a protected ticker but %s is not the verified address for it on chain %d",
			symbol, addr.Hex(), r.chainID)
	}
	return desc, nil
}

func (r *Resolver) resolveSymbol(ctx context.Context, ref string) (model.TokenDescriptor, error) {
	canonical := registry.CanonicalSymbol(ref)
	entry, ok := registry.LookupToken(r.chainID, canonical)
	if !ok {
		if registry.IsProtectedSymbol(canonical) {
			// Never guess an address for a protected ticker.
			return model.TokenDescriptor{}, clierr.New(clierr.CodeProtectedToken,
				fmt.Sprintf("protected symbol %s has no verified address on chain %d", canonical, r.chainID))
		}
		return model.TokenDescriptor{}, clierr.New(clierr.CodeTokenNotFound,
			fmt.Sprintf("token %q is not in the registry for chain %d; pass its contract address explicitly", ref, r.chainID))
	}

	if entry.Native {
		return r.nativeDescriptor()
	}

	addr := common.HexToAddress(entry.Address)
	symbol, decimals, err := r.fetchMetadata(ctx, addr)
	if err != nil {
		return model.TokenDescriptor{}, err
	}
	if decimals != entry.Decimals {
		return model.TokenDescriptor{}, clierr.New(clierr.CodeInternal,
			fmt.Sprintf("registry decimals for %s (%d) disagree with on-chain value (%d)", canonical, entry.Decimals, decimals))
	}

	return model.TokenDescriptor{
		Address:  addr.Hex(),
		Symbol:   symbol,
		Decimals: decimals,
		Verified: true,
	}, nil
}

func (r *Resolver) nativeDescriptor() (model.TokenDescriptor, error) {
	entry, ok := registry.NativeToken(r.chainID)
	if !ok {
		return model.TokenDescriptor{}, clierr.New(clierr.CodeConfig,
			fmt.Sprintf("chain %d has no native asset registered", r.chainID))
	}
	return model.TokenDescriptor{
		Address:  registry.NativeSentinel,
		Symbol:   entry.Symbol,
		Decimals: entry.Decimals,
		Verified: true,
		Native:   true,
	}, nil
}

// fetchMetadata reads symbol() and decimals() concurrently; the two calls
// have no ordering dependency.
func (r *Resolver) fetchMetadata(ctx context.Context, addr common.Address) (string, int, error) {
	var (
		wg       sync.WaitGroup
		symbol   string
		decimals int
		symErr   error
		decErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		symbol, symErr = r.callString(ctx, addr, "symbol")
	}()
	go func() {
		defer wg.Done()
		decimals, decErr = r.callUint8(ctx, addr, "decimals")
	}()
	wg.Wait()

	if symErr != nil {
		return "", 0, clierr.Wrap(clierr.CodeTokenNotFound,
			fmt.Sprintf("%s does not expose ERC20 metadata", addr.Hex()), symErr)
	}
	if decErr != nil {
		return "", 0, clierr.Wrap(clierr.CodeTokenNotFound,
			fmt.Sprintf("%s does not expose ERC20 metadata", addr.Hex()), decErr)
	}
	return symbol, decimals, nil
}

func (r *Resolver) callString(ctx context.Context, addr common.Address, method string) (string, error) {
	out, err := r.call(ctx, addr, method)
	if err != nil {
		return "", err
	}
	value, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s returned non-string value", method)
	}
	return value, nil
}

func (r *Resolver) callUint8(ctx context.Context, addr common.Address, method string) (int, error) {
	out, err := r.call(ctx, addr, method)
	if err != nil {
		return 0, err
	}
	value, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%s returned non-uint8 value", method)
	}
	return int(value), nil
}

func (r *Resolver) call(ctx context.Context, addr common.Address, method string) ([]any, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return out, nil
}

// Balance reads the vault's holding of the described token: the chain
// balance for the native asset, balanceOf otherwise.
func (r *Resolver) Balance(ctx context.Context, desc model.TokenDescriptor, owner common.Address) (*big.Int, error) {
	if desc.Native {
		balance, err := r.client.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
		}
		return balance, nil
	}

	tokenAddr := common.HexToAddress(desc.Address)
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack balanceOf call", err)
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read token balance", err)
	}
	out, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil || len(out) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode token balance", err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid balance response type")
	}
	return balance, nil
}
