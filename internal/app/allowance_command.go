package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/MithrandirBalrog/Clawlett/internal/allowance"
	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/registry"
	"github.com/MithrandirBalrog/Clawlett/internal/token"
)

func (s *runtimeState) newAllowanceCommand() *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "allowance <token> <spender>",
		Short: "Show the vault's allowance for a spender; --revoke zeroes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runAllowance(cmd.Context(), args[0], args[1], revoke)
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "zero the allowance through the role contract")
	return cmd
}

func (s *runtimeState) runAllowance(ctx context.Context, tokenRef, spenderRef string, revoke bool) error {
	if err := s.settings.ValidateVault(); err != nil {
		return err
	}
	if !common.IsHexAddress(spenderRef) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("spender %q is not a valid address", spenderRef))
	}
	spender := common.HexToAddress(spenderRef)

	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, s.settings.ChainID)
	if err != nil {
		return clierr.Wrap(clierr.CodeConfig, "resolve rpc endpoint", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	desc, err := token.NewResolver(client, s.settings.ChainID).Resolve(ctx, tokenRef)
	if err != nil {
		return err
	}
	if desc.Native {
		return clierr.New(clierr.CodeUsage, "the native token has no allowances")
	}
	vault := common.HexToAddress(s.settings.Vault)

	if revoke {
		agent, err := signerFromEnv()
		if err != nil {
			return err
		}
		roleKey, err := roleKeyFromSettings(s)
		if err != nil {
			return err
		}
		exec, err := newRoleExecutor(s, client, agent, vault, roleKey)
		if err != nil {
			return err
		}
		if err := exec.Preflight(ctx); err != nil {
			return err
		}
		mgr, err := allowance.NewManager(client, exec, vault, s.log)
		if err != nil {
			return err
		}
		txHash, err := mgr.Revoke(ctx, desc, spender)
		if err != nil {
			return err
		}
		return s.emitSuccess(map[string]any{
			"token":   desc.Symbol,
			"spender": spender.Hex(),
			"revoked": true,
			"tx_hash": txHash,
		}, nil)
	}

	mgr, err := allowance.NewManager(client, nil, vault, s.log)
	if err != nil {
		return err
	}
	current, err := mgr.Current(ctx, common.HexToAddress(desc.Address), spender)
	if err != nil {
		return err
	}
	unlimited := current.Cmp(allowance.MaxUint256) == 0
	return s.emitSuccess(map[string]any{
		"token":     desc.Symbol,
		"address":   desc.Address,
		"spender":   spender.Hex(),
		"allowance": token.FormatAmount(current, desc.Decimals),
		"raw":       current.String(),
		"unlimited": unlimited,
	}, nil)
}
