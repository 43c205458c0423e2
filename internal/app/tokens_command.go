package app

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/registry"
	"github.com/MithrandirBalrog/Clawlett/internal/token"
)

func (s *runtimeState) newTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "List the pinned token registry for the configured chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.settings.ChainID == 0 {
				return clierr.New(clierr.CodeConfig, "vault.chain_id is required")
			}
			tokens := registry.Tokens(s.settings.ChainID)
			if len(tokens) == 0 {
				return clierr.New(clierr.CodeConfig,
					"no pinned tokens for the configured chain")
			}
			return s.emitSuccess(tokens, nil)
		},
	}
	cmd.AddCommand(s.newTokensResolveCommand())
	return cmd
}

func (s *runtimeState) newTokensResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <symbol-or-address>",
		Short: "Resolve a token reference against the registry and the chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.settings.ChainID == 0 {
				return clierr.New(clierr.CodeConfig, "vault.chain_id is required")
			}
			return s.runTokenResolve(cmd.Context(), args[0])
		},
	}
}

func (s *runtimeState) runTokenResolve(ctx context.Context, reference string) error {
	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, s.settings.ChainID)
	if err != nil {
		return clierr.Wrap(clierr.CodeConfig, "resolve rpc endpoint", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	desc, err := token.NewResolver(client, s.settings.ChainID).Resolve(ctx, reference)
	if err != nil {
		return err
	}
	var warnings []string
	if desc.Warning != "" {
		warnings = append(warnings, desc.Warning)
	}
	s.lastWarnings = warnings
	return s.emitSuccess(desc, warnings)
}
