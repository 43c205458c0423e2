package app

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/roles"
	"github.com/MithrandirBalrog/Clawlett/internal/roles/signer"
)

func signerFromEnv() (signer.Signer, error) {
	agent, err := signer.FromEnv()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load agent key", err)
	}
	return agent, nil
}

func roleKeyFromSettings(s *runtimeState) ([32]byte, error) {
	return roles.ParseRoleKey(s.settings.RoleKey)
}

func newRoleExecutor(s *runtimeState, client *ethclient.Client, agent signer.Signer, vault common.Address, roleKey [32]byte) (*roles.Executor, error) {
	return roles.NewExecutor(
		client, agent, s.settings.ChainID,
		common.HexToAddress(s.settings.Roles), vault,
		roleKey, roles.DefaultOptions(), s.log,
	)
}
