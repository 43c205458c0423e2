package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	clierr "github.com/MithrandirBalrog/Clawlett/internal/errors"
	"github.com/MithrandirBalrog/Clawlett/internal/model"
)

type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	Plain      bool
	Verbose    bool
	RPCURL     string
	Timeout    string
}

// Settings is the merged runtime configuration: defaults, then the config
// file, then environment, then flags.
type Settings struct {
	OutputMode string
	Verbose    bool
	Timeout    time.Duration

	ChainID int64
	Vault   string
	Roles   string
	RoleKey string
	Router  string

	RPCURL        string
	AggregatorURL string
	AuctionAPIURL string
	Settlement    string
	VaultRelayer  string
	WrappedNative string

	SlippageFraction float64
	ApprovalMode     model.ApprovalMode
	RevokeAfterSwap  bool
	OrderWaitBudget  time.Duration

	JournalPath     string
	JournalLockPath string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Vault   struct {
		ChainID int64  `yaml:"chain_id"`
		Address string `yaml:"address"`
		Roles   string `yaml:"roles"`
		RoleKey string `yaml:"role_key"`
		Router  string `yaml:"router"`
	} `yaml:"vault"`
	Swap struct {
		Slippage        *float64 `yaml:"slippage"`
		ApprovalMode    string   `yaml:"approval_mode"`
		RevokeAfterSwap *bool    `yaml:"revoke_after_swap"`
		OrderWait       string   `yaml:"order_wait"`
	} `yaml:"swap"`
	Endpoints struct {
		RPCURL        string `yaml:"rpc_url"`
		AggregatorURL string `yaml:"aggregator_url"`
		AuctionAPIURL string `yaml:"auction_api_url"`
		Settlement    string `yaml:"settlement"`
		VaultRelayer  string `yaml:"vault_relayer"`
		WrappedNative string `yaml:"wrapped_native"`
	} `yaml:"endpoints"`
	Journal struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings := defaultSettings()

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, clierr.Wrap(clierr.CodeConfig, "resolve config path", err)
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}
	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	return settings, nil
}

func defaultSettings() Settings {
	return Settings{
		OutputMode:       "json",
		Timeout:          10 * time.Second,
		SlippageFraction: 0.005,
		ApprovalMode:     model.ApprovalExact,
		RevokeAfterSwap:  true,
		OrderWaitBudget:  10 * time.Minute,
	}
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "clawlett", "config.yaml"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return clierr.Wrap(clierr.CodeConfig, "read config", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return clierr.Wrap(clierr.CodeConfig, "parse config yaml", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return clierr.Wrap(clierr.CodeConfig, "config timeout", err)
		}
		settings.Timeout = d
	}
	if cfg.Vault.ChainID != 0 {
		settings.ChainID = cfg.Vault.ChainID
	}
	if cfg.Vault.Address != "" {
		settings.Vault = cfg.Vault.Address
	}
	if cfg.Vault.Roles != "" {
		settings.Roles = cfg.Vault.Roles
	}
	if cfg.Vault.RoleKey != "" {
		settings.RoleKey = cfg.Vault.RoleKey
	}
	if cfg.Vault.Router != "" {
		settings.Router = cfg.Vault.Router
	}
	if cfg.Swap.Slippage != nil {
		settings.SlippageFraction = *cfg.Swap.Slippage
	}
	if cfg.Swap.ApprovalMode != "" {
		settings.ApprovalMode = model.ApprovalMode(strings.ToLower(cfg.Swap.ApprovalMode))
	}
	if cfg.Swap.RevokeAfterSwap != nil {
		settings.RevokeAfterSwap = *cfg.Swap.RevokeAfterSwap
	}
	if cfg.Swap.OrderWait != "" {
		d, err := time.ParseDuration(cfg.Swap.OrderWait)
		if err != nil {
			return clierr.Wrap(clierr.CodeConfig, "config swap.order_wait", err)
		}
		settings.OrderWaitBudget = d
	}
	if cfg.Endpoints.RPCURL != "" {
		settings.RPCURL = cfg.Endpoints.RPCURL
	}
	if cfg.Endpoints.AggregatorURL != "" {
		settings.AggregatorURL = cfg.Endpoints.AggregatorURL
	}
	if cfg.Endpoints.AuctionAPIURL != "" {
		settings.AuctionAPIURL = cfg.Endpoints.AuctionAPIURL
	}
	if cfg.Endpoints.Settlement != "" {
		settings.Settlement = cfg.Endpoints.Settlement
	}
	if cfg.Endpoints.VaultRelayer != "" {
		settings.VaultRelayer = cfg.Endpoints.VaultRelayer
	}
	if cfg.Endpoints.WrappedNative != "" {
		settings.WrappedNative = cfg.Endpoints.WrappedNative
	}
	if cfg.Journal.Path != "" {
		settings.JournalPath = cfg.Journal.Path
	}
	if cfg.Journal.LockPath != "" {
		settings.JournalLockPath = cfg.Journal.LockPath
	}
	return nil
}

func applyEnv(settings *Settings) error {
	if v := os.Getenv("CLAWLETT_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("CLAWLETT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return clierr.Wrap(clierr.CodeConfig, "parse CLAWLETT_TIMEOUT", err)
		}
		settings.Timeout = d
	}
	if v := os.Getenv("CLAWLETT_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("CLAWLETT_AGGREGATOR_URL"); v != "" {
		settings.AggregatorURL = v
	}
	if v := os.Getenv("CLAWLETT_AUCTION_API_URL"); v != "" {
		settings.AuctionAPIURL = v
	}
	if v := os.Getenv("CLAWLETT_SLIPPAGE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return clierr.Wrap(clierr.CodeConfig, "parse CLAWLETT_SLIPPAGE", err)
		}
		settings.SlippageFraction = f
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return clierr.New(clierr.CodeUsage, "--json and --plain are mutually exclusive")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.Verbose {
		settings.Verbose = true
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if strings.TrimSpace(flags.Timeout) != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return clierr.Wrap(clierr.CodeUsage, "parse --timeout", err)
		}
		settings.Timeout = d
	}
	return nil
}

// ValidateVault checks the fields every venue needs. Router-specific checks
// happen where the router venue is selected.
func (s Settings) ValidateVault() error {
	if s.ChainID == 0 {
		return clierr.New(clierr.CodeConfig, "vault.chain_id is required")
	}
	if !common.IsHexAddress(s.Vault) {
		return clierr.New(clierr.CodeConfig, fmt.Sprintf("vault.address %q is not a valid address", s.Vault))
	}
	if !common.IsHexAddress(s.Roles) {
		return clierr.New(clierr.CodeConfig, fmt.Sprintf("vault.roles %q is not a valid address", s.Roles))
	}
	if strings.TrimSpace(s.RoleKey) == "" {
		return clierr.New(clierr.CodeConfig, "vault.role_key is required")
	}
	switch s.ApprovalMode {
	case model.ApprovalExact, model.ApprovalMax:
	default:
		return clierr.New(clierr.CodeConfig, fmt.Sprintf("swap.approval_mode %q must be exact or max", s.ApprovalMode))
	}
	if s.SlippageFraction < 0 || s.SlippageFraction > 0.5 {
		return clierr.New(clierr.CodeInvalidSlippage,
			fmt.Sprintf("swap.slippage %v outside [0, 0.5]", s.SlippageFraction))
	}
	return nil
}
