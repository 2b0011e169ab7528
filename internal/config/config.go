package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/screa/origins-minter/internal/crypto"
)

// Errors
var (
	ErrInvalidThreads       = errors.New("threads must be at least 1")
	ErrInvalidSleepRange    = errors.New("sleep bounds must satisfy 0 <= min-sleep-ms <= max-sleep-ms")
	ErrInvalidGasCeiling    = errors.New("max-gas-gwei must be positive when gas checking is enabled")
	ErrNoChainRPC           = errors.New("chain rpc endpoint is required")
	ErrNoGasRPC             = errors.New("gas rpc endpoint is required when gas checking is enabled")
	ErrNoEligibilityURL     = errors.New("eligibility endpoint is required")
	ErrNoAccountsFile       = errors.New("accounts file is required")
	ErrInvalidContract      = errors.New("contract must be a 20-byte hex address")
	ErrInvalidConfirmWindow = errors.New("confirm timeout must be positive")

	ErrInvalidProgressInterval = errors.New("progress interval must be positive in verbose mode")
)

// EnvPrefix is the prefix for environment overrides, e.g. MINTER_THREADS.
const EnvPrefix = "MINTER"

// Config holds the application configuration
type Config struct {
	AccountsFile string `mapstructure:"accounts-file"`
	Shuffle      bool   `mapstructure:"shuffle"`
	Threads      int    `mapstructure:"threads"`
	MinSleepMs   int    `mapstructure:"min-sleep-ms"`
	MaxSleepMs   int    `mapstructure:"max-sleep-ms"`

	ChainRPC string `mapstructure:"chain-rpc"`
	GasRPC   string `mapstructure:"gas-rpc"`

	GasCheckEnabled bool          `mapstructure:"gas-check"`
	MaxGasGwei      float64       `mapstructure:"max-gas-gwei"`
	GasFreshness    time.Duration `mapstructure:"gas-freshness"`
	GasRecheck      time.Duration `mapstructure:"gas-recheck"`

	EligibilityURL string  `mapstructure:"eligibility-url"`
	EligibilityRPS float64 `mapstructure:"eligibility-rps"` // 0 means unlimited

	Contract       string        `mapstructure:"contract"`
	ABIFile        string        `mapstructure:"abi-file"` // empty uses the embedded mint ABI
	ExplorerURL    string        `mapstructure:"explorer-url"`
	ConfirmTimeout time.Duration `mapstructure:"confirm-timeout"`

	StatusAddr       string        `mapstructure:"status-addr"` // empty disables the status server
	Verbose          bool          `mapstructure:"verbose"`
	LogFile          string        `mapstructure:"log-file"`
	ProgressInterval time.Duration `mapstructure:"progress-interval"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		AccountsFile:     "accounts.txt",
		Threads:          2,
		MinSleepMs:       2000,
		MaxSleepMs:       10000,
		ChainRPC:         "https://rpc.scroll.io",
		GasRPC:           "https://eth.llamarpc.com",
		GasCheckEnabled:  true,
		MaxGasGwei:       20,
		GasFreshness:     60 * time.Second,
		GasRecheck:       60 * time.Second,
		EligibilityURL:   "https://nft.scroll.io/p",
		Contract:         "0x74670A3998d9d6622E32D0847fF5977c37E0eC91",
		ExplorerURL:      "https://scrollscan.com/tx/",
		ConfirmTimeout:   180 * time.Second,
		ProgressInterval: 30 * time.Second,
	}
}

// RegisterFlags declares every option on fs with the defaults from c.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.AccountsFile, "accounts-file", "a", c.AccountsFile, "File with one private key per line")
	fs.BoolVar(&c.Shuffle, "shuffle", c.Shuffle, "Shuffle accounts before splitting them across workers")
	fs.IntVarP(&c.Threads, "threads", "t", c.Threads, "Number of concurrent workers")
	fs.IntVar(&c.MinSleepMs, "min-sleep-ms", c.MinSleepMs, "Minimum pause after a successful mint")
	fs.IntVar(&c.MaxSleepMs, "max-sleep-ms", c.MaxSleepMs, "Maximum pause after a successful mint")
	fs.StringVar(&c.ChainRPC, "chain-rpc", c.ChainRPC, "RPC endpoint of the chain the NFT is minted on")
	fs.StringVar(&c.GasRPC, "gas-rpc", c.GasRPC, "RPC endpoint used for the gas price ceiling")
	fs.BoolVar(&c.GasCheckEnabled, "gas-check", c.GasCheckEnabled, "Wait for gas to drop below --max-gas-gwei")
	fs.Float64Var(&c.MaxGasGwei, "max-gas-gwei", c.MaxGasGwei, "Gas price ceiling in gwei")
	fs.DurationVar(&c.GasFreshness, "gas-freshness", c.GasFreshness, "How long a gas sample is trusted")
	fs.DurationVar(&c.GasRecheck, "gas-recheck", c.GasRecheck, "Pause between gas checks while above the ceiling")
	fs.StringVar(&c.EligibilityURL, "eligibility-url", c.EligibilityURL, "Base URL of the eligibility service")
	fs.Float64Var(&c.EligibilityRPS, "eligibility-rps", c.EligibilityRPS, "Eligibility requests per second across workers (0 = unlimited)")
	fs.StringVar(&c.Contract, "contract", c.Contract, "NFT contract address")
	fs.StringVar(&c.ABIFile, "abi-file", c.ABIFile, "Contract ABI JSON (default: built-in mint ABI)")
	fs.StringVar(&c.ExplorerURL, "explorer-url", c.ExplorerURL, "Transaction link prefix used in logs")
	fs.DurationVar(&c.ConfirmTimeout, "confirm-timeout", c.ConfirmTimeout, "How long to wait for a receipt")
	fs.StringVar(&c.StatusAddr, "status-addr", c.StatusAddr, "Listen address for /metrics and /progress (empty disables)")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "Verbose output")
	fs.StringVarP(&c.LogFile, "log-file", "l", c.LogFile, "Log file (default: stdout)")
	fs.DurationVarP(&c.ProgressInterval, "progress-interval", "i", c.ProgressInterval, "Progress logging interval in verbose mode")
}

// Load layers an optional config file and MINTER_* environment variables
// under the flags in fs. Flags set explicitly on the command line win.
func (c *Config) Load(path string, fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Threads < 1 {
		return ErrInvalidThreads
	}
	if c.MinSleepMs < 0 || c.MaxSleepMs < c.MinSleepMs {
		return ErrInvalidSleepRange
	}
	if c.AccountsFile == "" {
		return ErrNoAccountsFile
	}
	if c.ChainRPC == "" {
		return ErrNoChainRPC
	}
	if c.EligibilityURL == "" {
		return ErrNoEligibilityURL
	}
	if c.GasCheckEnabled {
		if c.MaxGasGwei <= 0 {
			return ErrInvalidGasCeiling
		}
		if c.GasRPC == "" {
			return ErrNoGasRPC
		}
	}
	if _, err := crypto.ParseAddress(c.Contract); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContract, err)
	}
	if c.ConfirmTimeout <= 0 {
		return ErrInvalidConfirmWindow
	}
	if c.Verbose && c.ProgressInterval <= 0 {
		return ErrInvalidProgressInterval
	}
	return nil
}

// SleepRange returns the pacing bounds as durations.
func (c *Config) SleepRange() (time.Duration, time.Duration) {
	return time.Duration(c.MinSleepMs) * time.Millisecond, time.Duration(c.MaxSleepMs) * time.Millisecond
}

// GasDescription returns a human-readable description of the gas gate
func (c *Config) GasDescription() string {
	if !c.GasCheckEnabled {
		return "disabled"
	}
	return fmt.Sprintf("<= %g gwei via %s", c.MaxGasGwei, c.GasRPC)
}
