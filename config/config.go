// Package config loads and validates the agent's configuration: a YAML
// service file, a TOML risk-policy file, a JSON pool manifest, and the
// environment overrides that take precedence over all of them.
package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"treasuryd/faults"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// BigInt wraps *big.Int to support YAML unmarshalling of base-10 strings.
type BigInt struct {
	*big.Int
}

// UnmarshalYAML parses a base-10 integer scalar of arbitrary size.
func (b *BigInt) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("amount must be a base-10 string")
	}
	raw := value.Value
	if raw == "" {
		b.Int = nil
		return nil
	}
	parsed, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fmt.Errorf("parse amount %q", raw)
	}
	b.Int = parsed
	return nil
}

// Config captures the full resolved configuration of the agent.
type Config struct {
	Environment string       `yaml:"environment"`
	StatePath   string       `yaml:"state_path"`
	PolicyPath  string       `yaml:"policy_path"`
	PoolsPath   string       `yaml:"pools_path"`
	Runtime     Runtime      `yaml:"runtime"`
	Server      Server       `yaml:"status_server"`
	PriceOracle PriceOracle  `yaml:"price_oracle"`
	BaseApy     BaseApy      `yaml:"base_apy"`
	Announcer   Announcer    `yaml:"announcer"`
	Audit       Audit        `yaml:"audit"`
	Exports     Exports      `yaml:"exports"`

	// Policy and Manifest are loaded from their own files and resolved here.
	Policy   Policy   `yaml:"-"`
	Manifest Manifest `yaml:"-"`
}

// Runtime tunes the scan/decide/execute loop and the transaction path.
type Runtime struct {
	RPCURL                string `yaml:"rpc_url"`
	ChainID               int64  `yaml:"chain_id"`
	VaultAddress          string `yaml:"vault_address"`
	ExecutorKeyEnv        string `yaml:"executor_key_env"`
	ExplorerTxBaseURL     string `yaml:"explorer_tx_base_url"`
	DryRun                *bool  `yaml:"dry_run"`
	LiveModeArmed         bool   `yaml:"live_mode_armed"`
	RunOnce               *bool  `yaml:"run_once"`
	ScanIntervalSeconds   int    `yaml:"scan_interval_seconds"`
	ScannerPoolTimeoutMs  int    `yaml:"scanner_pool_timeout_ms"`
	DefaultTradeAmountRaw BigInt `yaml:"default_trade_amount_raw"`
	EnterOnly             bool   `yaml:"enter_only"`
	MaxRotationsPerDay    int    `yaml:"max_rotations_per_day"`
	CooldownSeconds       int64  `yaml:"cooldown_seconds"`

	// ExecutorPrivateKey is resolved from the env var named by ExecutorKeyEnv
	// and never appears in a file.
	ExecutorPrivateKey string `yaml:"-"`
}

// DryRunEnabled resolves the tri-state flag with its default of true.
func (r Runtime) DryRunEnabled() bool { return r.DryRun == nil || *r.DryRun }

// RunOnceEnabled resolves the tri-state flag with its default of true.
func (r Runtime) RunOnceEnabled() bool { return r.RunOnce == nil || *r.RunOnce }

// ScanInterval returns the tick period.
func (r Runtime) ScanInterval() time.Duration {
	return time.Duration(r.ScanIntervalSeconds) * time.Second
}

// PoolTimeout returns the per-pool scan deadline.
func (r Runtime) PoolTimeout() time.Duration {
	return time.Duration(r.ScannerPoolTimeoutMs) * time.Millisecond
}

// Server configures the status/control listener.
type Server struct {
	Enabled           bool    `yaml:"enabled"`
	Required          bool    `yaml:"required"`
	Host              string  `yaml:"host"`
	Port              int     `yaml:"port"`
	AuthToken         string  `yaml:"auth_token"`
	StaleAfterSeconds int     `yaml:"stale_after_seconds"`
	ControlRatePerSec float64 `yaml:"control_rate_per_sec"`
	ControlBurst      int     `yaml:"control_burst"`
}

// ListenAddress joins host and port.
func (s Server) ListenAddress() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// PriceOracle selects and tunes the USD price source.
type PriceOracle struct {
	Mode         string             `yaml:"mode"` // static or live
	Endpoint     string             `yaml:"endpoint"`
	APIKey       string             `yaml:"api_key"`
	CacheTTL     Duration           `yaml:"cache_ttl"`
	FetchTimeout Duration           `yaml:"fetch_timeout"`
	RatePerSec   float64            `yaml:"rate_per_sec"`
	RateBurst    int                `yaml:"rate_burst"`
	Static       map[string]float64 `yaml:"static"`
	SymbolIDs    map[string]string  `yaml:"symbol_ids"`
}

// BaseApy tunes the live base-APY resolution.
type BaseApy struct {
	Enabled      *bool    `yaml:"enabled"`
	Lookback     Duration `yaml:"lookback"`
	WarnCooldown Duration `yaml:"warn_cooldown"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
}

// LiveEnabled resolves the tri-state flag with its default of true.
func (b BaseApy) LiveEnabled() bool { return b.Enabled == nil || *b.Enabled }

// Announcer configures the outbound social poster.
type Announcer struct {
	Enabled        bool   `yaml:"enabled"`
	APIURL         string `yaml:"api_url"`
	BearerTokenEnv string `yaml:"bearer_token_env"`
}

// Audit configures the optional sqlite mirror of decisions and executions.
type Audit struct {
	Path string `yaml:"path"`
}

// Exports configures operator report exports.
type Exports struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

type loadOptions struct {
	policyPath string
	poolsPath  string
	lookupEnv  func(string) (string, bool)
}

// Option adjusts how Load resolves configuration.
type Option func(*loadOptions)

// WithPolicyPath overrides the risk-policy file location.
func WithPolicyPath(path string) Option {
	return func(o *loadOptions) { o.policyPath = path }
}

// WithPoolsPath overrides the pool manifest location.
func WithPoolsPath(path string) Option {
	return func(o *loadOptions) { o.poolsPath = path }
}

// WithEnv replaces the process environment lookup, for tests.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.lookupEnv = lookup }
}

// Load reads the YAML service config, the TOML risk policy, and the JSON pool
// manifest, applies environment overrides and defaults, and validates the
// result. Unknown keys in any file are errors.
func Load(path string, opts ...Option) (Config, error) {
	options := loadOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, faults.Wrap(faults.CodeConfig, err, "open config")
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, faults.Wrap(faults.CodeConfig, err, "decode config")
	}

	if options.policyPath != "" {
		cfg.PolicyPath = options.policyPath
	}
	if options.poolsPath != "" {
		cfg.PoolsPath = options.poolsPath
	}

	cfg.Policy, err = loadPolicy(cfg.PolicyPath)
	if err != nil {
		return cfg, err
	}
	if cfg.PoolsPath == "" {
		return cfg, faults.New(faults.CodeConfig, "pools manifest path not configured")
	}
	cfg.Manifest, err = loadManifest(cfg.PoolsPath)
	if err != nil {
		return cfg, err
	}

	if err := applyEnv(&cfg, options.lookupEnv); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "./data/state.json"
	}
	if cfg.Runtime.ExecutorKeyEnv == "" {
		cfg.Runtime.ExecutorKeyEnv = "EXECUTOR_PRIVATE_KEY"
	}
	if cfg.Runtime.ScanIntervalSeconds <= 0 {
		cfg.Runtime.ScanIntervalSeconds = 300
	}
	if cfg.Runtime.ScannerPoolTimeoutMs <= 0 {
		cfg.Runtime.ScannerPoolTimeoutMs = 12000
	}
	if cfg.Runtime.MaxRotationsPerDay <= 0 {
		cfg.Runtime.MaxRotationsPerDay = 1
	}
	if cfg.Runtime.CooldownSeconds <= 0 {
		cfg.Runtime.CooldownSeconds = 21600
	}
	if cfg.Policy.TxDeadlineSeconds <= 0 {
		cfg.Policy.TxDeadlineSeconds = 1800
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.StaleAfterSeconds <= 0 {
		stale := 3 * cfg.Runtime.ScanIntervalSeconds
		if stale < 60 {
			stale = 60
		}
		cfg.Server.StaleAfterSeconds = stale
	}
	if cfg.Server.ControlRatePerSec <= 0 {
		cfg.Server.ControlRatePerSec = 5
	}
	if cfg.Server.ControlBurst <= 0 {
		cfg.Server.ControlBurst = 10
	}
	if cfg.PriceOracle.Mode == "" {
		cfg.PriceOracle.Mode = "static"
	}
	if cfg.PriceOracle.CacheTTL.Duration == 0 {
		cfg.PriceOracle.CacheTTL.Duration = time.Minute
	}
	if cfg.PriceOracle.FetchTimeout.Duration == 0 {
		cfg.PriceOracle.FetchTimeout.Duration = 10 * time.Second
	}
	if cfg.PriceOracle.RatePerSec <= 0 {
		cfg.PriceOracle.RatePerSec = 0.5
	}
	if cfg.PriceOracle.RateBurst <= 0 {
		cfg.PriceOracle.RateBurst = 1
	}
	if cfg.BaseApy.Lookback.Duration == 0 {
		cfg.BaseApy.Lookback.Duration = time.Hour
	}
	if cfg.BaseApy.Lookback.Duration < 5*time.Minute {
		cfg.BaseApy.Lookback.Duration = 5 * time.Minute
	}
	if cfg.BaseApy.WarnCooldown.Duration == 0 {
		cfg.BaseApy.WarnCooldown.Duration = 5 * time.Minute
	}
	if cfg.BaseApy.FetchTimeout.Duration == 0 {
		cfg.BaseApy.FetchTimeout.Duration = 10 * time.Second
	}
	if cfg.Exports.Dir == "" {
		cfg.Exports.Dir = "./data/exports"
	}
	if cfg.Exports.RetentionDays <= 0 {
		cfg.Exports.RetentionDays = 30
	}
}

func validate(cfg Config) error {
	switch cfg.PriceOracle.Mode {
	case "static", "live":
	default:
		return faults.New(faults.CodeConfig, "price_oracle.mode must be static or live, got %q", cfg.PriceOracle.Mode)
	}
	if cfg.Runtime.DefaultTradeAmountRaw.Int == nil || cfg.Runtime.DefaultTradeAmountRaw.Sign() <= 0 {
		return faults.New(faults.CodeConfig, "default_trade_amount_raw must be a positive integer")
	}
	if !cfg.Runtime.DryRunEnabled() {
		if cfg.Runtime.RPCURL == "" {
			return faults.New(faults.CodeConfig, "rpc_url required when dry_run is disabled")
		}
		if cfg.Runtime.ChainID <= 0 {
			return faults.New(faults.CodeConfig, "chain_id required when dry_run is disabled")
		}
		if cfg.Runtime.VaultAddress == "" {
			return faults.New(faults.CodeConfig, "vault_address required when dry_run is disabled")
		}
	}
	if cfg.Runtime.LiveModeArmed && !cfg.Runtime.DryRunEnabled() && cfg.Runtime.ExecutorPrivateKey == "" {
		return faults.New(faults.CodeConfig, "executor key missing: set %s when live mode is armed", cfg.Runtime.ExecutorKeyEnv)
	}
	if err := validatePolicy(cfg.Policy); err != nil {
		return err
	}
	return validateManifest(cfg.Manifest)
}
