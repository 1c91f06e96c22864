package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"treasuryd/faults"
)

const manifestFixture = `{
  "token": {
    "symbol": "USDC",
    "address": "0x00000000000000000000000000000000000000aa",
    "decimals": 6,
    "stableSymbols": ["USDC", "USDT", "DAI"]
  },
  "pools": [
    {
      "id": "aave-usdc",
      "protocol": "aave",
      "pair": "USDC",
      "tier": "S",
      "enabled": true,
      "adapterId": "lending",
      "target": "0x0000000000000000000000000000000000000001",
      "pool": "0x0000000000000000000000000000000000000002",
      "lpToken": "0x0000000000000000000000000000000000000003",
      "tokenIn": "0x00000000000000000000000000000000000000aa",
      "baseApyBps": 320,
      "rewardTokenSymbol": "AAVE",
      "rotationCostBps": 12,
      "mock": {"tvlUsd": 1000000, "rewardRatePerSecond": 0.01, "protocolFeeBps": 10}
    }
  ]
}`

func writeFixtures(t *testing.T, yamlBody string) string {
	t.Helper()
	dir := t.TempDir()
	poolsPath := filepath.Join(dir, "pools.json")
	require.NoError(t, os.WriteFile(poolsPath, []byte(manifestFixture), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "pools_path: " + poolsPath + "\n" + yamlBody
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath
}

func noEnv(string) (string, bool) { return "", false }

func TestLoadDefaults(t *testing.T) {
	path := writeFixtures(t, `
runtime:
  default_trade_amount_raw: "1000000000"
`)
	cfg, err := Load(path, WithEnv(noEnv))
	require.NoError(t, err)

	require.True(t, cfg.Runtime.DryRunEnabled())
	require.True(t, cfg.Runtime.RunOnceEnabled())
	require.False(t, cfg.Runtime.LiveModeArmed)
	require.Equal(t, 300, cfg.Runtime.ScanIntervalSeconds)
	require.Equal(t, 12000, cfg.Runtime.ScannerPoolTimeoutMs)
	require.Equal(t, 1, cfg.Runtime.MaxRotationsPerDay)
	require.Equal(t, int64(21600), cfg.Runtime.CooldownSeconds)
	require.Equal(t, "1000000000", cfg.Runtime.DefaultTradeAmountRaw.String())
	require.Equal(t, int64(1800), cfg.Policy.TxDeadlineSeconds)
	require.Equal(t, 900, cfg.Server.StaleAfterSeconds, "3x interval")
	require.Equal(t, "0.0.0.0:8787", cfg.Server.ListenAddress())
	require.Equal(t, "./data/state.json", cfg.StatePath)
	require.Equal(t, "static", cfg.PriceOracle.Mode)
	require.Equal(t, 200, cfg.Policy.RotationDeltaApyBps)

	pool, ok := cfg.Manifest.PoolByID("aave-usdc")
	require.True(t, ok)
	require.True(t, pool.Selectable())
}

func TestLoadUnknownYAMLKey(t *testing.T) {
	path := writeFixtures(t, `
runtime:
  default_trade_amount_raw: "1"
  no_such_knob: true
`)
	_, err := Load(path, WithEnv(noEnv))
	require.Error(t, err)
	require.Equal(t, faults.CodeConfig, faults.CodeOf(err))
}

func TestEnvOverridesFiles(t *testing.T) {
	path := writeFixtures(t, `
runtime:
  default_trade_amount_raw: "1000000000"
  scan_interval_seconds: 60
`)
	env := map[string]string{
		"DRY_RUN":               "false",
		"RUN_ONCE":              "false",
		"SCAN_INTERVAL_SECONDS": "120",
		"COOLDOWN_SECONDS":      "600",
		"BOT_STATUS_PORT":       "9999",
		"BOT_STATUS_AUTH_TOKEN": "sekret",
		"TX_DEADLINE_SECONDS":   "900",
		"EXECUTOR_PRIVATE_KEY":  "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f",
	}
	_, err := Load(path, WithEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}))
	require.Error(t, err, "dry_run disabled requires rpc settings")
	require.Equal(t, faults.CodeConfig, faults.CodeOf(err))

	env["RPC_URL"] = "unused"
	path = writeFixtures(t, `
runtime:
  default_trade_amount_raw: "1000000000"
  rpc_url: http://localhost:8545
  chain_id: 31337
  vault_address: "0x0000000000000000000000000000000000000042"
`)
	cfg, err := Load(path, WithEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}))
	require.NoError(t, err)
	require.False(t, cfg.Runtime.DryRunEnabled())
	require.False(t, cfg.Runtime.RunOnceEnabled())
	require.Equal(t, 120, cfg.Runtime.ScanIntervalSeconds)
	require.Equal(t, int64(600), cfg.Runtime.CooldownSeconds)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, "sekret", cfg.Server.AuthToken)
	require.Equal(t, int64(900), cfg.Policy.TxDeadlineSeconds)
	require.NotEmpty(t, cfg.Runtime.ExecutorPrivateKey)
	require.Equal(t, 360, cfg.Server.StaleAfterSeconds, "3x overridden interval")
}

func TestEnvInvalidBoolean(t *testing.T) {
	path := writeFixtures(t, `
runtime:
  default_trade_amount_raw: "1"
`)
	_, err := Load(path, WithEnv(func(key string) (string, bool) {
		if key == "DRY_RUN" {
			return "maybe", true
		}
		return "", false
	}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "DRY_RUN")
}

func TestManifestRejectsForeignTokenIn(t *testing.T) {
	dir := t.TempDir()
	poolsPath := filepath.Join(dir, "pools.json")
	bad := []byte(`{
  "token": {"symbol": "USDC", "address": "0x00000000000000000000000000000000000000aa", "decimals": 6, "stableSymbols": ["USDC"]},
  "pools": [{
    "id": "p1", "protocol": "x", "pair": "USDC", "tier": "S", "enabled": true, "adapterId": "mock",
    "target": "0x0000000000000000000000000000000000000001",
    "pool": "0x0000000000000000000000000000000000000002",
    "lpToken": "0x0000000000000000000000000000000000000003",
    "tokenIn": "0x00000000000000000000000000000000000000bb",
    "baseApyBps": 0, "rewardTokenSymbol": "", "rotationCostBps": 0,
    "mock": {"tvlUsd": 0, "rewardRatePerSecond": 0, "protocolFeeBps": 0}
  }]
}`)
	require.NoError(t, os.WriteFile(poolsPath, bad, 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("pools_path: "+poolsPath+"\nruntime:\n  default_trade_amount_raw: \"1\"\n"), 0o600))

	_, err := Load(cfgPath, WithEnv(noEnv))
	require.Error(t, err)
	require.Contains(t, err.Error(), "tokenIn")
}

func TestPolicyFileUnknownKey(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.toml")
	require.NoError(t, os.WriteFile(policyPath, []byte("RotationDeltaApyBps = 250\nTypoKey = 1\n"), 0o600))

	path := writeFixtures(t, `
runtime:
  default_trade_amount_raw: "1"
`)
	_, err := Load(path, WithEnv(noEnv), WithPolicyPath(policyPath))
	require.Error(t, err)
	require.Contains(t, err.Error(), "TypoKey")
}

func TestPolicyFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.toml")
	require.NoError(t, os.WriteFile(policyPath, []byte("RotationDeltaApyBps = 250\nDepegThresholdBps = 80\n"), 0o600))

	path := writeFixtures(t, `
runtime:
  default_trade_amount_raw: "1"
`)
	cfg, err := Load(path, WithEnv(noEnv), WithPolicyPath(policyPath))
	require.NoError(t, err)
	require.Equal(t, 250, cfg.Policy.RotationDeltaApyBps)
	require.Equal(t, 80, cfg.Policy.DepegThresholdBps)
	require.Equal(t, float64(72), cfg.Policy.MaxPaybackHours, "untouched defaults survive")
}
