package config

import (
	"math/big"
	"strconv"
	"strings"

	"treasuryd/faults"
)

// applyEnv overlays the recognized environment keys onto the loaded config.
// Environment values win over every file.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		raw, ok := lookup(key)
		if !ok {
			return "", false
		}
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return "", false
		}
		return trimmed, true
	}

	parseBool := func(key, raw string) (bool, error) {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return false, faults.New(faults.CodeConfig, "%s: invalid boolean %q", key, raw)
		}
		return value, nil
	}
	parseInt := func(key, raw string) (int, error) {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return 0, faults.New(faults.CodeConfig, "%s: invalid integer %q", key, raw)
		}
		return value, nil
	}

	if raw, ok := get("DRY_RUN"); ok {
		value, err := parseBool("DRY_RUN", raw)
		if err != nil {
			return err
		}
		cfg.Runtime.DryRun = &value
	}
	if raw, ok := get("LIVE_MODE_ARMED"); ok {
		value, err := parseBool("LIVE_MODE_ARMED", raw)
		if err != nil {
			return err
		}
		cfg.Runtime.LiveModeArmed = value
	}
	if raw, ok := get("RUN_ONCE"); ok {
		value, err := parseBool("RUN_ONCE", raw)
		if err != nil {
			return err
		}
		cfg.Runtime.RunOnce = &value
	}
	if raw, ok := get("SCAN_INTERVAL_SECONDS"); ok {
		value, err := parseInt("SCAN_INTERVAL_SECONDS", raw)
		if err != nil {
			return err
		}
		cfg.Runtime.ScanIntervalSeconds = value
	}
	if raw, ok := get("SCANNER_POOL_TIMEOUT_MS"); ok {
		value, err := parseInt("SCANNER_POOL_TIMEOUT_MS", raw)
		if err != nil {
			return err
		}
		cfg.Runtime.ScannerPoolTimeoutMs = value
	}
	if raw, ok := get("DEFAULT_TRADE_AMOUNT_RAW"); ok {
		value, parsed := new(big.Int).SetString(raw, 10)
		if !parsed {
			return faults.New(faults.CodeConfig, "DEFAULT_TRADE_AMOUNT_RAW: invalid integer %q", raw)
		}
		cfg.Runtime.DefaultTradeAmountRaw = BigInt{value}
	}
	if raw, ok := get("MAX_ROTATIONS_PER_DAY"); ok {
		value, err := parseInt("MAX_ROTATIONS_PER_DAY", raw)
		if err != nil {
			return err
		}
		cfg.Runtime.MaxRotationsPerDay = value
	}
	if raw, ok := get("COOLDOWN_SECONDS"); ok {
		value, err := parseInt("COOLDOWN_SECONDS", raw)
		if err != nil {
			return err
		}
		cfg.Runtime.CooldownSeconds = int64(value)
	}
	if raw, ok := get("ENTER_ONLY"); ok {
		value, err := parseBool("ENTER_ONLY", raw)
		if err != nil {
			return err
		}
		cfg.Runtime.EnterOnly = value
	}
	if raw, ok := get("TX_DEADLINE_SECONDS"); ok {
		value, err := parseInt("TX_DEADLINE_SECONDS", raw)
		if err != nil {
			return err
		}
		cfg.Policy.TxDeadlineSeconds = int64(value)
	}
	if raw, ok := get("BOT_STATUS_SERVER_ENABLED"); ok {
		value, err := parseBool("BOT_STATUS_SERVER_ENABLED", raw)
		if err != nil {
			return err
		}
		cfg.Server.Enabled = value
	}
	if raw, ok := get("BOT_STATUS_SERVER_REQUIRED"); ok {
		value, err := parseBool("BOT_STATUS_SERVER_REQUIRED", raw)
		if err != nil {
			return err
		}
		cfg.Server.Required = value
	}
	if raw, ok := get("BOT_STATUS_HOST"); ok {
		cfg.Server.Host = raw
	}
	if raw, ok := get("BOT_STATUS_PORT"); ok {
		value, err := parseInt("BOT_STATUS_PORT", raw)
		if err != nil {
			return err
		}
		cfg.Server.Port = value
	}
	if raw, ok := get("BOT_STATUS_AUTH_TOKEN"); ok {
		cfg.Server.AuthToken = raw
	}
	if raw, ok := get("BOT_HEALTH_STALE_SECONDS"); ok {
		value, err := parseInt("BOT_HEALTH_STALE_SECONDS", raw)
		if err != nil {
			return err
		}
		cfg.Server.StaleAfterSeconds = value
	}

	if key := strings.TrimSpace(cfg.Runtime.ExecutorKeyEnv); key != "" {
		if raw, ok := get(key); ok {
			cfg.Runtime.ExecutorPrivateKey = raw
		}
	} else if raw, ok := get("EXECUTOR_PRIVATE_KEY"); ok {
		cfg.Runtime.ExecutorPrivateKey = raw
	}
	return nil
}
