package config

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"treasuryd/faults"
)

// Policy carries the risk thresholds governing entries, rotations, and
// emergency exits. It is loaded from a TOML file so operators can review and
// diff it independently of the service config.
type Policy struct {
	MinHoldSeconds      int64   `toml:"MinHoldSeconds"`
	RotationDeltaApyBps int     `toml:"RotationDeltaApyBps"`
	MaxPaybackHours     float64 `toml:"MaxPaybackHours"`
	DepegThresholdBps   int     `toml:"DepegThresholdBps"`
	MaxPriceImpactBps   int     `toml:"MaxPriceImpactBps"`
	AprCliffDropBps     int     `toml:"AprCliffDropBps"`
	TxDeadlineSeconds   int64   `toml:"TxDeadlineSeconds"`
}

func defaultPolicy() Policy {
	return Policy{
		MinHoldSeconds:      86400,
		RotationDeltaApyBps: 200,
		MaxPaybackHours:     72,
		DepegThresholdBps:   100,
		MaxPriceImpactBps:   30,
		AprCliffDropBps:     5000,
		TxDeadlineSeconds:   1800,
	}
}

// loadPolicy reads the TOML policy file. A missing or empty path yields the
// built-in conservative defaults; unknown keys are errors.
func loadPolicy(path string) (Policy, error) {
	if strings.TrimSpace(path) == "" {
		return defaultPolicy(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Policy{}, faults.New(faults.CodeConfig, "policy file %s not found", path)
	}
	pol := defaultPolicy()
	meta, err := toml.DecodeFile(path, &pol)
	if err != nil {
		return Policy{}, faults.Wrap(faults.CodeConfig, err, "decode policy file %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Policy{}, faults.New(faults.CodeConfig, "policy file %s has unknown key %s", path, undecoded[0].String())
	}
	return pol, nil
}

func validatePolicy(pol Policy) error {
	if pol.MinHoldSeconds < 0 {
		return faults.New(faults.CodeConfig, "MinHoldSeconds must not be negative")
	}
	if pol.RotationDeltaApyBps < 0 {
		return faults.New(faults.CodeConfig, "RotationDeltaApyBps must not be negative")
	}
	if pol.MaxPaybackHours <= 0 {
		return faults.New(faults.CodeConfig, "MaxPaybackHours must be positive")
	}
	if pol.DepegThresholdBps <= 0 {
		return faults.New(faults.CodeConfig, "DepegThresholdBps must be positive")
	}
	if pol.MaxPriceImpactBps < 0 || pol.MaxPriceImpactBps > 10000 {
		return faults.New(faults.CodeConfig, "MaxPriceImpactBps must be within [0, 10000]")
	}
	if pol.AprCliffDropBps <= 0 || pol.AprCliffDropBps > 10000 {
		return faults.New(faults.CodeConfig, "AprCliffDropBps must be within (0, 10000]")
	}
	if pol.TxDeadlineSeconds <= 0 {
		return faults.New(faults.CodeConfig, "TxDeadlineSeconds must be positive")
	}
	return nil
}
