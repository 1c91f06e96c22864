package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"treasuryd/faults"
)

// Token describes the vault's deposit token.
type Token struct {
	Symbol        string   `json:"symbol"`
	Address       string   `json:"address"`
	Decimals      int      `json:"decimals"`
	StableSymbols []string `json:"stableSymbols"`
}

// MockEconomics are the deterministic fallback values used when a pool's
// on-chain reads are unavailable, and the whole truth for the mock adapter.
type MockEconomics struct {
	TvlUsd              float64 `json:"tvlUsd"`
	RewardRatePerSecond float64 `json:"rewardRatePerSecond"`
	ProtocolFeeBps      int     `json:"protocolFeeBps"`
}

// Pool is one allow-listed venue.
type Pool struct {
	ID                string        `json:"id"`
	Protocol          string        `json:"protocol"`
	Pair              string        `json:"pair"`
	Tier              string        `json:"tier"`
	Enabled           bool          `json:"enabled"`
	AdapterID         string        `json:"adapterId"`
	Target            string        `json:"target"`
	Pool              string        `json:"pool"`
	LpToken           string        `json:"lpToken"`
	TokenIn           string        `json:"tokenIn"`
	BaseApyBps        int           `json:"baseApyBps"`
	RewardTokenSymbol string        `json:"rewardTokenSymbol"`
	RotationCostBps   int           `json:"rotationCostBps"`
	ApyGraphqlURL     string        `json:"apyGraphqlUrl,omitempty"`
	Mock              MockEconomics `json:"mock"`
}

// Selectable reports whether the pool may receive capital.
func (p Pool) Selectable() bool { return p.Enabled && p.Tier == "S" }

// Manifest is the static chain configuration: the deposit token plus the
// pool allow-list.
type Manifest struct {
	Token Token  `json:"token"`
	Pools []Pool `json:"pools"`

	poolByID map[string]Pool
}

// PoolByID looks up a pool by its stable identifier.
func (m Manifest) PoolByID(id string) (Pool, bool) {
	if m.poolByID != nil {
		pool, ok := m.poolByID[id]
		return pool, ok
	}
	for _, pool := range m.Pools {
		if pool.ID == id {
			return pool, true
		}
	}
	return Pool{}, false
}

// EnabledPools returns the pools eligible for scanning.
func (m Manifest) EnabledPools() []Pool {
	out := make([]Pool, 0, len(m.Pools))
	for _, pool := range m.Pools {
		if pool.Enabled {
			out = append(out, pool)
		}
	}
	return out
}

// loadManifest reads the JSON pool manifest. Unknown keys are errors.
func loadManifest(path string) (Manifest, error) {
	man := Manifest{}
	file, err := os.Open(path)
	if err != nil {
		return man, faults.Wrap(faults.CodeConfig, err, "open pools manifest")
	}
	defer file.Close()
	dec := json.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&man); err != nil {
		return man, faults.Wrap(faults.CodeConfig, err, "decode pools manifest %s", path)
	}
	man.index()
	return man, nil
}

func (m *Manifest) index() {
	m.poolByID = make(map[string]Pool, len(m.Pools))
	for _, pool := range m.Pools {
		m.poolByID[pool.ID] = pool
	}
}

func validateManifest(man Manifest) error {
	if strings.TrimSpace(man.Token.Symbol) == "" {
		return faults.New(faults.CodeConfig, "token symbol required")
	}
	if !common.IsHexAddress(man.Token.Address) {
		return faults.New(faults.CodeConfig, "token address %q is not a hex address", man.Token.Address)
	}
	if man.Token.Decimals < 0 || man.Token.Decimals > 36 {
		return faults.New(faults.CodeConfig, "token decimals %d out of range", man.Token.Decimals)
	}
	if len(man.Pools) == 0 {
		return faults.New(faults.CodeConfig, "at least one pool must be configured")
	}
	seen := make(map[string]struct{}, len(man.Pools))
	for i, pool := range man.Pools {
		where := fmt.Sprintf("pools[%d] (%s)", i, pool.ID)
		if strings.TrimSpace(pool.ID) == "" {
			return faults.New(faults.CodeConfig, "pools[%d] missing id", i)
		}
		if _, dup := seen[pool.ID]; dup {
			return faults.New(faults.CodeConfig, "duplicate pool id %s", pool.ID)
		}
		seen[pool.ID] = struct{}{}
		if pool.Tier != "S" && pool.Tier != "R" {
			return faults.New(faults.CodeConfig, "%s tier must be S or R", where)
		}
		if strings.TrimSpace(pool.AdapterID) == "" {
			return faults.New(faults.CodeConfig, "%s missing adapterId", where)
		}
		for _, addr := range []struct {
			name  string
			value string
		}{
			{"target", pool.Target},
			{"pool", pool.Pool},
			{"lpToken", pool.LpToken},
			{"tokenIn", pool.TokenIn},
		} {
			if !common.IsHexAddress(addr.value) {
				return faults.New(faults.CodeConfig, "%s %s %q is not a hex address", where, addr.name, addr.value)
			}
		}
		if pool.Enabled && !strings.EqualFold(pool.TokenIn, man.Token.Address) {
			return faults.New(faults.CodeConfig, "%s tokenIn must equal the deposit token %s", where, man.Token.Address)
		}
		if pool.BaseApyBps < 0 || pool.RotationCostBps < 0 {
			return faults.New(faults.CodeConfig, "%s bps fields must not be negative", where)
		}
		if pool.Mock.TvlUsd < 0 || pool.Mock.RewardRatePerSecond < 0 || pool.Mock.ProtocolFeeBps < 0 {
			return faults.New(faults.CodeConfig, "%s mock economics must not be negative", where)
		}
	}
	return nil
}
