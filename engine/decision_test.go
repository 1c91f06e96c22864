package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"treasuryd/config"
	"treasuryd/state"
)

const nowTs = int64(1_700_000_000)

func enginePolicy() config.Policy {
	return config.Policy{
		MinHoldSeconds:      86_400,
		RotationDeltaApyBps: 200,
		MaxPaybackHours:     72,
		DepegThresholdBps:   100,
		MaxPriceImpactBps:   30,
		AprCliffDropBps:     5_000,
		TxDeadlineSeconds:   1_800,
	}
}

func enginePool(id string, costBps int) config.Pool {
	return config.Pool{
		ID:              id,
		Protocol:        "aave",
		Pair:            "USDC",
		Tier:            "S",
		Enabled:         true,
		AdapterID:       "mock",
		Target:          "0x1111111111111111111111111111111111111111",
		Pool:            "0x2222222222222222222222222222222222222222",
		LpToken:         "0x3333333333333333333333333333333333333333",
		TokenIn:         "0x00000000000000000000000000000000000000bb",
		RotationCostBps: costBps,
	}
}

func engineManifest(pools ...config.Pool) config.Manifest {
	return config.Manifest{
		Token: config.Token{
			Symbol:        "USDC",
			Address:       "0x00000000000000000000000000000000000000bb",
			Decimals:      6,
			StableSymbols: []string{"USDC", "USDT"},
		},
		Pools: pools,
	}
}

func snap(id string, netBps, slippageBps int) state.PoolSnapshot {
	return state.PoolSnapshot{
		PoolID:      id,
		Pair:        "USDC",
		Protocol:    "aave",
		Timestamp:   nowTs,
		TvlUsd:      5_000_000,
		NetApyBps:   netBps,
		SlippageBps: slippageBps,
	}
}

func pegged() map[string]float64 {
	return map[string]float64{"USDC": 1.0, "USDT": 0.9995}
}

func deployed(poolID string, enteredAt int64, lastNetBps int) state.Position {
	return state.Deploy(poolID, "USDC", "aave", enteredAt, "1000000", lastNetBps)
}

func TestInitialDeployPicksBestNetApy(t *testing.T) {
	in := Input{
		NowTs:    nowTs,
		Policy:   enginePolicy(),
		Manifest: engineManifest(enginePool("pool-a", 20), enginePool("pool-b", 20)),
		Snapshots: []state.PoolSnapshot{
			snap("pool-a", 450, 10),
			snap("pool-b", 420, 5),
		},
		StablePrices: pegged(),
	}
	d := Decide(in)

	require.Equal(t, state.ActionEnter, d.Action)
	require.Equal(t, state.ReasonInitialDeploy, d.ReasonCode)
	require.Equal(t, "pool-a", *d.ChosenPoolID)
	require.Equal(t, 450, d.NewNetApyBps)
	require.False(t, d.Emergency)
	require.Nil(t, d.FromPoolID)
}

func TestEnterSkipsPoolsOverSlippageCap(t *testing.T) {
	in := Input{
		NowTs:    nowTs,
		Policy:   enginePolicy(),
		Manifest: engineManifest(enginePool("pool-a", 20), enginePool("pool-b", 20)),
		Snapshots: []state.PoolSnapshot{
			snap("pool-a", 450, 45),
			snap("pool-b", 420, 5),
		},
		StablePrices: pegged(),
	}
	d := Decide(in)
	require.Equal(t, state.ActionEnter, d.Action)
	require.Equal(t, "pool-b", *d.ChosenPoolID)
}

func TestEnterHoldsWhenNothingPassesSlippage(t *testing.T) {
	in := Input{
		NowTs:        nowTs,
		Policy:       enginePolicy(),
		Manifest:     engineManifest(enginePool("pool-a", 20)),
		Snapshots:    []state.PoolSnapshot{snap("pool-a", 450, 45)},
		StablePrices: pegged(),
	}
	d := Decide(in)
	require.Equal(t, state.ActionHold, d.Action)
	require.Equal(t, state.ReasonSlippageTooHigh, d.ReasonCode)
}

func TestHoldWhenNoEligiblePools(t *testing.T) {
	reserve := enginePool("pool-r", 20)
	reserve.Tier = "R"
	in := Input{
		NowTs:        nowTs,
		Policy:       enginePolicy(),
		Manifest:     engineManifest(reserve),
		Snapshots:    []state.PoolSnapshot{snap("pool-r", 900, 5)},
		StablePrices: pegged(),
	}
	d := Decide(in)
	require.Equal(t, state.ActionHold, d.Action)
	require.Equal(t, state.ReasonNoEligiblePool, d.ReasonCode)
}

func TestNoPositionDepegHoldsEntries(t *testing.T) {
	in := Input{
		NowTs:        nowTs,
		Policy:       enginePolicy(),
		Manifest:     engineManifest(enginePool("pool-a", 20)),
		Snapshots:    []state.PoolSnapshot{snap("pool-a", 450, 10)},
		StablePrices: map[string]float64{"USDC": 0.985},
	}
	d := Decide(in)
	require.Equal(t, state.ActionHold, d.Action)
	require.Equal(t, state.ReasonNoEligiblePool, d.ReasonCode)
	require.Contains(t, d.Reason, "off peg")
	require.Nil(t, d.ChosenPoolID)
}

func TestDepegTriggersEmergencyExit(t *testing.T) {
	in := Input{
		NowTs:    nowTs,
		Policy:   enginePolicy(),
		Manifest: engineManifest(enginePool("pool-a", 20), enginePool("pool-b", 20)),
		Position: deployed("pool-a", nowTs-3_600, 430),
		Snapshots: []state.PoolSnapshot{
			snap("pool-a", 420, 10),
			snap("pool-b", 900, 5),
		},
		StablePrices: map[string]float64{"USDC": 0.985, "USDT": 1.0},
	}
	d := Decide(in)

	require.Equal(t, state.ActionExitToPark, d.Action)
	require.Equal(t, state.ReasonDepegExit, d.ReasonCode)
	require.True(t, d.Emergency)
	require.Equal(t, "pool-a", *d.FromPoolID)
	require.Equal(t, 420, d.OldNetApyBps)
	// Emergencies outrank the minimum hold, which is still active here.
}

func TestAprCliffTriggersEmergencyExit(t *testing.T) {
	current := snap("pool-a", 420, 10)
	current.IncentiveAprBps = 150
	previous := snap("pool-a", 900, 10)
	previous.IncentiveAprBps = 500

	in := Input{
		NowTs:        nowTs,
		Policy:       enginePolicy(),
		Manifest:     engineManifest(enginePool("pool-a", 20), enginePool("pool-b", 20)),
		Position:     deployed("pool-a", nowTs-3_600, 430),
		Snapshots:    []state.PoolSnapshot{current, snap("pool-b", 400, 5)},
		Previous:     []state.PoolSnapshot{previous},
		StablePrices: pegged(),
	}
	d := Decide(in)

	require.Equal(t, state.ActionExitToPark, d.Action)
	require.Equal(t, state.ReasonAprCliffExit, d.ReasonCode)
	require.True(t, d.Emergency)
	require.Contains(t, d.Reason, "7000 bps")
}

func TestMinHoldBoundary(t *testing.T) {
	manifest := engineManifest(enginePool("pool-a", 2), enginePool("pool-b", 1))
	base := Input{
		Policy:   enginePolicy(),
		Manifest: manifest,
		Snapshots: []state.PoolSnapshot{
			snap("pool-a", 420, 10),
			snap("pool-b", 1_120, 5),
		},
		StablePrices: pegged(),
	}

	// One second inside the window still holds.
	in := base
	in.NowTs = nowTs
	in.Position = deployed("pool-a", nowTs-86_399, 420)
	d := Decide(in)
	require.Equal(t, state.ActionHold, d.Action)
	require.Equal(t, state.ReasonMinHoldActive, d.ReasonCode)
	require.Equal(t, "pool-a", *d.FromPoolID)

	// Exactly at the boundary the hold expires and the rotation proceeds.
	in.Position = deployed("pool-a", nowTs-86_400, 420)
	d = Decide(in)
	require.Equal(t, state.ActionRotate, d.Action)
}

func TestHoldWhenCurrentPoolMissingFromScan(t *testing.T) {
	in := Input{
		NowTs:        nowTs,
		Policy:       enginePolicy(),
		Manifest:     engineManifest(enginePool("pool-a", 20), enginePool("pool-b", 20)),
		Position:     deployed("pool-a", nowTs-100_000, 430),
		Snapshots:    []state.PoolSnapshot{snap("pool-b", 900, 5)},
		StablePrices: pegged(),
	}
	d := Decide(in)
	require.Equal(t, state.ActionHold, d.Action)
	require.Equal(t, state.ReasonNoEligiblePool, d.ReasonCode)
	require.Equal(t, "pool-a", *d.FromPoolID)
}

func TestHoldWhenNoAlternatePassesSlippage(t *testing.T) {
	in := Input{
		NowTs:    nowTs,
		Policy:   enginePolicy(),
		Manifest: engineManifest(enginePool("pool-a", 20), enginePool("pool-b", 20)),
		Position: deployed("pool-a", nowTs-100_000, 430),
		Snapshots: []state.PoolSnapshot{
			snap("pool-a", 420, 10),
			snap("pool-b", 900, 45),
		},
		StablePrices: pegged(),
	}
	d := Decide(in)
	require.Equal(t, state.ActionHold, d.Action)
	require.Equal(t, state.ReasonSlippageTooHigh, d.ReasonCode)
}

func TestHoldWhenDeltaBelowThreshold(t *testing.T) {
	in := Input{
		NowTs:    nowTs,
		Policy:   enginePolicy(),
		Manifest: engineManifest(enginePool("pool-a", 20), enginePool("pool-b", 20)),
		Position: deployed("pool-a", nowTs-100_000, 430),
		Snapshots: []state.PoolSnapshot{
			snap("pool-a", 420, 10),
			snap("pool-b", 570, 5),
		},
		StablePrices: pegged(),
	}
	d := Decide(in)

	require.Equal(t, state.ActionHold, d.Action)
	require.Equal(t, state.ReasonDeltaBelowThreshold, d.ReasonCode)
	require.Equal(t, 420, d.OldNetApyBps)
	require.Equal(t, 570, d.NewNetApyBps)
	require.Equal(t, "pool-b", *d.ChosenPoolID)
}

func TestHoldWhenPaybackTooLong(t *testing.T) {
	in := Input{
		NowTs:    nowTs,
		Policy:   enginePolicy(),
		Manifest: engineManifest(enginePool("pool-a", 1_200), enginePool("pool-b", 20)),
		Position: deployed("pool-a", nowTs-100_000, 430),
		Snapshots: []state.PoolSnapshot{
			snap("pool-a", 420, 10),
			snap("pool-b", 820, 5),
		},
		StablePrices: pegged(),
	}
	d := Decide(in)

	require.Equal(t, state.ActionHold, d.Action)
	require.Equal(t, state.ReasonPaybackTooLong, d.ReasonCode)
	// 1200 bps cost at +400 bps pays back in (1200/400)*24*365 hours.
	require.NotNil(t, d.EstimatedPaybackHours)
	require.InDelta(t, 26_280.0, *d.EstimatedPaybackHours, 0.001)
}

func TestRotateWhenUpgradeClearsAllGates(t *testing.T) {
	in := Input{
		NowTs:    nowTs,
		Policy:   enginePolicy(),
		Manifest: engineManifest(enginePool("pool-a", 2), enginePool("pool-b", 1)),
		Position: deployed("pool-a", nowTs-100_000, 430),
		Snapshots: []state.PoolSnapshot{
			snap("pool-a", 420, 10),
			snap("pool-b", 1_120, 5),
		},
		StablePrices: pegged(),
	}
	d := Decide(in)

	require.Equal(t, state.ActionRotate, d.Action)
	require.Equal(t, state.ReasonApyUpgrade, d.ReasonCode)
	require.Equal(t, "pool-a", *d.FromPoolID)
	require.Equal(t, "pool-b", *d.ChosenPoolID)
	require.Equal(t, 420, d.OldNetApyBps)
	require.Equal(t, 1_120, d.NewNetApyBps)
	// 2 bps cost at +700 bps: (2/700)*24*365 hours.
	require.InDelta(t, 25.0286, *d.EstimatedPaybackHours, 0.001)
	require.False(t, d.Emergency)
}

func TestRankingTieBreaksOnSlippageThenPoolID(t *testing.T) {
	manifest := engineManifest(
		enginePool("pool-a", 20),
		enginePool("pool-b", 20),
		enginePool("pool-c", 20),
	)
	in := Input{
		NowTs:    nowTs,
		Policy:   enginePolicy(),
		Manifest: manifest,
		Snapshots: []state.PoolSnapshot{
			snap("pool-c", 450, 5),
			snap("pool-a", 450, 9),
			snap("pool-b", 450, 5),
		},
		StablePrices: pegged(),
	}
	d := Decide(in)
	// All tie on APY; pool-b and pool-c tie on slippage; id breaks it.
	require.Equal(t, "pool-b", *d.ChosenPoolID)
}

func TestEntryFilterRestrictsTargets(t *testing.T) {
	in := Input{
		NowTs:    nowTs,
		Policy:   enginePolicy(),
		Manifest: engineManifest(enginePool("pool-a", 20), enginePool("pool-b", 20)),
		Snapshots: []state.PoolSnapshot{
			snap("pool-a", 450, 10),
			snap("pool-b", 420, 5),
		},
		StablePrices: pegged(),
		EntryFilter:  map[string]bool{"pool-b": true},
	}
	d := Decide(in)
	require.Equal(t, state.ActionEnter, d.Action)
	require.Equal(t, "pool-b", *d.ChosenPoolID)
}

func TestParkedPositionReenters(t *testing.T) {
	in := Input{
		NowTs:        nowTs,
		Policy:       enginePolicy(),
		Manifest:     engineManifest(enginePool("pool-a", 20)),
		Position:     state.Park("USDC"),
		Snapshots:    []state.PoolSnapshot{snap("pool-a", 450, 10)},
		StablePrices: pegged(),
	}
	d := Decide(in)
	require.Equal(t, state.ActionEnter, d.Action)
	require.Equal(t, "pool-a", *d.ChosenPoolID)
}

func TestDecideIsPureAndDoesNotMutateInput(t *testing.T) {
	snapshots := []state.PoolSnapshot{
		snap("pool-b", 1_120, 5),
		snap("pool-a", 420, 10),
	}
	original := append([]state.PoolSnapshot(nil), snapshots...)

	in := Input{
		NowTs:        nowTs,
		Policy:       enginePolicy(),
		Manifest:     engineManifest(enginePool("pool-a", 2), enginePool("pool-b", 1)),
		Position:     deployed("pool-a", nowTs-100_000, 430),
		Snapshots:    snapshots,
		StablePrices: pegged(),
	}

	first := Decide(in)
	second := Decide(in)
	require.Equal(t, first, second)
	require.Equal(t, original, snapshots)
}
