package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"treasuryd/state"
)

func TestDepegGuard(t *testing.T) {
	// 150 bps off peg against a 100 bps threshold.
	result := DepegGuard(map[string]float64{"USDC": 0.985, "USDT": 1.0}, 100)
	require.True(t, result.Triggered)
	require.Equal(t, "USDC", result.Details["symbol"])
	require.Equal(t, "150", result.Details["deviationBps"])
	require.Contains(t, result.Reason, "150 bps off peg")

	// Exactly on the threshold does not trigger.
	result = DepegGuard(map[string]float64{"USDC": 0.99}, 100)
	require.False(t, result.Triggered)

	result = DepegGuard(map[string]float64{"USDC": 1.0, "USDT": 0.9995}, 100)
	require.False(t, result.Triggered)

	// Premium side of the peg counts too.
	result = DepegGuard(map[string]float64{"USDT": 1.02}, 100)
	require.True(t, result.Triggered)
	require.Equal(t, "200", result.Details["deviationBps"])

	require.False(t, DepegGuard(nil, 100).Triggered)
}

func TestDepegGuardReportsWorstOffender(t *testing.T) {
	prices := map[string]float64{"USDT": 0.992, "USDC": 0.985, "DAI": 0.997}
	for i := 0; i < 20; i++ {
		result := DepegGuard(prices, 50)
		require.True(t, result.Triggered)
		require.Equal(t, "USDC", result.Details["symbol"])
	}
}

func TestSlippageGuard(t *testing.T) {
	snapshot := state.PoolSnapshot{PoolID: "aero-usdc-usdt", SlippageBps: 30}
	require.False(t, SlippageGuard(snapshot, 30).Triggered)

	snapshot.SlippageBps = 31
	result := SlippageGuard(snapshot, 30)
	require.True(t, result.Triggered)
	require.Contains(t, result.Reason, "31 bps exceeds cap 30")
}

func TestAprCliffGuard(t *testing.T) {
	current := state.PoolSnapshot{PoolID: "aave-usdc", IncentiveAprBps: 150}

	// No prior observation, no cliff.
	require.False(t, AprCliffGuard(nil, current, 5_000).Triggered)

	// Prior incentive already zero, no cliff.
	prev := &state.PoolSnapshot{PoolID: "aave-usdc", IncentiveAprBps: 0}
	require.False(t, AprCliffGuard(prev, current, 5_000).Triggered)

	// 500 -> 150 is a 7000 bps drop.
	prev = &state.PoolSnapshot{PoolID: "aave-usdc", IncentiveAprBps: 500}
	result := AprCliffGuard(prev, current, 5_000)
	require.True(t, result.Triggered)
	require.Equal(t, "7000", result.Details["dropBps"])

	// A mild decay stays under the cliff.
	current.IncentiveAprBps = 400
	require.False(t, AprCliffGuard(prev, current, 5_000).Triggered)

	// Recovery never triggers.
	current.IncentiveAprBps = 600
	require.False(t, AprCliffGuard(prev, current, 5_000).Triggered)
}
