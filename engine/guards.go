// Package engine holds the pure decision logic: risk guards and the
// per-tick verdict over ranked pool snapshots. Nothing here touches the
// chain, the clock, or the store.
package engine

import (
	"fmt"
	"math"
	"strconv"

	"treasuryd/state"
)

// GuardResult is the outcome of one risk predicate.
type GuardResult struct {
	Triggered bool
	Reason    string
	Details   map[string]string
}

// DepegGuard fires when any configured stable trades further off its dollar
// peg than the threshold allows. The worst offender is reported; ties break
// on the lexicographically smaller symbol so the result is independent of
// map iteration order.
func DepegGuard(stablePrices map[string]float64, thresholdBps int) GuardResult {
	worstSymbol := ""
	worstPrice := 0.0
	worstDeviation := -1
	for symbol, price := range stablePrices {
		deviation := int(math.Round(math.Abs(price-1) * 10_000))
		if deviation < worstDeviation {
			continue
		}
		if deviation == worstDeviation && worstSymbol != "" && symbol >= worstSymbol {
			continue
		}
		worstSymbol, worstPrice, worstDeviation = symbol, price, deviation
	}
	if worstDeviation <= thresholdBps {
		return GuardResult{}
	}
	return GuardResult{
		Triggered: true,
		Reason: fmt.Sprintf("%s at %.4f is %d bps off peg (threshold %d)",
			worstSymbol, worstPrice, worstDeviation, thresholdBps),
		Details: map[string]string{
			"symbol":       worstSymbol,
			"price":        strconv.FormatFloat(worstPrice, 'f', 4, 64),
			"deviationBps": strconv.Itoa(worstDeviation),
		},
	}
}

// SlippageGuard fires when the snapshot's estimated price impact exceeds
// the policy cap.
func SlippageGuard(snapshot state.PoolSnapshot, maxPriceImpactBps int) GuardResult {
	if snapshot.SlippageBps <= maxPriceImpactBps {
		return GuardResult{}
	}
	return GuardResult{
		Triggered: true,
		Reason: fmt.Sprintf("%s slippage %d bps exceeds cap %d",
			snapshot.PoolID, snapshot.SlippageBps, maxPriceImpactBps),
		Details: map[string]string{
			"pool":        snapshot.PoolID,
			"slippageBps": strconv.Itoa(snapshot.SlippageBps),
		},
	}
}

// AprCliffGuard fires when the pool's incentive APR collapsed relative to
// the prior scan. Never triggered without a prior observation or when the
// prior incentive was already zero.
func AprCliffGuard(previous *state.PoolSnapshot, current state.PoolSnapshot, cliffDropBps int) GuardResult {
	if previous == nil || previous.IncentiveAprBps <= 0 {
		return GuardResult{}
	}
	if current.IncentiveAprBps >= previous.IncentiveAprBps {
		return GuardResult{}
	}
	dropBps := (previous.IncentiveAprBps - current.IncentiveAprBps) * 10_000 / previous.IncentiveAprBps
	if dropBps <= cliffDropBps {
		return GuardResult{}
	}
	return GuardResult{
		Triggered: true,
		Reason: fmt.Sprintf("incentive apr on %s dropped %d bps of its prior level (threshold %d)",
			current.PoolID, dropBps, cliffDropBps),
		Details: map[string]string{
			"pool":    current.PoolID,
			"prevBps": strconv.Itoa(previous.IncentiveAprBps),
			"currBps": strconv.Itoa(current.IncentiveAprBps),
			"dropBps": strconv.Itoa(dropBps),
		},
	}
}
