package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"treasuryd/adapters"
	"treasuryd/config"
	"treasuryd/state"
)

// Input is everything one decision depends on. Decide never mutates it and
// never consults anything outside it, so equal inputs yield equal verdicts.
type Input struct {
	NowTs    int64
	Policy   config.Policy
	Manifest config.Manifest
	Position state.Position
	// Snapshots is the current scan; Previous the one before it.
	Snapshots    []state.PoolSnapshot
	Previous     []state.PoolSnapshot
	StablePrices map[string]float64
	// EntryFilter, when non-nil, restricts which pools may receive capital.
	// The current position is always allowed to be held or exited.
	EntryFilter map[string]bool
}

type candidate struct {
	snapshot state.PoolSnapshot
	pool     config.Pool
}

// Decide returns the verdict for one tick.
//
// Emergencies (depeg, incentive cliff) outrank everything while deployed.
// Otherwise a deployed position rotates only when the minimum hold has
// elapsed, an alternative beats it by the policy delta, the move pays for
// itself inside the payback horizon, and the entry passes the slippage cap.
func Decide(in Input) state.Decision {
	eligible := eligibleCandidates(in)
	if len(eligible) == 0 {
		return hold(in.NowTs, state.ReasonNoEligiblePool, "no eligible pools in scan")
	}

	depeg := DepegGuard(in.StablePrices, in.Policy.DepegThresholdBps)
	if in.Position.Deployed() {
		return decideDeployed(in, eligible, depeg)
	}
	return decideEntry(in, eligible, depeg)
}

func decideDeployed(in Input, eligible []candidate, depeg GuardResult) state.Decision {
	currentID := *in.Position.PoolID

	if depeg.Triggered {
		return exitToPark(in, currentID, state.ReasonDepegExit, depeg.Reason)
	}

	current, haveCurrent := snapshotByID(in.Snapshots, currentID)
	if haveCurrent {
		cliff := AprCliffGuard(previousSnapshot(in.Previous, currentID), current, in.Policy.AprCliffDropBps)
		if cliff.Triggered {
			return exitToPark(in, currentID, state.ReasonAprCliffExit, cliff.Reason)
		}
	}

	var enteredAt int64
	if in.Position.EnteredAt != nil {
		enteredAt = *in.Position.EnteredAt
	}
	if held := in.NowTs - enteredAt; held < in.Policy.MinHoldSeconds {
		d := hold(in.NowTs, state.ReasonMinHoldActive, fmt.Sprintf(
			"minimum hold active on %s for another %ds", currentID, in.Policy.MinHoldSeconds-held))
		d.FromPoolID = strptr(currentID)
		return d
	}

	if !haveCurrent {
		d := hold(in.NowTs, state.ReasonNoEligiblePool, fmt.Sprintf(
			"current pool %s missing from scan", currentID))
		d.FromPoolID = strptr(currentID)
		return d
	}

	alternate, ok := bestAlternate(in, eligible, currentID)
	if !ok {
		d := hold(in.NowTs, state.ReasonSlippageTooHigh, "no alternative pool passes the price impact cap")
		d.FromPoolID = strptr(currentID)
		d.OldNetApyBps = current.NetApyBps
		return d
	}

	deltaBps := alternate.snapshot.NetApyBps - current.NetApyBps
	if deltaBps < in.Policy.RotationDeltaApyBps {
		d := hold(in.NowTs, state.ReasonDeltaBelowThreshold, fmt.Sprintf(
			"apy delta %d bps below rotation threshold %d", deltaBps, in.Policy.RotationDeltaApyBps))
		d.FromPoolID = strptr(currentID)
		d.ChosenPoolID = strptr(alternate.pool.ID)
		d.OldNetApyBps = current.NetApyBps
		d.NewNetApyBps = alternate.snapshot.NetApyBps
		return d
	}

	currentPool, _ := in.Manifest.PoolByID(currentID)
	costBps := adapters.RotationCostBps(currentPool, alternate.pool)
	payback := paybackHours(costBps, deltaBps)
	if payback > in.Policy.MaxPaybackHours {
		d := hold(in.NowTs, state.ReasonPaybackTooLong, fmt.Sprintf(
			"rotation cost %d bps takes %.1fh to pay back at +%d bps (cap %.1fh)",
			costBps, payback, deltaBps, in.Policy.MaxPaybackHours))
		d.FromPoolID = strptr(currentID)
		d.ChosenPoolID = strptr(alternate.pool.ID)
		d.OldNetApyBps = current.NetApyBps
		d.NewNetApyBps = alternate.snapshot.NetApyBps
		if !math.IsInf(payback, 1) {
			d.EstimatedPaybackHours = &payback
		}
		return d
	}

	return state.Decision{
		Timestamp:  in.NowTs,
		Action:     state.ActionRotate,
		ReasonCode: state.ReasonApyUpgrade,
		Reason: fmt.Sprintf("rotating %s -> %s for +%d bps net",
			currentID, alternate.pool.ID, deltaBps),
		ChosenPoolID:          strptr(alternate.pool.ID),
		FromPoolID:            strptr(currentID),
		OldNetApyBps:          current.NetApyBps,
		NewNetApyBps:          alternate.snapshot.NetApyBps,
		EstimatedPaybackHours: &payback,
	}
}

func decideEntry(in Input, eligible []candidate, depeg GuardResult) state.Decision {
	if depeg.Triggered {
		return hold(in.NowTs, state.ReasonNoEligiblePool, "entries suspended: "+depeg.Reason)
	}
	for _, cand := range eligible {
		if !entryAllowed(in, cand.pool.ID) {
			continue
		}
		if SlippageGuard(cand.snapshot, in.Policy.MaxPriceImpactBps).Triggered {
			continue
		}
		return state.Decision{
			Timestamp:  in.NowTs,
			Action:     state.ActionEnter,
			ReasonCode: state.ReasonInitialDeploy,
			Reason: fmt.Sprintf("deploying to %s at %d bps net",
				cand.pool.ID, cand.snapshot.NetApyBps),
			ChosenPoolID: strptr(cand.pool.ID),
			NewNetApyBps: cand.snapshot.NetApyBps,
		}
	}
	return hold(in.NowTs, state.ReasonSlippageTooHigh, "no eligible pool passes the price impact cap")
}

// eligibleCandidates pairs snapshots with their manifest pools, drops
// anything not selectable, and ranks by net APY descending with slippage
// then pool id as tie-breaks.
func eligibleCandidates(in Input) []candidate {
	token := in.Manifest.Token.Address
	out := make([]candidate, 0, len(in.Snapshots))
	for _, snap := range in.Snapshots {
		pool, ok := in.Manifest.PoolByID(snap.PoolID)
		if !ok || !pool.Selectable() {
			continue
		}
		if !strings.EqualFold(pool.TokenIn, token) {
			continue
		}
		out = append(out, candidate{snapshot: snap, pool: pool})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].snapshot, out[j].snapshot
		if a.NetApyBps != b.NetApyBps {
			return a.NetApyBps > b.NetApyBps
		}
		if a.SlippageBps != b.SlippageBps {
			return a.SlippageBps < b.SlippageBps
		}
		return a.PoolID < b.PoolID
	})
	return out
}

func bestAlternate(in Input, eligible []candidate, currentID string) (candidate, bool) {
	for _, cand := range eligible {
		if cand.pool.ID == currentID {
			continue
		}
		if !entryAllowed(in, cand.pool.ID) {
			continue
		}
		if SlippageGuard(cand.snapshot, in.Policy.MaxPriceImpactBps).Triggered {
			continue
		}
		return cand, true
	}
	return candidate{}, false
}

func entryAllowed(in Input, poolID string) bool {
	if in.EntryFilter == nil {
		return true
	}
	return in.EntryFilter[poolID]
}

// paybackHours converts a one-off cost into the time the APY uplift needs
// to recoup it. Infinite at zero delta.
func paybackHours(costBps, deltaBps int) float64 {
	if deltaBps == 0 {
		return math.Inf(1)
	}
	return float64(costBps) / float64(deltaBps) * 24 * 365
}

func exitToPark(in Input, currentID string, code state.ReasonCode, reason string) state.Decision {
	old := in.Position.LastNetApyBps
	if snap, ok := snapshotByID(in.Snapshots, currentID); ok {
		old = snap.NetApyBps
	}
	return state.Decision{
		Timestamp:    in.NowTs,
		Action:       state.ActionExitToPark,
		ReasonCode:   code,
		Reason:       reason,
		FromPoolID:   strptr(currentID),
		Emergency:    true,
		OldNetApyBps: old,
	}
}

func hold(nowTs int64, code state.ReasonCode, reason string) state.Decision {
	return state.Decision{
		Timestamp:  nowTs,
		Action:     state.ActionHold,
		ReasonCode: code,
		Reason:     reason,
	}
}

func snapshotByID(snapshots []state.PoolSnapshot, poolID string) (state.PoolSnapshot, bool) {
	for _, snap := range snapshots {
		if snap.PoolID == poolID {
			return snap, true
		}
	}
	return state.PoolSnapshot{}, false
}

func previousSnapshot(previous []state.PoolSnapshot, poolID string) *state.PoolSnapshot {
	for i := range previous {
		if previous[i].PoolID == poolID {
			return &previous[i]
		}
	}
	return nil
}

func strptr(s string) *string { return &s }
