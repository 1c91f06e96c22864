package server

import "treasuryd/state"

// Probe reasons reported on /healthz and /readyz.
const (
	reasonStarting         = "starting"
	reasonTickNotStarted   = "tick_not_started"
	reasonTickInProgress   = "tick_in_progress"
	reasonTickStuck        = "tick_stuck"
	reasonNoSuccessfulTick = "no_successful_tick"
	reasonOK               = "ok"
	reasonHeartbeatStale   = "heartbeat_stale"
)

// probe is the evaluated liveness of the agent loop.
type probe struct {
	Healthy bool
	Ready   bool
	Reason  string
}

// evaluateProbe classifies loop liveness from the runtime counters. All
// arguments are unix milliseconds. Readiness during an in-flight tick only
// requires a prior success; otherwise it requires a success inside the
// staleness window.
func evaluateProbe(rt state.RuntimeStatus, nowMs, staleMs int64) probe {
	succeededOnce := rt.LastSuccessfulTickAt > 0

	if rt.LastTickStartedAt == 0 {
		if nowMs-rt.StartedAt <= staleMs {
			return probe{Healthy: true, Reason: reasonStarting}
		}
		return probe{Reason: reasonTickNotStarted}
	}

	if rt.InFlight {
		if nowMs-rt.LastTickStartedAt <= staleMs {
			return probe{Healthy: true, Ready: succeededOnce, Reason: reasonTickInProgress}
		}
		return probe{Ready: succeededOnce, Reason: reasonTickStuck}
	}

	if !succeededOnce {
		last := rt.StartedAt
		if rt.LastTickStartedAt > last {
			last = rt.LastTickStartedAt
		}
		if rt.LastTickFinishedAt > last {
			last = rt.LastTickFinishedAt
		}
		return probe{Healthy: nowMs-last <= staleMs, Reason: reasonNoSuccessfulTick}
	}

	if nowMs-rt.LastSuccessfulTickAt <= staleMs {
		return probe{Healthy: true, Ready: true, Reason: reasonOK}
	}
	return probe{Reason: reasonHeartbeatStale}
}
