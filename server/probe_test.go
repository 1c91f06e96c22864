package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"treasuryd/state"
)

func TestEvaluateProbe(t *testing.T) {
	const (
		nowMs   = int64(10_000_000)
		staleMs = int64(60_000)
	)
	tests := []struct {
		name    string
		rt      state.RuntimeStatus
		healthy bool
		ready   bool
		reason  string
	}{
		{
			name:    "fresh process still starting",
			rt:      state.RuntimeStatus{StartedAt: nowMs - 5_000},
			healthy: true,
			reason:  reasonStarting,
		},
		{
			name:    "starting exactly at the window boundary",
			rt:      state.RuntimeStatus{StartedAt: nowMs - staleMs},
			healthy: true,
			reason:  reasonStarting,
		},
		{
			name:   "never ticked past the window",
			rt:     state.RuntimeStatus{StartedAt: nowMs - 120_000},
			reason: reasonTickNotStarted,
		},
		{
			name: "tick in flight within window",
			rt: state.RuntimeStatus{
				StartedAt:            nowMs - 300_000,
				LastTickStartedAt:    nowMs - 10_000,
				LastSuccessfulTickAt: nowMs - 70_000,
				InFlight:             true,
			},
			healthy: true,
			ready:   true,
			reason:  reasonTickInProgress,
		},
		{
			name: "first tick in flight is not ready",
			rt: state.RuntimeStatus{
				StartedAt:         nowMs - 20_000,
				LastTickStartedAt: nowMs - 10_000,
				InFlight:          true,
			},
			healthy: true,
			reason:  reasonTickInProgress,
		},
		{
			name: "tick stuck past window keeps readiness from prior success",
			rt: state.RuntimeStatus{
				StartedAt:            nowMs - 600_000,
				LastTickStartedAt:    nowMs - 120_000,
				LastSuccessfulTickAt: nowMs - 500_000,
				InFlight:             true,
			},
			ready:  true,
			reason: reasonTickStuck,
		},
		{
			name: "ticking but never succeeded",
			rt: state.RuntimeStatus{
				StartedAt:          nowMs - 90_000,
				LastTickStartedAt:  nowMs - 30_000,
				LastTickFinishedAt: nowMs - 25_000,
			},
			healthy: true,
			reason:  reasonNoSuccessfulTick,
		},
		{
			name: "failures only and gone quiet",
			rt: state.RuntimeStatus{
				StartedAt:          nowMs - 900_000,
				LastTickStartedAt:  nowMs - 300_000,
				LastTickFinishedAt: nowMs - 299_000,
			},
			reason: reasonNoSuccessfulTick,
		},
		{
			name: "healthy heartbeat",
			rt: state.RuntimeStatus{
				StartedAt:            nowMs - 900_000,
				LastTickStartedAt:    nowMs - 30_000,
				LastTickFinishedAt:   nowMs - 29_000,
				LastSuccessfulTickAt: nowMs - 29_000,
			},
			healthy: true,
			ready:   true,
			reason:  reasonOK,
		},
		{
			name: "heartbeat stale",
			rt: state.RuntimeStatus{
				StartedAt:            nowMs - 900_000,
				LastTickStartedAt:    nowMs - 120_000,
				LastTickFinishedAt:   nowMs - 119_000,
				LastSuccessfulTickAt: nowMs - 119_000,
			},
			reason: reasonHeartbeatStale,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := evaluateProbe(tc.rt, nowMs, staleMs)
			require.Equal(t, tc.healthy, p.Healthy)
			require.Equal(t, tc.ready, p.Ready)
			require.Equal(t, tc.reason, p.Reason)
		})
	}
}
