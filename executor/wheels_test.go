package executor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"treasuryd/faults"
	"treasuryd/state"
)

const wheelsNow int64 = 1_700_000_000

func rotateAt(ts int64) state.Decision {
	return state.Decision{Timestamp: ts, Action: state.ActionRotate, ReasonCode: state.ReasonApyUpgrade}
}

func holdAt(ts int64) state.Decision {
	return state.Decision{Timestamp: ts, Action: state.ActionHold, ReasonCode: state.ReasonDeltaBelowThreshold}
}

func TestTrainingWheelsAllowFirstRotation(t *testing.T) {
	require.NoError(t, checkTrainingWheels(nil, false, 1, 21_600, wheelsNow))
}

func TestTrainingWheelsEnterOnly(t *testing.T) {
	err := checkTrainingWheels(nil, true, 5, 21_600, wheelsNow)
	require.Error(t, err)
	require.Equal(t, faults.CodePolicyBlocked, faults.CodeOf(err))
	require.Contains(t, err.Error(), "enter-only")
}

func TestTrainingWheelsDailyBudget(t *testing.T) {
	recent := []state.Decision{
		rotateAt(wheelsNow - 12*3600),
		holdAt(wheelsNow - 10*3600),
		rotateAt(wheelsNow - 8*3600),
	}
	err := checkTrainingWheels(recent, false, 2, 3600, wheelsNow)
	require.Error(t, err)
	require.Equal(t, faults.CodePolicyBlocked, faults.CodeOf(err))
	require.Contains(t, err.Error(), "budget")
}

func TestTrainingWheelsBlocksTheExtraRotation(t *testing.T) {
	// With a cap of N, the (N+1)-th rotation inside 24h must not pass.
	const maxPerDay = 3
	recent := make([]state.Decision, 0, maxPerDay)
	for i := 0; i < maxPerDay; i++ {
		recent = append(recent, rotateAt(wheelsNow-int64(20-i)*3600))
	}
	err := checkTrainingWheels(recent, false, maxPerDay, 3600, wheelsNow)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cap is 3")
}

func TestTrainingWheelsBudgetIgnoresOldRotations(t *testing.T) {
	recent := []state.Decision{
		rotateAt(wheelsNow - rotationWindowSeconds), // exactly a day old, aged out
		rotateAt(wheelsNow - 8*3600),
	}
	require.NoError(t, checkTrainingWheels(recent, false, 2, 3600, wheelsNow))
}

func TestTrainingWheelsCooldownBoundary(t *testing.T) {
	blocked := checkTrainingWheels([]state.Decision{rotateAt(wheelsNow - 21_599)}, false, 5, 21_600, wheelsNow)
	require.Error(t, blocked)
	require.Equal(t, faults.CodePolicyBlocked, faults.CodeOf(blocked))
	require.Contains(t, blocked.Error(), "cooldown")

	cleared := checkTrainingWheels([]state.Decision{rotateAt(wheelsNow - 21_600)}, false, 5, 21_600, wheelsNow)
	require.NoError(t, cleared)
}
