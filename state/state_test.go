package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositionModes(t *testing.T) {
	var p Position
	require.True(t, p.Uninitialized())
	require.False(t, p.Deployed())

	p = Deploy("aave-usdc", "USDC", "aave", 1700000000, "1000000", 450)
	require.True(t, p.Deployed())
	require.False(t, p.Parked())
	require.Equal(t, "aave-usdc", *p.PoolID)
	require.Equal(t, int64(1700000000), *p.EnteredAt)

	p = Park("USDC")
	require.True(t, p.Parked())
	require.False(t, p.Deployed())
	require.Equal(t, "0", p.LpBalance)
}

func TestPositionJSONNulls(t *testing.T) {
	raw, err := json.Marshal(Park("USDC"))
	require.NoError(t, err)
	require.JSONEq(t, `{
		"poolId": null,
		"pair": null,
		"protocol": null,
		"enteredAt": null,
		"lpBalance": "0",
		"lastNetApyBps": 0,
		"parkedToken": "USDC"
	}`, string(raw))
}

func TestNewDocumentRendersArrays(t *testing.T) {
	raw, err := json.Marshal(NewDocument())
	require.NoError(t, err)
	require.Contains(t, string(raw), `"snapshots":[]`)
	require.Contains(t, string(raw), `"decisions":[]`)
	require.Contains(t, string(raw), `"tweets":[]`)
}

func TestTrimTail(t *testing.T) {
	list := []int{1, 2, 3, 4, 5}
	require.Equal(t, []int{4, 5}, TrimTail(list, 2))
	require.Equal(t, list, TrimTail(list, 5))
	require.Equal(t, list, TrimTail(list, 10))

	trimmed := TrimTail(list, 3)
	trimmed[0] = 99
	require.Equal(t, 3, list[2], "trim must copy, not alias")
}

func TestReasonLabels(t *testing.T) {
	require.Equal(t, "INITIAL_DEPLOY", ReasonInitialDeploy.Label())
	require.Equal(t, "NO_ELIGIBLE_POOL", ReasonNoEligiblePool.Label())
	require.Equal(t, "UNKNOWN", ReasonCode(42).Label())
}

func TestActionable(t *testing.T) {
	require.False(t, ActionHold.Actionable())
	require.True(t, ActionEnter.Actionable())
	require.True(t, ActionRotate.Actionable())
	require.True(t, ActionExitToPark.Actionable())
}
