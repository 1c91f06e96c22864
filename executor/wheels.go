package executor

import (
	"treasuryd/faults"
	"treasuryd/state"
)

const rotationWindowSeconds int64 = 24 * 60 * 60

// checkTrainingWheels gates a non-emergency rotation behind the operator
// throttles. recent is the decision history stored before this tick, oldest
// first; blocked rotations count against the budget just like executed ones.
func checkTrainingWheels(recent []state.Decision, enterOnly bool, maxRotationsPerDay int, cooldownSeconds int64, nowTs int64) error {
	if enterOnly {
		return faults.New(faults.CodePolicyBlocked, "enter-only mode is active, rotations are disabled")
	}
	rotations := 0
	var lastRotateTs int64 = -1
	for _, dec := range recent {
		if dec.Action != state.ActionRotate {
			continue
		}
		if dec.Timestamp > lastRotateTs {
			lastRotateTs = dec.Timestamp
		}
		if nowTs-dec.Timestamp < rotationWindowSeconds {
			rotations++
		}
	}
	if maxRotationsPerDay > 0 && rotations >= maxRotationsPerDay {
		return faults.New(faults.CodePolicyBlocked,
			"rotation budget exhausted: %d rotations in the last 24h, cap is %d", rotations, maxRotationsPerDay)
	}
	if cooldownSeconds > 0 && lastRotateTs >= 0 && nowTs-lastRotateTs < cooldownSeconds {
		remaining := cooldownSeconds - (nowTs - lastRotateTs)
		return faults.New(faults.CodePolicyBlocked,
			"rotation cooldown active for another %ds", remaining)
	}
	return nil
}
