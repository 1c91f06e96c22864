package agent

import (
	"context"
	"fmt"
	"log/slog"

	"treasuryd/announcer"
	"treasuryd/engine"
	"treasuryd/executor"
	"treasuryd/faults"
	"treasuryd/state"
	"treasuryd/storage"
)

// tick is one scan/decide/execute pass. Executor failures come back inside
// the result and are logged without failing the tick; only scan, price, and
// persistence failures do.
func (a *Agent) tick(ctx context.Context, log *slog.Logger) error {
	if a.operator != nil && a.operator.Paused() {
		log.Info("agent paused, holding position")
		return nil
	}
	nowTs := a.now().Unix()

	// Prior state must be read before this tick appends anything: the cliff
	// guard compares against the previous scan and the training wheels count
	// decisions stored before this one.
	doc := a.store.Document()
	previous := lastSnapshotBatch(doc.Snapshots)
	recent := doc.Decisions
	position := doc.Position

	snapshots, err := a.scanner.Scan(ctx, nowTs)
	if err != nil {
		return err
	}
	if err := a.store.AppendSnapshots(snapshots); err != nil {
		return err
	}

	stables, err := a.prices.GetStablePricesUsd(ctx)
	if err != nil {
		return err
	}

	decision := a.decide(nowTs, position, snapshots, previous, stables)
	a.metrics.RecordDecision(string(decision.Action), decision.ReasonCode.Label())
	log.Info("decision taken",
		"action", string(decision.Action),
		"reasonCode", decision.ReasonCode.Label(),
		"reason", decision.Reason,
		"chosenPool", strval(decision.ChosenPoolID),
		"fromPool", strval(decision.FromPoolID),
		"emergency", decision.Emergency,
	)
	if err := a.store.AppendDecision(decision); err != nil {
		return err
	}
	if err := a.audit.RecordDecision(ctx, decision); err != nil {
		log.Warn("audit decision write failed", "error", err)
	}

	result := a.executor.Execute(ctx, executor.Input{
		NowTs:    nowTs,
		Decision: decision,
		Position: position,
		Recent:   recent,
	})
	if result.Err != nil {
		log.Error("execution failed",
			"action", string(result.Action),
			"status", result.Status,
			"code", string(faults.CodeOf(result.Err)),
			"error", result.Err,
		)
	}
	if result.PositionChanged {
		if err := a.store.SetPosition(result.Position); err != nil {
			return err
		}
	}
	if decision.Action.Actionable() {
		record := storage.ExecutionRecord{
			Timestamp:  nowTs,
			Action:     string(result.Action),
			Status:     result.Status,
			TxHash:     result.TxHash,
			ExitTxHash: result.ExitTxHash,
			Error:      errString(result.Err),
		}
		if err := a.audit.RecordExecution(ctx, record); err != nil {
			log.Warn("audit execution write failed", "error", err)
		}
	}

	a.announce(ctx, nowTs, decision, result, log)

	log.Info("tick complete",
		"action", string(decision.Action),
		"status", result.Status,
		"deployed", result.Position.Deployed(),
	)
	return nil
}

// decide forms this tick's verdict: a pending operator command preempts the
// engine, otherwise the engine decides from the scan.
func (a *Agent) decide(nowTs int64, position state.Position, snapshots, previous []state.PoolSnapshot, stables map[string]float64) state.Decision {
	if a.operator != nil {
		if cmd := a.operator.ConsumePendingAction(); cmd != nil {
			return a.forcedDecision(nowTs, *cmd, position, snapshots)
		}
	}
	return engine.Decide(engine.Input{
		NowTs:        nowTs,
		Policy:       a.policy,
		Manifest:     a.manifest,
		Position:     position,
		Snapshots:    snapshots,
		Previous:     previous,
		StablePrices: stables,
	})
}

// forcedDecision translates an operator command into a decision. Exits are
// emergencies and skip every gate; rotations keep the training wheels.
func (a *Agent) forcedDecision(nowTs int64, cmd state.OperatorAction, position state.Position, snapshots []state.PoolSnapshot) state.Decision {
	switch cmd.Kind {
	case state.OperatorActionExit:
		if !position.Deployed() {
			return overrideHold(nowTs, "operator exit requested with no deployed position")
		}
		currentID := *position.PoolID
		old := position.LastNetApyBps
		if snap, ok := snapshotByID(snapshots, currentID); ok {
			old = snap.NetApyBps
		}
		return state.Decision{
			Timestamp:    nowTs,
			Action:       state.ActionExitToPark,
			ReasonCode:   state.ReasonOperatorOverride,
			Reason:       "operator requested exit to park",
			FromPoolID:   &currentID,
			Emergency:    true,
			OldNetApyBps: old,
		}

	case state.OperatorActionRotate:
		pool, ok := a.manifest.PoolByID(cmd.PoolID)
		if !ok || !pool.Selectable() {
			return overrideHold(nowTs, fmt.Sprintf("operator rotation target %q is not selectable", cmd.PoolID))
		}
		newApy := 0
		if snap, ok := snapshotByID(snapshots, pool.ID); ok {
			newApy = snap.NetApyBps
		}
		if !position.Deployed() {
			return state.Decision{
				Timestamp:    nowTs,
				Action:       state.ActionEnter,
				ReasonCode:   state.ReasonOperatorOverride,
				Reason:       fmt.Sprintf("operator requested deploy to %s", pool.ID),
				ChosenPoolID: &pool.ID,
				NewNetApyBps: newApy,
			}
		}
		currentID := *position.PoolID
		if currentID == pool.ID {
			d := overrideHold(nowTs, fmt.Sprintf("operator rotation target %s is already held", pool.ID))
			d.FromPoolID = &currentID
			return d
		}
		old := position.LastNetApyBps
		if snap, ok := snapshotByID(snapshots, currentID); ok {
			old = snap.NetApyBps
		}
		return state.Decision{
			Timestamp:    nowTs,
			Action:       state.ActionRotate,
			ReasonCode:   state.ReasonOperatorOverride,
			Reason:       fmt.Sprintf("operator requested rotation %s -> %s", currentID, pool.ID),
			ChosenPoolID: &pool.ID,
			FromPoolID:   &currentID,
			OldNetApyBps: old,
			NewNetApyBps: newApy,
		}
	}
	return overrideHold(nowTs, fmt.Sprintf("unknown operator action %q", cmd.Kind))
}

// announce posts a notification for capital that actually moved and stores
// the record. Delivery failures are logged, never escalated.
func (a *Agent) announce(ctx context.Context, nowTs int64, decision state.Decision, result executor.Result, log *slog.Logger) {
	if a.announcer == nil {
		return
	}
	if result.Status != executor.StatusExecuted && result.Status != executor.StatusDryRun {
		return
	}
	ev, ok := a.eventFor(nowTs, decision, result)
	if !ok {
		return
	}
	record, err := a.announcer.Announce(ctx, ev)
	if err != nil {
		log.Warn("announcement failed", "kind", ev.Kind, "error", err)
	}
	if err := a.store.AppendTweet(record); err != nil {
		log.Warn("tweet record write failed", "error", err)
		return
	}
	if err := a.audit.RecordTweet(ctx, record); err != nil {
		log.Warn("audit tweet write failed", "error", err)
	}
}

// eventFor maps an executed decision onto its announcement.
func (a *Agent) eventFor(nowTs int64, decision state.Decision, result executor.Result) (announcer.Event, bool) {
	token := a.manifest.Token.Symbol
	switch decision.Action {
	case state.ActionEnter:
		poolID := strval(decision.ChosenPoolID)
		pool, _ := a.manifest.PoolByID(poolID)
		return announcer.Event{
			Kind:         announcer.KindDeployed,
			Timestamp:    nowTs,
			Token:        token,
			PoolID:       poolID,
			Protocol:     pool.Protocol,
			NewNetApyBps: decision.NewNetApyBps,
			TxHash:       result.TxHash,
		}, true
	case state.ActionRotate:
		toID := strval(decision.ChosenPoolID)
		fromID := strval(decision.FromPoolID)
		toPool, _ := a.manifest.PoolByID(toID)
		fromPool, _ := a.manifest.PoolByID(fromID)
		return announcer.Event{
			Kind:         announcer.KindRotated,
			Timestamp:    nowTs,
			Token:        token,
			PoolID:       toID,
			Protocol:     toPool.Protocol,
			FromPoolID:   fromID,
			FromProtocol: fromPool.Protocol,
			OldNetApyBps: decision.OldNetApyBps,
			NewNetApyBps: decision.NewNetApyBps,
			TxHash:       result.TxHash,
		}, true
	case state.ActionExitToPark:
		fromID := strval(decision.FromPoolID)
		fromPool, _ := a.manifest.PoolByID(fromID)
		return announcer.Event{
			Kind:         announcer.KindEmergencyExit,
			Timestamp:    nowTs,
			Token:        token,
			FromPoolID:   fromID,
			FromProtocol: fromPool.Protocol,
			Reason:       decision.ReasonCode.Label(),
			TxHash:       result.TxHash,
		}, true
	}
	return announcer.Event{}, false
}

// lastSnapshotBatch returns the most recent scan: the trailing run of
// snapshots sharing the newest timestamp.
func lastSnapshotBatch(history []state.PoolSnapshot) []state.PoolSnapshot {
	if len(history) == 0 {
		return nil
	}
	lastTs := history[len(history)-1].Timestamp
	start := len(history)
	for start > 0 && history[start-1].Timestamp == lastTs {
		start--
	}
	return history[start:]
}

func overrideHold(nowTs int64, reason string) state.Decision {
	return state.Decision{
		Timestamp:  nowTs,
		Action:     state.ActionHold,
		ReasonCode: state.ReasonOperatorOverride,
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

func strval(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
