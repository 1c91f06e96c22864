package state

import (
	"sync"
	"time"
)

// Operator action kinds accepted on the control surface.
const (
	OperatorActionExit   = "exit"
	OperatorActionRotate = "rotate"
)

// OperatorAction is one queued operator command.
type OperatorAction struct {
	Kind        string `json:"kind"`
	PoolID      string `json:"poolId,omitempty"`
	RequestedAt int64  `json:"requestedAt"`
}

// OperatorState is the control surface served on /controls. Timestamps are
// unix milliseconds.
type OperatorState struct {
	Paused            bool            `json:"paused"`
	PendingAction     *OperatorAction `json:"pendingAction"`
	LastAppliedAction *OperatorAction `json:"lastAppliedAction"`
	UpdatedAt         int64           `json:"updatedAt"`
}

// Operator holds the pause flag and a single-slot pending command queue shared
// between the control server and the scheduler. A new command replaces any
// unconsumed one.
type Operator struct {
	mu  sync.Mutex
	st  OperatorState
	now func() time.Time
}

// NewOperator returns an unpaused operator with no pending command.
func NewOperator() *Operator {
	return &Operator{now: time.Now}
}

// Pause stops the scheduler from starting new ticks.
func (o *Operator) Pause() OperatorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.st.Paused = true
	o.st.UpdatedAt = o.nowMs()
	return o.snapshotLocked()
}

// Resume lifts the pause flag.
func (o *Operator) Resume() OperatorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.st.Paused = false
	o.st.UpdatedAt = o.nowMs()
	return o.snapshotLocked()
}

// Paused reports whether ticks are suspended.
func (o *Operator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.Paused
}

// RequestExit queues a forced exit to the parked token.
func (o *Operator) RequestExit() OperatorState {
	return o.queue(OperatorAction{Kind: OperatorActionExit})
}

// RequestRotate queues a forced rotation into the given pool.
func (o *Operator) RequestRotate(poolID string) OperatorState {
	return o.queue(OperatorAction{Kind: OperatorActionRotate, PoolID: poolID})
}

func (o *Operator) queue(action OperatorAction) OperatorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	action.RequestedAt = o.nowMs()
	o.st.PendingAction = &action
	o.st.UpdatedAt = action.RequestedAt
	return o.snapshotLocked()
}

// ConsumePendingAction atomically takes the pending command, moving it to
// lastAppliedAction. Returns nil when nothing is queued.
func (o *Operator) ConsumePendingAction() *OperatorAction {
	o.mu.Lock()
	defer o.mu.Unlock()
	pending := o.st.PendingAction
	if pending == nil {
		return nil
	}
	o.st.PendingAction = nil
	o.st.LastAppliedAction = pending
	o.st.UpdatedAt = o.nowMs()
	taken := *pending
	return &taken
}

// Snapshot returns a copy of the operator state.
func (o *Operator) Snapshot() OperatorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Operator) snapshotLocked() OperatorState {
	out := o.st
	if o.st.PendingAction != nil {
		pending := *o.st.PendingAction
		out.PendingAction = &pending
	}
	if o.st.LastAppliedAction != nil {
		applied := *o.st.LastAppliedAction
		out.LastAppliedAction = &applied
	}
	return out
}

func (o *Operator) nowMs() int64 {
	return o.now().UnixMilli()
}
