// Package state holds the agent's durable data model: the treasury position,
// per-tick pool snapshots, decisions, and announcement records. The types
// marshal to the JSON document persisted by the storage layer and served on
// the status API, so field names are part of the operator contract.
package state

// Action is the decision outcome for one tick.
type Action string

const (
	ActionHold       Action = "HOLD"
	ActionEnter      Action = "ENTER"
	ActionRotate     Action = "ROTATE"
	ActionExitToPark Action = "EXIT_TO_PARK"
)

// Actionable reports whether the action moves capital.
func (a Action) Actionable() bool {
	return a == ActionEnter || a == ActionRotate || a == ActionExitToPark
}

// ReasonCode classifies why a decision was taken.
type ReasonCode int

const (
	ReasonInitialDeploy       ReasonCode = 1
	ReasonApyUpgrade          ReasonCode = 2
	ReasonDepegExit           ReasonCode = 3
	ReasonAprCliffExit        ReasonCode = 4
	ReasonMinHoldActive       ReasonCode = 5
	ReasonDeltaBelowThreshold ReasonCode = 6
	ReasonPaybackTooLong      ReasonCode = 7
	ReasonSlippageTooHigh     ReasonCode = 8
	ReasonNoEligiblePool      ReasonCode = 9
	ReasonOperatorOverride    ReasonCode = 10
)

var reasonLabels = map[ReasonCode]string{
	ReasonInitialDeploy:       "INITIAL_DEPLOY",
	ReasonApyUpgrade:          "APY_UPGRADE",
	ReasonDepegExit:           "DEPEG_EXIT",
	ReasonAprCliffExit:        "APR_CLIFF_EXIT",
	ReasonMinHoldActive:       "MIN_HOLD_ACTIVE",
	ReasonDeltaBelowThreshold: "DELTA_BELOW_THRESHOLD",
	ReasonPaybackTooLong:      "PAYBACK_TOO_LONG",
	ReasonSlippageTooHigh:     "SLIPPAGE_TOO_HIGH",
	ReasonNoEligiblePool:      "NO_ELIGIBLE_POOL",
	ReasonOperatorOverride:    "OPERATOR_OVERRIDE",
}

// Label returns the stable name for the code, or "UNKNOWN".
func (r ReasonCode) Label() string {
	if label, ok := reasonLabels[r]; ok {
		return label
	}
	return "UNKNOWN"
}

// PoolSnapshot is the immutable per-tick economic observation of one pool.
type PoolSnapshot struct {
	PoolID              string  `json:"poolId"`
	Pair                string  `json:"pair"`
	Protocol            string  `json:"protocol"`
	Timestamp           int64   `json:"timestamp"`
	TvlUsd              float64 `json:"tvlUsd"`
	IncentiveAprBps     int     `json:"incentiveAprBps"`
	NetApyBps           int     `json:"netApyBps"`
	SlippageBps         int     `json:"slippageBps"`
	RewardRatePerSecond float64 `json:"rewardRatePerSecond"`
	RewardTokenPriceUsd float64 `json:"rewardTokenPriceUsd"`
}

// Position is the vault's current allocation. Exactly one of deployed
// (PoolID set), parked (ParkedToken set), or uninitialized (all nil) holds.
type Position struct {
	PoolID        *string `json:"poolId"`
	Pair          *string `json:"pair"`
	Protocol      *string `json:"protocol"`
	EnteredAt     *int64  `json:"enteredAt"`
	LpBalance     string  `json:"lpBalance"`
	LastNetApyBps int     `json:"lastNetApyBps"`
	ParkedToken   *string `json:"parkedToken"`
}

func (p Position) Deployed() bool { return p.PoolID != nil }

func (p Position) Parked() bool { return p.PoolID == nil && p.ParkedToken != nil }

func (p Position) Uninitialized() bool { return p.PoolID == nil && p.ParkedToken == nil }

// Deploy returns a position deployed in the given pool.
func Deploy(poolID, pair, protocol string, enteredAt int64, lpBalance string, netApyBps int) Position {
	return Position{
		PoolID:        &poolID,
		Pair:          &pair,
		Protocol:      &protocol,
		EnteredAt:     &enteredAt,
		LpBalance:     lpBalance,
		LastNetApyBps: netApyBps,
	}
}

// Park returns a position parked in the deposit token.
func Park(token string) Position {
	return Position{LpBalance: "0", ParkedToken: &token}
}

// Decision is the engine's verdict for one tick.
type Decision struct {
	Timestamp             int64      `json:"timestamp"`
	Action                Action     `json:"action"`
	ReasonCode            ReasonCode `json:"reasonCode"`
	Reason                string     `json:"reason"`
	ChosenPoolID          *string    `json:"chosenPoolId"`
	FromPoolID            *string    `json:"fromPoolId"`
	Emergency             bool       `json:"emergency"`
	OldNetApyBps          int        `json:"oldNetApyBps"`
	NewNetApyBps          int        `json:"newNetApyBps"`
	EstimatedPaybackHours *float64   `json:"estimatedPaybackHours"`
}

// TweetRecord is the audit row for one announcement.
type TweetRecord struct {
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	RemoteID  string `json:"remoteId,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
}

// Document is the durable state file layout.
type Document struct {
	Position  Position       `json:"position"`
	Snapshots []PoolSnapshot `json:"snapshots"`
	Decisions []Decision     `json:"decisions"`
	Tweets    []TweetRecord  `json:"tweets"`
}

// NewDocument returns an empty document with non-nil lists so the JSON file
// always renders arrays.
func NewDocument() *Document {
	return &Document{
		Snapshots: []PoolSnapshot{},
		Decisions: []Decision{},
		Tweets:    []TweetRecord{},
	}
}

// RuntimeStatus is the scheduler's counter block served on the status API.
// Timestamps are unix milliseconds; zero means never.
type RuntimeStatus struct {
	StartedAt            int64  `json:"startedAt"`
	TotalTicks           int64  `json:"totalTicks"`
	SuccessfulTicks      int64  `json:"successfulTicks"`
	FailedTicks          int64  `json:"failedTicks"`
	SkippedTicks         int64  `json:"skippedTicks"`
	InFlight             bool   `json:"inFlight"`
	LastTickStartedAt    int64  `json:"lastTickStartedAt"`
	LastTickFinishedAt   int64  `json:"lastTickFinishedAt"`
	LastSuccessfulTickAt int64  `json:"lastSuccessfulTickAt"`
	LastErrorAt          int64  `json:"lastErrorAt"`
	LastErrorMessage     string `json:"lastErrorMessage,omitempty"`
	DryRun               bool   `json:"dryRun"`
	LiveModeArmed        bool   `json:"liveModeArmed"`
}

// TrimTail bounds list to its last max elements, copying so the caller never
// aliases the original backing array.
func TrimTail[T any](list []T, max int) []T {
	if max <= 0 || len(list) <= max {
		return list
	}
	out := make([]T, max)
	copy(out, list[len(list)-max:])
	return out
}
