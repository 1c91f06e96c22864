package adapters

import (
	"context"
	"log/slog"
	"math/big"

	"treasuryd/config"
	"treasuryd/faults"
	"treasuryd/vault"
)

const receiptTokenABIJSON = `[
  {
    "type": "function",
    "name": "totalSupply",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`

const rewardGaugeABIJSON = `[
  {
    "type": "function",
    "name": "rewardRatePerSecond",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`

var (
	receiptTokenABI = mustABI(receiptTokenABIJSON)
	rewardGaugeABI  = mustABI(rewardGaugeABIJSON)
)

// gauge emission rates are 1e18-scaled tokens per second
const gaugeRateDecimals = 18

// Lending serves money-market pools. Deposits mint receipt tokens 1:1, so
// the adapter opts out of quote estimation. TVL is the receipt token's
// total supply; the incentive rate comes from the market's reward gauge
// at the pool address, falling back to the manifest when the gauge read
// fails.
type Lending struct {
	backend Backend
	token   config.Token
	log     *slog.Logger
}

var _ Adapter = (*Lending)(nil)

func NewLending(backend Backend, token config.Token, logger *slog.Logger) *Lending {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lending{backend: backend, token: token, log: logger}
}

func (*Lending) ID() string { return "lending" }

func (a *Lending) FetchPoolState(ctx context.Context, pool config.Pool) (PoolState, error) {
	supply, err := callUint(ctx, a.backend, pool.LpToken, receiptTokenABI, "totalSupply")
	if err != nil {
		return a.degrade(pool, err)
	}
	state := PoolState{
		TvlUsd:              tokensToFloat(supply, a.token.Decimals),
		RewardRatePerSecond: pool.Mock.RewardRatePerSecond,
		RewardTokenSymbol:   pool.RewardTokenSymbol,
		BaseApyBps:          pool.BaseApyBps,
		ProtocolFeeBps:      pool.Mock.ProtocolFeeBps,
	}
	rate, err := callUint(ctx, a.backend, pool.Pool, rewardGaugeABI, "rewardRatePerSecond")
	if err != nil {
		a.log.Warn("reward gauge read failed, keeping static rate", "pool", pool.ID, "err", err)
		return state, nil
	}
	state.RewardRatePerSecond = tokensToFloat(rate, gaugeRateDecimals)
	return state, nil
}

func (*Lending) EstimatePriceImpactBps(context.Context, config.Pool, *big.Int) (int, error) {
	return 0, nil
}

func (*Lending) BuildEnterRequest(_ context.Context, p EnterParams) (vault.EnterRequest, error) {
	return baseEnterRequest(p), nil
}

func (*Lending) BuildExitRequest(_ context.Context, p ExitParams) (vault.ExitRequest, error) {
	return baseExitRequest(p), nil
}

func (a *Lending) degrade(pool config.Pool, err error) (PoolState, error) {
	state, ok := mockPoolState(pool)
	if !ok {
		return PoolState{}, faults.Wrap(faults.CodeAdapterUnavailable, err,
			"market reads failed for %s and no static economics are configured", pool.ID)
	}
	a.log.Warn("falling back to static pool economics", "pool", pool.ID, "err", err)
	return state, nil
}
