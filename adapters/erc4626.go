package adapters

import (
	"context"
	"log/slog"
	"math/big"

	"treasuryd/config"
	"treasuryd/faults"
	"treasuryd/vault"
)

const erc4626QuoteABIJSON = `[
  {
    "type": "function",
    "name": "totalAssets",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "previewDeposit",
    "stateMutability": "view",
    "inputs": [{"name": "assets", "type": "uint256"}],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "previewRedeem",
    "stateMutability": "view",
    "inputs": [{"name": "shares", "type": "uint256"}],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`

var erc4626QuoteABI = mustABI(erc4626QuoteABIJSON)

// Erc4626 quotes tokenized-vault pools through the standard preview
// methods. TVL comes from totalAssets; incentive economics stay on the
// manifest because the standard has no reward surface.
type Erc4626 struct {
	backend Backend
	token   config.Token
	log     *slog.Logger
}

var _ Adapter = (*Erc4626)(nil)

func NewErc4626(backend Backend, token config.Token, logger *slog.Logger) *Erc4626 {
	if logger == nil {
		logger = slog.Default()
	}
	return &Erc4626{backend: backend, token: token, log: logger}
}

func (*Erc4626) ID() string { return "erc4626" }

func (a *Erc4626) FetchPoolState(ctx context.Context, pool config.Pool) (PoolState, error) {
	assets, err := callUint(ctx, a.backend, pool.Target, erc4626QuoteABI, "totalAssets")
	if err != nil {
		return a.degrade(pool, err)
	}
	return PoolState{
		// The deposit token is a dollar stable, so assets equal USD.
		TvlUsd:              tokensToFloat(assets, a.token.Decimals),
		RewardRatePerSecond: pool.Mock.RewardRatePerSecond,
		RewardTokenSymbol:   pool.RewardTokenSymbol,
		BaseApyBps:          pool.BaseApyBps,
		ProtocolFeeBps:      pool.Mock.ProtocolFeeBps,
	}, nil
}

// EstimatePriceImpactBps round-trips amountIn through previewDeposit and
// previewRedeem and reports the loss.
func (a *Erc4626) EstimatePriceImpactBps(ctx context.Context, pool config.Pool, amountIn *big.Int) (int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 || a.backend == nil {
		return 0, nil
	}
	shares, err := callUint(ctx, a.backend, pool.Target, erc4626QuoteABI, "previewDeposit", amountIn)
	if err != nil {
		return 0, err
	}
	back, err := callUint(ctx, a.backend, pool.Target, erc4626QuoteABI, "previewRedeem", shares)
	if err != nil {
		return 0, err
	}
	return roundTripImpactBps(amountIn, back), nil
}

func (a *Erc4626) BuildEnterRequest(ctx context.Context, p EnterParams) (vault.EnterRequest, error) {
	req := baseEnterRequest(p)
	quoted, err := callUint(ctx, a.backend, p.Pool.Target, erc4626QuoteABI, "previewDeposit", p.AmountIn)
	if err != nil {
		a.log.Warn("enter preview failed, keeping requested min out", "pool", p.Pool.ID, "err", err)
		return req, nil
	}
	req.MinOut = TightenMinOut(p.AmountIn, p.MinOut, quoted)
	return req, nil
}

func (a *Erc4626) BuildExitRequest(ctx context.Context, p ExitParams) (vault.ExitRequest, error) {
	req := baseExitRequest(p)
	quoted, err := callUint(ctx, a.backend, p.Pool.Target, erc4626QuoteABI, "previewRedeem", p.AmountLp)
	if err != nil {
		a.log.Warn("exit preview failed, keeping requested min out", "pool", p.Pool.ID, "err", err)
		return req, nil
	}
	req.MinOut = TightenMinOut(p.AmountLp, p.MinOut, quoted)
	return req, nil
}

func (a *Erc4626) degrade(pool config.Pool, err error) (PoolState, error) {
	state, ok := mockPoolState(pool)
	if !ok {
		return PoolState{}, faults.Wrap(faults.CodeAdapterUnavailable, err,
			"erc4626 reads failed for %s and no static economics are configured", pool.ID)
	}
	a.log.Warn("falling back to static pool economics", "pool", pool.ID, "err", err)
	return state, nil
}
