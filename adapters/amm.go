package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"treasuryd/config"
	"treasuryd/faults"
	"treasuryd/vault"
)

const pairABIJSON = `[
  {
    "type": "function",
    "name": "getReserves",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [
      {"name": "reserve0", "type": "uint112"},
      {"name": "reserve1", "type": "uint112"},
      {"name": "blockTimestampLast", "type": "uint32"}
    ]
  },
  {
    "type": "function",
    "name": "token0",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "address"}]
  }
]`

var pairABI = mustABI(pairABIJSON)

var (
	ammFeeNumerator   = big.NewInt(997)
	ammFeeDenominator = big.NewInt(1000)
)

// Amm quotes constant-product pairs. Price impact is the loss of swapping
// amountIn into the pair and straight back out at current reserves, which
// charges the swap fee twice plus twice the depth impact. Enter and exit
// requests keep the caller's minOut: minting LP has no single-token quote
// surface.
type Amm struct {
	backend Backend
	token   config.Token
	log     *slog.Logger
}

var _ Adapter = (*Amm)(nil)

func NewAmm(backend Backend, token config.Token, logger *slog.Logger) *Amm {
	if logger == nil {
		logger = slog.Default()
	}
	return &Amm{backend: backend, token: token, log: logger}
}

func (*Amm) ID() string { return "amm" }

func (a *Amm) FetchPoolState(ctx context.Context, pool config.Pool) (PoolState, error) {
	reserveIn, _, err := a.orientedReserves(ctx, pool)
	if err != nil {
		return a.degrade(pool, err)
	}
	return PoolState{
		// Both sides of a stable pair carry roughly equal value.
		TvlUsd:              2 * tokensToFloat(reserveIn, a.token.Decimals),
		RewardRatePerSecond: pool.Mock.RewardRatePerSecond,
		RewardTokenSymbol:   pool.RewardTokenSymbol,
		BaseApyBps:          pool.BaseApyBps,
		ProtocolFeeBps:      pool.Mock.ProtocolFeeBps,
	}, nil
}

func (a *Amm) EstimatePriceImpactBps(ctx context.Context, pool config.Pool, amountIn *big.Int) (int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 || a.backend == nil {
		return 0, nil
	}
	reserveIn, reserveOut, err := a.orientedReserves(ctx, pool)
	if err != nil {
		return 0, err
	}
	out := getAmountOut(amountIn, reserveIn, reserveOut)
	back := getAmountOut(out, reserveOut, reserveIn)
	return roundTripImpactBps(amountIn, back), nil
}

func (a *Amm) BuildEnterRequest(_ context.Context, p EnterParams) (vault.EnterRequest, error) {
	return baseEnterRequest(p), nil
}

func (a *Amm) BuildExitRequest(_ context.Context, p ExitParams) (vault.ExitRequest, error) {
	return baseExitRequest(p), nil
}

// orientedReserves returns the pair reserves ordered as (deposit token,
// counter token).
func (a *Amm) orientedReserves(ctx context.Context, pool config.Pool) (*big.Int, *big.Int, error) {
	if a.backend == nil {
		return nil, nil, errNoBackend
	}
	pairAddr := common.HexToAddress(pool.Pool)

	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("pack getReserves: %w", err)
	}
	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &pairAddr, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("call getReserves on %s: %w", pool.Pool, err)
	}
	values, err := pairABI.Unpack("getReserves", out)
	if err != nil {
		return nil, nil, fmt.Errorf("decode getReserves: %w", err)
	}
	reserve0, ok0 := values[0].(*big.Int)
	reserve1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("getReserves returned non integer reserves")
	}

	data, err = pairABI.Pack("token0")
	if err != nil {
		return nil, nil, fmt.Errorf("pack token0: %w", err)
	}
	out, err = a.backend.CallContract(ctx, ethereum.CallMsg{To: &pairAddr, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("call token0 on %s: %w", pool.Pool, err)
	}
	values, err = pairABI.Unpack("token0", out)
	if err != nil {
		return nil, nil, fmt.Errorf("decode token0: %w", err)
	}
	token0, ok := values[0].(common.Address)
	if !ok {
		return nil, nil, fmt.Errorf("token0 returned a non address value")
	}

	if token0 == common.HexToAddress(pool.TokenIn) {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

// getAmountOut is the constant-product output for a 30 bps fee pair.
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	inWithFee := new(big.Int).Mul(amountIn, ammFeeNumerator)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, ammFeeDenominator)
	denominator.Add(denominator, inWithFee)
	return numerator.Quo(numerator, denominator)
}

func (a *Amm) degrade(pool config.Pool, err error) (PoolState, error) {
	state, ok := mockPoolState(pool)
	if !ok {
		return PoolState{}, faults.Wrap(faults.CodeAdapterUnavailable, err,
			"pair reads failed for %s and no static economics are configured", pool.ID)
	}
	a.log.Warn("falling back to static pool economics", "pool", pool.ID, "err", err)
	return state, nil
}
