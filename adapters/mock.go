package adapters

import (
	"context"
	"math/big"

	"treasuryd/config"
	"treasuryd/vault"
)

// Mock serves pool economics straight from the manifest's static fields.
// It opts out of quote estimation, so price impact is always zero and
// enter/exit requests keep the caller's minOut. Dry runs and tests use it.
type Mock struct{}

var _ Adapter = (*Mock)(nil)

func NewMock() *Mock { return &Mock{} }

func (*Mock) ID() string { return "mock" }

func (*Mock) FetchPoolState(_ context.Context, pool config.Pool) (PoolState, error) {
	return PoolState{
		TvlUsd:              pool.Mock.TvlUsd,
		RewardRatePerSecond: pool.Mock.RewardRatePerSecond,
		RewardTokenSymbol:   pool.RewardTokenSymbol,
		BaseApyBps:          pool.BaseApyBps,
		ProtocolFeeBps:      pool.Mock.ProtocolFeeBps,
	}, nil
}

func (*Mock) EstimatePriceImpactBps(context.Context, config.Pool, *big.Int) (int, error) {
	return 0, nil
}

func (*Mock) BuildEnterRequest(_ context.Context, p EnterParams) (vault.EnterRequest, error) {
	return baseEnterRequest(p), nil
}

func (*Mock) BuildExitRequest(_ context.Context, p ExitParams) (vault.ExitRequest, error) {
	return baseExitRequest(p), nil
}
