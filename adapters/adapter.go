// Package adapters maps pool records onto protocol-specific quote and
// calldata surfaces. One adapter serves every pool that shares its
// adapterId; the scanner and executor never talk to a venue directly.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"treasuryd/config"
	"treasuryd/faults"
	"treasuryd/vault"
)

var bpsDenominator = big.NewInt(10_000)

// errNoBackend marks reads attempted without an EVM connection. Adapters
// treat it like any other read failure and degrade to manifest economics.
var errNoBackend = errors.New("no evm backend configured")

// PoolState is the per-pool economics an adapter reports during a scan.
type PoolState struct {
	TvlUsd              float64
	RewardRatePerSecond float64
	RewardTokenSymbol   string
	BaseApyBps          int
	ProtocolFeeBps      int
}

// EnterParams carries everything the executor knows when building an
// enter leg. Adapters may tighten MinOut from a fresh preview but never
// loosen it.
type EnterParams struct {
	Pool                config.Pool
	AmountIn            *big.Int
	MinOut              *big.Int
	Deadline            *big.Int
	NetApyBps           int
	IntendedHoldSeconds int64
}

// ExitParams is the exit-leg counterpart of EnterParams.
type ExitParams struct {
	Pool     config.Pool
	TokenOut common.Address
	AmountLp *big.Int
	MinOut   *big.Int
	Deadline *big.Int
}

// Adapter is a protocol strategy. Implementations must be safe for
// concurrent use across pools.
type Adapter interface {
	ID() string
	FetchPoolState(ctx context.Context, pool config.Pool) (PoolState, error)
	EstimatePriceImpactBps(ctx context.Context, pool config.Pool, amountIn *big.Int) (int, error)
	BuildEnterRequest(ctx context.Context, params EnterParams) (vault.EnterRequest, error)
	BuildExitRequest(ctx context.Context, params ExitParams) (vault.ExitRequest, error)
}

// Backend is the read-only EVM surface adapters quote against.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Registry resolves adapters by the manifest's adapterId.
type Registry struct {
	byID map[string]Adapter
}

func NewRegistry(list ...Adapter) (*Registry, error) {
	byID := make(map[string]Adapter, len(list))
	for _, adapter := range list {
		if adapter == nil {
			continue
		}
		if _, dup := byID[adapter.ID()]; dup {
			return nil, fmt.Errorf("duplicate adapter id %q", adapter.ID())
		}
		byID[adapter.ID()] = adapter
	}
	return &Registry{byID: byID}, nil
}

// ForPool returns the adapter serving the pool's adapterId.
func (r *Registry) ForPool(pool config.Pool) (Adapter, error) {
	adapter, ok := r.byID[pool.AdapterID]
	if !ok {
		return nil, faults.New(faults.CodeAdapterUnavailable,
			"no adapter registered for %q", pool.AdapterID).WithDetail("pool", pool.ID)
	}
	return adapter, nil
}

// RotationCostBps estimates the cost of moving capital between two pools
// as the worse of the two configured round-trip costs. Staying put is free.
func RotationCostBps(from, to config.Pool) int {
	if from.ID == to.ID {
		return 0
	}
	cost := from.RotationCostBps
	if to.RotationCostBps > cost {
		cost = to.RotationCostBps
	}
	if cost < 0 {
		cost = 0
	}
	return cost
}

// TightenMinOut re-derives a minimum output from a fresh quote while
// preserving the tolerance implied by the original request:
// the requested minOut/amountIn ratio is clamped to [1, 10000] bps and
// applied to the quoted output. The result is never below 1.
func TightenMinOut(amountIn, requestedMinOut, quotedOut *big.Int) *big.Int {
	if amountIn == nil || requestedMinOut == nil || quotedOut == nil || amountIn.Sign() <= 0 {
		return requestedMinOut
	}
	tolerance := new(big.Int).Mul(requestedMinOut, bpsDenominator)
	tolerance.Quo(tolerance, amountIn)
	if tolerance.Sign() <= 0 {
		tolerance.SetInt64(1)
	}
	if tolerance.Cmp(bpsDenominator) > 0 {
		tolerance.Set(bpsDenominator)
	}
	minOut := new(big.Int).Mul(quotedOut, tolerance)
	minOut.Quo(minOut, bpsDenominator)
	if minOut.Sign() <= 0 {
		minOut.SetInt64(1)
	}
	return minOut
}

// roundTripImpactBps measures how much of amountIn is lost swapping in and
// straight back out. Gains clamp to zero.
func roundTripImpactBps(amountIn, roundTrip *big.Int) int {
	if amountIn == nil || amountIn.Sign() <= 0 || roundTrip == nil {
		return 0
	}
	diff := new(big.Int).Sub(amountIn, roundTrip)
	if diff.Sign() <= 0 {
		return 0
	}
	diff.Mul(diff, bpsDenominator)
	diff.Quo(diff, amountIn)
	return int(diff.Int64())
}

// tokensToFloat converts a raw integer amount into whole tokens.
func tokensToFloat(raw *big.Int, decimals int) float64 {
	if raw == nil || decimals < 0 {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
	return value
}

// mockPoolState builds economics from the manifest's static fields.
// Available only when a TVL is configured.
func mockPoolState(pool config.Pool) (PoolState, bool) {
	if pool.Mock.TvlUsd <= 0 {
		return PoolState{}, false
	}
	return PoolState{
		TvlUsd:              pool.Mock.TvlUsd,
		RewardRatePerSecond: pool.Mock.RewardRatePerSecond,
		RewardTokenSymbol:   pool.RewardTokenSymbol,
		BaseApyBps:          pool.BaseApyBps,
		ProtocolFeeBps:      pool.Mock.ProtocolFeeBps,
	}, true
}

func baseEnterRequest(p EnterParams) vault.EnterRequest {
	return vault.EnterRequest{
		Target:              common.HexToAddress(p.Pool.Target),
		Pool:                common.HexToAddress(p.Pool.Pool),
		TokenIn:             common.HexToAddress(p.Pool.TokenIn),
		LpToken:             common.HexToAddress(p.Pool.LpToken),
		AmountIn:            p.AmountIn,
		MinOut:              p.MinOut,
		Deadline:            p.Deadline,
		Pair:                p.Pool.Pair,
		Protocol:            p.Pool.Protocol,
		NetApyBps:           p.NetApyBps,
		IntendedHoldSeconds: p.IntendedHoldSeconds,
	}
}

func baseExitRequest(p ExitParams) vault.ExitRequest {
	return vault.ExitRequest{
		Target:   common.HexToAddress(p.Pool.Target),
		Pool:     common.HexToAddress(p.Pool.Pool),
		LpToken:  common.HexToAddress(p.Pool.LpToken),
		TokenOut: p.TokenOut,
		AmountLp: p.AmountLp,
		MinOut:   p.MinOut,
		Deadline: p.Deadline,
		Pair:     p.Pool.Pair,
		Protocol: p.Pool.Protocol,
	}
}

// callUint packs, calls and decodes a method returning a single uint256.
func callUint(ctx context.Context, backend Backend, target string, parsed abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	if backend == nil {
		return nil, errNoBackend
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	addr := common.HexToAddress(target)
	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, target, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned a non integer value", method)
	}
	return value, nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}
