// Package scanner fans out across the allow-listed pools each tick and
// produces ranked snapshots of their current economics.
package scanner

import (
	"context"
	"log/slog"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"treasuryd/adapters"
	"treasuryd/config"
	"treasuryd/faults"
	"treasuryd/observability"
	"treasuryd/oracle"
	"treasuryd/state"
)

const (
	yearSeconds        = 31_536_000
	defaultPoolTimeout = 12 * time.Second
)

// BaseApyResolver narrows the base-APY oracle to the single batched call
// the scanner makes per tick.
type BaseApyResolver interface {
	ResolveBaseApyBpsByPool(ctx context.Context, pools []config.Pool) map[string]int
}

// Config wires a scanner.
type Config struct {
	Manifest config.Manifest
	Registry *adapters.Registry
	Prices   oracle.PriceOracle
	// BaseApy may be nil; manifest base rates are used as-is then.
	BaseApy BaseApyResolver
	// TradeAmount sizes the slippage estimate, raw token units.
	TradeAmount *big.Int
	PoolTimeout time.Duration
}

type Scanner struct {
	manifest    config.Manifest
	registry    *adapters.Registry
	prices      oracle.PriceOracle
	baseApy     BaseApyResolver
	tradeAmount *big.Int
	poolTimeout time.Duration
	log         *slog.Logger
	metrics     *observability.AgentMetrics
}

func New(cfg Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.PoolTimeout
	if timeout <= 0 {
		timeout = defaultPoolTimeout
	}
	return &Scanner{
		manifest:    cfg.Manifest,
		registry:    cfg.Registry,
		prices:      cfg.Prices,
		baseApy:     cfg.BaseApy,
		tradeAmount: cfg.TradeAmount,
		poolTimeout: timeout,
		log:         logger,
		metrics:     observability.Agent(),
	}
}

// Scan snapshots every enabled pool concurrently. Per-pool failures are
// logged and skipped; the scan fails only when every enabled pool failed.
// Snapshots come back sorted by net APY descending, pool id ascending.
func (s *Scanner) Scan(ctx context.Context, nowTs int64) ([]state.PoolSnapshot, error) {
	started := time.Now()
	enabled := s.manifest.EnabledPools()
	if len(enabled) == 0 {
		s.log.Warn("no enabled pools to scan")
		return []state.PoolSnapshot{}, nil
	}

	var overrides map[string]int
	if s.baseApy != nil {
		overrides = s.baseApy.ResolveBaseApyBpsByPool(ctx, enabled)
	}

	var (
		mu        sync.Mutex
		snapshots []state.PoolSnapshot
	)
	g, groupCtx := errgroup.WithContext(ctx)
	for _, pool := range enabled {
		pool := pool
		g.Go(func() error {
			snapshot, err := s.scanPool(groupCtx, pool, nowTs, overrides)
			if err != nil {
				s.log.Warn("pool scan failed", "pool", pool.ID, "err", err)
				s.metrics.RecordPoolFailure(pool.ID)
				return nil
			}
			mu.Lock()
			snapshots = append(snapshots, snapshot)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(snapshots) == 0 {
		return nil, faults.New(faults.CodeScanEmpty,
			"all %d enabled pools failed to scan", len(enabled))
	}

	SortSnapshots(snapshots)
	for _, snapshot := range snapshots {
		s.metrics.RecordPoolEconomics(snapshot.PoolID, snapshot.NetApyBps, snapshot.TvlUsd)
	}
	s.metrics.RecordScan(time.Since(started))
	s.log.Info("scan complete",
		"pools", len(enabled),
		"snapshots", len(snapshots),
		"best", snapshots[0].PoolID,
		"bestNetApyBps", snapshots[0].NetApyBps,
		"elapsed", time.Since(started).Round(time.Millisecond).String(),
	)
	return snapshots, nil
}

func (s *Scanner) scanPool(ctx context.Context, pool config.Pool, nowTs int64, overrides map[string]int) (state.PoolSnapshot, error) {
	poolCtx, cancel := context.WithTimeout(ctx, s.poolTimeout)
	defer cancel()

	adapter, err := s.registry.ForPool(pool)
	if err != nil {
		return state.PoolSnapshot{}, err
	}
	poolState, err := adapter.FetchPoolState(poolCtx, pool)
	if err != nil {
		return state.PoolSnapshot{}, err
	}

	rewardPriceUsd := 0.0
	if poolState.RewardRatePerSecond > 0 && poolState.RewardTokenSymbol != "" {
		rewardPriceUsd, err = s.prices.GetPriceUsd(poolCtx, poolState.RewardTokenSymbol)
		if err != nil {
			return state.PoolSnapshot{}, err
		}
	}

	baseBps := poolState.BaseApyBps
	if override, ok := overrides[pool.ID]; ok {
		baseBps = override
	}
	incentiveBps := incentiveAprBps(poolState.RewardRatePerSecond, rewardPriceUsd, poolState.TvlUsd)

	slippageBps, err := adapter.EstimatePriceImpactBps(poolCtx, pool, s.tradeAmount)
	if err != nil {
		return state.PoolSnapshot{}, err
	}

	return state.PoolSnapshot{
		PoolID:              pool.ID,
		Pair:                pool.Pair,
		Protocol:            pool.Protocol,
		Timestamp:           nowTs,
		TvlUsd:              poolState.TvlUsd,
		IncentiveAprBps:     incentiveBps,
		NetApyBps:           netApyBps(baseBps, incentiveBps, poolState.ProtocolFeeBps),
		SlippageBps:         slippageBps,
		RewardRatePerSecond: poolState.RewardRatePerSecond,
		RewardTokenPriceUsd: rewardPriceUsd,
	}, nil
}

// SortSnapshots orders by net APY descending, pool id ascending on ties.
func SortSnapshots(snapshots []state.PoolSnapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		if snapshots[i].NetApyBps != snapshots[j].NetApyBps {
			return snapshots[i].NetApyBps > snapshots[j].NetApyBps
		}
		return snapshots[i].PoolID < snapshots[j].PoolID
	})
}

// incentiveAprBps annualizes the reward emission against pool TVL.
func incentiveAprBps(rewardRatePerSecond, rewardPriceUsd, tvlUsd float64) int {
	if tvlUsd <= 0 {
		return 0
	}
	apr := rewardRatePerSecond * yearSeconds * rewardPriceUsd / tvlUsd
	bps := int(math.Round(apr * 10_000))
	if bps < 0 {
		return 0
	}
	return bps
}

// netApyBps combines base yield, incentives and protocol fee, floored at 0.
func netApyBps(baseBps, incentiveBps, feeBps int) int {
	net := baseBps + incentiveBps - feeBps
	if net < 0 {
		return 0
	}
	return net
}
