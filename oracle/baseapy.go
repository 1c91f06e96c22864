package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"treasuryd/config"
	"treasuryd/observability"
)

const yearSeconds = 31_536_000

// EvmReader is the read-only chain surface the oracle needs.
type EvmReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

var (
	erc4626ReadABI = mustABI(`[
		{"name":"previewRedeem","type":"function","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"assets","type":"uint256"}]}
	]`)
	lendingReadABI = mustABI(`[
		{"name":"supplyRatePerSecond","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"rate","type":"uint256"}]}
	]`)
)

var lookbackShares = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// BaseApyOracle resolves live base-APY overrides per pool. Resolution is
// best-effort: failures are warned with a per-pool cooldown and the pool is
// simply absent from the returned map.
type BaseApyOracle struct {
	evm          EvmReader
	http         HTTPDoer
	lookback     time.Duration
	warnCooldown time.Duration
	timeout      time.Duration
	log          *slog.Logger
	metrics      *observability.OracleMetrics

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

// NewBaseApyOracle builds the oracle. evm may be nil, in which case on-chain
// resolvers are skipped and only GraphQL pools resolve.
func NewBaseApyOracle(cfg config.BaseApy, evm EvmReader, logger *slog.Logger) *BaseApyOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseApyOracle{
		evm:          evm,
		http:         &http.Client{Timeout: cfg.FetchTimeout.Duration},
		lookback:     cfg.Lookback.Duration,
		warnCooldown: cfg.WarnCooldown.Duration,
		timeout:      cfg.FetchTimeout.Duration,
		log:          logger.With("component", "base_apy_oracle"),
		metrics:      observability.Oracle(),
		lastWarn:     make(map[string]time.Time),
	}
}

// WithHTTP replaces the HTTP client, for tests.
func (o *BaseApyOracle) WithHTTP(client HTTPDoer) *BaseApyOracle {
	o.http = client
	return o
}

// ResolveBaseApyBpsByPool resolves overrides for all pools concurrently and
// returns whatever succeeded.
func (o *BaseApyOracle) ResolveBaseApyBpsByPool(ctx context.Context, pools []config.Pool) map[string]int {
	overrides := make(map[string]int, len(pools))
	var mu sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	for _, pool := range pools {
		pool := pool
		group.Go(func() error {
			bps, source, ok, err := o.resolvePool(gctx, pool)
			if err != nil {
				o.warnOnce(pool.ID, err)
				o.metrics.RecordBaseApy(source, "error")
				return nil
			}
			if !ok {
				return nil
			}
			o.metrics.RecordBaseApy(source, "ok")
			mu.Lock()
			overrides[pool.ID] = bps
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return overrides
}

func (o *BaseApyOracle) resolvePool(ctx context.Context, pool config.Pool) (int, string, bool, error) {
	if pool.ApyGraphqlURL != "" {
		bps, err := o.resolveGraphql(ctx, pool)
		return bps, "graphql", err == nil, err
	}
	switch pool.AdapterID {
	case "erc4626":
		if o.evm == nil {
			return 0, "erc4626", false, nil
		}
		bps, err := o.resolveErc4626Lookback(ctx, pool)
		return bps, "erc4626", err == nil, err
	case "lending":
		if o.evm == nil {
			return 0, "lending", false, nil
		}
		bps, err := o.resolveLendingRate(ctx, pool)
		return bps, "lending", err == nil, err
	}
	return 0, pool.AdapterID, false, nil
}

// resolveErc4626Lookback annualizes the vault share-price drift between now
// and the youngest block older than the lookback window.
func (o *BaseApyOracle) resolveErc4626Lookback(ctx context.Context, pool config.Pool) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	latest, err := o.evm.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	lookbackSecs := uint64(o.lookback.Seconds())
	if latest.Time <= lookbackSecs {
		return 0, fmt.Errorf("chain younger than lookback window")
	}
	target := latest.Time - lookbackSecs
	past, err := o.findBlockByTime(ctx, target, latest)
	if err != nil {
		return 0, err
	}
	elapsed := latest.Time - past.Time
	if elapsed == 0 {
		return 0, fmt.Errorf("lookback block equals latest block")
	}

	vault := common.HexToAddress(pool.Pool)
	nowAssets, err := o.previewRedeem(ctx, vault, latest.Number)
	if err != nil {
		return 0, fmt.Errorf("previewRedeem latest: %w", err)
	}
	pastAssets, err := o.previewRedeem(ctx, vault, past.Number)
	if err != nil {
		return 0, fmt.Errorf("previewRedeem past: %w", err)
	}
	if pastAssets.Sign() <= 0 {
		return 0, fmt.Errorf("past share price is zero")
	}

	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(nowAssets), new(big.Float).SetInt(pastAssets)).Float64()
	apy := math.Pow(ratio, float64(yearSeconds)/float64(elapsed)) - 1
	bps := int(math.Round(apy * 10000))
	if bps < 0 {
		bps = 0
	}
	return bps, nil
}

func (o *BaseApyOracle) previewRedeem(ctx context.Context, vault common.Address, block *big.Int) (*big.Int, error) {
	input, err := erc4626ReadABI.Pack("previewRedeem", lookbackShares)
	if err != nil {
		return nil, err
	}
	output, err := o.evm.CallContract(ctx, ethereum.CallMsg{To: &vault, Data: input}, block)
	if err != nil {
		return nil, err
	}
	values, err := erc4626ReadABI.Unpack("previewRedeem", output)
	if err != nil {
		return nil, err
	}
	assets, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected previewRedeem output")
	}
	return assets, nil
}

// findBlockByTime binary-searches for the youngest block whose timestamp is
// at or before target.
func (o *BaseApyOracle) findBlockByTime(ctx context.Context, target uint64, latest *types.Header) (*types.Header, error) {
	if latest.Time <= target {
		return latest, nil
	}
	var best *types.Header
	lo, hi := uint64(1), latest.Number.Uint64()
	for lo <= hi {
		mid := lo + (hi-lo)/2
		header, err := o.evm.HeaderByNumber(ctx, new(big.Int).SetUint64(mid))
		if err != nil {
			return nil, fmt.Errorf("header %d: %w", mid, err)
		}
		if header.Time <= target {
			best = header
			lo = mid + 1
		} else {
			if mid == 0 {
				break
			}
			hi = mid - 1
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no block at or before timestamp %d", target)
	}
	return best, nil
}

func (o *BaseApyOracle) resolveLendingRate(ctx context.Context, pool config.Pool) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	market := common.HexToAddress(pool.Pool)
	input, err := lendingReadABI.Pack("supplyRatePerSecond")
	if err != nil {
		return 0, err
	}
	output, err := o.evm.CallContract(ctx, ethereum.CallMsg{To: &market, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("supplyRatePerSecond: %w", err)
	}
	values, err := lendingReadABI.Unpack("supplyRatePerSecond", output)
	if err != nil {
		return 0, err
	}
	rate, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected supplyRatePerSecond output")
	}

	// rate is 1e18-scaled per second; simple APR in bps.
	bps := new(big.Int).Mul(rate, big.NewInt(yearSeconds))
	bps.Mul(bps, big.NewInt(10000))
	bps.Div(bps, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	if !bps.IsInt64() {
		return 0, fmt.Errorf("supply rate overflows")
	}
	value := int(bps.Int64())
	if value < 0 {
		value = 0
	}
	return value, nil
}

type graphqlRequest struct {
	Query     string            `json:"query"`
	Variables map[string]string `json:"variables"`
}

func (o *BaseApyOracle) resolveGraphql(ctx context.Context, pool config.Pool) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(graphqlRequest{
		Query:     `query VaultApy($vault: String!) { vault(id: $vault) { apyBps } }`,
		Variables: map[string]string{"vault": strings.ToLower(pool.Target)},
	})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pool.ApyGraphqlURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	payload := struct {
		Data struct {
			Vault *struct {
				ApyBps json.Number `json:"apyBps"`
			} `json:"vault"`
		} `json:"data"`
	}{}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if payload.Data.Vault == nil {
		return 0, fmt.Errorf("indexer returned no vault for %s", pool.Target)
	}
	value, err := payload.Data.Vault.ApyBps.Int64()
	if err != nil {
		return 0, fmt.Errorf("parse apyBps: %w", err)
	}
	if value < 0 {
		value = 0
	}
	return int(value), nil
}

func (o *BaseApyOracle) warnOnce(poolID string, err error) {
	now := time.Now()
	o.warnMu.Lock()
	last, seen := o.lastWarn[poolID]
	if seen && now.Sub(last) < o.warnCooldown {
		o.warnMu.Unlock()
		return
	}
	o.lastWarn[poolID] = now
	o.warnMu.Unlock()
	o.log.Warn("base apy resolution failed", "pool", poolID, "error", err)
}
