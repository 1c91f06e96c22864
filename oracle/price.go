// Package oracle resolves USD prices and live base-APY overrides for the
// scanner. Price lookups are cached with TTL and degrade through stale and
// stable fallbacks before failing; base-APY resolution batches one concurrent
// probe per pool.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"treasuryd/config"
	"treasuryd/faults"
	"treasuryd/observability"
)

// PriceOracle is the USD price surface consumed by the scanner and guards.
type PriceOracle interface {
	GetPriceUsd(ctx context.Context, symbol string) (float64, error)
	GetStablePricesUsd(ctx context.Context) (map[string]float64, error)
}

// PriceTelemetry is a read-only snapshot of the live oracle's counters.
type PriceTelemetry struct {
	CacheFreshHits        uint64 `json:"cacheFreshHits"`
	StaleFallbackHits     uint64 `json:"staleFallbackHits"`
	StableFallbackHits    uint64 `json:"stableFallbackHits"`
	NetworkFetchSuccesses uint64 `json:"networkFetchSuccesses"`
	FetchFailures         uint64 `json:"fetchFailures"`
}

// HTTPDoer abstracts the HTTP client for tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// StaticPriceOracle serves fixed prices from configuration. Stable symbols
// default to 1.0 when not listed.
type StaticPriceOracle struct {
	prices  map[string]float64
	stables []string
}

// NewStaticPriceOracle builds the static oracle from the configured table and
// the manifest's stable set.
func NewStaticPriceOracle(prices map[string]float64, stables []string) *StaticPriceOracle {
	normalized := make(map[string]float64, len(prices))
	for symbol, value := range prices {
		normalized[normalizeSymbol(symbol)] = value
	}
	cleaned := make([]string, 0, len(stables))
	for _, s := range stables {
		cleaned = append(cleaned, normalizeSymbol(s))
	}
	return &StaticPriceOracle{prices: normalized, stables: cleaned}
}

// GetPriceUsd returns the configured price, or 1.0 for stable symbols.
func (o *StaticPriceOracle) GetPriceUsd(_ context.Context, symbol string) (float64, error) {
	key := normalizeSymbol(symbol)
	if value, ok := o.prices[key]; ok {
		return value, nil
	}
	for _, stable := range o.stables {
		if stable == key {
			return 1.0, nil
		}
	}
	return 0, faults.New(faults.CodePriceUnavailable, "no static price for %s", key)
}

// GetStablePricesUsd returns the configured stable set.
func (o *StaticPriceOracle) GetStablePricesUsd(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(o.stables))
	for _, symbol := range o.stables {
		price, err := o.GetPriceUsd(ctx, symbol)
		if err != nil {
			return nil, err
		}
		out[symbol] = price
	}
	return out, nil
}

type cacheEntry struct {
	value     float64
	expiresAt time.Time
}

// LivePriceOracle fetches spot prices over HTTP with a TTL cache. On fetch
// failure it falls back to the stale cache entry, then to 1.0 for stable
// symbols, before reporting PRICE_UNAVAILABLE.
type LivePriceOracle struct {
	endpoint  string
	apiKey    string
	symbolIDs map[string]string
	stables   []string
	client    HTTPDoer
	limiter   *rate.Limiter
	ttl       time.Duration
	timeout   time.Duration
	log       *slog.Logger
	metrics   *observability.OracleMetrics

	mu    sync.Mutex
	cache map[string]cacheEntry

	counterMu sync.Mutex
	counters  PriceTelemetry
}

// LiveOption adjusts the live oracle.
type LiveOption func(*LivePriceOracle)

// WithHTTPClient replaces the HTTP client, for tests.
func WithHTTPClient(client HTTPDoer) LiveOption {
	return func(o *LivePriceOracle) { o.client = client }
}

// NewLivePriceOracle builds the live oracle from configuration.
func NewLivePriceOracle(cfg config.PriceOracle, stables []string, logger *slog.Logger, opts ...LiveOption) *LivePriceOracle {
	if logger == nil {
		logger = slog.Default()
	}
	ids := make(map[string]string, len(cfg.SymbolIDs))
	for symbol, id := range cfg.SymbolIDs {
		ids[normalizeSymbol(symbol)] = strings.TrimSpace(id)
	}
	cleaned := make([]string, 0, len(stables))
	for _, s := range stables {
		cleaned = append(cleaned, normalizeSymbol(s))
	}
	oracle := &LivePriceOracle{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:    cfg.APIKey,
		symbolIDs: ids,
		stables:   cleaned,
		client:    &http.Client{Timeout: cfg.FetchTimeout.Duration},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		ttl:       cfg.CacheTTL.Duration,
		timeout:   cfg.FetchTimeout.Duration,
		log:       logger.With("component", "price_oracle"),
		metrics:   observability.Oracle(),
		cache:     make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(oracle)
	}
	return oracle
}

// GetPriceUsd resolves one symbol through cache, network, and fallbacks.
func (o *LivePriceOracle) GetPriceUsd(ctx context.Context, symbol string) (float64, error) {
	key := normalizeSymbol(symbol)
	now := time.Now()

	o.mu.Lock()
	entry, cached := o.cache[key]
	o.mu.Unlock()
	if cached && now.Before(entry.expiresAt) {
		o.bump(func(t *PriceTelemetry) { t.CacheFreshHits++ })
		o.metrics.RecordPriceLookup("fresh_cache")
		return entry.value, nil
	}

	value, err := o.fetch(ctx, key)
	if err == nil {
		o.mu.Lock()
		o.cache[key] = cacheEntry{value: value, expiresAt: now.Add(o.ttl)}
		o.mu.Unlock()
		o.bump(func(t *PriceTelemetry) { t.NetworkFetchSuccesses++ })
		o.metrics.RecordPriceLookup("network")
		return value, nil
	}

	o.bump(func(t *PriceTelemetry) { t.FetchFailures++ })
	if cached {
		o.bump(func(t *PriceTelemetry) { t.StaleFallbackHits++ })
		o.metrics.RecordPriceLookup("stale_fallback")
		o.log.Warn("price fetch failed, serving stale cache", "symbol", key, "error", err)
		return entry.value, nil
	}
	for _, stable := range o.stables {
		if stable == key {
			o.bump(func(t *PriceTelemetry) { t.StableFallbackHits++ })
			o.metrics.RecordPriceLookup("stable_fallback")
			o.log.Warn("price fetch failed, assuming stable parity", "symbol", key, "error", err)
			return 1.0, nil
		}
	}
	o.metrics.RecordPriceLookup("failure")
	return 0, faults.Wrap(faults.CodePriceUnavailable, err, "price for %s", key)
}

// GetStablePricesUsd resolves the configured stable set.
func (o *LivePriceOracle) GetStablePricesUsd(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(o.stables))
	for _, symbol := range o.stables {
		price, err := o.GetPriceUsd(ctx, symbol)
		if err != nil {
			return nil, err
		}
		out[symbol] = price
	}
	return out, nil
}

// Telemetry returns a copy of the counters.
func (o *LivePriceOracle) Telemetry() PriceTelemetry {
	o.counterMu.Lock()
	defer o.counterMu.Unlock()
	return o.counters
}

func (o *LivePriceOracle) bump(update func(*PriceTelemetry)) {
	o.counterMu.Lock()
	update(&o.counters)
	o.counterMu.Unlock()
}

func (o *LivePriceOracle) providerID(symbol string) string {
	if id, ok := o.symbolIDs[symbol]; ok && id != "" {
		return id
	}
	return strings.ToLower(symbol)
}

func (o *LivePriceOracle) fetch(ctx context.Context, symbol string) (float64, error) {
	if o.endpoint == "" {
		return 0, fmt.Errorf("no endpoint configured")
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	id := o.providerID(symbol)
	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", "usd")
	endpoint := fmt.Sprintf("%s/simple/price?%s", o.endpoint, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if o.apiKey != "" {
		req.Header.Set("x-api-key", o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	payload := map[string]map[string]json.Number{}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return 0, fmt.Errorf("provider returned no entry for %s", id)
	}
	raw, ok := entry["usd"]
	if !ok {
		return 0, fmt.Errorf("provider returned no usd quote for %s", id)
	}
	value, err := raw.Float64()
	if err != nil {
		return 0, fmt.Errorf("parse quote: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("non-positive quote %f", value)
	}
	return value, nil
}
