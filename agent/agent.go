// Package agent runs the scan/decide/execute loop. One tick scans the
// allow-listed pools, asks the decision engine for a verdict, applies it
// through the executor, and persists every observation before announcing.
// Ticks are single-flight: a scheduled tick that finds the previous one
// still running is counted and skipped, never queued.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"treasuryd/announcer"
	"treasuryd/config"
	"treasuryd/executor"
	"treasuryd/faults"
	"treasuryd/observability"
	"treasuryd/oracle"
	"treasuryd/scanner"
	"treasuryd/state"
	"treasuryd/storage"
)

// Scanner produces the per-tick pool snapshots.
type Scanner interface {
	Scan(ctx context.Context, nowTs int64) ([]state.PoolSnapshot, error)
}

var _ Scanner = (*scanner.Scanner)(nil)

// Executor applies one decision to the vault.
type Executor interface {
	Execute(ctx context.Context, in executor.Input) executor.Result
}

var _ Executor = (*executor.Executor)(nil)

// Announcer renders and delivers action notifications.
type Announcer interface {
	Announce(ctx context.Context, ev announcer.Event) (state.TweetRecord, error)
}

var _ Announcer = (*announcer.Announcer)(nil)

// StablePrices resolves the price table the depeg guard inspects.
type StablePrices interface {
	GetStablePricesUsd(ctx context.Context) (map[string]float64, error)
}

var _ StablePrices = (oracle.PriceOracle)(nil)

// Config assembles an Agent. Audit may be nil; Announcer and Operator may be
// nil when those surfaces are disabled.
type Config struct {
	Runtime   config.Runtime
	Policy    config.Policy
	Manifest  config.Manifest
	Store     *storage.Store
	Scanner   Scanner
	Prices    StablePrices
	Executor  Executor
	Announcer Announcer
	Operator  *state.Operator
	Audit     *storage.Audit
}

// Agent is the tick scheduler. Its Status method satisfies the status
// server's runtime surface.
type Agent struct {
	runtime   config.Runtime
	policy    config.Policy
	manifest  config.Manifest
	store     *storage.Store
	scanner   Scanner
	prices    StablePrices
	executor  Executor
	announcer Announcer
	operator  *state.Operator
	audit     *storage.Audit

	log     *slog.Logger
	metrics *observability.AgentMetrics
	tracer  trace.Tracer
	now     func() time.Time

	mu sync.Mutex
	rt state.RuntimeStatus
}

// New builds the agent. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		runtime:   cfg.Runtime,
		policy:    cfg.Policy,
		manifest:  cfg.Manifest,
		store:     cfg.Store,
		scanner:   cfg.Scanner,
		prices:    cfg.Prices,
		executor:  cfg.Executor,
		announcer: cfg.Announcer,
		operator:  cfg.Operator,
		audit:     cfg.Audit,
		log:       logger.With("component", "agent"),
		metrics:   observability.Agent(),
		tracer:    otel.Tracer("treasury/agent"),
		now:       time.Now,
	}
	a.rt = state.RuntimeStatus{
		StartedAt:     a.now().UnixMilli(),
		DryRun:        cfg.Runtime.DryRunEnabled(),
		LiveModeArmed: cfg.Runtime.LiveModeArmed,
	}
	return a
}

// Status returns a copy of the runtime counters.
func (a *Agent) Status() state.RuntimeStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rt
}

// Run executes the loop until ctx is cancelled. In run-once mode it executes
// a single tick and returns its error; in continuous mode tick errors are
// recorded on the runtime status and the loop keeps going. Shutdown waits for
// an in-flight tick to finish.
func (a *Agent) Run(ctx context.Context) error {
	if a.runtime.RunOnceEnabled() {
		a.log.Info("run-once mode, executing a single tick")
		return a.Tick(ctx)
	}

	interval := a.runtime.ScanInterval()
	a.log.Info("agent loop started",
		"interval", interval.String(),
		"dryRun", a.runtime.DryRunEnabled(),
		"liveModeArmed", a.runtime.LiveModeArmed,
	)
	_ = a.Tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			a.log.Info("agent loop stopped")
			return nil
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = a.Tick(ctx)
			}()
		}
	}
}

// Tick runs one pass of the loop. It returns nil when the previous tick is
// still in flight; the skip is counted instead.
func (a *Agent) Tick(ctx context.Context) error {
	if !a.begin() {
		a.log.Warn("tick skipped, previous tick still in flight")
		a.metrics.RecordSkippedTick()
		return nil
	}
	started := a.now()
	tickID := uuid.NewString()
	ctx, span := a.tracer.Start(ctx, "agent.tick",
		trace.WithAttributes(attribute.String("tick_id", tickID)))
	defer span.End()

	log := a.log.With("tickId", tickID)
	err := a.tick(ctx, log)
	a.end(started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("tick failed", "code", string(faults.CodeOf(err)), "error", err)
	}
	return err
}

// begin claims the single tick slot and opens the counter window.
func (a *Agent) begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rt.InFlight {
		a.rt.SkippedTicks++
		return false
	}
	a.rt.InFlight = true
	a.rt.TotalTicks++
	a.rt.LastTickStartedAt = a.now().UnixMilli()
	return true
}

// end closes the counter window with the tick's outcome.
func (a *Agent) end(started time.Time, err error) {
	elapsed := a.now().Sub(started)
	a.mu.Lock()
	defer a.mu.Unlock()
	nowMs := a.now().UnixMilli()
	a.rt.InFlight = false
	a.rt.LastTickFinishedAt = nowMs
	if err != nil {
		a.rt.FailedTicks++
		a.rt.LastErrorAt = nowMs
		a.rt.LastErrorMessage = err.Error()
		a.metrics.RecordTick("failed", elapsed)
		return
	}
	a.rt.SuccessfulTicks++
	a.rt.LastSuccessfulTickAt = nowMs
	a.metrics.RecordTick("success", elapsed)
}
