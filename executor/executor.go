// Package executor turns actionable decisions into vault transactions. It
// sizes amounts from live vault reads, applies the rotation training wheels,
// and runs every transaction through the simulate-then-send protocol. All
// failures come back classified inside the Result so the scheduler can log
// them without failing the tick.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"treasuryd/adapters"
	"treasuryd/config"
	"treasuryd/faults"
	"treasuryd/observability"
	"treasuryd/state"
	"treasuryd/vault"
)

// Execution statuses recorded on results and metrics.
const (
	StatusSkipped  = "skipped"
	StatusDryRun   = "dry_run"
	StatusBlocked  = "blocked"
	StatusFailed   = "failed"
	StatusExecuted = "executed"
)

// Vault is the chain surface the executor drives. *vault.Client satisfies it;
// it may be left nil in dry-run setups without an RPC endpoint.
type Vault interface {
	HasKey() bool
	Balance(ctx context.Context) (*big.Int, error)
	LpBalance(ctx context.Context, lpToken common.Address) (*big.Int, error)
	MovementCapBps(ctx context.Context) (int, error)
	HasOpenPosition(ctx context.Context) (bool, error)
	SupportsAnytimeLiquidity(ctx context.Context) bool
	Simulate(ctx context.Context, data []byte) error
	Send(ctx context.Context, data []byte) (*types.Transaction, error)
	WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockTime(ctx context.Context, number *big.Int) (uint64, error)
}

var _ Vault = (*vault.Client)(nil)

// Config assembles an Executor.
type Config struct {
	Vault    Vault
	Registry *adapters.Registry
	Manifest config.Manifest
	Policy   config.Policy
	Runtime  config.Runtime
}

// Executor applies decisions to the vault.
type Executor struct {
	vault    Vault
	registry *adapters.Registry
	manifest config.Manifest
	policy   config.Policy
	runtime  config.Runtime
	log      *slog.Logger
	metrics  *observability.AgentMetrics
	tracer   trace.Tracer
}

// New builds an executor. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		vault:    cfg.Vault,
		registry: cfg.Registry,
		manifest: cfg.Manifest,
		policy:   cfg.Policy,
		runtime:  cfg.Runtime,
		log:      logger.With("component", "executor"),
		metrics:  observability.Agent(),
		tracer:   otel.Tracer("treasury/executor"),
	}
}

// Input is one decision plus the context it runs in. Recent is the decision
// history stored before this tick, oldest first; the training wheels derive
// the rotation budget and cooldown from it.
type Input struct {
	NowTs    int64
	Decision state.Decision
	Position state.Position
	Recent   []state.Decision
}

// Result reports one execution attempt. Err carries the classified failure;
// the scheduler records it without failing the tick. Position is the
// post-execution position, PositionChanged reports whether it moved. On the
// legacy two-leg rotation ExitTxHash carries the park leg.
type Result struct {
	Action          state.Action
	Status          string
	TxHash          string
	ExitTxHash      string
	Position        state.Position
	PositionChanged bool
	Err             error
}

func (r *Result) fail(err error) {
	r.Status = StatusFailed
	r.Err = err
}

func (r *Result) block(err error) {
	r.Status = StatusBlocked
	r.Err = err
}

// Execute applies one decision to the vault. HOLD decisions are a no-op and
// never touch the chain or the position.
func (e *Executor) Execute(ctx context.Context, in Input) Result {
	res := Result{Action: in.Decision.Action, Status: StatusSkipped, Position: in.Position}
	if !in.Decision.Action.Actionable() {
		return res
	}

	ctx, span := e.tracer.Start(ctx, "executor.apply", trace.WithAttributes(
		attribute.String("action", string(in.Decision.Action)),
		attribute.Bool("emergency", in.Decision.Emergency),
	))
	defer span.End()

	switch in.Decision.Action {
	case state.ActionEnter:
		e.enter(ctx, in, &res)
	case state.ActionRotate:
		e.rotate(ctx, in, &res)
	case state.ActionExitToPark:
		e.exit(ctx, in, &res)
	}

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	e.metrics.RecordExecution(string(in.Decision.Action), res.Status)
	return res
}

func (e *Executor) enter(ctx context.Context, in Input, res *Result) {
	poolID := strval(in.Decision.ChosenPoolID)
	pool, ok := e.manifest.PoolByID(poolID)
	if !ok {
		res.fail(faults.New(faults.CodeConfig, "chosen pool %q is not in the manifest", poolID))
		return
	}
	amountIn, err := e.sizeEnter(ctx)
	if err != nil {
		res.fail(err)
		return
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		res.block(faults.New(faults.CodePolicyBlocked, "no deployable balance"))
		return
	}
	dl := deadline(in.NowTs, e.policy.TxDeadlineSeconds)
	req, err := e.buildEnterRequest(ctx, pool, amountIn, in.Decision.NewNetApyBps, dl)
	if err != nil {
		res.fail(err)
		return
	}
	calldata, err := vault.EnterCalldata(req)
	if err != nil {
		res.fail(faults.Wrap(faults.CodeConfig, err, "encode enter call for %s", pool.ID))
		return
	}
	sub, err := e.submit(ctx, calldata, in.NowTs, "enter:"+pool.ID)
	if err != nil {
		res.Status = sub.status
		res.Err = err
		return
	}
	lp := e.postTradeLp(ctx, pool, req.MinOut)
	res.Position = state.Deploy(pool.ID, pool.Pair, pool.Protocol,
		e.enteredAt(ctx, sub, in.NowTs), lp.String(), in.Decision.NewNetApyBps)
	res.PositionChanged = true
	res.TxHash = sub.txHash
	res.Status = sub.status
	e.log.Info("entered pool",
		"pool", pool.ID, "amountIn", amountIn.String(), "minOut", req.MinOut.String(),
		"txHash", sub.txHash, "status", sub.status)
}

func (e *Executor) rotate(ctx context.Context, in Input, res *Result) {
	if !in.Decision.Emergency {
		if err := checkTrainingWheels(in.Recent, e.runtime.EnterOnly,
			e.runtime.MaxRotationsPerDay, e.runtime.CooldownSeconds, in.NowTs); err != nil {
			e.log.Warn("rotation blocked by training wheels", "reason", err.Error())
			res.block(err)
			return
		}
	}
	if !in.Position.Deployed() {
		res.block(faults.New(faults.CodePolicyBlocked, "no deployed position to rotate"))
		return
	}
	fromPool, ok := e.manifest.PoolByID(strval(in.Position.PoolID))
	if !ok {
		res.fail(faults.New(faults.CodeConfig, "current pool %q is not in the manifest", strval(in.Position.PoolID)))
		return
	}
	toPool, ok := e.manifest.PoolByID(strval(in.Decision.ChosenPoolID))
	if !ok {
		res.fail(faults.New(faults.CodeConfig, "chosen pool %q is not in the manifest", strval(in.Decision.ChosenPoolID)))
		return
	}
	e.warnWhenVaultDisagrees(ctx)
	amountLp := e.sizeRotate(in.Position)
	if amountLp == nil || amountLp.Sign() <= 0 {
		res.block(faults.New(faults.CodePolicyBlocked, "no lp balance to rotate"))
		return
	}
	if e.supportsAtomicRotate(ctx) {
		e.rotateAtomic(ctx, in, res, fromPool, toPool, amountLp)
		return
	}
	e.rotateParkFirst(ctx, in, res, fromPool, toPool, amountLp)
}

// rotateAtomic issues the vault's single rotate call carrying both legs.
func (e *Executor) rotateAtomic(ctx context.Context, in Input, res *Result, fromPool, toPool config.Pool, amountLp *big.Int) {
	dl := deadline(in.NowTs, e.policy.TxDeadlineSeconds)
	exitReq, err := e.buildExitRequest(ctx, fromPool, amountLp, dl)
	if err != nil {
		res.fail(err)
		return
	}
	// The enter leg is sized from the exit leg's guaranteed floor.
	enterIn := new(big.Int).Set(exitReq.MinOut)
	enterReq, err := e.buildEnterRequest(ctx, toPool, enterIn, in.Decision.NewNetApyBps, dl)
	if err != nil {
		res.fail(err)
		return
	}
	calldata, err := vault.RotateCalldata(vault.RotateRequest{
		Exit:         exitReq,
		Enter:        enterReq,
		OldNetApyBps: in.Decision.OldNetApyBps,
		NewNetApyBps: in.Decision.NewNetApyBps,
		ReasonCode:   int(in.Decision.ReasonCode),
	})
	if err != nil {
		res.fail(faults.Wrap(faults.CodeConfig, err, "encode rotate call %s -> %s", fromPool.ID, toPool.ID))
		return
	}
	sub, err := e.submit(ctx, calldata, in.NowTs, "rotate:"+fromPool.ID+":"+toPool.ID)
	if err != nil {
		res.Status = sub.status
		res.Err = err
		return
	}
	lp := e.postTradeLp(ctx, toPool, enterReq.MinOut)
	res.Position = state.Deploy(toPool.ID, toPool.Pair, toPool.Protocol,
		e.enteredAt(ctx, sub, in.NowTs), lp.String(), in.Decision.NewNetApyBps)
	res.PositionChanged = true
	res.TxHash = sub.txHash
	res.Status = sub.status
	e.log.Info("rotated position",
		"from", fromPool.ID, "to", toPool.ID, "amountLp", amountLp.String(),
		"txHash", sub.txHash, "status", sub.status)
}

// rotateParkFirst unwinds into the deposit token and re-enters in a second
// transaction, for vaults without anytime liquidity. The parked intermediate
// state is recorded so a failed enter leg leaves the truth on disk.
func (e *Executor) rotateParkFirst(ctx context.Context, in Input, res *Result, fromPool, toPool config.Pool, amountLp *big.Int) {
	dl := deadline(in.NowTs, e.policy.TxDeadlineSeconds)
	exitReq, err := e.buildExitRequest(ctx, fromPool, amountLp, dl)
	if err != nil {
		res.fail(err)
		return
	}
	exitCalldata, err := vault.ExitCalldata(exitReq)
	if err != nil {
		res.fail(faults.Wrap(faults.CodeConfig, err, "encode exit call for %s", fromPool.ID))
		return
	}
	exitSub, err := e.submit(ctx, exitCalldata, in.NowTs, "rotate-exit:"+fromPool.ID)
	if err != nil {
		res.Status = exitSub.status
		res.Err = err
		return
	}
	res.ExitTxHash = exitSub.txHash
	res.Position = state.Park(e.manifest.Token.Symbol)
	res.PositionChanged = true

	enterIn, err := e.sizeEnter(ctx)
	if err != nil {
		res.fail(err)
		return
	}
	if enterIn == nil || enterIn.Sign() <= 0 {
		res.block(faults.New(faults.CodePolicyBlocked, "no deployable balance after parking"))
		return
	}
	enterReq, err := e.buildEnterRequest(ctx, toPool, enterIn, in.Decision.NewNetApyBps, dl)
	if err != nil {
		res.fail(err)
		return
	}
	enterCalldata, err := vault.EnterCalldata(enterReq)
	if err != nil {
		res.fail(faults.Wrap(faults.CodeConfig, err, "encode enter call for %s", toPool.ID))
		return
	}
	enterSub, err := e.submit(ctx, enterCalldata, in.NowTs, "rotate-enter:"+toPool.ID)
	if err != nil {
		res.Status = enterSub.status
		res.Err = err
		return
	}
	lp := e.postTradeLp(ctx, toPool, enterReq.MinOut)
	res.Position = state.Deploy(toPool.ID, toPool.Pair, toPool.Protocol,
		e.enteredAt(ctx, enterSub, in.NowTs), lp.String(), in.Decision.NewNetApyBps)
	res.TxHash = enterSub.txHash
	res.Status = enterSub.status
	e.log.Info("rotated position via park",
		"from", fromPool.ID, "to", toPool.ID,
		"exitTxHash", exitSub.txHash, "enterTxHash", enterSub.txHash, "status", enterSub.status)
}

func (e *Executor) exit(ctx context.Context, in Input, res *Result) {
	if !in.Position.Deployed() {
		res.block(faults.New(faults.CodePolicyBlocked, "no deployed position to exit"))
		return
	}
	pool, ok := e.manifest.PoolByID(strval(in.Position.PoolID))
	if !ok {
		res.fail(faults.New(faults.CodeConfig, "current pool %q is not in the manifest", strval(in.Position.PoolID)))
		return
	}
	e.warnWhenVaultDisagrees(ctx)
	amountLp, err := e.sizeExit(ctx, pool, in.Position)
	if err != nil {
		res.fail(err)
		return
	}
	if amountLp == nil || amountLp.Sign() <= 0 {
		res.block(faults.New(faults.CodePolicyBlocked, "no lp balance to withdraw"))
		return
	}
	dl := deadline(in.NowTs, e.policy.TxDeadlineSeconds)
	req, err := e.buildExitRequest(ctx, pool, amountLp, dl)
	if err != nil {
		res.fail(err)
		return
	}
	calldata, err := vault.ExitCalldata(req)
	if err != nil {
		res.fail(faults.Wrap(faults.CodeConfig, err, "encode exit call for %s", pool.ID))
		return
	}
	sub, err := e.submit(ctx, calldata, in.NowTs, "exit:"+pool.ID)
	if err != nil {
		res.Status = sub.status
		res.Err = err
		return
	}
	residual := e.postExitLp(ctx, pool, in.Position, amountLp)
	if residual.Sign() > 0 {
		reduced := in.Position
		reduced.LpBalance = residual.String()
		res.Position = reduced
	} else {
		res.Position = state.Park(e.manifest.Token.Symbol)
	}
	res.PositionChanged = true
	res.TxHash = sub.txHash
	res.Status = sub.status
	e.log.Info("exited to park",
		"pool", pool.ID, "amountLp", amountLp.String(), "residualLp", residual.String(),
		"emergency", in.Decision.Emergency, "txHash", sub.txHash, "status", sub.status)
}

// submission is the outcome of one simulate-then-send pass.
type submission struct {
	status  string
	txHash  string
	receipt *types.Receipt
}

// submit runs one transaction through the dry-run, disarmed, and armed paths.
// Dry runs synthesize a hash without touching the chain; a disarmed live mode
// simulates and then refuses to broadcast.
func (e *Executor) submit(ctx context.Context, calldata []byte, nowTs int64, label string) (submission, error) {
	if e.runtime.DryRunEnabled() {
		hash := pseudoTxHash(nowTs, label)
		e.log.Info("dry run, synthesized transaction", "label", label, "txHash", hash)
		return submission{status: StatusDryRun, txHash: hash}, nil
	}
	if e.vault == nil || !e.vault.HasKey() {
		return submission{status: StatusFailed},
			faults.New(faults.CodeConfig, "executor wallet is not loaded")
	}
	if err := e.vault.Simulate(ctx, calldata); err != nil {
		return submission{status: StatusFailed},
			faults.Wrap(faults.CodeSimulationFailed, err, "vault simulation reverted for %s", label)
	}
	if !e.runtime.LiveModeArmed {
		return submission{status: StatusBlocked},
			faults.New(faults.CodePolicyBlocked, "live mode is not armed, broadcast blocked")
	}
	tx, err := e.vault.Send(ctx, calldata)
	if err != nil {
		return submission{status: StatusFailed},
			faults.Wrap(faults.CodeSendFailed, err, "broadcast failed for %s", label)
	}
	receipt, err := e.vault.WaitReceipt(ctx, tx.Hash())
	if err != nil {
		return submission{status: StatusFailed, txHash: tx.Hash().Hex(), receipt: receipt},
			faults.Wrap(faults.CodeSendFailed, err, "transaction %s did not confirm", tx.Hash().Hex())
	}
	return submission{status: StatusExecuted, txHash: tx.Hash().Hex(), receipt: receipt}, nil
}

// sizeEnter resolves the deposit amount: the vault balance clipped by the
// movement cap and the configured trade ceiling.
func (e *Executor) sizeEnter(ctx context.Context) (*big.Int, error) {
	balance, err := e.readBalance(ctx)
	if err != nil {
		return nil, err
	}
	capBps, err := e.readMovementCap(ctx)
	if err != nil {
		return nil, err
	}
	amount := applyCapBps(balance, capBps)
	if def := e.defaultTradeAmount(); def != nil && def.Cmp(amount) < 0 {
		amount = def
	}
	return amount, nil
}

// sizeRotate unwinds the recorded LP balance, falling back to the default
// trade amount when the position carries none.
func (e *Executor) sizeRotate(pos state.Position) *big.Int {
	if lp := parseAmount(pos.LpBalance); lp != nil && lp.Sign() > 0 {
		return lp
	}
	return e.defaultTradeAmount()
}

// sizeExit withdraws the live LP balance clipped by the movement cap.
func (e *Executor) sizeExit(ctx context.Context, pool config.Pool, pos state.Position) (*big.Int, error) {
	lp := e.lpBalanceOrRecorded(ctx, pool, pos)
	capBps, err := e.readMovementCap(ctx)
	if err != nil {
		return nil, err
	}
	return applyCapBps(lp, capBps), nil
}

func (e *Executor) buildEnterRequest(ctx context.Context, pool config.Pool, amountIn *big.Int, netApyBps int, dl *big.Int) (vault.EnterRequest, error) {
	adapter, err := e.registry.ForPool(pool)
	if err != nil {
		return vault.EnterRequest{}, err
	}
	req, err := adapter.BuildEnterRequest(ctx, adapters.EnterParams{
		Pool:                pool,
		AmountIn:            amountIn,
		MinOut:              minOutFor(amountIn, e.policy.MaxPriceImpactBps),
		Deadline:            dl,
		NetApyBps:           netApyBps,
		IntendedHoldSeconds: e.policy.MinHoldSeconds,
	})
	if err != nil {
		return vault.EnterRequest{}, faults.Wrap(faults.CodeAdapterUnavailable, err, "build enter request for %s", pool.ID)
	}
	return req, nil
}

func (e *Executor) buildExitRequest(ctx context.Context, pool config.Pool, amountLp *big.Int, dl *big.Int) (vault.ExitRequest, error) {
	adapter, err := e.registry.ForPool(pool)
	if err != nil {
		return vault.ExitRequest{}, err
	}
	req, err := adapter.BuildExitRequest(ctx, adapters.ExitParams{
		Pool:     pool,
		TokenOut: common.HexToAddress(e.manifest.Token.Address),
		AmountLp: amountLp,
		MinOut:   minOutFor(amountLp, e.policy.MaxPriceImpactBps),
		Deadline: dl,
	})
	if err != nil {
		return vault.ExitRequest{}, faults.Wrap(faults.CodeAdapterUnavailable, err, "build exit request for %s", pool.ID)
	}
	return req, nil
}

// readBalance fetches the vault's deposit token balance. In dry-run mode a
// failed or impossible read degrades to the default trade amount.
func (e *Executor) readBalance(ctx context.Context) (*big.Int, error) {
	if e.vault != nil {
		balance, err := e.vault.Balance(ctx)
		if err == nil {
			return balance, nil
		}
		if !e.runtime.DryRunEnabled() {
			return nil, faults.Wrap(faults.CodeConfig, err, "read vault balance")
		}
		e.log.Warn("vault balance read failed, sizing from the default trade amount", "error", err)
	} else if !e.runtime.DryRunEnabled() {
		return nil, faults.New(faults.CodeConfig, "vault client not configured")
	}
	return e.defaultTradeAmount(), nil
}

// readMovementCap fetches the vault's per-movement cap. In dry-run mode a
// failed or impossible read degrades to an uncapped 10000 bps.
func (e *Executor) readMovementCap(ctx context.Context) (int, error) {
	if e.vault != nil {
		capBps, err := e.vault.MovementCapBps(ctx)
		if err == nil {
			return capBps, nil
		}
		if !e.runtime.DryRunEnabled() {
			return 0, faults.Wrap(faults.CodeConfig, err, "read movement cap")
		}
		e.log.Warn("movement cap read failed, assuming uncapped", "error", err)
	} else if !e.runtime.DryRunEnabled() {
		return 0, faults.New(faults.CodeConfig, "vault client not configured")
	}
	return 10_000, nil
}

// lpBalanceOrRecorded prefers the live LP balance and falls back to the last
// recorded one; a later simulation catches any over-withdrawal.
func (e *Executor) lpBalanceOrRecorded(ctx context.Context, pool config.Pool, pos state.Position) *big.Int {
	if e.vault != nil {
		lp, err := e.vault.LpBalance(ctx, common.HexToAddress(pool.LpToken))
		if err == nil {
			return lp
		}
		e.log.Warn("lp balance read failed, using the recorded balance", "pool", pool.ID, "error", err)
	}
	if lp := parseAmount(pos.LpBalance); lp != nil {
		return lp
	}
	return big.NewInt(0)
}

// postTradeLp reads the vault's LP balance after a fill, falling back to the
// request's floor when the chain cannot be read.
func (e *Executor) postTradeLp(ctx context.Context, pool config.Pool, floor *big.Int) *big.Int {
	if e.vault != nil {
		lp, err := e.vault.LpBalance(ctx, common.HexToAddress(pool.LpToken))
		if err == nil {
			return lp
		}
		e.log.Warn("post-trade lp read failed, recording the requested floor", "pool", pool.ID, "error", err)
	}
	if floor == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(floor)
}

// postExitLp reads the residual LP balance after an exit. Without a chain
// read the residual is the recorded balance less the withdrawn amount.
func (e *Executor) postExitLp(ctx context.Context, pool config.Pool, pos state.Position, withdrawn *big.Int) *big.Int {
	if e.vault != nil {
		lp, err := e.vault.LpBalance(ctx, common.HexToAddress(pool.LpToken))
		if err == nil {
			return lp
		}
		e.log.Warn("post-exit lp read failed, deriving the residual", "pool", pool.ID, "error", err)
	}
	recorded := parseAmount(pos.LpBalance)
	if recorded == nil {
		return big.NewInt(0)
	}
	residual := new(big.Int).Sub(recorded, withdrawn)
	if residual.Sign() < 0 {
		return big.NewInt(0)
	}
	return residual
}

// warnWhenVaultDisagrees logs when the vault's own position flag contradicts
// the recorded deployed state before an unwind.
func (e *Executor) warnWhenVaultDisagrees(ctx context.Context) {
	if e.vault == nil {
		return
	}
	open, err := e.vault.HasOpenPosition(ctx)
	if err != nil {
		if !e.runtime.DryRunEnabled() {
			e.log.Warn("hasOpenLpPosition read failed", "error", err)
		}
		return
	}
	if !open {
		e.log.Warn("vault reports no open lp position while the recorded state is deployed")
	}
}

func (e *Executor) supportsAtomicRotate(ctx context.Context) bool {
	return e.vault != nil && e.vault.SupportsAnytimeLiquidity(ctx)
}

// enteredAt prefers the mined block's timestamp over the tick clock.
func (e *Executor) enteredAt(ctx context.Context, sub submission, nowTs int64) int64 {
	if sub.receipt == nil || e.vault == nil {
		return nowTs
	}
	ts, err := e.vault.BlockTime(ctx, sub.receipt.BlockNumber)
	if err != nil {
		e.log.Warn("block timestamp read failed, using the tick clock", "error", err)
		return nowTs
	}
	return int64(ts)
}

func (e *Executor) defaultTradeAmount() *big.Int {
	if e.runtime.DefaultTradeAmountRaw.Int == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(e.runtime.DefaultTradeAmountRaw.Int)
}

// minOutFor floors the acceptable output at the policy's price impact cap,
// never below one raw unit.
func minOutFor(amountIn *big.Int, maxImpactBps int) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return big.NewInt(1)
	}
	keep := int64(10_000 - maxImpactBps)
	if keep < 0 {
		keep = 0
	}
	out := new(big.Int).Mul(amountIn, big.NewInt(keep))
	out.Div(out, big.NewInt(10_000))
	if out.Sign() <= 0 {
		return big.NewInt(1)
	}
	return out
}

// applyCapBps clips amount to capBps of itself; caps at or above 10000 bps
// leave the amount untouched.
func applyCapBps(amount *big.Int, capBps int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	if capBps >= 10_000 {
		return new(big.Int).Set(amount)
	}
	if capBps <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(capBps)))
	return out.Div(out, big.NewInt(10_000))
}

// pseudoTxHash synthesizes the deterministic placeholder hash dry runs
// record instead of a broadcast.
func pseudoTxHash(nowTs int64, label string) string {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("dry-run:%d:%s", nowTs, label))).Hex()
}

func deadline(nowTs, deadlineSeconds int64) *big.Int {
	return big.NewInt(nowTs + deadlineSeconds)
}

// parseAmount decodes a stored raw balance; malformed values collapse to nil.
func parseAmount(raw string) *big.Int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil
	}
	return value
}

func strval(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
