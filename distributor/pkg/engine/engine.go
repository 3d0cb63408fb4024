package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/feeward/feeward/distributor/pkg/config"
	"github.com/feeward/feeward/distributor/pkg/dispatch"
	"github.com/feeward/feeward/distributor/pkg/journal"
	"github.com/feeward/feeward/distributor/pkg/metrics"
	"github.com/feeward/feeward/distributor/pkg/notify"
	"github.com/feeward/feeward/distributor/pkg/oracle"
	"github.com/feeward/feeward/distributor/pkg/rewardledger"
	"github.com/feeward/feeward/distributor/pkg/statstore"
	"github.com/feeward/feeward/distributor/pkg/tokenprog"
)

const (
	// BaseFeeLamports is the signature fee reserved from each payout.
	BaseFeeLamports = 5_000
	// AssociatedAccountRent is the lamports a new associated token account
	// costs the payer.
	AssociatedAccountRent = 2_039_280
)

// Stage names, used in logs, metrics and the journal.
const (
	StageWithdraw   = "withdraw"
	StageDev        = "dev"
	StageBurn       = "burn"
	StageDistribute = "distribute"
	StageSwap       = "swap"
	StageRearm      = "rearm"
)

type Oracle interface {
	ScanWithheldFees(ctx context.Context, mint solana.PublicKey, maxAccounts int) (oracle.WithheldFeeSnapshot, error)
	EnsureAssociatedAccount(ctx context.Context, asset tokenprog.Asset, owner solana.PublicKey) (solana.PublicKey, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	TotalSupply(ctx context.Context, mint solana.PublicKey) (uint64, error)
	Holders(ctx context.Context, mint, exclude solana.PublicKey) ([]oracle.Holder, error)
	RentExemptMinimum(ctx context.Context, size uint64) (uint64, error)
}

type Submitter interface {
	Submit(ctx context.Context, tx *solana.Transaction, signers []solana.PrivateKey, policy dispatch.Policy) (dispatch.Outcome, error)
}

type RewardLedger interface {
	FetchPending(ctx context.Context) ([]rewardledger.PendingReward, error)
	SetAmounts(ctx context.Context, account string, sol, bonk, jup uint64) error
	AddAmounts(ctx context.Context, account string, solDelta, bonkDelta, jupDelta uint64) error
}

type Swapper interface {
	Swap(ctx context.Context, input tokenprog.Asset, amount uint64, output tokenprog.Asset, slippageBps uint16) (int64, error)
}

type Store interface {
	Load() (statstore.DistributionState, error)
	Save(state statstore.DistributionState) error
}

type Journal interface {
	RecordCycle(ctx context.Context, rec journal.CycleRecord) error
}

// Cycle is the state carried from one cycle to the next.
type Cycle struct {
	State statstore.DistributionState
	// NeedDistribute lives in memory only and starts true on every boot.
	NeedDistribute bool
	// Armed is set when this cycle queued a distribution; the driver then
	// skips its sleep.
	Armed bool
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Settings *config.Config

	Oracle    Oracle
	Submitter Submitter
	Ledger    RewardLedger
	Swapper   Swapper
	Store     Store

	// Journal and Notifier are optional.
	Journal  Journal
	Notifier notify.Notifier
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Settings == nil {
		return errors.New("settings are required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if cfg.Oracle == nil {
		return errors.New("oracle is required")
	}
	if cfg.Submitter == nil {
		return errors.New("submitter is required")
	}
	if cfg.Ledger == nil {
		return errors.New("reward ledger is required")
	}
	if cfg.Swapper == nil {
		return errors.New("swapper is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	return nil
}

// Engine runs the withdraw, dev, burn, distribute, swap and re-arm stages
// in order once per cycle.
type Engine struct {
	log    *slog.Logger
	cfg    Config
	s      *config.Config
	wallet solana.PublicKey

	mu   sync.RWMutex
	snap Snapshot
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		log:    cfg.Logger.With("component", "engine"),
		cfg:    cfg,
		s:      cfg.Settings,
		wallet: cfg.Settings.WalletPublicKey(),
	}, nil
}

// report accumulates what happened during one cycle for the journal.
type report struct {
	id          uuid.UUID
	startedAt   time.Time
	finishedAt  time.Time
	withdrawn   uint64
	panicked    bool
	stageErrors map[string]string
	dispatches  []journal.DispatchRecord
}

func (r *report) record(finalState statstore.DistributionState, armed bool) journal.CycleRecord {
	return journal.CycleRecord{
		ID:          r.id,
		StartedAt:   r.startedAt,
		FinishedAt:  r.finishedAt,
		Withdrawn:   r.withdrawn,
		Armed:       armed,
		Panicked:    r.panicked,
		StageErrors: r.stageErrors,
		State:       finalState,
		Dispatches:  r.dispatches,
	}
}

// RunCycle executes one pass over every stage. A failing stage does not stop
// later stages, and a panic returns the state as it stood when it happened.
func (e *Engine) RunCycle(ctx context.Context, c Cycle) Cycle {
	out, _ := e.runCycle(ctx, c)
	return out
}

func (e *Engine) runCycle(ctx context.Context, c Cycle) (out Cycle, r *report) {
	r = &report{
		id:          uuid.New(),
		startedAt:   e.cfg.Clock.Now(),
		stageErrors: map[string]string{},
	}
	out = c
	out.Armed = false

	defer func() {
		r.finishedAt = e.cfg.Clock.Now()
		status := "success"
		if rec := recover(); rec != nil {
			r.panicked = true
			status = "panic"
			e.log.Error("engine: cycle panicked", "cycle", r.id, "panic", rec, "stack", string(debug.Stack()))
			e.alert(ctx, notify.Event{
				Severity: notify.SeverityError,
				Title:    "distribution cycle panicked",
				Err:      fmt.Errorf("panic: %v", rec),
				Fields:   map[string]string{"cycle": r.id.String()},
			})
		} else if len(r.stageErrors) > 0 {
			status = "stage_error"
		}
		metrics.CycleTotal.WithLabelValues(status).Inc()
		metrics.CycleDuration.Observe(r.finishedAt.Sub(r.startedAt).Seconds())
	}()

	e.log.Debug("engine: cycle starting", "cycle", r.id, "state", out.State, "needDistribute", out.NeedDistribute)

	e.stage(ctx, r, StageWithdraw, func() (bool, error) { return e.withdraw(ctx, r, &out) })
	e.stage(ctx, r, StageDev, func() (bool, error) { return e.transferToDev(ctx, r, &out) })
	e.stage(ctx, r, StageBurn, func() (bool, error) { return e.burn(ctx, r, &out) })
	e.stage(ctx, r, StageDistribute, func() (bool, error) { return e.distribute(ctx, r, &out) })
	e.stage(ctx, r, StageSwap, func() (bool, error) { return e.swap(ctx, &out) })
	e.stage(ctx, r, StageRearm, func() (bool, error) { return e.rearm(ctx, &out) })

	return out, r
}

func (e *Engine) stage(ctx context.Context, r *report, name string, fn func() (bool, error)) {
	ran, err := fn()
	switch {
	case err != nil:
		metrics.StageTotal.WithLabelValues(name, "error").Inc()
		r.stageErrors[name] = err.Error()
		e.log.Error("engine: stage failed", "stage", name, "cycle", r.id, "error", err)
		e.alert(ctx, notify.Event{
			Severity: notify.SeverityWarning,
			Title:    fmt.Sprintf("%s stage failed", name),
			Err:      err,
			Fields:   map[string]string{"cycle": r.id.String()},
		})
	case ran:
		metrics.StageTotal.WithLabelValues(name, "success").Inc()
	default:
		metrics.StageTotal.WithLabelValues(name, "skipped").Inc()
	}
}

func (e *Engine) alert(ctx context.Context, event notify.Event) {
	if err := e.cfg.Notifier.Notify(ctx, event); err != nil {
		e.log.Warn("engine: failed to send alert", "title", event.Title, "error", err)
	}
}

func (e *Engine) newTransaction(ixs ...solana.Instruction) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(ixs, solana.Hash{}, solana.TransactionPayer(e.wallet))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

func (e *Engine) submit(ctx context.Context, r *report, stage string, tx *solana.Transaction, policy dispatch.Policy) (dispatch.Outcome, error) {
	out, err := e.cfg.Submitter.Submit(ctx, tx, []solana.PrivateKey{e.s.Wallet}, policy)
	rec := journal.DispatchRecord{
		Stage:     stage,
		Confirmed: out.Confirmed,
		Attempts:  out.Attempts,
		At:        e.cfg.Clock.Now(),
	}
	if out.Signature != (solana.Signature{}) {
		rec.Signature = out.Signature.String()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	r.dispatches = append(r.dispatches, rec)
	return out, err
}

// settled reports whether a tracked amount should be cleared after a
// dispatch that ended with err.
func (e *Engine) settled(err error) bool {
	return err == nil || e.s.Delivery == config.AtMostOnce
}
