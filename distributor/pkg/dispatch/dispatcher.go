package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/feeward/feeward/distributor/pkg/metrics"
)

var (
	// ErrSubmissionExhausted means every attempt's wait window passed without
	// the transaction being observed. Its effect is unknown.
	ErrSubmissionExhausted = errors.New("submission exhausted")

	// ErrBlockhashExpired means the legacy transaction's blockhash expired
	// before it was observed; it can no longer land.
	ErrBlockhashExpired = errors.New("blockhash expired before confirmation")
)

// ExecutionError is returned when the transaction landed but failed on-chain.
type ExecutionError struct {
	Signature solana.Signature
	Err       any
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("transaction %s failed on-chain: %v", e.Signature, e.Err)
}

// RPC is the subset of the Solana JSON-RPC client the dispatcher needs.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts rpc.TransactionOpts) (solana.Signature, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

// Outcome reports what happened to a dispatched transaction.
type Outcome struct {
	Signature solana.Signature
	Confirmed bool
	Attempts  int
}

type Config struct {
	Logger *slog.Logger
	RPC    RPC
	Clock  clockwork.Clock

	// Commitment used when looking up submitted transactions.
	Commitment rpc.CommitmentType
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	return nil
}

type Dispatcher struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		log: cfg.Logger.With("component", "dispatch"),
		cfg: cfg,
	}, nil
}

// Submit signs tx, sends it, and polls for it until it is observed or the
// policy is exhausted. Every resend carries the same signed bytes, so a
// transaction that already landed is never applied twice.
func (d *Dispatcher) Submit(ctx context.Context, tx *solana.Transaction, signers []solana.PrivateKey, policy Policy) (Outcome, error) {
	if err := policy.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("invalid dispatch policy: %w", err)
	}

	out, err := d.submit(ctx, tx, signers, policy)
	metrics.DispatchTotal.WithLabelValues(outcomeLabel(out, err)).Inc()
	if out.Attempts > 0 {
		metrics.DispatchAttempts.Observe(float64(out.Attempts))
	}
	return out, err
}

func (d *Dispatcher) submit(ctx context.Context, tx *solana.Transaction, signers []solana.PrivateKey, policy Policy) (Outcome, error) {
	legacy := !tx.Message.IsVersioned()
	var lastValidHeight uint64
	if legacy {
		latest, err := d.cfg.RPC.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to get latest blockhash: %w", err)
		}
		if latest == nil || latest.Value == nil {
			return Outcome{}, errors.New("failed to get latest blockhash: empty result")
		}
		tx.Message.RecentBlockhash = latest.Value.Blockhash
		lastValidHeight = latest.Value.LastValidBlockHeight
		tx.Signatures = nil
	}

	if _, err := tx.Sign(keyGetter(signers)); err != nil {
		return Outcome{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	out := Outcome{Signature: tx.Signatures[0]}
	log := d.log.With("signature", out.Signature.String())

	attempts := policy.Attempts()
	sent := false
	noRetries := uint(0)
	for attempt := 1; attempt <= attempts; attempt++ {
		out.Attempts = attempt
		if err := ctx.Err(); err != nil {
			return out, err
		}

		_, err := d.cfg.RPC.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
			SkipPreflight: true,
			MaxRetries:    &noRetries,
		})
		if err != nil {
			metrics.DispatchSendErrorsTotal.Inc()
			log.Warn("dispatch: send failed", "attempt", attempt, "error", err)
			if !sent {
				// Nothing has reached the network, so there is nothing to poll for.
				if attempt < attempts {
					if err := d.sleep(ctx, policy.PollInterval); err != nil {
						return out, err
					}
				}
				continue
			}
		} else {
			sent = true
		}

		found, err := d.waitForConfirmation(ctx, out.Signature, policy)
		if err != nil {
			return out, err
		}
		if found {
			out.Confirmed = true
			log.Debug("dispatch: confirmed", "attempt", attempt)
			return out, nil
		}

		if legacy && d.blockhashExpired(ctx, lastValidHeight) {
			found, err := d.lookup(ctx, out.Signature)
			if err != nil {
				return out, err
			}
			if found {
				out.Confirmed = true
				return out, nil
			}
			log.Warn("dispatch: blockhash expired", "attempt", attempt, "last_valid_block_height", lastValidHeight)
			return out, ErrBlockhashExpired
		}
	}

	log.Warn("dispatch: submission exhausted", "attempts", attempts)
	return out, ErrSubmissionExhausted
}

func (d *Dispatcher) waitForConfirmation(ctx context.Context, sig solana.Signature, policy Policy) (bool, error) {
	deadline := d.cfg.Clock.Now().Add(policy.WaitWindow)
	for {
		found, err := d.lookup(ctx, sig)
		if err != nil || found {
			return found, err
		}
		remaining := deadline.Sub(d.cfg.Clock.Now())
		if remaining <= 0 {
			return false, nil
		}
		if err := d.sleep(ctx, min(policy.PollInterval, remaining)); err != nil {
			return false, err
		}
	}
}

// lookup reports whether sig has landed. Lookup errors other than context
// cancellation count as not found; the next poll or attempt retries them.
func (d *Dispatcher) lookup(ctx context.Context, sig solana.Signature) (bool, error) {
	maxVersion := uint64(0)
	res, err := d.cfg.RPC.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     d.cfg.Commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if !errors.Is(err, rpc.ErrNotFound) {
			d.log.Debug("dispatch: transaction lookup failed", "signature", sig.String(), "error", err)
		}
		return false, nil
	}
	if res == nil {
		return false, nil
	}
	if res.Meta != nil && res.Meta.Err != nil {
		return false, &ExecutionError{Signature: sig, Err: res.Meta.Err}
	}
	return true, nil
}

func (d *Dispatcher) blockhashExpired(ctx context.Context, lastValidHeight uint64) bool {
	if lastValidHeight == 0 {
		return false
	}
	height, err := d.cfg.RPC.GetBlockHeight(ctx, d.cfg.Commitment)
	if err != nil {
		d.log.Debug("dispatch: failed to get block height", "error", err)
		return false
	}
	return height > lastValidHeight
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.cfg.Clock.After(dur):
		return nil
	}
}

func keyGetter(signers []solana.PrivateKey) func(solana.PublicKey) *solana.PrivateKey {
	keys := make(map[solana.PublicKey]*solana.PrivateKey, len(signers))
	for i := range signers {
		keys[signers[i].PublicKey()] = &signers[i]
	}
	return func(pk solana.PublicKey) *solana.PrivateKey {
		return keys[pk]
	}
}

func outcomeLabel(out Outcome, err error) string {
	var execErr *ExecutionError
	switch {
	case err == nil && out.Confirmed:
		return "confirmed"
	case errors.As(err, &execErr):
		return "failed_onchain"
	case errors.Is(err, ErrBlockhashExpired):
		return "expired"
	case errors.Is(err, ErrSubmissionExhausted):
		return "exhausted"
	default:
		return "error"
	}
}
