package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/feeward/feeward/distributor/pkg/dispatch"
	"github.com/feeward/feeward/distributor/pkg/metrics"
	"github.com/feeward/feeward/distributor/pkg/tokenprog"
)

type Balances interface {
	GetBalance(ctx context.Context, asset tokenprog.Asset, owner solana.PublicKey) (uint64, error)
}

// Router quotes and assembles swaps; satisfied by *JupiterClient.
type Router interface {
	Quote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps uint16) (json.RawMessage, error)
	BuildSwap(ctx context.Context, quote json.RawMessage, user solana.PublicKey) (*solana.Transaction, error)
}

type Submitter interface {
	Submit(ctx context.Context, tx *solana.Transaction, signers []solana.PrivateKey, policy dispatch.Policy) (dispatch.Outcome, error)
}

type Config struct {
	Logger    *slog.Logger
	Balances  Balances
	Router    Router
	Submitter Submitter
	Wallet    solana.PrivateKey
	Policy    dispatch.Policy
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Balances == nil {
		return errors.New("balances is required")
	}
	if cfg.Router == nil {
		return errors.New("router is required")
	}
	if cfg.Submitter == nil {
		return errors.New("submitter is required")
	}
	if len(cfg.Wallet) != 64 {
		return errors.New("wallet is required")
	}
	if cfg.Policy == (dispatch.Policy{}) {
		cfg.Policy = dispatch.FastFailPolicy()
	}
	return cfg.Policy.Validate()
}

type Swapper struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Swapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Swapper{
		log: cfg.Logger.With("component", "swap"),
		cfg: cfg,
	}, nil
}

// Swap exchanges amount of input for output from the wallet and returns the
// observed change in the wallet's output balance. A rejected quote is not an
// error and yields zero.
func (s *Swapper) Swap(ctx context.Context, input tokenprog.Asset, amount uint64, output tokenprog.Asset, slippageBps uint16) (int64, error) {
	wallet := s.cfg.Wallet.PublicKey()

	before, err := s.cfg.Balances.GetBalance(ctx, output, wallet)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s balance: %w", output, err)
	}

	quote, err := s.cfg.Router.Quote(ctx, input.Mint, output.Mint, amount, slippageBps)
	if errors.Is(err, ErrQuoteRejected) {
		s.log.Warn("swap: quote rejected", "input", input.String(), "output", output.String(), "amount", amount, "error", err)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to quote %s -> %s: %w", input, output, err)
	}

	tx, err := s.cfg.Router.BuildSwap(ctx, quote, wallet)
	if err != nil {
		return 0, fmt.Errorf("failed to build swap %s -> %s: %w", input, output, err)
	}

	out, err := s.cfg.Submitter.Submit(ctx, tx, []solana.PrivateKey{s.cfg.Wallet}, s.cfg.Policy)
	if err != nil {
		return 0, fmt.Errorf("failed to submit swap %s -> %s: %w", input, output, err)
	}

	after, err := s.cfg.Balances.GetBalance(ctx, output, wallet)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s balance after swap: %w", output, err)
	}

	delta := int64(after) - int64(before)
	s.log.Info("swap: completed", "input", input.String(), "output", output.String(), "amount", amount, "delta", delta, "signature", out.Signature.String())
	if delta > 0 {
		metrics.SwapOutputTotal.WithLabelValues(output.Symbol).Add(float64(delta))
	}
	return delta, nil
}
