package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/feeward/feeward/distributor/pkg/dispatch"
	"github.com/feeward/feeward/distributor/pkg/tokenprog"
)

type RentOracle interface {
	RentExemptMinimum(ctx context.Context, size uint64) (uint64, error)
}

type Submitter interface {
	Submit(ctx context.Context, tx *solana.Transaction, signers []solana.PrivateKey, policy dispatch.Policy) (dispatch.Outcome, error)
}

// CreateMintConfig describes a Token-2022 mint with the transfer-fee
// extension. Authority pays for the mint, holds the mint and fee
// authorities, and receives the initial supply.
type CreateMintConfig struct {
	Authority solana.PrivateKey
	// Mint is the new mint's keypair; a fresh one is generated when empty.
	Mint     solana.PrivateKey
	Decimals uint8
	FeeBps   uint16
	// MaxFee and Supply are in base units.
	MaxFee uint64
	Supply uint64
	Policy dispatch.Policy
}

func (cfg *CreateMintConfig) Validate() error {
	if len(cfg.Authority) != 64 {
		return errors.New("authority keypair is required")
	}
	if len(cfg.Mint) != 0 && len(cfg.Mint) != 64 {
		return errors.New("mint keypair must be 64 bytes")
	}
	if cfg.FeeBps > 10_000 {
		return fmt.Errorf("fee bps must be at most 10000, got %d", cfg.FeeBps)
	}
	if cfg.Decimals > 19 {
		return fmt.Errorf("decimals must be at most 19, got %d", cfg.Decimals)
	}
	if cfg.Policy == (dispatch.Policy{}) {
		cfg.Policy = dispatch.DefaultPolicy()
	}
	return cfg.Policy.Validate()
}

// CreateMint allocates and initializes the mint, creates the authority's
// associated account and mints the initial supply into it, all in one
// transaction.
func CreateMint(ctx context.Context, log *slog.Logger, rent RentOracle, submitter Submitter, cfg CreateMintConfig) (solana.PublicKey, error) {
	if err := cfg.Validate(); err != nil {
		return solana.PublicKey{}, err
	}
	if len(cfg.Mint) == 0 {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("failed to generate mint keypair: %w", err)
		}
		cfg.Mint = key
	}
	authority := cfg.Authority.PublicKey()
	mint := cfg.Mint.PublicKey()

	lamports, err := rent.RentExemptMinimum(ctx, tokenprog.MintSizeWithTransferFee)
	if err != nil {
		return solana.PublicKey{}, err
	}

	createATA, ata, err := tokenprog.NewCreateAssociatedAccountIdempotent(authority, authority, mint, solana.Token2022ProgramID)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ixs := []solana.Instruction{
		system.NewCreateAccountInstruction(lamports, tokenprog.MintSizeWithTransferFee, solana.Token2022ProgramID, authority, mint).Build(),
		tokenprog.NewInitializeTransferFeeConfig(mint, tokenprog.TransferFeeConfig{
			ConfigAuthority:   &authority,
			WithdrawAuthority: &authority,
			FeeBps:            cfg.FeeBps,
			MaxFee:            cfg.MaxFee,
		}),
		tokenprog.NewInitializeMint2(solana.Token2022ProgramID, mint, cfg.Decimals, authority, nil),
		createATA,
	}
	if cfg.Supply > 0 {
		ixs = append(ixs, tokenprog.NewMintTo(solana.Token2022ProgramID, mint, ata, authority, cfg.Supply))
	}

	tx, err := solana.NewTransaction(ixs, solana.Hash{}, solana.TransactionPayer(authority))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to build mint transaction: %w", err)
	}

	log.Info("creating mint", "mint", mint.String(), "decimals", cfg.Decimals, "feeBps", cfg.FeeBps, "maxFee", cfg.MaxFee, "supply", cfg.Supply)
	out, err := submitter.Submit(ctx, tx, []solana.PrivateKey{cfg.Authority, cfg.Mint}, cfg.Policy)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to create mint: %w", err)
	}
	log.Info("mint created", "mint", mint.String(), "account", ata.String(), "signature", out.Signature.String())
	return mint, nil
}

// ToBaseUnits scales a whole-token amount by 10^decimals.
func ToBaseUnits(tokens uint64, decimals uint8) (uint64, error) {
	out := tokens
	for range decimals {
		if out > math.MaxUint64/10 {
			return 0, fmt.Errorf("%d tokens with %d decimals overflows uint64", tokens, decimals)
		}
		out *= 10
	}
	return out, nil
}
