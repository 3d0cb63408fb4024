package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/feeward/feeward/distributor/pkg/dispatch"
	"github.com/feeward/feeward/distributor/pkg/tokenprog"
)

// RPC is the subset of the Solana JSON-RPC client the oracle reads from.
type RPC interface {
	GetProgramAccountsWithOpts(ctx context.Context, programID solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

// Submitter dispatches transactions; satisfied by *dispatch.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, tx *solana.Transaction, signers []solana.PrivateKey, policy dispatch.Policy) (dispatch.Outcome, error)
}

// WithheldFeeSnapshot is one scan of accounts holding withheld transfer fees.
// Total covers the collected accounts only.
type WithheldFeeSnapshot struct {
	Accounts []solana.PublicKey
	Total    uint64
}

// Holder is one token account eligible for rewards.
type Holder struct {
	Account solana.PublicKey
	Owner   solana.PublicKey
	Balance uint64
}

type Config struct {
	Logger     *slog.Logger
	RPC        RPC
	Submitter  Submitter
	Payer      solana.PrivateKey
	Policy     dispatch.Policy
	Commitment rpc.CommitmentType
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc is required")
	}
	if cfg.Submitter == nil {
		return errors.New("submitter is required")
	}
	if len(cfg.Payer) != 64 {
		return errors.New("payer is required")
	}
	if cfg.Policy == (dispatch.Policy{}) {
		cfg.Policy = dispatch.DefaultPolicy()
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	return nil
}

type Oracle struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Oracle{
		log: cfg.Logger.With("component", "oracle"),
		cfg: cfg,
	}, nil
}

// ScanWithheldFees collects up to maxAccounts Token-2022 accounts of mint
// that hold withheld fees. The cap bounds the withdraw instruction size.
func (o *Oracle) ScanWithheldFees(ctx context.Context, mint solana.PublicKey, maxAccounts int) (WithheldFeeSnapshot, error) {
	accounts, err := o.cfg.RPC.GetProgramAccountsWithOpts(ctx, solana.Token2022ProgramID, &rpc.GetProgramAccountsOpts{
		Commitment: o.cfg.Commitment,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: tokenprog.MintOffset, Bytes: solana.Base58(mint[:])}},
		},
	})
	if err != nil {
		return WithheldFeeSnapshot{}, fmt.Errorf("failed to scan token accounts: %w", err)
	}

	var snap WithheldFeeSnapshot
	skipped := 0
	for _, keyed := range accounts {
		if len(snap.Accounts) >= maxAccounts {
			break
		}
		if keyed == nil || keyed.Account == nil || keyed.Account.Data == nil {
			continue
		}
		acct, err := tokenprog.ParseAccount(keyed.Account.Data.GetBinary())
		if err != nil {
			skipped++
			continue
		}
		if acct.WithheldAmount == 0 {
			continue
		}
		snap.Accounts = append(snap.Accounts, keyed.Pubkey)
		snap.Total = tokenprog.AddSat(snap.Total, acct.WithheldAmount)
	}
	if skipped > 0 {
		o.log.Debug("oracle: skipped unparseable token accounts", "count", skipped)
	}
	return snap, nil
}

// GetBalance returns owner's holdings of asset: lamports for SOL, otherwise
// the amount in owner's associated token account, which is created when
// missing.
func (o *Oracle) GetBalance(ctx context.Context, asset tokenprog.Asset, owner solana.PublicKey) (uint64, error) {
	if asset.IsNative() {
		res, err := o.cfg.RPC.GetBalance(ctx, owner, o.cfg.Commitment)
		if err != nil {
			return 0, fmt.Errorf("failed to get SOL balance: %w", err)
		}
		return res.Value, nil
	}

	ata, err := o.EnsureAssociatedAccount(ctx, asset, owner)
	if err != nil {
		return 0, err
	}
	res, err := o.cfg.RPC.GetTokenAccountBalance(ctx, ata, o.cfg.Commitment)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get %s balance: %w", asset, err)
	}
	if res == nil || res.Value == nil {
		return 0, nil
	}
	return parseAmount(res.Value.Amount)
}

// EnsureAssociatedAccount returns owner's associated token account for
// asset, creating it with the payer when it does not exist.
func (o *Oracle) EnsureAssociatedAccount(ctx context.Context, asset tokenprog.Asset, owner solana.PublicKey) (solana.PublicKey, error) {
	ata, err := asset.AssociatedAccount(owner)
	if err != nil {
		return solana.PublicKey{}, err
	}
	exists, err := o.AccountExists(ctx, ata)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if exists {
		return ata, nil
	}

	payer := o.cfg.Payer.PublicKey()
	ix, _, err := tokenprog.NewCreateAssociatedAccountIdempotent(payer, owner, asset.Mint, asset.Program)
	if err != nil {
		return solana.PublicKey{}, err
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(payer))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to build account creation: %w", err)
	}
	o.log.Info("oracle: creating associated token account", "asset", asset.Symbol, "owner", owner.String(), "account", ata.String())
	if _, err := o.cfg.Submitter.Submit(ctx, tx, []solana.PrivateKey{o.cfg.Payer}, o.cfg.Policy); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to create %s associated account: %w", asset, err)
	}
	return ata, nil
}

// AccountExists reports whether an account is allocated on-chain.
func (o *Oracle) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := o.cfg.RPC.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: o.cfg.Commitment,
		DataSlice:  &rpc.DataSlice{Offset: ptr(uint64(0)), Length: ptr(uint64(0))},
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get account %s: %w", account, err)
	}
	return true, nil
}

// TotalSupply returns the mint's supply in base units.
func (o *Oracle) TotalSupply(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	res, err := o.cfg.RPC.GetTokenSupply(ctx, mint, o.cfg.Commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get token supply: %w", err)
	}
	if res == nil || res.Value == nil {
		return 0, errors.New("failed to get token supply: empty result")
	}
	return parseAmount(res.Value.Amount)
}

// Holders lists reward-eligible token accounts of mint: standard-size
// Token-2022 holder accounts with lamports and a positive balance, whose
// owner is not exclude.
func (o *Oracle) Holders(ctx context.Context, mint, exclude solana.PublicKey) ([]Holder, error) {
	accounts, err := o.cfg.RPC.GetProgramAccountsWithOpts(ctx, solana.Token2022ProgramID, &rpc.GetProgramAccountsOpts{
		Commitment: o.cfg.Commitment,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{DataSize: tokenprog.HolderAccountSize},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: tokenprog.MintOffset, Bytes: solana.Base58(mint[:])}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list holders: %w", err)
	}

	holders := make([]Holder, 0, len(accounts))
	for _, keyed := range accounts {
		if keyed == nil || keyed.Account == nil || keyed.Account.Data == nil || keyed.Account.Lamports == 0 {
			continue
		}
		acct, err := tokenprog.ParseAccount(keyed.Account.Data.GetBinary())
		if err != nil || acct.Amount == 0 || acct.Owner.Equals(exclude) {
			continue
		}
		holders = append(holders, Holder{Account: keyed.Pubkey, Owner: acct.Owner, Balance: acct.Amount})
	}
	return holders, nil
}

// RentExemptMinimum returns the lamports needed to keep an account of size
// bytes alive.
func (o *Oracle) RentExemptMinimum(ctx context.Context, size uint64) (uint64, error) {
	lamports, err := o.cfg.RPC.GetMinimumBalanceForRentExemption(ctx, size, o.cfg.Commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get rent exemption minimum: %w", err)
	}
	return lamports, nil
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", s, err)
	}
	return v, nil
}

func ptr[T any](v T) *T {
	return &v
}
