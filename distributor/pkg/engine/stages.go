package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/feeward/feeward/distributor/pkg/config"
	"github.com/feeward/feeward/distributor/pkg/metrics"
	"github.com/feeward/feeward/distributor/pkg/rewardledger"
	"github.com/feeward/feeward/distributor/pkg/statstore"
	"github.com/feeward/feeward/distributor/pkg/tokenprog"
)

// Apportion adds each bucket's share of a withdrawn total to state. Shares
// are basis points of feeBps; whatever they leave unallocated is dropped.
func Apportion(state statstore.DistributionState, total uint64, feeBps uint16, shares config.Shares) statstore.DistributionState {
	if feeBps == 0 {
		return state
	}
	part := func(bps uint16) uint64 {
		return tokenprog.MulDiv(total, uint64(bps), uint64(feeBps))
	}
	state.DevAmount = tokenprog.AddSat(state.DevAmount, part(shares.DevBps))
	state.BurnAmount = tokenprog.AddSat(state.BurnAmount, part(shares.BurnBps))
	state.RewardToSolAmount = tokenprog.AddSat(state.RewardToSolAmount, part(shares.RewardSolBps))
	state.RewardToBonkAmount = tokenprog.AddSat(state.RewardToBonkAmount, part(shares.RewardBonkBps))
	state.RewardToJupAmount = tokenprog.AddSat(state.RewardToJupAmount, part(shares.RewardJupBps))
	return state
}

// HolderShare is one holder's floor share of pending, weighted by balance
// over supply. Summed over holders it never exceeds pending.
func HolderShare(pending, balance, supply uint64) uint64 {
	if supply == 0 {
		return 0
	}
	return tokenprog.MulDiv(pending, balance, supply)
}

// MinimumPayout is the smallest SOL allotment worth paying out: it covers
// the signature fee, the recipient's rent floor and any associated token
// accounts the payout has to create.
func MinimumPayout(rent uint64, missingAccounts int) uint64 {
	return rent + BaseFeeLamports + AssociatedAccountRent*uint64(missingAccounts)
}

func (e *Engine) withdraw(ctx context.Context, r *report, c *Cycle) (bool, error) {
	snap, err := e.cfg.Oracle.ScanWithheldFees(ctx, e.s.Token.Mint, e.s.MaxWithdrawAccounts)
	if err != nil {
		return false, err
	}
	if snap.Total == 0 || snap.Total < e.s.WithdrawMinimum {
		e.log.Debug("engine: withheld fees below minimum", "total", snap.Total, "minimum", e.s.WithdrawMinimum, "accounts", len(snap.Accounts))
		return false, nil
	}

	vault, err := e.cfg.Oracle.EnsureAssociatedAccount(ctx, e.s.Token, e.s.FeeVault)
	if err != nil {
		return true, fmt.Errorf("failed to resolve fee vault: %w", err)
	}
	tx, err := e.newTransaction(tokenprog.NewWithdrawWithheldFromAccounts(e.s.Token.Mint, vault, e.wallet, snap.Accounts))
	if err != nil {
		return true, err
	}
	if _, err := e.submit(ctx, r, StageWithdraw, tx, e.s.SubmitPolicy); err != nil {
		return true, fmt.Errorf("failed to withdraw withheld fees: %w", err)
	}

	r.withdrawn = snap.Total
	c.State = Apportion(c.State, snap.Total, e.s.FeeBps, e.s.Shares)
	metrics.WithdrawnTotal.Add(float64(snap.Total))
	e.log.Info("engine: withdrew withheld fees", "total", snap.Total, "accounts", len(snap.Accounts), "vault", vault.String())
	return true, nil
}

func (e *Engine) transferToDev(ctx context.Context, r *report, c *Cycle) (bool, error) {
	amount := c.State.DevAmount
	if amount == 0 {
		return false, nil
	}

	source, err := e.s.Token.AssociatedAccount(e.wallet)
	if err != nil {
		return true, err
	}
	create, dest, err := tokenprog.NewCreateAssociatedAccountIdempotent(e.wallet, e.s.DevWallet, e.s.Token.Mint, e.s.Token.Program)
	if err != nil {
		return true, err
	}
	fee := tokenprog.TransferFee(amount, e.s.FeeBps, e.s.MaxFee)
	tx, err := e.newTransaction(
		create,
		tokenprog.NewTransferCheckedWithFee(source, e.s.Token.Mint, dest, e.wallet, amount, e.s.Token.Decimals, fee),
	)
	if err != nil {
		return true, err
	}

	_, err = e.submit(ctx, r, StageDev, tx, e.s.SubmitPolicy)
	if e.settled(err) {
		c.State.DevAmount = 0
	}
	if err != nil {
		return true, fmt.Errorf("failed to transfer %d to dev wallet: %w", amount, err)
	}
	e.log.Info("engine: transferred dev share", "amount", amount, "fee", fee, "dev", e.s.DevWallet.String())
	return true, nil
}

func (e *Engine) burn(ctx context.Context, r *report, c *Cycle) (bool, error) {
	amount := c.State.BurnAmount
	if amount == 0 {
		return false, nil
	}

	account, err := e.s.Token.AssociatedAccount(e.wallet)
	if err != nil {
		return true, err
	}
	tx, err := e.newTransaction(tokenprog.NewBurn(e.s.Token.Program, account, e.s.Token.Mint, e.wallet, amount))
	if err != nil {
		return true, err
	}

	_, err = e.submit(ctx, r, StageBurn, tx, e.s.SubmitPolicy)
	if e.settled(err) {
		c.State.BurnAmount = 0
	}
	if err != nil {
		return true, fmt.Errorf("failed to burn %d: %w", amount, err)
	}
	e.log.Info("engine: burned tokens", "amount", amount)
	return true, nil
}

// payoutSources are the wallet's token accounts that fund reward transfers.
type payoutSources struct {
	rent uint64
	bonk solana.PublicKey
	jup  solana.PublicKey
}

func (e *Engine) distribute(ctx context.Context, r *report, c *Cycle) (bool, error) {
	if !c.NeedDistribute {
		return false, nil
	}

	pending, err := e.cfg.Ledger.FetchPending(ctx)
	if err != nil {
		return true, fmt.Errorf("failed to fetch pending rewards: %w", err)
	}

	var src payoutSources
	if src.rent, err = e.cfg.Oracle.RentExemptMinimum(ctx, 0); err != nil {
		return true, err
	}
	if src.bonk, err = e.cfg.Oracle.EnsureAssociatedAccount(ctx, e.s.Bonk, e.wallet); err != nil {
		return true, err
	}
	if src.jup, err = e.cfg.Oracle.EnsureAssociatedAccount(ctx, e.s.Jup, e.wallet); err != nil {
		return true, err
	}

	paid := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		if e.payout(ctx, r, p, src) {
			paid++
		}
	}

	c.NeedDistribute = false
	e.log.Info("engine: distribution finished", "entries", len(pending), "paid", paid)
	return true, nil
}

// payout pays one ledger entry and reports whether a payout was dispatched
// and confirmed.
func (e *Engine) payout(ctx context.Context, r *report, p rewardledger.PendingReward, src payoutSources) bool {
	log := e.log.With("account", p.Account)

	owner, err := solana.PublicKeyFromBase58(p.Account)
	if err != nil || !owner.IsOnCurve() {
		log.Warn("engine: clearing reward for invalid account", "error", err)
		metrics.PayoutTotal.WithLabelValues("invalid_account").Inc()
		e.clearReward(ctx, p.Account)
		return false
	}

	var (
		creates []solana.Instruction
		dests   = map[string]solana.PublicKey{}
	)
	for _, asset := range []tokenprog.Asset{e.s.Bonk, e.s.Jup} {
		ata, err := asset.AssociatedAccount(owner)
		if err != nil {
			log.Warn("engine: clearing reward for account without associated address", "asset", asset.Symbol, "error", err)
			metrics.PayoutTotal.WithLabelValues("invalid_account").Inc()
			e.clearReward(ctx, p.Account)
			return false
		}
		exists, err := e.cfg.Oracle.AccountExists(ctx, ata)
		if err != nil {
			log.Warn("engine: failed to check recipient account, leaving reward pending", "asset", asset.Symbol, "error", err)
			return false
		}
		if !exists {
			ix, _, err := tokenprog.NewCreateAssociatedAccountIdempotent(e.wallet, owner, asset.Mint, asset.Program)
			if err != nil {
				log.Warn("engine: failed to build account creation", "asset", asset.Symbol, "error", err)
				return false
			}
			creates = append(creates, ix)
		}
		dests[asset.Symbol] = ata
	}

	sol := p.SolAmount.Uint64()
	minSol := MinimumPayout(src.rent, len(creates))
	if sol < minSol {
		log.Debug("engine: reward below payout minimum", "sol", sol, "minimum", minSol)
		metrics.PayoutTotal.WithLabelValues("below_minimum").Inc()
		return false
	}

	ixs := append(creates, system.NewTransferInstruction(sol-minSol+src.rent, e.wallet, owner).Build())
	if bonk := p.BonkAmount.Uint64(); bonk > 0 {
		ixs = append(ixs, tokenprog.NewTransfer(e.s.Bonk.Program, src.bonk, dests[e.s.Bonk.Symbol], e.wallet, bonk))
	}
	if jup := p.JupAmount.Uint64(); jup > 0 {
		ixs = append(ixs, tokenprog.NewTransfer(e.s.Jup.Program, src.jup, dests[e.s.Jup.Symbol], e.wallet, jup))
	}
	tx, err := e.newTransaction(ixs...)
	if err != nil {
		log.Warn("engine: failed to build payout", "error", err)
		return false
	}

	out, err := e.submit(ctx, r, StageDistribute, tx, e.s.FastFailPolicy)
	if err != nil {
		metrics.PayoutTotal.WithLabelValues("failed").Inc()
		log.Warn("engine: payout failed", "attempts", out.Attempts, "error", err)
	} else {
		metrics.PayoutTotal.WithLabelValues("paid").Inc()
		log.Info("engine: paid reward", "sol", sol, "bonk", p.BonkAmount.Uint64(), "jup", p.JupAmount.Uint64(), "signature", out.Signature.String())
	}
	if e.settled(err) {
		e.clearReward(ctx, p.Account)
	}
	return err == nil
}

// clearReward zeroes a ledger entry. A payout that was already dispatched
// must be cleared even when shutdown has begun.
func (e *Engine) clearReward(ctx context.Context, account string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
	defer cancel()
	if err := e.cfg.Ledger.SetAmounts(ctx, account, 0, 0, 0); err != nil {
		e.log.Warn("engine: failed to clear reward", "account", account, "error", err)
	}
}

func (e *Engine) swap(ctx context.Context, c *Cycle) (bool, error) {
	if c.State.RewardToSolAmount == 0 {
		return false, nil
	}

	legs := []struct {
		asset   tokenprog.Asset
		bucket  *uint64
		pending *uint64
	}{
		{tokenprog.NativeSOL, &c.State.RewardToSolAmount, &c.State.PendingSolAmount},
		{e.s.Bonk, &c.State.RewardToBonkAmount, &c.State.PendingBonkAmount},
		{e.s.Jup, &c.State.RewardToJupAmount, &c.State.PendingJupAmount},
	}

	var errs []error
	for _, leg := range legs {
		amount := *leg.bucket
		if amount == 0 {
			continue
		}
		delta, err := e.cfg.Swapper.Swap(ctx, e.s.Token, amount, leg.asset, e.s.SlippageBps)
		if err != nil {
			errs = append(errs, fmt.Errorf("swap to %s: %w", leg.asset, err))
			continue
		}
		if delta <= 0 {
			e.log.Info("engine: swap produced no output, keeping bucket", "asset", leg.asset.Symbol, "amount", amount, "delta", delta)
			continue
		}
		*leg.pending = tokenprog.AddSat(*leg.pending, uint64(delta))
		*leg.bucket = 0
	}
	return true, errors.Join(errs...)
}

func (e *Engine) rearm(ctx context.Context, c *Cycle) (bool, error) {
	if !c.State.HasPending() {
		return false, nil
	}

	supply, err := e.cfg.Oracle.TotalSupply(ctx, e.s.Token.Mint)
	if err != nil {
		return true, err
	}
	if supply == 0 {
		e.log.Warn("engine: token supply is zero, keeping pending rewards")
		return true, nil
	}
	holders, err := e.cfg.Oracle.Holders(ctx, e.s.Token.Mint, e.wallet)
	if err != nil {
		return true, err
	}

	// Pending is zeroed below, so once crediting starts it runs to completion.
	creditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), creditTimeout)
	defer cancel()

	pending := c.State
	credited, failed := 0, 0
	for _, h := range holders {
		sol := HolderShare(pending.PendingSolAmount, h.Balance, supply)
		bonk := HolderShare(pending.PendingBonkAmount, h.Balance, supply)
		jup := HolderShare(pending.PendingJupAmount, h.Balance, supply)
		if sol == 0 && bonk == 0 && jup == 0 {
			continue
		}
		if err := e.cfg.Ledger.AddAmounts(creditCtx, h.Owner.String(), sol, bonk, jup); err != nil {
			failed++
			e.log.Warn("engine: failed to credit holder", "owner", h.Owner.String(), "error", err)
			continue
		}
		credited++
	}

	c.State.PendingSolAmount = 0
	c.State.PendingBonkAmount = 0
	c.State.PendingJupAmount = 0
	c.NeedDistribute = true
	c.Armed = true
	e.log.Info("engine: armed distribution",
		"holders", len(holders), "credited", credited, "failed", failed,
		"sol", pending.PendingSolAmount, "bonk", pending.PendingBonkAmount, "jup", pending.PendingJupAmount)
	return true, nil
}

const (
	clearTimeout  = 5 * time.Second
	creditTimeout = 2 * time.Minute
)
