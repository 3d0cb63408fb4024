package engine

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/feeward/feeward/distributor/pkg/config"
	"github.com/feeward/feeward/distributor/pkg/dispatch"
	"github.com/feeward/feeward/distributor/pkg/journal"
	"github.com/feeward/feeward/distributor/pkg/oracle"
	"github.com/feeward/feeward/distributor/pkg/rewardledger"
	"github.com/feeward/feeward/distributor/pkg/statstore"
	"github.com/feeward/feeward/distributor/pkg/tokenprog"
)

type fakeOracle struct {
	mu sync.Mutex

	snapshot    oracle.WithheldFeeSnapshot
	scanErr     error
	missing     map[solana.PublicKey]bool
	existsErr   error
	supply      uint64
	supplyErr   error
	holders     []oracle.Holder
	holdersErr  error
	rent        uint64
	scanCalls   int
	ensureCalls int
}

func (f *fakeOracle) ScanWithheldFees(context.Context, solana.PublicKey, int) (oracle.WithheldFeeSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanCalls++
	return f.snapshot, f.scanErr
}

func (f *fakeOracle) EnsureAssociatedAccount(_ context.Context, asset tokenprog.Asset, owner solana.PublicKey) (solana.PublicKey, error) {
	f.mu.Lock()
	f.ensureCalls++
	f.mu.Unlock()
	return asset.AssociatedAccount(owner)
}

func (f *fakeOracle) AccountExists(_ context.Context, account solana.PublicKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return !f.missing[account], nil
}

func (f *fakeOracle) TotalSupply(context.Context, solana.PublicKey) (uint64, error) {
	return f.supply, f.supplyErr
}

func (f *fakeOracle) Holders(context.Context, solana.PublicKey, solana.PublicKey) ([]oracle.Holder, error) {
	return f.holders, f.holdersErr
}

func (f *fakeOracle) RentExemptMinimum(context.Context, uint64) (uint64, error) {
	return f.rent, nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	txs      []*solana.Transaction
	policies []dispatch.Policy
	// results are consumed in order; once exhausted submissions confirm.
	results []error
	// onSubmit, when set, runs after the send is recorded and its error
	// replaces the queued result.
	onSubmit func(ctx context.Context) error
}

func (f *fakeSubmitter) Submit(ctx context.Context, tx *solana.Transaction, _ []solana.PrivateKey, policy dispatch.Policy) (dispatch.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, tx)
	f.policies = append(f.policies, policy)
	n := len(f.txs)

	var err error
	if len(f.results) > 0 {
		err, f.results = f.results[0], f.results[1:]
	}
	if f.onSubmit != nil {
		err = f.onSubmit(ctx)
	}
	out := dispatch.Outcome{Signature: solana.Signature{byte(n)}, Attempts: 1, Confirmed: err == nil}
	return out, err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}

type setCall struct {
	account        string
	sol, bonk, jup uint64
}

type fakeLedger struct {
	mu       sync.Mutex
	pending  []rewardledger.PendingReward
	fetchErr error
	addErr   error
	sets     []setCall
	adds     []setCall
	// honorCtx makes writes fail on a done context, like the HTTP client.
	honorCtx bool
	afterAdd func()
}

func (f *fakeLedger) FetchPending(context.Context) ([]rewardledger.PendingReward, error) {
	return f.pending, f.fetchErr
}

func (f *fakeLedger) SetAmounts(ctx context.Context, account string, sol, bonk, jup uint64) error {
	if f.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, setCall{account, sol, bonk, jup})
	return nil
}

func (f *fakeLedger) AddAmounts(ctx context.Context, account string, sol, bonk, jup uint64) error {
	if f.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	f.adds = append(f.adds, setCall{account, sol, bonk, jup})
	f.mu.Unlock()
	if f.afterAdd != nil {
		f.afterAdd()
	}
	return f.addErr
}

type swapCall struct {
	output tokenprog.Asset
	amount uint64
}

type fakeSwapper struct {
	mu     sync.Mutex
	deltas map[string]int64
	errs   map[string]error
	calls  []swapCall
	panic  bool
}

func (f *fakeSwapper) Swap(_ context.Context, _ tokenprog.Asset, amount uint64, output tokenprog.Asset, _ uint16) (int64, error) {
	if f.panic {
		panic("router exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, swapCall{output, amount})
	return f.deltas[output.Symbol], f.errs[output.Symbol]
}

type memStore struct {
	mu      sync.Mutex
	state   statstore.DistributionState
	loadErr error
	saves   []statstore.DistributionState
}

func (m *memStore) Load() (statstore.DistributionState, error) {
	return m.state, m.loadErr
}

func (m *memStore) Save(state statstore.DistributionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, state)
	return nil
}

func (m *memStore) saved() []statstore.DistributionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]statstore.DistributionState(nil), m.saves...)
}

type memJournal struct {
	mu      sync.Mutex
	records []journal.CycleRecord
}

func (m *memJournal) RecordCycle(_ context.Context, rec journal.CycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memJournal) recorded() []journal.CycleRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]journal.CycleRecord(nil), m.records...)
}

func testSettings() *config.Config {
	wallet := solana.NewWallet().PrivateKey
	return &config.Config{
		RPCURL:              "http://localhost:8899",
		Wallet:              wallet,
		FeeVault:            wallet.PublicKey(),
		DevWallet:           solana.NewWallet().PublicKey(),
		Token:               tokenprog.Asset{Symbol: "FEE", Mint: solana.NewWallet().PublicKey(), Decimals: 6, Program: solana.Token2022ProgramID},
		Bonk:                tokenprog.Asset{Symbol: "BONK", Mint: config.DefaultBonkMint, Decimals: 5, Program: solana.TokenProgramID},
		Jup:                 tokenprog.Asset{Symbol: "JUP", Mint: config.DefaultJupMint, Decimals: 6, Program: solana.TokenProgramID},
		FeeBps:              600,
		MaxFee:              1_000_000_000_000,
		Shares:              config.Shares{DevBps: 100, BurnBps: 100, RewardSolBps: 200, RewardBonkBps: 100, RewardJupBps: 50},
		WithdrawMinimum:     1_000,
		MaxWithdrawAccounts: 24,
		DistributePeriod:    time.Minute,
		SlippageBps:         50,
		Delivery:            config.AtMostOnce,
		SubmitPolicy:        dispatch.DefaultPolicy(),
		FastFailPolicy:      dispatch.FastFailPolicy(),
		StatsFile:           "stats.json",
		RewardLedgerURL:     "http://localhost:8888/api/reward/",
		JupiterURL:          "http://localhost:9999/v6",
	}
}

// instructionData returns the data of every instruction in tx that targets
// program, in order.
func instructionData(tx *solana.Transaction, program solana.PublicKey) [][]byte {
	var out [][]byte
	for _, ix := range tx.Message.Instructions {
		if tx.Message.AccountKeys[ix.ProgramIDIndex].Equals(program) {
			out = append(out, ix.Data)
		}
	}
	return out
}

func systemTransferLamports(data []byte) uint64 {
	// system Transfer: u32 instruction index 2, then u64 lamports.
	return binary.LittleEndian.Uint64(data[4:12])
}
