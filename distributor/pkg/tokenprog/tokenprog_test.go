package tokenprog_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/feeward/feeward/distributor/pkg/tokenprog"
	"github.com/feeward/feeward/distributor/pkg/tokenprog/tokenprogtest"
)

func TestFeeward_TokenProg_ParseAccount(t *testing.T) {
	t.Parallel()

	mint := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	t.Run("holder account with withheld fees", func(t *testing.T) {
		t.Parallel()
		acct, err := tokenprog.ParseAccount(tokenprogtest.HolderAccountData(mint, owner, 1_000, 37))
		require.NoError(t, err)
		require.Equal(t, mint, acct.Mint)
		require.Equal(t, owner, acct.Owner)
		require.Equal(t, uint64(1_000), acct.Amount)
		require.Equal(t, uint64(37), acct.WithheldAmount)
	})

	t.Run("base account has no withheld amount", func(t *testing.T) {
		t.Parallel()
		acct, err := tokenprog.ParseAccount(tokenprogtest.BaseAccountData(mint, owner, 5))
		require.NoError(t, err)
		require.Equal(t, uint64(5), acct.Amount)
		require.Zero(t, acct.WithheldAmount)
	})

	t.Run("short data", func(t *testing.T) {
		t.Parallel()
		_, err := tokenprog.ParseAccount(make([]byte, 100))
		require.ErrorIs(t, err, tokenprog.ErrInvalidAccountData)
	})

	t.Run("extension overrun", func(t *testing.T) {
		t.Parallel()
		data := tokenprogtest.HolderAccountData(mint, owner, 1, 1)
		binary.LittleEndian.PutUint16(data[168:170], 200)
		_, err := tokenprog.ParseAccount(data)
		require.ErrorIs(t, err, tokenprog.ErrInvalidAccountData)
	})

	t.Run("mint account type is rejected", func(t *testing.T) {
		t.Parallel()
		data := tokenprogtest.HolderAccountData(mint, owner, 1, 1)
		data[165] = 1
		_, err := tokenprog.ParseAccount(data)
		require.ErrorIs(t, err, tokenprog.ErrInvalidAccountData)
	})
}

func TestFeeward_TokenProg_TransferFee(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		amount uint64
		bps    uint16
		maxFee uint64
		want   uint64
	}{
		{"rounds up", 1_001, 600, math.MaxUint64, 61},
		{"exact", 10_000, 600, math.MaxUint64, 600},
		{"capped", 1_000_000_000_000, 600, 100_000_000_000_000, 60_000_000_000},
		{"cap binds", 1_000_000_000_000, 600, 5, 5},
		{"zero bps", 1_000, 0, 10, 0},
		{"zero amount", 0, 600, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tokenprog.TransferFee(tt.amount, tt.bps, tt.maxFee))
		})
	}
}

func TestFeeward_TokenProg_MulDiv(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint64(33), tokenprog.MulDiv(100, 1, 3))
	require.Equal(t, uint64(34), tokenprog.MulDivCeil(100, 1, 3))
	require.Equal(t, uint64(30), tokenprog.MulDivCeil(100, 3, 10))
	// a*b overflows 64 bits but the quotient does not.
	require.Equal(t, uint64(math.MaxUint64/2), tokenprog.MulDiv(math.MaxUint64, 400, 800))
	require.Equal(t, uint64(math.MaxUint64), tokenprog.MulDiv(math.MaxUint64, 2, 1))

	require.Equal(t, uint64(5), tokenprog.AddSat(2, 3))
	require.Equal(t, uint64(math.MaxUint64), tokenprog.AddSat(math.MaxUint64-1, 1))
	require.Equal(t, uint64(math.MaxUint64), tokenprog.AddSat(math.MaxUint64-1, 2))
}

func TestFeeward_TokenProg_AssociatedTokenAddress(t *testing.T) {
	t.Parallel()

	wallet := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	legacy, err := tokenprog.AssociatedTokenAddress(wallet, mint, solana.TokenProgramID)
	require.NoError(t, err)
	expected, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	require.NoError(t, err)
	require.Equal(t, expected, legacy)

	t22, err := tokenprog.AssociatedTokenAddress(wallet, mint, solana.Token2022ProgramID)
	require.NoError(t, err)
	require.NotEqual(t, legacy, t22)
}

func TestFeeward_TokenProg_Instructions(t *testing.T) {
	t.Parallel()

	mint := solana.NewWallet().PublicKey()
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	auth := solana.NewWallet().PublicKey()

	t.Run("withdraw withheld", func(t *testing.T) {
		t.Parallel()
		sources := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}
		ix := tokenprog.NewWithdrawWithheldFromAccounts(mint, a, auth, sources)
		data, err := ix.Data()
		require.NoError(t, err)
		require.Equal(t, []byte{26, 3, 2}, data)
		require.Equal(t, solana.Token2022ProgramID, ix.ProgramID())
		accts := ix.Accounts()
		require.Len(t, accts, 5)
		require.True(t, accts[1].IsWritable)
		require.True(t, accts[2].IsSigner)
		require.True(t, accts[3].IsWritable)
		require.Equal(t, sources[1], accts[4].PublicKey)
	})

	t.Run("transfer checked with fee", func(t *testing.T) {
		t.Parallel()
		ix := tokenprog.NewTransferCheckedWithFee(a, mint, b, auth, 1_000, 9, 60)
		data, err := ix.Data()
		require.NoError(t, err)
		require.Len(t, data, 19)
		require.Equal(t, []byte{26, 1}, data[:2])
		require.Equal(t, uint64(1_000), binary.LittleEndian.Uint64(data[2:10]))
		require.Equal(t, byte(9), data[10])
		require.Equal(t, uint64(60), binary.LittleEndian.Uint64(data[11:19]))
	})

	t.Run("transfer", func(t *testing.T) {
		t.Parallel()
		ix := tokenprog.NewTransfer(solana.TokenProgramID, a, b, auth, 500)
		data, err := ix.Data()
		require.NoError(t, err)
		require.Equal(t, byte(3), data[0])
		require.Equal(t, uint64(500), binary.LittleEndian.Uint64(data[1:]))
		require.Equal(t, solana.TokenProgramID, ix.ProgramID())
		require.True(t, ix.Accounts()[2].IsSigner)
	})

	t.Run("burn", func(t *testing.T) {
		t.Parallel()
		ix := tokenprog.NewBurn(solana.Token2022ProgramID, a, mint, auth, 77)
		data, err := ix.Data()
		require.NoError(t, err)
		require.Equal(t, byte(8), data[0])
		require.Equal(t, uint64(77), binary.LittleEndian.Uint64(data[1:]))
		require.True(t, ix.Accounts()[1].IsWritable)
	})

	t.Run("create associated idempotent", func(t *testing.T) {
		t.Parallel()
		ix, ata, err := tokenprog.NewCreateAssociatedAccountIdempotent(auth, a, mint, solana.Token2022ProgramID)
		require.NoError(t, err)
		data, err := ix.Data()
		require.NoError(t, err)
		require.Equal(t, []byte{1}, data)
		require.Equal(t, ata, ix.Accounts()[1].PublicKey)
		require.Equal(t, solana.Token2022ProgramID, ix.Accounts()[5].PublicKey)
	})

	t.Run("initialize transfer fee config", func(t *testing.T) {
		t.Parallel()
		ix := tokenprog.NewInitializeTransferFeeConfig(mint, tokenprog.TransferFeeConfig{
			ConfigAuthority:   &auth,
			WithdrawAuthority: nil,
			FeeBps:            600,
			MaxFee:            1 << 40,
		})
		data, err := ix.Data()
		require.NoError(t, err)
		require.Len(t, data, 2+33+1+2+8)
		require.Equal(t, []byte{26, 0, 1}, data[:3])
		require.Equal(t, auth[:], data[3:35])
		require.Equal(t, byte(0), data[35])
		require.Equal(t, uint16(600), binary.LittleEndian.Uint16(data[36:38]))
	})

	t.Run("initialize mint2", func(t *testing.T) {
		t.Parallel()
		ix := tokenprog.NewInitializeMint2(solana.Token2022ProgramID, mint, 9, auth, nil)
		data, err := ix.Data()
		require.NoError(t, err)
		require.Equal(t, []byte{20, 9}, data[:2])
		require.Len(t, data, 35)
	})
}
