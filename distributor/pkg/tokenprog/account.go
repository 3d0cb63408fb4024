package tokenprog

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	// AccountBaseSize is the size of an SPL token account without extensions.
	AccountBaseSize = 165
	// HolderAccountSize is a Token-2022 associated account carrying the
	// TransferFeeAmount and ImmutableOwner extensions.
	HolderAccountSize = 182

	// MintOffset is where the mint sits inside a token account; scans filter on it.
	MintOffset = 0

	accountTypeAccount         = 2
	extensionTransferFeeAmount = 2
	extensionUninitialized     = 0
	transferFeeAmountLength    = 8
	tlvHeaderLength            = 4
)

var ErrInvalidAccountData = errors.New("invalid token account data")

// Account is the subset of a token account the distributor reads.
type Account struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
	// WithheldAmount is the TransferFeeAmount extension value, zero when absent.
	WithheldAmount uint64
}

// ParseAccount decodes a token account, including Token-2022 extensions.
func ParseAccount(data []byte) (Account, error) {
	if len(data) < AccountBaseSize {
		return Account{}, fmt.Errorf("%w: %d bytes", ErrInvalidAccountData, len(data))
	}

	var acct Account
	copy(acct.Mint[:], data[0:32])
	copy(acct.Owner[:], data[32:64])

	dec := bin.NewBinDecoder(data)
	if err := dec.SetPosition(64); err != nil {
		return Account{}, err
	}
	amount, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return Account{}, fmt.Errorf("%w: amount: %v", ErrInvalidAccountData, err)
	}
	acct.Amount = amount

	if len(data) == AccountBaseSize {
		return acct, nil
	}
	if data[AccountBaseSize] != accountTypeAccount {
		return Account{}, fmt.Errorf("%w: account type %d", ErrInvalidAccountData, data[AccountBaseSize])
	}

	withheld, err := findTransferFeeAmount(data[AccountBaseSize+1:])
	if err != nil {
		return Account{}, err
	}
	acct.WithheldAmount = withheld
	return acct, nil
}

func findTransferFeeAmount(tlv []byte) (uint64, error) {
	dec := bin.NewBinDecoder(tlv)
	for dec.Remaining() >= tlvHeaderLength {
		typ, err := dec.ReadUint16(bin.LE)
		if err != nil {
			return 0, err
		}
		length, err := dec.ReadUint16(bin.LE)
		if err != nil {
			return 0, err
		}
		if typ == extensionUninitialized {
			return 0, nil
		}
		if int(length) > dec.Remaining() {
			return 0, fmt.Errorf("%w: extension %d overruns data", ErrInvalidAccountData, typ)
		}
		if typ == extensionTransferFeeAmount {
			if length != transferFeeAmountLength {
				return 0, fmt.Errorf("%w: transfer fee amount length %d", ErrInvalidAccountData, length)
			}
			return dec.ReadUint64(bin.LE)
		}
		if err := dec.SkipBytes(uint(length)); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// TransferFee is the fee the mint withholds on a transfer of amount:
// ceil(amount * bps / 10000), capped at maxFee.
func TransferFee(amount uint64, bps uint16, maxFee uint64) uint64 {
	if bps == 0 || amount == 0 {
		return 0
	}
	fee := MulDivCeil(amount, uint64(bps), 10_000)
	return min(fee, maxFee)
}
