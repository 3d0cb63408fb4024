package tokenprog

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Token program instruction tags.
const (
	instructionTransfer          = 3
	instructionMintTo            = 7
	instructionBurn              = 8
	instructionInitializeMint2   = 20
	instructionTransferFeeExt    = 26
	transferFeeInitializeConfig  = 0
	transferFeeTransferChecked   = 1
	transferFeeWithdrawFromAccts = 3

	associatedCreateIdempotent = 1
)

type encodeFunc func(enc *bin.Encoder) error

func encode(fn encodeFunc) []byte {
	var buf bytes.Buffer
	// Encoding into a bytes.Buffer cannot fail.
	_ = fn(bin.NewBinEncoder(&buf))
	return buf.Bytes()
}

func writeOptionalKey(enc *bin.Encoder, key *solana.PublicKey) error {
	if key == nil {
		return enc.WriteUint8(0)
	}
	if err := enc.WriteUint8(1); err != nil {
		return err
	}
	return enc.WriteBytes(key[:], false)
}

// NewWithdrawWithheldFromAccounts moves withheld transfer fees from sources
// into destination. authority must be the mint's withdraw-withheld authority.
func NewWithdrawWithheldFromAccounts(
	mint, destination, authority solana.PublicKey,
	sources []solana.PublicKey,
) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(mint),
		solana.Meta(destination).WRITE(),
		solana.Meta(authority).SIGNER(),
	}
	for _, src := range sources {
		accounts = append(accounts, solana.Meta(src).WRITE())
	}
	data := encode(func(enc *bin.Encoder) error {
		if err := enc.WriteUint8(instructionTransferFeeExt); err != nil {
			return err
		}
		if err := enc.WriteUint8(transferFeeWithdrawFromAccts); err != nil {
			return err
		}
		return enc.WriteUint8(uint8(len(sources)))
	})
	return solana.NewInstruction(solana.Token2022ProgramID, accounts, data)
}

// NewTransferCheckedWithFee transfers amount of a Token-2022 fee-bearing mint,
// asserting the fee the mint will withhold.
func NewTransferCheckedWithFee(
	source, mint, destination, owner solana.PublicKey,
	amount uint64, decimals uint8, fee uint64,
) solana.Instruction {
	data := encode(func(enc *bin.Encoder) error {
		if err := enc.WriteUint8(instructionTransferFeeExt); err != nil {
			return err
		}
		if err := enc.WriteUint8(transferFeeTransferChecked); err != nil {
			return err
		}
		if err := enc.WriteUint64(amount, bin.LE); err != nil {
			return err
		}
		if err := enc.WriteUint8(decimals); err != nil {
			return err
		}
		return enc.WriteUint64(fee, bin.LE)
	})
	return solana.NewInstruction(solana.Token2022ProgramID, solana.AccountMetaSlice{
		solana.Meta(source).WRITE(),
		solana.Meta(mint),
		solana.Meta(destination).WRITE(),
		solana.Meta(owner).SIGNER(),
	}, data)
}

// NewTransfer is the unchecked token transfer, used for reward assets that
// carry no transfer fee.
func NewTransfer(program, source, destination, owner solana.PublicKey, amount uint64) solana.Instruction {
	data := encode(func(enc *bin.Encoder) error {
		if err := enc.WriteUint8(instructionTransfer); err != nil {
			return err
		}
		return enc.WriteUint64(amount, bin.LE)
	})
	return solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(source).WRITE(),
		solana.Meta(destination).WRITE(),
		solana.Meta(owner).SIGNER(),
	}, data)
}

// NewBurn burns amount from account under the given token program.
func NewBurn(program, account, mint, owner solana.PublicKey, amount uint64) solana.Instruction {
	data := encode(func(enc *bin.Encoder) error {
		if err := enc.WriteUint8(instructionBurn); err != nil {
			return err
		}
		return enc.WriteUint64(amount, bin.LE)
	})
	return solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(account).WRITE(),
		solana.Meta(mint).WRITE(),
		solana.Meta(owner).SIGNER(),
	}, data)
}

// NewMintTo mints amount into destination.
func NewMintTo(program, mint, destination, authority solana.PublicKey, amount uint64) solana.Instruction {
	data := encode(func(enc *bin.Encoder) error {
		if err := enc.WriteUint8(instructionMintTo); err != nil {
			return err
		}
		return enc.WriteUint64(amount, bin.LE)
	})
	return solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(mint).WRITE(),
		solana.Meta(destination).WRITE(),
		solana.Meta(authority).SIGNER(),
	}, data)
}

// NewCreateAssociatedAccountIdempotent creates wallet's associated token
// account for mint if it does not exist yet; a no-op otherwise.
func NewCreateAssociatedAccountIdempotent(payer, wallet, mint, program solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	ata, err := AssociatedTokenAddress(wallet, mint, program)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(wallet),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(program),
	}, []byte{associatedCreateIdempotent}), ata, nil
}
