package tokenprog

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// MintSizeWithTransferFee is a Token-2022 mint carrying only the
// TransferFeeConfig extension: padded base (165) + account type (1) +
// TLV header (4) + TransferFeeConfig (108).
const MintSizeWithTransferFee = 278

// TransferFeeConfig parameterizes a fee-bearing mint.
type TransferFeeConfig struct {
	ConfigAuthority   *solana.PublicKey
	WithdrawAuthority *solana.PublicKey
	FeeBps            uint16
	MaxFee            uint64
}

// NewInitializeTransferFeeConfig must precede mint initialization.
func NewInitializeTransferFeeConfig(mint solana.PublicKey, cfg TransferFeeConfig) solana.Instruction {
	data := encode(func(enc *bin.Encoder) error {
		if err := enc.WriteUint8(instructionTransferFeeExt); err != nil {
			return err
		}
		if err := enc.WriteUint8(transferFeeInitializeConfig); err != nil {
			return err
		}
		if err := writeOptionalKey(enc, cfg.ConfigAuthority); err != nil {
			return err
		}
		if err := writeOptionalKey(enc, cfg.WithdrawAuthority); err != nil {
			return err
		}
		if err := enc.WriteUint16(cfg.FeeBps, bin.LE); err != nil {
			return err
		}
		return enc.WriteUint64(cfg.MaxFee, bin.LE)
	})
	return solana.NewInstruction(solana.Token2022ProgramID, solana.AccountMetaSlice{
		solana.Meta(mint).WRITE(),
	}, data)
}

// NewInitializeMint2 initializes a mint without the rent sysvar.
func NewInitializeMint2(program, mint solana.PublicKey, decimals uint8, mintAuthority solana.PublicKey, freezeAuthority *solana.PublicKey) solana.Instruction {
	data := encode(func(enc *bin.Encoder) error {
		if err := enc.WriteUint8(instructionInitializeMint2); err != nil {
			return err
		}
		if err := enc.WriteUint8(decimals); err != nil {
			return err
		}
		if err := enc.WriteBytes(mintAuthority[:], false); err != nil {
			return err
		}
		return writeOptionalKey(enc, freezeAuthority)
	})
	return solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(mint).WRITE(),
	}, data)
}
