package tokenprog

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Asset is a token the distributor holds, swaps or pays out.
type Asset struct {
	Symbol   string
	Mint     solana.PublicKey
	Decimals uint8
	// Program owning the mint; ignored for native SOL.
	Program solana.PublicKey
}

// IsNative reports whether the asset is native SOL (balances in lamports).
func (a Asset) IsNative() bool {
	return a.Mint.Equals(solana.SolMint)
}

func (a Asset) String() string {
	return a.Symbol
}

// NativeSOL is SOL, addressed through the wrapped SOL mint for swap routing.
var NativeSOL = Asset{
	Symbol:   "SOL",
	Mint:     solana.SolMint,
	Decimals: 9,
	Program:  solana.TokenProgramID,
}

// AssociatedTokenAddress derives the associated token account of wallet for
// mint under the given token program.
func AssociatedTokenAddress(wallet, mint, program solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		wallet[:],
		program[:],
		mint[:],
	}, solana.SPLAssociatedTokenAccountProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

// AssociatedAccount derives the owner's associated token account for a.
func (a Asset) AssociatedAccount(owner solana.PublicKey) (solana.PublicKey, error) {
	return AssociatedTokenAddress(owner, a.Mint, a.Program)
}
