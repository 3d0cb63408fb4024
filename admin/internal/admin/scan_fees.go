package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/feeward/feeward/distributor/pkg/oracle"
)

type FeeScanner interface {
	ScanWithheldFees(ctx context.Context, mint solana.PublicKey, maxAccounts int) (oracle.WithheldFeeSnapshot, error)
}

// ScanFees reports the withheld fees a withdrawal would collect right now,
// without submitting anything.
func ScanFees(ctx context.Context, log *slog.Logger, w io.Writer, scanner FeeScanner, mint solana.PublicKey, maxAccounts int, minimum uint64) error {
	snap, err := scanner.ScanWithheldFees(ctx, mint, maxAccounts)
	if err != nil {
		return err
	}
	log.Debug("scan complete", "mint", mint.String(), "accounts", len(snap.Accounts))

	for _, account := range snap.Accounts {
		fmt.Fprintf(w, "  %s\n", account)
	}
	fmt.Fprintf(w, "accounts: %d (max %d)\n", len(snap.Accounts), maxAccounts)
	fmt.Fprintf(w, "withheld: %d\n", snap.Total)
	if snap.Total < minimum {
		fmt.Fprintf(w, "below withdraw minimum %d, a cycle would skip the withdrawal\n", minimum)
	} else {
		fmt.Fprintf(w, "meets withdraw minimum %d\n", minimum)
	}
	return nil
}
