package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/feeward/feeward/admin/internal/admin"
	"github.com/feeward/feeward/distributor/pkg/config"
	"github.com/feeward/feeward/distributor/pkg/dispatch"
	"github.com/feeward/feeward/distributor/pkg/journal"
	"github.com/feeward/feeward/distributor/pkg/oracle"
	"github.com/feeward/feeward/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "dotenv file to load before reading the environment")

	// Solana configuration
	rpcURLFlag := flag.String("rpc-url", config.DefaultRPCURL, "Solana RPC URL (or set SOLANA_RPC_URL env var)")
	mintFlag := flag.String("mint", "", "token mint address (or set TOKEN_MINT env var)")

	// Stat file configuration
	statsFileFlag := flag.String("stats-file", config.DefaultStatsFile, "stat file path (or set STATS_FILE env var)")

	// PostgreSQL configuration
	postgresURLFlag := flag.String("postgres-url", "", "PostgreSQL connection string for the cycle journal (or set POSTGRES_URL env var)")

	// Commands
	initStatsFlag := flag.Bool("init-stats", false, "Create a zero stat file if none exists")
	showStatsFlag := flag.Bool("show-stats", false, "Print the stat file buckets")
	scanFeesFlag := flag.Bool("scan-fees", false, "Show the withheld fees a withdrawal would collect now, without submitting")
	createMintFlag := flag.Bool("create-mint", false, "Create a Token-2022 mint with the transfer-fee extension and mint the initial supply")
	journalMigrateFlag := flag.Bool("journal-migrate", false, "Run cycle journal migrations using goose")
	journalMigrateStatusFlag := flag.Bool("journal-migrate-status", false, "Show cycle journal migration status")
	journalMigrateDownFlag := flag.Bool("journal-migrate-down", false, "Roll back the last cycle journal migration")
	showCyclesFlag := flag.Bool("show-cycles", false, "Print the most recent journaled cycles")

	// Scan options
	maxAccountsFlag := flag.Int("max-accounts", 24, "Maximum accounts collected per scan")
	withdrawMinFlag := flag.Uint64("withdraw-min", 10_000, "Withdraw minimum in whole tokens")

	// Mint options
	decimalsFlag := flag.Uint8("decimals", 9, "Mint decimals")
	feeBpsFlag := flag.Uint16("fee-bps", 600, "Transfer fee in basis points")
	maxFeeFlag := flag.Uint64("max-fee", 100_000, "Maximum fee per transfer in whole tokens")
	supplyFlag := flag.Uint64("supply", 1_000_000_000, "Initial supply in whole tokens")
	mintKeypairFlag := flag.String("mint-keypair", "", "Keypair file for the new mint (random when empty)")

	// Show-cycles options
	limitFlag := flag.Int("limit", 20, "Number of cycles to show")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", *envFileFlag, err)
	}

	// Override flags with environment variables if set
	if envRPCURL := os.Getenv("SOLANA_RPC_URL"); envRPCURL != "" {
		*rpcURLFlag = envRPCURL
	}
	if envMint := os.Getenv("TOKEN_MINT"); envMint != "" {
		*mintFlag = envMint
	}
	if envStatsFile := os.Getenv("STATS_FILE"); envStatsFile != "" {
		*statsFileFlag = envStatsFile
	}
	if envPostgresURL := os.Getenv("POSTGRES_URL"); envPostgresURL != "" {
		*postgresURLFlag = envPostgresURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Execute commands
	if *initStatsFlag {
		return admin.InitStats(log, *statsFileFlag)
	}

	if *showStatsFlag {
		return admin.ShowStats(os.Stdout, *statsFileFlag)
	}

	if *journalMigrateFlag || *journalMigrateStatusFlag || *journalMigrateDownFlag || *showCyclesFlag {
		if *postgresURLFlag == "" {
			return fmt.Errorf("--postgres-url is required for journal commands")
		}
		switch {
		case *journalMigrateFlag:
			return journal.MigrateUp(log, *postgresURLFlag)
		case *journalMigrateStatusFlag:
			return journal.MigrateStatus(log, *postgresURLFlag)
		case *journalMigrateDownFlag:
			return journal.MigrateDown(log, *postgresURLFlag)
		default:
			return admin.ShowCycles(ctx, log, os.Stdout, *postgresURLFlag, *limitFlag)
		}
	}

	if *scanFeesFlag || *createMintFlag {
		wallet, err := config.LoadWallet(os.Getenv("OWNER_PRIV_KEY"), os.Getenv("OWNER_KEYPAIR_FILE"))
		if err != nil {
			return err
		}
		rpcClient := rpc.New(*rpcURLFlag)
		defer rpcClient.Close()

		dispatcher, err := dispatch.New(dispatch.Config{
			Logger:     log,
			RPC:        rpcClient,
			Clock:      clockwork.NewRealClock(),
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return err
		}
		orc, err := oracle.New(oracle.Config{
			Logger:    log,
			RPC:       rpcClient,
			Submitter: dispatcher,
			Payer:     wallet,
		})
		if err != nil {
			return err
		}

		if *scanFeesFlag {
			if *mintFlag == "" {
				return fmt.Errorf("--mint is required for --scan-fees")
			}
			mint, err := solana.PublicKeyFromBase58(*mintFlag)
			if err != nil {
				return fmt.Errorf("invalid mint: %w", err)
			}
			minimum, err := admin.ToBaseUnits(*withdrawMinFlag, *decimalsFlag)
			if err != nil {
				return err
			}
			return admin.ScanFees(ctx, log, os.Stdout, orc, mint, *maxAccountsFlag, minimum)
		}

		maxFee, err := admin.ToBaseUnits(*maxFeeFlag, *decimalsFlag)
		if err != nil {
			return err
		}
		supply, err := admin.ToBaseUnits(*supplyFlag, *decimalsFlag)
		if err != nil {
			return err
		}
		var mintKey solana.PrivateKey
		if *mintKeypairFlag != "" {
			mintKey, err = solana.PrivateKeyFromSolanaKeygenFile(*mintKeypairFlag)
			if err != nil {
				return fmt.Errorf("failed to read mint keypair: %w", err)
			}
		}
		mint, err := admin.CreateMint(ctx, log, orc, dispatcher, admin.CreateMintConfig{
			Authority: wallet,
			Mint:      mintKey,
			Decimals:  *decimalsFlag,
			FeeBps:    *feeBpsFlag,
			MaxFee:    maxFee,
			Supply:    supply,
		})
		if err != nil {
			return err
		}
		fmt.Println(mint.String())
		return nil
	}

	flag.Usage()
	return nil
}
