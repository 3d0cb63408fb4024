package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/feeward/feeward/distributor/pkg/config"
	"github.com/feeward/feeward/distributor/pkg/dispatch"
	"github.com/feeward/feeward/distributor/pkg/engine"
	"github.com/feeward/feeward/distributor/pkg/journal"
	"github.com/feeward/feeward/distributor/pkg/metrics"
	"github.com/feeward/feeward/distributor/pkg/notify"
	"github.com/feeward/feeward/distributor/pkg/oracle"
	"github.com/feeward/feeward/distributor/pkg/rewardledger"
	"github.com/feeward/feeward/distributor/pkg/server"
	"github.com/feeward/feeward/distributor/pkg/statstore"
	"github.com/feeward/feeward/distributor/pkg/swap"
	"github.com/feeward/feeward/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	jsonLogsFlag := flag.Bool("json-logs", false, "emit logs as JSON")
	envFileFlag := flag.String("env-file", ".env", "dotenv file to load before reading the environment")
	listenAddrFlag := flag.String("listen-addr", "", "ops server listen address (overrides LISTEN_ADDR)")
	maxCycleAgeFlag := flag.Duration("max-cycle-age", 0, "fail readiness when the last cycle is older than this (0 derives it from the distribute period)")
	ledgerRPSFlag := flag.Float64("ledger-rps", 5, "reward ledger requests per second (0 for unlimited)")
	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Verbose: *verboseFlag, JSON: *jsonLogsFlag})

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", *envFileFlag, err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *listenAddrFlag != "" {
		cfg.ListenAddr = *listenAddrFlag
	}
	if unallocated := uint64(cfg.FeeBps) - cfg.Shares.Total(); unallocated > 0 {
		log.Warn("bucket shares do not cover the fee percentage; the remainder stays in the wallet",
			"feeBps", cfg.FeeBps, "sharesBps", cfg.Shares.Total(), "unallocatedBps", unallocated)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	rpcClient := rpc.NewWithCustomRPCClient(rpc.NewWithLimiter(cfg.RPCURL, rate.Limit(cfg.RPCRateLimit), cfg.RPCBurst))
	defer rpcClient.Close()

	dispatcher, err := dispatch.New(dispatch.Config{
		Logger:     log,
		RPC:        rpcClient,
		Clock:      clock,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	orc, err := oracle.New(oracle.Config{
		Logger:     log,
		RPC:        rpcClient,
		Submitter:  dispatcher,
		Payer:      cfg.Wallet,
		Policy:     cfg.SubmitPolicy,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return fmt.Errorf("failed to create oracle: %w", err)
	}

	ledger, err := rewardledger.New(rewardledger.Config{
		Logger:            log,
		BaseURL:           cfg.RewardLedgerURL,
		RequestsPerSecond: *ledgerRPSFlag,
		Burst:             1,
	})
	if err != nil {
		return fmt.Errorf("failed to create reward ledger client: %w", err)
	}

	jupiter, err := swap.NewJupiterClient(swap.JupiterConfig{
		Logger:  log,
		BaseURL: cfg.JupiterURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create jupiter client: %w", err)
	}
	swapper, err := swap.New(swap.Config{
		Logger:    log,
		Balances:  orc,
		Router:    jupiter,
		Submitter: dispatcher,
		Wallet:    cfg.Wallet,
		Policy:    cfg.FastFailPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create swapper: %w", err)
	}

	store, err := statstore.New(cfg.StatsFile)
	if err != nil {
		return fmt.Errorf("failed to create stat store: %w", err)
	}

	notifier, flushNotifier, err := newNotifier(log, cfg)
	if err != nil {
		return err
	}
	defer flushNotifier()

	engineCfg := engine.Config{
		Logger:    log,
		Clock:     clock,
		Settings:  cfg,
		Oracle:    orc,
		Submitter: dispatcher,
		Ledger:    ledger,
		Swapper:   swapper,
		Store:     store,
		Notifier:  notifier,
	}
	serverCfg := server.Config{
		Logger:      log,
		Clock:       clock,
		ListenAddr:  cfg.ListenAddr,
		VersionInfo: server.VersionInfo{Version: version, Commit: commit, Date: date},
		MaxCycleAge: *maxCycleAgeFlag,
	}
	if serverCfg.MaxCycleAge == 0 {
		serverCfg.MaxCycleAge = 10 * cfg.DistributePeriod
	}

	if cfg.PostgresURL != "" {
		if err := journal.MigrateUp(log, cfg.PostgresURL); err != nil {
			return fmt.Errorf("failed to migrate journal: %w", err)
		}
		j, err := journal.Open(ctx, journal.Config{Logger: log, ConnStr: cfg.PostgresURL})
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()
		engineCfg.Journal = j
		serverCfg.Journal = j
	} else {
		log.Info("POSTGRES_URL not set, cycle journal disabled")
	}

	eng, err := engine.New(engineCfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	serverCfg.State = eng

	srv, err := server.New(serverCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("starting feeward distributor",
		"version", version,
		"commit", commit,
		"wallet", cfg.WalletPublicKey(),
		"mint", cfg.Token.Mint,
		"distributePeriod", cfg.DistributePeriod,
		"delivery", cfg.Delivery,
		"devnet", cfg.IsDevnet,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The engine returning ends the process, including the ops server.
		defer stop()
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("feeward distributor stopped")
	return nil
}

// newNotifier combines the configured alert sinks. The returned func flushes
// buffered events on shutdown.
func newNotifier(log *slog.Logger, cfg *config.Config) (notify.Notifier, func(), error) {
	var (
		sinks []notify.Notifier
		flush = func() {}
	)
	if cfg.SlackToken != "" {
		s, err := notify.NewSlack(notify.SlackConfig{
			Logger:  log,
			Token:   cfg.SlackToken,
			Channel: cfg.SlackChannel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create slack notifier: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.SentryDSN != "" {
		environment := "mainnet"
		if cfg.IsDevnet {
			environment = "devnet"
		}
		s, err := notify.NewSentry(notify.SentryConfig{
			Logger:      log,
			DSN:         cfg.SentryDSN,
			Environment: environment,
			Release:     version,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sentry notifier: %w", err)
		}
		sinks = append(sinks, s)
		flush = func() { s.Flush(2 * time.Second) }
	}
	switch len(sinks) {
	case 0:
		return notify.Nop{}, flush, nil
	case 1:
		return sinks[0], flush, nil
	default:
		return notify.Multi(sinks), flush, nil
	}
}
