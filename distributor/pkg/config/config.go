package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/feeward/feeward/distributor/pkg/dispatch"
	"github.com/feeward/feeward/distributor/pkg/tokenprog"
)

// DeliveryPolicy decides when dev/burn buckets and pending rewards are
// cleared relative to the dispatch outcome.
type DeliveryPolicy string

const (
	// AtMostOnce clears the tracked amount after any dispatch attempt. A
	// failed transfer is not retried and its amount leaves tracked state.
	AtMostOnce DeliveryPolicy = "at-most-once"
	// AtLeastOnce clears the tracked amount only after a confirmed dispatch.
	AtLeastOnce DeliveryPolicy = "at-least-once"
)

const (
	DefaultRPCURL          = "https://api.mainnet-beta.solana.com"
	DefaultRewardLedgerURL = "http://localhost:8888/api/reward/"
	DefaultJupiterURL      = "https://quote-api.jup.ag/v6"
	DefaultStatsFile       = "stats.json"
)

var (
	DefaultBonkMint = solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
	DefaultJupMint  = solana.MustPublicKeyFromBase58("JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN")
)

// Shares are basis-point slices of FeeBps routed to each bucket on withdrawal.
type Shares struct {
	DevBps        uint16
	BurnBps       uint16
	RewardSolBps  uint16
	RewardBonkBps uint16
	RewardJupBps  uint16
}

func (s Shares) Total() uint64 {
	return uint64(s.DevBps) + uint64(s.BurnBps) + uint64(s.RewardSolBps) + uint64(s.RewardBonkBps) + uint64(s.RewardJupBps)
}

// Config is built once at startup and never mutated.
type Config struct {
	RPCURL       string
	RPCRateLimit float64
	RPCBurst     int
	IsDevnet     bool

	Wallet    solana.PrivateKey
	FeeVault  solana.PublicKey
	DevWallet solana.PublicKey

	Token tokenprog.Asset
	Bonk  tokenprog.Asset
	Jup   tokenprog.Asset

	FeeBps uint16
	// MaxFee is the per-transfer fee cap in token base units.
	MaxFee uint64
	Shares Shares

	// WithdrawMinimum is in token base units.
	WithdrawMinimum     uint64
	MaxWithdrawAccounts int
	DistributePeriod    time.Duration
	SlippageBps         uint16
	Delivery            DeliveryPolicy

	SubmitPolicy   dispatch.Policy
	FastFailPolicy dispatch.Policy

	StatsFile       string
	RewardLedgerURL string
	JupiterURL      string

	ListenAddr   string
	PostgresURL  string
	SlackToken   string
	SlackChannel string
	SentryDSN    string
}

// WalletPublicKey is the distributor's signing address.
func (c *Config) WalletPublicKey() solana.PublicKey {
	return c.Wallet.PublicKey()
}

func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("rpc url is required")
	}
	if len(c.Wallet) != 64 {
		return errors.New("wallet private key is required")
	}
	if c.FeeVault.IsZero() {
		return errors.New("fee vault is required")
	}
	if c.DevWallet.IsZero() {
		return errors.New("dev wallet is required")
	}
	if c.Token.Mint.IsZero() {
		return errors.New("token mint is required")
	}
	if c.Bonk.Mint.IsZero() || c.Jup.Mint.IsZero() {
		return errors.New("reward asset mints are required")
	}
	if c.FeeBps == 0 || c.FeeBps > 10_000 {
		return fmt.Errorf("fee bps must be in (0, 10000], got %d", c.FeeBps)
	}
	if c.Shares.Total() > uint64(c.FeeBps) {
		return fmt.Errorf("bucket shares (%d bps) exceed the fee percentage (%d bps)", c.Shares.Total(), c.FeeBps)
	}
	if c.MaxWithdrawAccounts <= 0 || c.MaxWithdrawAccounts > math.MaxUint8 {
		return fmt.Errorf("max withdraw accounts must be in [1, 255], got %d", c.MaxWithdrawAccounts)
	}
	if c.DistributePeriod <= 0 {
		return errors.New("distribute period must be greater than 0")
	}
	if c.SlippageBps > 10_000 {
		return fmt.Errorf("slippage bps must be at most 10000, got %d", c.SlippageBps)
	}
	switch c.Delivery {
	case AtMostOnce, AtLeastOnce:
	default:
		return fmt.Errorf("delivery policy must be %q or %q, got %q", AtMostOnce, AtLeastOnce, c.Delivery)
	}
	if err := c.SubmitPolicy.Validate(); err != nil {
		return fmt.Errorf("submit policy: %w", err)
	}
	if err := c.FastFailPolicy.Validate(); err != nil {
		return fmt.Errorf("fast-fail policy: %w", err)
	}
	if c.StatsFile == "" {
		return errors.New("stats file is required")
	}
	if c.RewardLedgerURL == "" {
		return errors.New("reward ledger url is required")
	}
	if c.JupiterURL == "" {
		return errors.New("jupiter url is required")
	}
	if (c.SlackToken == "") != (c.SlackChannel == "") {
		return errors.New("slack token and slack channel must be set together")
	}
	return nil
}

// LoadFromEnv reads the configuration from the process environment.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv)
}

// Load reads the configuration through getenv.
func Load(getenv func(string) string) (*Config, error) {
	env := envReader{getenv: getenv}

	cfg := &Config{
		RPCURL:          env.str("SOLANA_RPC_URL", DefaultRPCURL),
		RPCRateLimit:    env.number("SOLANA_RPC_RATE_LIMIT", 10),
		RPCBurst:        env.integer("SOLANA_RPC_BURST", 5),
		IsDevnet:        env.str("IS_DEVNET", "false") != "false",
		StatsFile:       env.str("STATS_FILE", DefaultStatsFile),
		RewardLedgerURL: env.str("REWARD_LEDGER_URL", DefaultRewardLedgerURL),
		JupiterURL:      strings.TrimRight(env.str("JUPITER_API_URL", DefaultJupiterURL), "/"),
		ListenAddr:      env.str("LISTEN_ADDR", ":8080"),
		PostgresURL:     env.str("POSTGRES_URL", ""),
		SlackToken:      env.str("SLACK_BOT_TOKEN", ""),
		SlackChannel:    env.str("SLACK_CHANNEL_ID", ""),
		SentryDSN:       env.str("SENTRY_DSN", ""),
		Delivery:        DeliveryPolicy(env.str("DELIVERY_POLICY", string(AtMostOnce))),

		FeeBps: env.bps("INIT_FEE_PERCENTAGE", 600),
		Shares: Shares{
			DevBps:        env.bps("DEV_PERCENT", 400),
			BurnBps:       env.bps("BURN_PERCENT", 50),
			RewardSolBps:  env.bps("REWARD_SOL_PERCENT", 50),
			RewardBonkBps: env.bps("REWARD_BONK_PERCENT", 50),
			RewardJupBps:  env.bps("REWARD_JUP_PERCENT", 50),
		},
		SlippageBps:         env.bps("SLIPPAGE", 1500),
		MaxWithdrawAccounts: env.integer("MAX_WITHDRAWS", 24),
		DistributePeriod:    time.Duration(env.integer("DISTRIBUTE_PERIOD", 60_000)) * time.Millisecond,

		SubmitPolicy: dispatch.Policy{
			MaxRetries:   env.integer("SUBMIT_MAX_RETRIES", dispatch.DefaultPolicy().MaxRetries),
			WaitWindow:   env.duration("SUBMIT_WAIT_WINDOW", dispatch.DefaultPolicy().WaitWindow),
			PollInterval: env.duration("SUBMIT_POLL_INTERVAL", dispatch.DefaultPolicy().PollInterval),
		},
		FastFailPolicy: dispatch.FastFailPolicy(),
	}
	cfg.FastFailPolicy.WaitWindow = cfg.SubmitPolicy.WaitWindow
	cfg.FastFailPolicy.PollInterval = cfg.SubmitPolicy.PollInterval

	decimals := uint8(env.integer("TOKEN_DECIMALS", 9))
	scale := pow10(decimals)
	cfg.MaxFee = saturatingMul(uint64(env.integer("MAX_FEE_TOKENS", 100_000)), scale)
	cfg.WithdrawMinimum = saturatingMul(uint64(env.integer("WITHDRAW_MIN", 10_000)), scale)

	cfg.Token = tokenprog.Asset{
		Symbol:   env.str("TOKEN_SYMBOL", "TOKEN"),
		Mint:     env.pubkey("TOKEN_MINT", solana.PublicKey{}),
		Decimals: decimals,
		Program:  solana.Token2022ProgramID,
	}
	cfg.Bonk = tokenprog.Asset{
		Symbol:   "BONK",
		Mint:     env.pubkey("BONK_MINT", DefaultBonkMint),
		Decimals: uint8(env.integer("BONK_DECIMALS", 5)),
		Program:  solana.TokenProgramID,
	}
	cfg.Jup = tokenprog.Asset{
		Symbol:   "JUP",
		Mint:     env.pubkey("JUP_MINT", DefaultJupMint),
		Decimals: uint8(env.integer("JUP_DECIMALS", 6)),
		Program:  solana.TokenProgramID,
	}
	cfg.DevWallet = env.pubkey("DEV_WALLET", solana.PublicKey{})

	wallet, err := LoadWallet(getenv("OWNER_PRIV_KEY"), getenv("OWNER_KEYPAIR_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Wallet = wallet
	cfg.FeeVault = env.pubkey("FEE_VAULT", wallet.PublicKey())

	if env.err != nil {
		return nil, env.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWallet decodes a base58 private key, falling back to a solana-keygen
// keypair file.
func LoadWallet(privKey, keypairFile string) (solana.PrivateKey, error) {
	switch {
	case privKey != "":
		raw, err := base58.Decode(privKey)
		if err != nil {
			return nil, fmt.Errorf("OWNER_PRIV_KEY is not valid base58: %w", err)
		}
		if len(raw) != 64 {
			return nil, fmt.Errorf("OWNER_PRIV_KEY must decode to 64 bytes, got %d", len(raw))
		}
		return solana.PrivateKey(raw), nil
	case keypairFile != "":
		key, err := solana.PrivateKeyFromSolanaKeygenFile(keypairFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OWNER_KEYPAIR_FILE: %w", err)
		}
		return key, nil
	default:
		return nil, errors.New("OWNER_PRIV_KEY or OWNER_KEYPAIR_FILE is required")
	}
}

// envReader records the first parse error so Load can report it once.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		e.fail(key, fmt.Errorf("%q is not a non-negative integer", v))
		return def
	}
	return n
}

func (e *envReader) bps(key string, def uint16) uint16 {
	n := e.integer(key, int(def))
	if n > 10_000 {
		e.fail(key, fmt.Errorf("%d exceeds 10000 bps", n))
		return def
	}
	return uint16(n)
}

func (e *envReader) number(key string, def float64) float64 {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		e.fail(key, fmt.Errorf("%q is not a positive number", v))
		return def
	}
	return f
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) pubkey(key string, def solana.PublicKey) solana.PublicKey {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	pk, err := solana.PublicKeyFromBase58(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return pk
}

func pow10(decimals uint8) uint64 {
	out := uint64(1)
	for range decimals {
		out = saturatingMul(out, 10)
	}
	return out
}

func saturatingMul(a, b uint64) uint64 {
	if a != 0 && b > math.MaxUint64/a {
		return math.MaxUint64
	}
	return a * b
}
