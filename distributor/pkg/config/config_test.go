package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/feeward/feeward/distributor/pkg/dispatch"
)

func testEnv(overrides map[string]string) func(string) string {
	env := map[string]string{
		"OWNER_PRIV_KEY": base58.Encode(solana.NewWallet().PrivateKey),
		"TOKEN_MINT":     solana.NewWallet().PublicKey().String(),
		"DEV_WALLET":     solana.NewWallet().PublicKey().String(),
	}
	for k, v := range overrides {
		env[k] = v
	}
	return func(key string) string { return env[key] }
}

func TestFeeward_Config_LoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(testEnv(nil))
	require.NoError(t, err)

	require.Equal(t, DefaultRPCURL, cfg.RPCURL)
	require.Equal(t, uint16(600), cfg.FeeBps)
	require.Equal(t, Shares{DevBps: 400, BurnBps: 50, RewardSolBps: 50, RewardBonkBps: 50, RewardJupBps: 50}, cfg.Shares)
	require.Equal(t, uint64(10_000_000_000_000), cfg.WithdrawMinimum)
	require.Equal(t, uint64(100_000_000_000_000), cfg.MaxFee)
	require.Equal(t, 24, cfg.MaxWithdrawAccounts)
	require.Equal(t, time.Minute, cfg.DistributePeriod)
	require.Equal(t, uint16(1500), cfg.SlippageBps)
	require.Equal(t, AtMostOnce, cfg.Delivery)
	require.Equal(t, dispatch.DefaultPolicy(), cfg.SubmitPolicy)
	require.Equal(t, dispatch.FastFailPolicy(), cfg.FastFailPolicy)
	require.Equal(t, DefaultStatsFile, cfg.StatsFile)
	require.Equal(t, DefaultJupiterURL, cfg.JupiterURL)
	require.Equal(t, DefaultBonkMint, cfg.Bonk.Mint)
	require.Equal(t, uint8(5), cfg.Bonk.Decimals)
	require.Equal(t, DefaultJupMint, cfg.Jup.Mint)
	require.Equal(t, solana.Token2022ProgramID, cfg.Token.Program)
	require.Equal(t, cfg.WalletPublicKey(), cfg.FeeVault)
	require.False(t, cfg.IsDevnet)
}

func TestFeeward_Config_LoadOverrides(t *testing.T) {
	t.Parallel()

	vault := solana.NewWallet().PublicKey()
	cfg, err := Load(testEnv(map[string]string{
		"FEE_VAULT":            vault.String(),
		"TOKEN_DECIMALS":       "6",
		"WITHDRAW_MIN":         "5",
		"DISTRIBUTE_PERIOD":    "1500",
		"DELIVERY_POLICY":      "at-least-once",
		"SUBMIT_MAX_RETRIES":   "7",
		"SUBMIT_WAIT_WINDOW":   "2s",
		"SUBMIT_POLL_INTERVAL": "250ms",
		"JUPITER_API_URL":      "https://jup.example/v6/",
	}))
	require.NoError(t, err)
	require.Equal(t, vault, cfg.FeeVault)
	require.Equal(t, uint64(5_000_000), cfg.WithdrawMinimum)
	require.Equal(t, 1500*time.Millisecond, cfg.DistributePeriod)
	require.Equal(t, AtLeastOnce, cfg.Delivery)
	require.Equal(t, dispatch.Policy{MaxRetries: 7, WaitWindow: 2 * time.Second, PollInterval: 250 * time.Millisecond}, cfg.SubmitPolicy)
	require.Equal(t, 0, cfg.FastFailPolicy.MaxRetries)
	require.Equal(t, 2*time.Second, cfg.FastFailPolicy.WaitWindow)
	require.Equal(t, "https://jup.example/v6", cfg.JupiterURL)
}

func TestFeeward_Config_KeypairFile(t *testing.T) {
	t.Parallel()

	key := solana.NewWallet().PrivateKey
	path := filepath.Join(t.TempDir(), "id.json")
	raw := "["
	for i, b := range key {
		if i > 0 {
			raw += ","
		}
		raw += strconv.Itoa(int(b))
	}
	raw += "]"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(testEnv(map[string]string{"OWNER_PRIV_KEY": "", "OWNER_KEYPAIR_FILE": path}))
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), cfg.WalletPublicKey())
}

func TestFeeward_Config_LoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing wallet", map[string]string{"OWNER_PRIV_KEY": ""}, "OWNER_PRIV_KEY or OWNER_KEYPAIR_FILE is required"},
		{"bad wallet", map[string]string{"OWNER_PRIV_KEY": "0OIl"}, "OWNER_PRIV_KEY is not valid base58"},
		{"short wallet", map[string]string{"OWNER_PRIV_KEY": base58.Encode([]byte{1, 2, 3})}, "must decode to 64 bytes"},
		{"missing mint", map[string]string{"TOKEN_MINT": ""}, "token mint is required"},
		{"missing dev wallet", map[string]string{"DEV_WALLET": ""}, "dev wallet is required"},
		{"bad pubkey", map[string]string{"DEV_WALLET": "nope"}, "invalid DEV_WALLET"},
		{"bad integer", map[string]string{"MAX_WITHDRAWS": "many"}, "invalid MAX_WITHDRAWS"},
		{"shares exceed fee", map[string]string{"DEV_PERCENT": "590"}, "exceed the fee percentage"},
		{"too many withdraw accounts", map[string]string{"MAX_WITHDRAWS": "300"}, "max withdraw accounts"},
		{"unknown delivery policy", map[string]string{"DELIVERY_POLICY": "exactly-once"}, "delivery policy must be"},
		{"slack half configured", map[string]string{"SLACK_BOT_TOKEN": "xoxb-1"}, "slack token and slack channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(testEnv(tt.env))
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFeeward_Config_SharesTotal(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint64(600), Shares{DevBps: 400, BurnBps: 50, RewardSolBps: 50, RewardBonkBps: 50, RewardJupBps: 50}.Total())
}
