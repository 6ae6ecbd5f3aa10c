package config

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

func setValidEnv(t *testing.T) {
	t.Helper()

	wallet, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	t.Setenv("SOLANA_RPC_URL", "http://localhost:8899")
	t.Setenv("WALLET_PRIVATE_KEY", wallet.String())
	t.Setenv("CUSTODY_TOKEN_ACCOUNT", solana.NewWallet().PublicKey().String())
	t.Setenv("NTT_MANAGER_PROGRAM", solana.NewWallet().PublicKey().String())
	t.Setenv("CUDIS_MINT", solana.NewWallet().PublicKey().String())
	t.Setenv("REQUIRED_AMOUNT", "1.5")
	t.Setenv("WORMHOLE_CHAIN_ID", "2")
	t.Setenv("EMITTER_ADDRESS", "0x1234567890abcdef1234567890abcdef12345678")
	t.Setenv("VAA_SEQUENCE", "7")
	t.Setenv("POLL_INTERVAL_MS", "15000")
}

func TestClaimer_Config_LoadFromEnv(t *testing.T) {
	setValidEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8899", cfg.RPCEndpoint)
	require.Equal(t, "1.5", cfg.RequiredAmount)
	require.Equal(t, uint64(1_500_000_000), cfg.RequiredRaw)
	require.Equal(t, vaa.ChainIDEthereum, cfg.ChainID)
	require.Equal(t, "000000000000000000000000"+"1234567890abcdef1234567890abcdef12345678", cfg.Emitter)
	require.Equal(t, uint64(7), cfg.Sequence)
	require.Equal(t, 15*time.Second, cfg.PollInterval)

	coords := cfg.Coordinates()
	require.Equal(t, cfg.ChainID, coords.ChainID)
	require.Equal(t, cfg.Emitter, coords.Emitter)
	require.Equal(t, cfg.Sequence, coords.Sequence)
}

func TestClaimer_Config_Defaults(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SOLANA_RPC_URL", "")
	t.Setenv("POLL_INTERVAL_MS", "")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.NotEmpty(t, cfg.RPCEndpoint)
	require.Equal(t, defaultPollInterval, cfg.PollInterval)
}

func TestClaimer_Config_MissingRequired(t *testing.T) {
	required := []string{
		"WALLET_PRIVATE_KEY",
		"CUSTODY_TOKEN_ACCOUNT",
		"NTT_MANAGER_PROGRAM",
		"CUDIS_MINT",
		"REQUIRED_AMOUNT",
		"WORMHOLE_CHAIN_ID",
		"EMITTER_ADDRESS",
		"VAA_SEQUENCE",
	}
	for _, name := range required {
		t.Run(name, func(t *testing.T) {
			setValidEnv(t)
			t.Setenv(name, "")

			_, err := LoadFromEnv()
			require.Error(t, err)
			require.Contains(t, err.Error(), name)
		})
	}
}

func TestClaimer_Config_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "wallet not base58", key: "WALLET_PRIVATE_KEY", value: "not-base58-0OIl"},
		{name: "wallet wrong length", key: "WALLET_PRIVATE_KEY", value: "abc"},
		{name: "custody not a key", key: "CUSTODY_TOKEN_ACCOUNT", value: "nope"},
		{name: "amount malformed", key: "REQUIRED_AMOUNT", value: "1.2.3"},
		{name: "amount over-precise", key: "REQUIRED_AMOUNT", value: "0.0000000001"},
		{name: "amount zero", key: "REQUIRED_AMOUNT", value: "0"},
		{name: "chain id zero", key: "WORMHOLE_CHAIN_ID", value: "0"},
		{name: "chain id overflow", key: "WORMHOLE_CHAIN_ID", value: "70000"},
		{name: "emitter wrong length", key: "EMITTER_ADDRESS", value: "0x1234"},
		{name: "sequence not a number", key: "VAA_SEQUENCE", value: "seven"},
		{name: "poll interval negative", key: "POLL_INTERVAL_MS", value: "-5"},
		{name: "poll interval zero", key: "POLL_INTERVAL_MS", value: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setValidEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadFromEnv()
			require.Error(t, err)
		})
	}
}
