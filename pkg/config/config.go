// Package config loads and validates the worker configuration from the
// environment. All values are read once at startup; any problem here is
// fatal before polling begins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/HyeokxC/cudis-ntt-claimer/pkg/amount"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/attestation"
)

const defaultPollInterval = 30 * time.Second

// Config is immutable after LoadFromEnv.
type Config struct {
	RPCEndpoint    string
	Wallet         solana.PrivateKey
	Custody        solana.PublicKey
	RequiredAmount string // display form, kept for logging
	RequiredRaw    uint64
	ManagerProgram solana.PublicKey
	Mint           solana.PublicKey
	ChainID        vaa.ChainID
	Emitter        string // normalized 32-byte hex wire form
	Sequence       uint64
	PollInterval   time.Duration
}

// LoadFromEnv reads and validates the worker configuration.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		RPCEndpoint:  os.Getenv("SOLANA_RPC_URL"),
		PollInterval: defaultPollInterval,
	}
	if cfg.RPCEndpoint == "" {
		cfg.RPCEndpoint = solanarpc.MainNetBeta_RPC
	}

	key := os.Getenv("WALLET_PRIVATE_KEY")
	if key == "" {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY is required")
	}
	raw, err := base58.Decode(key)
	if err != nil {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY is not valid base58: %w", err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY must be a 64-byte keypair, got %d bytes", len(raw))
	}
	cfg.Wallet = solana.PrivateKey(raw)

	if cfg.Custody, err = requiredPublicKey("CUSTODY_TOKEN_ACCOUNT"); err != nil {
		return nil, err
	}
	if cfg.ManagerProgram, err = requiredPublicKey("NTT_MANAGER_PROGRAM"); err != nil {
		return nil, err
	}
	if cfg.Mint, err = requiredPublicKey("CUDIS_MINT"); err != nil {
		return nil, err
	}

	cfg.RequiredAmount = os.Getenv("REQUIRED_AMOUNT")
	if cfg.RequiredAmount == "" {
		return nil, fmt.Errorf("REQUIRED_AMOUNT is required")
	}
	cfg.RequiredRaw, err = amount.ToRawUint64(cfg.RequiredAmount, amount.CudisDecimals)
	if err != nil {
		return nil, fmt.Errorf("REQUIRED_AMOUNT: %w", err)
	}
	if cfg.RequiredRaw == 0 {
		return nil, fmt.Errorf("REQUIRED_AMOUNT must be greater than 0")
	}

	chainID, err := requiredUint("WORMHOLE_CHAIN_ID", 16)
	if err != nil {
		return nil, err
	}
	if chainID == 0 {
		return nil, fmt.Errorf("WORMHOLE_CHAIN_ID must be greater than 0")
	}
	cfg.ChainID = vaa.ChainID(chainID)

	emitter := os.Getenv("EMITTER_ADDRESS")
	if emitter == "" {
		return nil, fmt.Errorf("EMITTER_ADDRESS is required")
	}
	if cfg.Emitter, err = attestation.NormalizeEmitter(emitter); err != nil {
		return nil, fmt.Errorf("EMITTER_ADDRESS: %w", err)
	}

	if cfg.Sequence, err = requiredUint("VAA_SEQUENCE", 64); err != nil {
		return nil, err
	}

	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("POLL_INTERVAL_MS must be a positive integer, got %q", v)
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}

	return cfg, nil
}

// Coordinates returns the attestation coordinates this worker claims.
func (c *Config) Coordinates() attestation.Coordinates {
	return attestation.Coordinates{
		ChainID:  c.ChainID,
		Emitter:  c.Emitter,
		Sequence: c.Sequence,
	}
}

func requiredPublicKey(name string) (solana.PublicKey, error) {
	v := os.Getenv(name)
	if v == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", name)
	}
	pk, err := solana.PublicKeyFromBase58(v)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s is not a valid public key: %w", name, err)
	}
	return pk, nil
}

func requiredUint(name string, bits int) (uint64, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	n, err := strconv.ParseUint(v, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid unsigned integer: %w", name, err)
	}
	return n, nil
}
