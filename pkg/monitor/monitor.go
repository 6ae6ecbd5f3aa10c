// Package monitor runs the claim state machine: poll the custody balance on
// a fixed interval, and once the threshold is met fetch the attestation and
// redeem it, retrying the claim until it lands.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/HyeokxC/cudis-ntt-claimer/pkg/attestation"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/metrics"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/redeem"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/retry"
)

// RPC is the subset of the Solana RPC client the monitor uses.
type RPC interface {
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
}

// Fetcher retrieves the attestation for the configured coordinates.
type Fetcher interface {
	Fetch(ctx context.Context, coords attestation.Coordinates) (*attestation.Attestation, error)
}

// Redeemer submits the redemption sequence for a fetched attestation.
type Redeemer interface {
	Redeem(ctx context.Context, att *attestation.Attestation) (*redeem.Outcome, error)
}

type Config struct {
	Logger       *slog.Logger
	Clock        clockwork.Clock
	RPC          RPC
	Fetcher      Fetcher
	Redeemer     Redeemer
	Retry        *retry.Scheduler
	Custody      solana.PublicKey
	Mint         solana.PublicKey
	RequiredRaw  uint64
	Coordinates  attestation.Coordinates
	PollInterval time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Fetcher == nil {
		return errors.New("attestation fetcher is required")
	}
	if cfg.Redeemer == nil {
		return errors.New("redeemer is required")
	}
	if cfg.Retry == nil {
		return errors.New("retry scheduler is required")
	}
	if cfg.Custody.IsZero() {
		return errors.New("custody account is required")
	}
	if cfg.Mint.IsZero() {
		return errors.New("mint is required")
	}
	if cfg.RequiredRaw == 0 {
		return errors.New("required amount must be greater than 0")
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Snapshot is one custody balance reading, never cached across cycles.
type Snapshot struct {
	Raw     uint64
	Display string
}

type Monitor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{log: cfg.Logger, cfg: cfg}, nil
}

// Run polls until the custody balance reaches the threshold, then claims.
// It returns nil on a successful claim or on graceful shutdown, and an error
// only for fatal startup conditions. The context is observed at poll-cycle
// boundaries only; in-flight work always runs to completion.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.verifyCustodyMint(ctx); err != nil {
		return err
	}

	m.log.Info("monitor: watching custody balance",
		"custody", m.cfg.Custody.String(),
		"required_raw", m.cfg.RequiredRaw,
		"poll_interval", m.cfg.PollInterval.String())

	for {
		if ctx.Err() != nil {
			m.log.Info("monitor: shutdown requested, exiting without claiming")
			return nil
		}

		snapshot, err := m.queryBalance(ctx)
		switch {
		case err != nil:
			// Inconclusive cycle; keep polling.
			metrics.PollCyclesTotal.WithLabelValues("error").Inc()
			m.log.Warn("monitor: balance query failed", "error", err)
		case snapshot.Raw >= m.cfg.RequiredRaw:
			metrics.PollCyclesTotal.WithLabelValues("threshold_met").Inc()
			m.log.Info("monitor: threshold met",
				"balance", snapshot.Display, "balance_raw", snapshot.Raw, "required_raw", m.cfg.RequiredRaw)
			return m.claim(ctx)
		default:
			metrics.PollCyclesTotal.WithLabelValues("below_threshold").Inc()
			m.log.Info("monitor: balance below threshold",
				"balance", snapshot.Display, "balance_raw", snapshot.Raw, "required_raw", m.cfg.RequiredRaw)
		}

		select {
		case <-ctx.Done():
			m.log.Info("monitor: shutdown requested, exiting without claiming")
			return nil
		case <-m.cfg.Clock.After(m.cfg.PollInterval):
		}
	}
}

// claim fetches the attestation and redeems it, retrying the pair as one
// operation until it succeeds.
func (m *Monitor) claim(ctx context.Context) error {
	var outcome *redeem.Outcome

	err := m.cfg.Retry.RunUntilSuccess(ctx, "claim", func(ctx context.Context) error {
		att, err := m.cfg.Fetcher.Fetch(ctx, m.cfg.Coordinates)
		if err != nil {
			metrics.RedeemAttemptsTotal.WithLabelValues("fetch_failed").Inc()
			return fmt.Errorf("fetch attestation: %w", err)
		}

		outcome, err = m.cfg.Redeemer.Redeem(ctx, att)
		if err != nil {
			metrics.RedeemAttemptsTotal.WithLabelValues("redeem_failed").Inc()
			return err
		}
		metrics.RedeemAttemptsTotal.WithLabelValues("ok").Inc()
		return nil
	})
	if err != nil {
		// Only context cancellation escapes the retry loop.
		m.log.Info("monitor: shutdown requested during claim, exiting", "reason", err)
		return nil
	}

	sigs := make([]string, 0, len(outcome.Signatures))
	for _, sig := range outcome.Signatures {
		sigs = append(sigs, sig.String())
	}
	metrics.ClaimCompletedTimestamp.Set(float64(m.cfg.Clock.Now().Unix()))
	m.log.Info("monitor: claim complete", "signatures", sigs)
	return nil
}

func (m *Monitor) queryBalance(ctx context.Context) (Snapshot, error) {
	result, err := m.cfg.RPC.GetTokenAccountBalance(ctx, m.cfg.Custody, solanarpc.CommitmentFinalized)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get token account balance: %w", err)
	}
	if result.Value == nil {
		return Snapshot{}, errors.New("balance query returned no value")
	}

	raw, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse raw balance %q: %w", result.Value.Amount, err)
	}
	return Snapshot{Raw: raw, Display: result.Value.UiAmountString}, nil
}

// verifyCustodyMint is the startup precondition: the custody account must
// hold the configured mint. A mismatch is fatal.
func (m *Monitor) verifyCustodyMint(ctx context.Context) error {
	info, err := m.cfg.RPC.GetAccountInfo(ctx, m.cfg.Custody)
	if err != nil {
		return fmt.Errorf("failed to fetch custody account: %w", err)
	}
	if info.Value == nil {
		return fmt.Errorf("custody account %s does not exist", m.cfg.Custody)
	}

	var acct token.Account
	if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&acct); err != nil {
		return fmt.Errorf("failed to decode custody token account: %w", err)
	}
	if !acct.Mint.Equals(m.cfg.Mint) {
		return fmt.Errorf("custody account mint %s does not match configured mint %s", acct.Mint, m.cfg.Mint)
	}
	return nil
}
