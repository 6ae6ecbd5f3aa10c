// Package redeem builds, signs and submits the on-chain transaction sequence
// that consumes an NTT attestation and releases the inbound transfer:
// post the VAA to the core bridge, redeem against the NTT manager, release
// the inbound lock to the recipient.
package redeem

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/HyeokxC/cudis-ntt-claimer/pkg/attestation"
)

// CoreBridgeProgram is the Wormhole core bridge on Solana mainnet.
var CoreBridgeProgram = solana.MustPublicKeyFromBase58("worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth")

const (
	DefaultConfirmTimeout = 90 * time.Second
	confirmPollInterval   = 500 * time.Millisecond
)

// ErrSubmission wraps any signing, submission or confirmation failure. The
// whole call either returns a non-empty outcome or fails with it.
var ErrSubmission = errors.New("redeem submission failed")

// RPC is the subset of the Solana RPC client used to submit redemptions.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

type Config struct {
	Logger         *slog.Logger
	Clock          clockwork.Clock
	RPC            RPC
	Signer         solana.PrivateKey
	Manager        solana.PublicKey // NTT token-transfer-manager program
	CoreBridge     solana.PublicKey // defaults to CoreBridgeProgram
	Mint           solana.PublicKey
	Custody        solana.PublicKey
	ConfirmTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if len(cfg.Signer) == 0 {
		return errors.New("signer is required")
	}
	if cfg.Manager.IsZero() {
		return errors.New("manager program is required")
	}
	if cfg.Mint.IsZero() {
		return errors.New("mint is required")
	}
	if cfg.Custody.IsZero() {
		return errors.New("custody account is required")
	}
	if cfg.CoreBridge.IsZero() {
		cfg.CoreBridge = CoreBridgeProgram
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Outcome is the ordered list of transaction signatures produced by one
// successful redemption.
type Outcome struct {
	Signatures []solana.Signature
}

type Executor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Redeem submits the three-transaction redemption sequence and waits for
// each to confirm. Signatures are returned in submission order.
func (e *Executor) Redeem(ctx context.Context, att *attestation.Attestation) (*Outcome, error) {
	payer := e.cfg.Signer.PublicKey()
	digest := att.Envelope.SigningDigest().Bytes()

	postIx, err := e.buildPostVAA(att, payer)
	if err != nil {
		return nil, fmt.Errorf("%w: build post vaa: %w", ErrSubmission, err)
	}
	receiveIx, err := e.buildReceiveMessage(att, payer, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: build receive message: %w", ErrSubmission, err)
	}
	redeemIx, err := e.buildRedeem(att, payer, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: build redeem: %w", ErrSubmission, err)
	}
	releaseIx, err := e.buildReleaseInbound(att, payer, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: build release inbound: %w", ErrSubmission, err)
	}

	steps := []struct {
		name string
		ixs  []solana.Instruction
	}{
		{name: "post attestation", ixs: []solana.Instruction{postIx}},
		{name: "redeem transfer", ixs: []solana.Instruction{receiveIx, redeemIx}},
		{name: "release inbound", ixs: []solana.Instruction{releaseIx}},
	}

	outcome := &Outcome{}
	for _, step := range steps {
		sig, err := e.submit(ctx, step.ixs, payer)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSubmission, step.name, err)
		}
		e.log.Info("redeem: transaction confirmed", "step", step.name, "signature", sig.String())
		outcome.Signatures = append(outcome.Signatures, sig)
	}
	return outcome, nil
}

func (e *Executor) submit(ctx context.Context, ixs []solana.Instruction, payer solana.PublicKey) (solana.Signature, error) {
	recent, err := e.cfg.RPC.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(ixs, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &e.cfg.Signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := e.cfg.RPC.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	if err := e.confirm(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

func (e *Executor) confirm(ctx context.Context, sig solana.Signature) error {
	deadline := e.cfg.Clock.Now().Add(e.cfg.ConfirmTimeout)
	for {
		status, err := e.cfg.RPC.GetSignatureStatuses(ctx, false, sig)
		if err == nil && len(status.Value) > 0 && status.Value[0] != nil {
			s := status.Value[0]
			if s.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, s.Err)
			}
			if s.ConfirmationStatus == solanarpc.ConfirmationStatusConfirmed ||
				s.ConfirmationStatus == solanarpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		if !e.cfg.Clock.Now().Add(confirmPollInterval).Before(deadline) {
			return fmt.Errorf("timeout waiting for confirmation of %s", sig)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.cfg.Clock.After(confirmPollInterval):
		}
	}
}

// buildPostVAA posts the signed message to the core bridge so the manager
// can verify it on chain.
func (e *Executor) buildPostVAA(att *attestation.Attestation, payer solana.PublicKey) (solana.Instruction, error) {
	env := att.Envelope
	digest := env.SigningDigest().Bytes()

	guardianSet, err := e.pda(e.cfg.CoreBridge, []byte("GuardianSet"), u32BE(env.GuardianSetIndex))
	if err != nil {
		return nil, err
	}
	bridgeConfig, err := e.pda(e.cfg.CoreBridge, []byte("Bridge"))
	if err != nil {
		return nil, err
	}
	postedVAA, err := e.pda(e.cfg.CoreBridge, []byte("PostedVAA"), digest)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, 64+len(env.Payload))
	data = append(data, 2) // PostVAA instruction index
	data = append(data, env.Version)
	data = binary.LittleEndian.AppendUint32(data, env.GuardianSetIndex)
	data = binary.LittleEndian.AppendUint32(data, uint32(env.Timestamp.Unix()))
	data = binary.LittleEndian.AppendUint32(data, env.Nonce)
	data = binary.LittleEndian.AppendUint16(data, uint16(env.EmitterChain))
	data = append(data, env.EmitterAddress[:]...)
	data = binary.LittleEndian.AppendUint64(data, env.Sequence)
	data = append(data, env.ConsistencyLevel)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(env.Payload)))
	data = append(data, env.Payload...)

	accounts := solana.AccountMetaSlice{
		solana.Meta(guardianSet),
		solana.Meta(bridgeConfig),
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(postedVAA).WRITE(),
		solana.Meta(solana.SysVarClockPubkey),
		solana.Meta(solana.SysVarRentPubkey),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(e.cfg.CoreBridge, accounts, data), nil
}

func (e *Executor) buildReceiveMessage(att *attestation.Attestation, payer solana.PublicKey, digest []byte) (solana.Instruction, error) {
	env := att.Envelope
	chain := u16BE(uint16(env.EmitterChain))

	peer, err := e.pda(e.cfg.Manager, []byte("transceiver_peer"), chain)
	if err != nil {
		return nil, err
	}
	postedVAA, err := e.pda(e.cfg.CoreBridge, []byte("PostedVAA"), digest)
	if err != nil {
		return nil, err
	}
	transceiverMessage, err := e.pda(e.cfg.Manager,
		[]byte("transceiver_message"), chain, att.Transfer.Message.Message.ID[:])
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(peer),
		solana.Meta(postedVAA),
		solana.Meta(transceiverMessage).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(e.cfg.Manager, accounts, anchorDiscriminator("receive_wormhole_message")), nil
}

func (e *Executor) buildRedeem(att *attestation.Attestation, payer solana.PublicKey, digest []byte) (solana.Instruction, error) {
	env := att.Envelope
	chain := u16BE(uint16(env.EmitterChain))

	config, err := e.pda(e.cfg.Manager, []byte("config"))
	if err != nil {
		return nil, err
	}
	peer, err := e.pda(e.cfg.Manager, []byte("peer"), chain)
	if err != nil {
		return nil, err
	}
	transceiverMessage, err := e.pda(e.cfg.Manager,
		[]byte("transceiver_message"), chain, att.Transfer.Message.Message.ID[:])
	if err != nil {
		return nil, err
	}
	inboxItem, err := e.pda(e.cfg.Manager, []byte("inbox_item"), digest)
	if err != nil {
		return nil, err
	}
	inboxRateLimit, err := e.pda(e.cfg.Manager, []byte("inbox_rate_limit"), chain)
	if err != nil {
		return nil, err
	}
	outboxRateLimit, err := e.pda(e.cfg.Manager, []byte("outbox_rate_limit"))
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(config),
		solana.Meta(peer),
		solana.Meta(transceiverMessage),
		solana.Meta(e.cfg.Mint),
		solana.Meta(inboxItem).WRITE(),
		solana.Meta(inboxRateLimit).WRITE(),
		solana.Meta(outboxRateLimit).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(e.cfg.Manager, accounts, anchorDiscriminator("redeem")), nil
}

func (e *Executor) buildReleaseInbound(att *attestation.Attestation, payer solana.PublicKey, digest []byte) (solana.Instruction, error) {
	config, err := e.pda(e.cfg.Manager, []byte("config"))
	if err != nil {
		return nil, err
	}
	inboxItem, err := e.pda(e.cfg.Manager, []byte("inbox_item"), digest)
	if err != nil {
		return nil, err
	}
	tokenAuthority, err := e.pda(e.cfg.Manager, []byte("token_authority"))
	if err != nil {
		return nil, err
	}
	recipient := solana.PublicKeyFromBytes(att.Transfer.Message.Message.Transfer.Recipient[:])

	data := anchorDiscriminator("release_inbound_unlock")
	data = append(data, 0) // revert_on_delay = false

	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).SIGNER().WRITE(),
		solana.Meta(config),
		solana.Meta(inboxItem).WRITE(),
		solana.Meta(recipient).WRITE(),
		solana.Meta(tokenAuthority),
		solana.Meta(e.cfg.Custody).WRITE(),
		solana.Meta(e.cfg.Mint),
		solana.Meta(solana.TokenProgramID),
	}
	return solana.NewInstruction(e.cfg.Manager, accounts, data), nil
}

func (e *Executor) pda(program solana.PublicKey, seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive pda under %s: %w", program, err)
	}
	return addr, nil
}

// anchorDiscriminator is the 8-byte anchor instruction sighash.
func anchorDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

func u16BE(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32BE(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
