// Package attestation retrieves the signed Wormhole message (VAA) that
// authorizes redeeming an inbound NTT transfer. A guardian-network query is
// tried first; the public Wormholescan explorer is the fallback.
package attestation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/HyeokxC/cudis-ntt-claimer/pkg/metrics"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/ntt"
)

// DefaultAPIBaseURL serves both the guardian-style signed VAA endpoint and
// the explorer API.
const DefaultAPIBaseURL = "https://api.wormholescan.io"

const (
	// DefaultGuardianTimeout bounds how long a single fetch waits on the
	// guardian network before falling back to the explorer.
	DefaultGuardianTimeout      = 60 * time.Second
	defaultGuardianPollInterval = 5 * time.Second
)

var (
	ErrAttestationService = errors.New("attestation service error")
	ErrMalformedResponse  = errors.New("malformed attestation response")
	ErrEmptyPayload       = errors.New("empty attestation payload")
)

// Coordinates identify one attestation: the source chain, the emitter in
// 32-byte hex wire form (see NormalizeEmitter), and the per-emitter sequence.
type Coordinates struct {
	ChainID  vaa.ChainID
	Emitter  string
	Sequence uint64
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%d/%s/%d", uint16(c.ChainID), c.Emitter, c.Sequence)
}

// Attestation is an immutable fetched and decoded signed message.
type Attestation struct {
	Raw      []byte
	Envelope *vaa.VAA
	Transfer *ntt.Transfer
}

// GuardianClient queries the attestation network for a signed VAA. A nil
// byte slice with a nil error means the message was not available within the
// client's wait window.
type GuardianClient interface {
	GetSignedVAA(ctx context.Context, coords Coordinates) ([]byte, error)
}

type FetcherConfig struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Guardian   GuardianClient
	APIBaseURL string
	HTTPClient *http.Client
}

func (cfg *FetcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Guardian == nil {
		cfg.Guardian = &HTTPGuardianClient{
			Logger:     cfg.Logger,
			Clock:      cfg.Clock,
			BaseURL:    cfg.APIBaseURL,
			HTTPClient: cfg.HTTPClient,
		}
	}
	return nil
}

type Fetcher struct {
	log *slog.Logger
	cfg FetcherConfig
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Fetcher{log: cfg.Logger, cfg: cfg}, nil
}

// Fetch makes a single attempt to retrieve and decode the attestation.
// Retries are the caller's responsibility.
func (f *Fetcher) Fetch(ctx context.Context, coords Coordinates) (*Attestation, error) {
	raw, err := f.cfg.Guardian.GetSignedVAA(ctx, coords)
	switch {
	case err != nil:
		metrics.AttestationFetchTotal.WithLabelValues("guardian", "error").Inc()
		f.log.Warn("attestation: guardian query failed, falling back to explorer",
			"coordinates", coords.String(), "error", err)
	case len(raw) > 0:
		metrics.AttestationFetchTotal.WithLabelValues("guardian", "ok").Inc()
		return f.decode(raw, true)
	default:
		metrics.AttestationFetchTotal.WithLabelValues("guardian", "not_found").Inc()
		f.log.Info("attestation: not yet available from guardians, falling back to explorer",
			"coordinates", coords.String())
	}

	raw, err = f.fetchFromExplorer(ctx, coords)
	if err != nil {
		metrics.AttestationFetchTotal.WithLabelValues("explorer", "error").Inc()
		return nil, err
	}
	metrics.AttestationFetchTotal.WithLabelValues("explorer", "ok").Inc()
	return f.decode(raw, false)
}

// decode unmarshals the VAA envelope and the NTT payload. The guardian path
// carries the transfer directly; the explorer path trial-decodes both wire
// variants.
func (f *Fetcher) decode(raw []byte, directOnly bool) (*Attestation, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}

	envelope, err := vaa.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal vaa: %w", err)
	}

	var transfer *ntt.Transfer
	if directOnly {
		msg, err := ntt.ParseTransceiverMessage(envelope.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode transfer payload: %w", err)
		}
		transfer = &ntt.Transfer{Variant: ntt.VariantTransfer, Message: *msg}
	} else {
		transfer, err = ntt.ParseTransfer(envelope.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode transfer payload: %w", err)
		}
	}

	f.log.Info("attestation: decoded",
		"variant", string(transfer.Variant),
		"emitter_chain", envelope.EmitterChain.String(),
		"sequence", envelope.Sequence,
		"amount", transfer.Message.Message.Transfer.Amount)

	return &Attestation{Raw: raw, Envelope: envelope, Transfer: transfer}, nil
}

func (f *Fetcher) fetchFromExplorer(ctx context.Context, coords Coordinates) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v1/vaas/%d/%s/%d",
		f.cfg.APIBaseURL, uint16(coords.ChainID), coords.Emitter, coords.Sequence)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create explorer request: %w", err)
	}

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestationService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: explorer returned status %d", ErrAttestationService, resp.StatusCode)
	}

	var body struct {
		Data struct {
			VAA string `json:"vaa"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if body.Data.VAA == "" {
		return nil, fmt.Errorf("%w: missing vaa field", ErrMalformedResponse)
	}

	raw, err := base64.StdEncoding.DecodeString(body.Data.VAA)
	if err != nil {
		return nil, fmt.Errorf("%w: vaa field is not base64: %v", ErrMalformedResponse, err)
	}
	return raw, nil
}

// HTTPGuardianClient polls the guardian REST gateway for a signed VAA until
// it appears or the wait window elapses.
type HTTPGuardianClient struct {
	Logger       *slog.Logger
	Clock        clockwork.Clock
	BaseURL      string
	HTTPClient   *http.Client
	Timeout      time.Duration // defaults to DefaultGuardianTimeout
	PollInterval time.Duration
}

func (c *HTTPGuardianClient) GetSignedVAA(ctx context.Context, coords Coordinates) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultGuardianTimeout
	}
	pollInterval := c.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultGuardianPollInterval
	}

	deadline := c.Clock.Now().Add(timeout)
	for {
		raw, found, err := c.query(ctx, coords)
		if err != nil {
			return nil, err
		}
		if found {
			return raw, nil
		}

		if c.Clock.Now().Add(pollInterval).After(deadline) {
			return nil, nil
		}
		c.Logger.Debug("attestation: signed vaa not available yet, polling guardians again",
			"coordinates", coords.String(), "poll_interval", pollInterval.String())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.Clock.After(pollInterval):
		}
	}
}

func (c *HTTPGuardianClient) query(ctx context.Context, coords Coordinates) ([]byte, bool, error) {
	url := fmt.Sprintf("%s/v1/signed_vaa/%d/%s/%d",
		c.BaseURL, uint16(coords.ChainID), coords.Emitter, coords.Sequence)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create guardian request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrAttestationService, err)
	}
	defer resp.Body.Close()

	// Not signed yet; keep polling.
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("%w: guardian returned status %d", ErrAttestationService, resp.StatusCode)
	}

	var body struct {
		VAABytes string `json:"vaaBytes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if body.VAABytes == "" {
		return nil, false, nil
	}

	raw, err := base64.StdEncoding.DecodeString(body.VAABytes)
	if err != nil {
		return nil, false, fmt.Errorf("%w: vaaBytes is not base64: %v", ErrMalformedResponse, err)
	}
	return raw, true, nil
}
