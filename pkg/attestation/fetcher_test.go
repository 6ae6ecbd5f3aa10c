package attestation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/HyeokxC/cudis-ntt-claimer/pkg/ntt"
	"github.com/HyeokxC/cudis-ntt-claimer/pkg/testutil"
)

func testCoordinates(t *testing.T) Coordinates {
	t.Helper()
	emitter, err := NormalizeEmitter("0x1234567890abcdef1234567890abcdef12345678")
	require.NoError(t, err)
	return Coordinates{ChainID: vaa.ChainIDEthereum, Emitter: emitter, Sequence: 7}
}

// encodeTransceiverPayload builds a minimal valid direct (variant A) NTT
// transceiver message.
func encodeTransceiverPayload(t *testing.T) []byte {
	t.Helper()

	var transfer bytes.Buffer
	transfer.Write([]byte{0x99, 0x4E, 0x54, 0x54}) // NTT prefix
	transfer.WriteByte(9)                          // decimals
	require.NoError(t, binary.Write(&transfer, binary.BigEndian, uint64(1_500_000_000)))
	transfer.Write(make([]byte, 32)) // source token
	transfer.Write(make([]byte, 32)) // recipient
	require.NoError(t, binary.Write(&transfer, binary.BigEndian, uint16(1)))

	var manager bytes.Buffer
	manager.Write(make([]byte, 32)) // id
	manager.Write(make([]byte, 32)) // sender
	require.NoError(t, binary.Write(&manager, binary.BigEndian, uint16(transfer.Len())))
	manager.Write(transfer.Bytes())

	var out bytes.Buffer
	out.Write([]byte{0x99, 0x45, 0xFF, 0x10}) // transceiver prefix
	out.Write(make([]byte, 32))               // source manager
	out.Write(make([]byte, 32))               // recipient manager
	require.NoError(t, binary.Write(&out, binary.BigEndian, uint16(manager.Len())))
	out.Write(manager.Bytes())
	require.NoError(t, binary.Write(&out, binary.BigEndian, uint16(0)))
	return out.Bytes()
}

// encodeRelayedPayload wraps a transceiver message in a standard relayer
// delivery instruction (variant B).
func encodeRelayedPayload(t *testing.T, inner []byte) []byte {
	t.Helper()

	var out bytes.Buffer
	out.WriteByte(0x01)
	require.NoError(t, binary.Write(&out, binary.BigEndian, uint16(1)))
	out.Write(make([]byte, 32))
	require.NoError(t, binary.Write(&out, binary.BigEndian, uint32(len(inner))))
	out.Write(inner)
	return out.Bytes()
}

func marshalTestVAA(t *testing.T, payload []byte) []byte {
	t.Helper()

	v := &vaa.VAA{
		Version:          1,
		GuardianSetIndex: 3,
		Signatures: []*vaa.Signature{
			{Index: 0, Signature: vaa.SignatureData{0x01}},
		},
		Timestamp:        time.Unix(1_700_000_000, 0),
		Nonce:            42,
		Sequence:         7,
		ConsistencyLevel: 1,
		EmitterChain:     vaa.ChainIDEthereum,
		EmitterAddress:   vaa.Address{0x12, 0x34},
		Payload:          payload,
	}
	raw, err := v.Marshal()
	require.NoError(t, err)
	return raw
}

type stubGuardian struct {
	fn func(ctx context.Context, coords Coordinates) ([]byte, error)
}

func (s *stubGuardian) GetSignedVAA(ctx context.Context, coords Coordinates) ([]byte, error) {
	return s.fn(ctx, coords)
}

func newTestFetcher(t *testing.T, guardian GuardianClient, explorerURL string) *Fetcher {
	t.Helper()
	f, err := NewFetcher(FetcherConfig{
		Logger:     testutil.NewLogger(),
		Clock:      clockwork.NewFakeClock(),
		Guardian:   guardian,
		APIBaseURL: explorerURL,
	})
	require.NoError(t, err)
	return f
}

func explorerServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func explorerBody(raw []byte) string {
	b, _ := json.Marshal(map[string]any{
		"data": map[string]any{"vaa": base64.StdEncoding.EncodeToString(raw)},
	})
	return string(b)
}

func TestClaimer_Attestation_NormalizeEmitter(t *testing.T) {
	t.Parallel()

	addr20 := "1234567890abcdef1234567890abcdef12345678"
	addr32 := "000000000000000000000000" + addr20

	tests := []struct {
		name  string
		input string
	}{
		{name: "20 bytes", input: addr20},
		{name: "20 bytes with prefix", input: "0x" + addr20},
		{name: "32 bytes", input: addr32},
		{name: "32 bytes with prefix", input: "0x" + addr32},
		{name: "uppercase", input: "0x1234567890ABCDEF1234567890ABCDEF12345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeEmitter(tt.input)
			require.NoError(t, err)
			require.Equal(t, addr32, got)
		})
	}

	// Normalization is idempotent: the wire form normalizes to itself.
	once, err := NormalizeEmitter(addr20)
	require.NoError(t, err)
	twice, err := NormalizeEmitter(once)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestClaimer_Attestation_NormalizeEmitter_Invalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "0x12", "zz34567890abcdef1234567890abcdef12345678", "0xabc"} {
		t.Run(input, func(t *testing.T) {
			t.Parallel()
			_, err := NormalizeEmitter(input)
			require.ErrorIs(t, err, ErrInvalidEmitterAddress)
		})
	}
}

func TestClaimer_Attestation_Fetch_FromGuardian(t *testing.T) {
	t.Parallel()

	raw := marshalTestVAA(t, encodeTransceiverPayload(t))
	guardian := &stubGuardian{fn: func(context.Context, Coordinates) ([]byte, error) {
		return raw, nil
	}}
	f := newTestFetcher(t, guardian, "http://127.0.0.1:0")

	att, err := f.Fetch(context.Background(), testCoordinates(t))
	require.NoError(t, err)
	require.Equal(t, raw, att.Raw)
	require.Equal(t, ntt.VariantTransfer, att.Transfer.Variant)
	require.Equal(t, uint64(7), att.Envelope.Sequence)
	require.Equal(t, uint64(1_500_000_000), att.Transfer.Message.Message.Transfer.Amount)
}

func TestClaimer_Attestation_Fetch_FallsBackToExplorer(t *testing.T) {
	t.Parallel()

	raw := marshalTestVAA(t, encodeRelayedPayload(t, encodeTransceiverPayload(t)))
	srv := explorerServer(t, http.StatusOK, explorerBody(raw))

	guardian := &stubGuardian{fn: func(context.Context, Coordinates) ([]byte, error) {
		return nil, nil // not available within the wait window
	}}
	f := newTestFetcher(t, guardian, srv.URL)

	att, err := f.Fetch(context.Background(), testCoordinates(t))
	require.NoError(t, err)
	require.Equal(t, ntt.VariantRelayedTransfer, att.Transfer.Variant)
}

func TestClaimer_Attestation_Fetch_GuardianErrorFallsBack(t *testing.T) {
	t.Parallel()

	raw := marshalTestVAA(t, encodeTransceiverPayload(t))
	srv := explorerServer(t, http.StatusOK, explorerBody(raw))

	guardian := &stubGuardian{fn: func(context.Context, Coordinates) ([]byte, error) {
		return nil, fmt.Errorf("guardian unreachable")
	}}
	f := newTestFetcher(t, guardian, srv.URL)

	att, err := f.Fetch(context.Background(), testCoordinates(t))
	require.NoError(t, err)
	require.Equal(t, ntt.VariantTransfer, att.Transfer.Variant)
}

func TestClaimer_Attestation_Fetch_ExplorerStatusError(t *testing.T) {
	t.Parallel()

	srv := explorerServer(t, http.StatusBadGateway, "bad gateway")
	guardian := &stubGuardian{fn: func(context.Context, Coordinates) ([]byte, error) {
		return nil, nil
	}}
	f := newTestFetcher(t, guardian, srv.URL)

	_, err := f.Fetch(context.Background(), testCoordinates(t))
	require.ErrorIs(t, err, ErrAttestationService)
}

func TestClaimer_Attestation_Fetch_ExplorerMalformedResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>nope</html>"},
		{name: "missing vaa field", body: `{"data":{}}`},
		{name: "not base64", body: `{"data":{"vaa":"!!!not-base64!!!"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := explorerServer(t, http.StatusOK, tt.body)
			guardian := &stubGuardian{fn: func(context.Context, Coordinates) ([]byte, error) {
				return nil, nil
			}}
			f := newTestFetcher(t, guardian, srv.URL)

			_, err := f.Fetch(context.Background(), testCoordinates(t))
			require.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestClaimer_Attestation_Fetch_EmptyPayload(t *testing.T) {
	t.Parallel()

	// "\n" is valid base64 input that decodes to zero bytes.
	srv := explorerServer(t, http.StatusOK, `{"data":{"vaa":"\n"}}`)
	guardian := &stubGuardian{fn: func(context.Context, Coordinates) ([]byte, error) {
		return nil, nil
	}}
	f := newTestFetcher(t, guardian, srv.URL)

	_, err := f.Fetch(context.Background(), testCoordinates(t))
	require.ErrorIs(t, err, ErrEmptyPayload)
}

func TestClaimer_Attestation_GuardianClient_PollsUntilSigned(t *testing.T) {
	t.Parallel()

	raw := marshalTestVAA(t, encodeTransceiverPayload(t))
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"vaaBytes": base64.StdEncoding.EncodeToString(raw),
		})
	}))
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClock()
	client := &HTTPGuardianClient{
		Logger:     testutil.NewLogger(),
		Clock:      clock,
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	}

	type result struct {
		raw []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		got, err := client.GetSignedVAA(context.Background(), testCoordinates(t))
		done <- result{got, err}
	}()

	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, raw, res.raw)
	require.Equal(t, 2, calls)
}

func TestClaimer_Attestation_GuardianClient_TimesOut(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClock()
	client := &HTTPGuardianClient{
		Logger:       testutil.NewLogger(),
		Clock:        clock,
		BaseURL:      srv.URL,
		HTTPClient:   srv.Client(),
		Timeout:      12 * time.Second,
		PollInterval: 5 * time.Second,
	}

	type result struct {
		raw []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		got, err := client.GetSignedVAA(context.Background(), testCoordinates(t))
		done <- result{got, err}
	}()

	// Two waits fit in the 12s window; the third poll would overrun it.
	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)
	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)

	res := <-done
	require.NoError(t, res.err)
	require.Nil(t, res.raw)
	require.Equal(t, 3, calls)
}
