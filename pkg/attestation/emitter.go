package attestation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEmitterAddress = errors.New("invalid emitter address")

// NormalizeEmitter converts a source-chain emitter address into the 32-byte
// hex wire form used by attestation queries. It accepts 20-byte or 32-byte
// hex with or without a 0x prefix; a 32-byte input is reduced to its trailing
// 20 bytes before padding, so both spellings of the same EVM address
// normalize identically.
func NormalizeEmitter(addr string) (string, error) {
	h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(addr)), "0x")
	b, err := hex.DecodeString(h)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not hex", ErrInvalidEmitterAddress, addr)
	}

	switch len(b) {
	case 20:
	case 32:
		b = b[12:]
	default:
		return "", fmt.Errorf("%w: %q must be 20 or 32 bytes, got %d", ErrInvalidEmitterAddress, addr, len(b))
	}

	padded := make([]byte, 32)
	copy(padded[12:], b)
	return hex.EncodeToString(padded), nil
}
