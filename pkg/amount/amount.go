// Package amount converts between human-readable decimal token amounts and
// raw fixed-point integers in the token's smallest unit.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// CudisDecimals is the decimal precision of the CUDIS SPL mint.
const CudisDecimals = 9

var (
	ErrInvalidFormat     = errors.New("invalid amount format")
	ErrPrecisionExceeded = errors.New("amount precision exceeds token decimals")
)

var displayPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ToRaw converts a non-negative decimal display string into the token's
// smallest indivisible unit. The conversion is exact; no floating point is
// involved.
func ToRaw(display string, decimals int) (*big.Int, error) {
	if !displayPattern.MatchString(display) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, display)
	}

	intPart, fracPart, _ := strings.Cut(display, ".")
	if len(fracPart) > decimals {
		return nil, fmt.Errorf("%w: %q has %d fractional digits but the token has %d decimals",
			ErrPrecisionExceeded, display, len(fracPart), decimals)
	}

	// Right-pad the fraction to the full decimal width and shift.
	digits := intPart + fracPart + strings.Repeat("0", decimals-len(fracPart))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}

	raw, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, display)
	}
	return raw, nil
}

// ToRawUint64 is ToRaw narrowed to the u64 range used by SPL token amounts.
func ToRawUint64(display string, decimals int) (uint64, error) {
	raw, err := ToRaw(display, decimals)
	if err != nil {
		return 0, err
	}
	if !raw.IsUint64() {
		return 0, fmt.Errorf("%w: %q does not fit in a u64 token amount", ErrInvalidFormat, display)
	}
	return raw.Uint64(), nil
}
