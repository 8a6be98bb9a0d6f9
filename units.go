package paystream

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a human decimal string such as "2.5" into an integer
// base-unit string for an asset with the given number of decimals. The
// fraction is truncated, not rounded, to decimals digits. Empty input yields
// "0". Signs, exponents and other characters are rejected.
func ToBaseUnits(value string, decimals int) (string, error) {
	if decimals < 0 {
		return "", fmt.Errorf("negative decimals %d: %w", decimals, ErrValidation)
	}
	if decimals > math.MaxInt32 {
		return "", fmt.Errorf("decimals %d out of range: %w", decimals, ErrValidation)
	}
	v := strings.TrimSpace(value)
	if v == "" {
		return "0", nil
	}
	whole, frac, _ := strings.Cut(v, ".")
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return "", fmt.Errorf("%q is not a non-negative decimal: %w", value, ErrInvalidAmount)
	}
	if whole == "" {
		whole = "0"
	}
	if frac == "" {
		frac = "0"
	}
	d, err := decimal.NewFromString(whole + "." + frac)
	if err != nil {
		return "", fmt.Errorf("%q: %w", value, ErrInvalidAmount)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt().String(), nil
}

// FromBaseUnits converts an integer base-unit string back into a human
// decimal string, omitting trailing fractional zeros. Input that does not
// parse as an integer, or decimals outside [0, MaxInt32], yields "0".
func FromBaseUnits(value string, decimals int) string {
	v := strings.TrimSpace(value)
	if v == "" || decimals < 0 || decimals > math.MaxInt32 {
		return "0"
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return "0"
	}
	return decimal.NewFromBigInt(n, -int32(decimals)).String()
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
