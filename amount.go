package paystream

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount parses a non-negative base-10 integer string. Amounts are
// never represented as fixed-width or floating point numbers.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount: %w", ErrInvalidAmount)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%q is not a non-negative integer: %w", s, ErrInvalidAmount)
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not a non-negative integer: %w", s, ErrInvalidAmount)
	}
	return n, nil
}

// Add returns a+b. Invalid operands are an error rather than a silent
// fallback to a.
func Add(a, b string) (string, error) {
	x, y, err := parsePair(a, b)
	if err != nil {
		return "", err
	}
	return x.Add(x, y).String(), nil
}

// Sub returns a-b. A negative result is an error.
func Sub(a, b string) (string, error) {
	x, y, err := parsePair(a, b)
	if err != nil {
		return "", err
	}
	if x.Cmp(y) < 0 {
		return "", fmt.Errorf("%s - %s is negative: %w", a, b, ErrInvalidAmount)
	}
	return x.Sub(x, y).String(), nil
}

// GTE reports whether a >= b. Invalid input yields false.
func GTE(a, b string) bool {
	x, y, err := parsePair(a, b)
	if err != nil {
		return false
	}
	return x.Cmp(y) >= 0
}

// Min returns the smaller of a and b in canonical form.
func Min(a, b string) (string, error) {
	x, y, err := parsePair(a, b)
	if err != nil {
		return "", err
	}
	if x.Cmp(y) <= 0 {
		return x.String(), nil
	}
	return y.String(), nil
}

// IsZero reports whether s is a valid amount equal to zero.
func IsZero(s string) bool {
	n, err := ParseAmount(s)
	return err == nil && n.Sign() == 0
}

func parsePair(a, b string) (*big.Int, *big.Int, error) {
	x, err := ParseAmount(a)
	if err != nil {
		return nil, nil, err
	}
	y, err := ParseAmount(b)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}
