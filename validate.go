package paystream

import (
	"fmt"
	"strings"
)

// Validate checks the constraints every stream config must satisfy before a
// session can start.
func (c StreamConfig) Validate() error {
	if strings.TrimSpace(c.Recipient) == "" {
		return fmt.Errorf("recipient is required: %w", ErrValidation)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s: %w", c.Interval, ErrValidation)
	}
	amount, err := ParseAmount(c.AmountPerTick)
	if err != nil {
		return fmt.Errorf("amount per tick: %w: %w", err, ErrValidation)
	}
	if amount.Sign() == 0 {
		return fmt.Errorf("amount per tick must be positive: %w", ErrValidation)
	}
	threshold, err := ParseAmount(c.ThresholdTotal)
	if err != nil {
		return fmt.Errorf("threshold total: %w: %w", err, ErrValidation)
	}
	if threshold.Sign() == 0 {
		return fmt.Errorf("threshold total must be positive: %w", ErrValidation)
	}
	return nil
}

// Validate checks a single transfer before it is handed to a Transferer.
func (t Transfer) Validate() error {
	if strings.TrimSpace(t.Recipient) == "" {
		return fmt.Errorf("recipient is required: %w", ErrValidation)
	}
	if _, err := ParseAmount(t.Amount); err != nil {
		return fmt.Errorf("amount: %w: %w", err, ErrValidation)
	}
	return nil
}
