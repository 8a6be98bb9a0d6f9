package paystream

import (
	"context"
	"fmt"
	"math/big"
)

var _ Transferer = (*FeeSplitter)(nil)

// SplitFee splits amount into the creator's share and a platform fee of
// percent, rounding the fee down. creator + fee always equals amount.
func SplitFee(amount string, percent int) (creator, fee string, err error) {
	if percent < 0 || percent > 100 {
		return "", "", fmt.Errorf("fee percent must be in [0, 100], got %d: %w", percent, ErrValidation)
	}
	n, err := ParseAmount(amount)
	if err != nil {
		return "", "", err
	}
	f := new(big.Int).Mul(n, big.NewInt(int64(percent)))
	f.Quo(f, big.NewInt(100))
	c := new(big.Int).Sub(n, f)
	return c.String(), f.String(), nil
}

// FeeSplitter sends each transfer to its recipient minus a platform fee,
// which is sent to Platform as a second transfer. A zero fee is not sent.
type FeeSplitter struct {
	Next     Transferer
	Platform string
	Percent  int
}

// Transfer implements Transferer. The creator share is sent first; if it
// fails the fee is not attempted. A failed fee after a paid creator share is
// reported as a *PartialTransferError carrying the creator share.
func (f *FeeSplitter) Transfer(ctx context.Context, t Transfer) error {
	creator, fee, err := SplitFee(t.Amount, f.Percent)
	if err != nil {
		return err
	}
	if err := f.Next.Transfer(ctx, Transfer{Recipient: t.Recipient, Amount: creator, Asset: t.Asset}); err != nil {
		return err
	}
	if IsZero(fee) {
		return nil
	}
	if err := f.Next.Transfer(ctx, Transfer{Recipient: f.Platform, Amount: fee, Asset: t.Asset}); err != nil {
		return &PartialTransferError{Sent: creator, Err: fmt.Errorf("platform fee: %w", err)}
	}
	return nil
}
