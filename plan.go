package paystream

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Plan describes a pay-as-you-watch rate in human units. It is turned into a
// StreamConfig once the recipient and available balance are known.
type Plan struct {
	RatePerMinute string // human decimal, e.g. "0.01"
	TickSeconds   int    // values below 1 are treated as 1
	Budget        string // human decimal; empty means "whatever the ledger holds"
	Asset         string
}

// Config derives the stream config for recipient given the available ledger
// balance in base units.
//
// The amount per tick is the per-minute rate prorated to the tick length,
// rounded down. With no budget the whole available balance becomes the
// threshold, which must cover at least one tick; an explicit budget must not
// exceed the available balance.
func (p Plan) Config(recipient, available string) (StreamConfig, error) {
	asset := NormalizeAsset(p.Asset)
	decimals := Decimals(asset)
	tick := max(1, p.TickSeconds)

	rate, err := ToBaseUnits(p.RatePerMinute, decimals)
	if err != nil {
		return StreamConfig{}, fmt.Errorf("rate per minute: %w", err)
	}
	r, _ := new(big.Int).SetString(rate, 10)
	perTick := r.Mul(r, big.NewInt(int64(tick)))
	perTick.Quo(perTick, big.NewInt(60))
	amountPerTick := perTick.String()

	var threshold string
	if strings.TrimSpace(p.Budget) == "" {
		threshold = available
		if !GTE(threshold, amountPerTick) {
			return StreamConfig{}, fmt.Errorf("need at least %s, have %s: %w",
				FormatAmount(asset, amountPerTick), FormatAmount(asset, available), ErrInsufficientFunds)
		}
	} else {
		threshold, err = ToBaseUnits(p.Budget, decimals)
		if err != nil {
			return StreamConfig{}, fmt.Errorf("budget: %w", err)
		}
		if !GTE(available, threshold) {
			return StreamConfig{}, fmt.Errorf("budget %s exceeds balance %s: %w",
				FormatAmount(asset, threshold), FormatAmount(asset, available), ErrInsufficientFunds)
		}
	}

	cfg := StreamConfig{
		Recipient:      recipient,
		AmountPerTick:  amountPerTick,
		Interval:       time.Duration(tick) * time.Second,
		ThresholdTotal: threshold,
		Asset:          asset,
	}
	if err := cfg.Validate(); err != nil {
		return StreamConfig{}, err
	}
	return cfg, nil
}
