package clearnode

import (
	"context"
	"fmt"
	"time"

	"github.com/fwojciec/paystream"
	"github.com/google/uuid"
)

var _ paystream.Transferer = (*Transferer)(nil)

// RejectedError reports a request the clearnode refused. Its message is the
// clearnode's reason verbatim.
type RejectedError struct {
	RequestID string
	Reason    string
}

func (e *RejectedError) Error() string { return e.Reason }

// Unwrap makes a rejection match paystream.ErrTransfer.
func (e *RejectedError) Unwrap() error { return paystream.ErrTransfer }

// Transferer sends transfers over a Bus and waits for the clearnode to
// accept or reject each one.
type Transferer struct {
	bus            paystream.Bus
	confirmTimeout time.Duration
	newID          func() string
}

// TransfererOption configures a [Transferer].
type TransfererOption func(*Transferer)

// WithConfirmTimeout bounds how long Transfer waits for the clearnode's
// answer after sending. Zero waits until the caller's context ends.
func WithConfirmTimeout(d time.Duration) TransfererOption {
	return func(t *Transferer) { t.confirmTimeout = d }
}

// WithIDGenerator replaces the uuid request IDs. Useful for tests.
func WithIDGenerator(fn func() string) TransfererOption {
	return func(t *Transferer) { t.newID = fn }
}

// NewTransferer creates a [Transferer] over bus.
func NewTransferer(bus paystream.Bus, opts ...TransfererOption) *Transferer {
	t := &Transferer{bus: bus, newID: uuid.NewString}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Transfer validates tr, sends it and blocks until the clearnode answers or
// ctx ends. A rejection is returned as a *RejectedError.
func (t *Transferer) Transfer(ctx context.Context, tr paystream.Transfer) error {
	if err := tr.Validate(); err != nil {
		return err
	}
	tr.Asset = paystream.NormalizeAsset(tr.Asset)

	id := t.newID()
	result := make(chan error, 1)
	unsubscribe := t.bus.Subscribe(paystream.MatchRequest(id), func(e paystream.Event) {
		var err error
		if f, ok := e.(paystream.EventRequestFailed); ok {
			err = &RejectedError{RequestID: f.RequestID, Reason: f.Reason}
		}
		select {
		case result <- err:
		default:
		}
	})
	defer unsubscribe()

	if err := t.bus.Send(ctx, paystream.TransferRequest{ID: id, Transfer: tr}); err != nil {
		return fmt.Errorf("send transfer: %w", err)
	}

	if t.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.confirmTimeout)
		defer cancel()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("awaiting confirmation of %s: %w", id, ctx.Err())
	}
}

// RequestBalances asks the clearnode for participant's ledger balances. The
// answer arrives later as a paystream.EventBalances.
func RequestBalances(ctx context.Context, bus paystream.Bus, participant string) error {
	if participant == "" {
		return fmt.Errorf("participant is required: %w", paystream.ErrValidation)
	}
	return bus.Send(ctx, paystream.BalancesRequest{ID: uuid.NewString(), Participant: participant})
}
