package paystream

import "context"

// Transfer is one off-chain payment of Amount base units of Asset.
type Transfer struct {
	Recipient string
	Amount    string
	Asset     string
}

// Transferer performs a single off-chain transfer. Transfer blocks until the
// transfer settles and returns nil on success. It settles exactly once; the
// error text is what callers surface to the user.
type Transferer interface {
	Transfer(ctx context.Context, t Transfer) error
}

// TransferFunc adapts a function to the Transferer interface.
type TransferFunc func(ctx context.Context, t Transfer) error

// Transfer calls f.
func (f TransferFunc) Transfer(ctx context.Context, t Transfer) error {
	return f(ctx, t)
}

// PartialTransferError reports a transfer that failed after Sent base units
// of it had already been paid.
type PartialTransferError struct {
	Sent string
	Err  error
}

func (e *PartialTransferError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying failure.
func (e *PartialTransferError) Unwrap() error { return e.Err }

// Gate reports whether an authenticated session capable of transferring is
// currently available.
type Gate interface {
	CanTransfer() bool
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func() bool

// CanTransfer calls f.
func (f GateFunc) CanTransfer() bool {
	return f()
}

// Interface compliance checks.
var (
	_ Transferer = TransferFunc(nil)
	_ Gate       = GateFunc(nil)
)
