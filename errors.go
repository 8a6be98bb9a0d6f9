package paystream

import "errors"

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates a config, transfer or message failed validation.
	ErrValidation = errors.New("validation error")

	// ErrInvalidAmount indicates a string is not a non-negative integer or
	// decimal amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNotAuthenticated indicates the gate refused a stream start.
	ErrNotAuthenticated = errors.New("please authenticate first")

	// ErrTransfer indicates a transfer was rejected or could not be completed.
	ErrTransfer = errors.New("transfer failed")

	// ErrStreamStopped indicates the session was stopped or superseded while
	// an operation on it was in flight.
	ErrStreamStopped = errors.New("stream stopped")

	// ErrClosed indicates an operation on a disposed controller or connection.
	ErrClosed = errors.New("closed")

	// ErrInsufficientFunds indicates the ledger balance cannot cover a plan.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotConnected indicates a send while the remote connection is down.
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownMethod indicates an inbound message with an unrecognized method.
	ErrUnknownMethod = errors.New("unknown method")
)

// AuthRequiredMessage is the LastError text recorded when the gate refuses
// a start.
const AuthRequiredMessage = "Please authenticate first"
