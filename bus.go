package paystream

import "context"

// Message is a sealed interface representing an outbound request.
type Message interface {
	message()
	RequestID() string
}

// TransferRequest asks the counterparty to move funds off-chain.
type TransferRequest struct {
	ID       string
	Transfer Transfer
}

func (TransferRequest) message() {}

// RequestID returns the correlation ID echoed back in the response.
func (r TransferRequest) RequestID() string { return r.ID }

// BalancesRequest asks for the ledger balances of Participant.
type BalancesRequest struct {
	ID          string
	Participant string
}

func (BalancesRequest) message() {}

// RequestID returns the correlation ID echoed back in the response.
func (r BalancesRequest) RequestID() string { return r.ID }

// Bus is a bidirectional message channel to the remote counterparty.
//
// Send writes one request. Subscribe registers fn for every inbound event
// for which match returns true (nil matches everything) and returns a
// function that removes the subscription. Handlers run on the bus's
// delivery goroutine in arrival order and must not block.
type Bus interface {
	Send(ctx context.Context, msg Message) error
	Subscribe(match func(Event) bool, fn func(Event)) (unsubscribe func())
}

// MatchRequest returns a predicate selecting the responses to request id.
func MatchRequest(id string) func(Event) bool {
	return func(e Event) bool {
		switch e := e.(type) {
		case EventTransferAccepted:
			return e.RequestID == id
		case EventRequestFailed:
			return e.RequestID == id
		default:
			return false
		}
	}
}

// Interface compliance checks.
var (
	_ Message = TransferRequest{}
	_ Message = BalancesRequest{}
)
