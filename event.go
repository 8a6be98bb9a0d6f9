package paystream

// Event is a sealed interface representing an inbound message from the
// remote counterparty, or a change in the connection carrying it.
// The unexported marker method prevents external implementations.
type Event interface {
	event()
}

// EventTransferAccepted confirms the transfer sent with RequestID.
type EventTransferAccepted struct {
	RequestID string
}

func (EventTransferAccepted) event() {}

// EventRequestFailed reports that the request with RequestID was rejected.
type EventRequestFailed struct {
	RequestID string
	Reason    string
}

func (EventRequestFailed) event() {}

// EventBalances carries ledger balances keyed by lowercase asset symbol, in
// base units. Update is true for unsolicited balance updates and false for a
// reply to BalancesRequest.
type EventBalances struct {
	Balances map[string]string
	Update   bool
}

func (EventBalances) event() {}

// EventConnection reports a change of connection status.
type EventConnection struct {
	Status ConnStatus
}

func (EventConnection) event() {}

// ConnStatus is the state of the connection to the remote counterparty.
type ConnStatus int

const (
	StatusDisconnected ConnStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Interface compliance checks.
var (
	_ Event = EventTransferAccepted{}
	_ Event = EventRequestFailed{}
	_ Event = EventBalances{}
	_ Event = EventConnection{}
)
