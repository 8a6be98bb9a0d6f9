// Package json encodes paystream messages and events in the clearnode
// JSON-RPC wire format, and persists session receipts.
//
// A request is {"req":[id, method, params, ts],"sig":[]} and a response is
// {"res":[id, method, params, ts]}, with ts in Unix milliseconds. Amounts on
// the wire are human decimals; paystream amounts are base units, so the codec
// converts using the asset's decimals.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fwojciec/paystream"
)

// Method names.
const (
	MethodTransfer          = "transfer"
	MethodGetLedgerBalances = "get_ledger_balances"
	MethodBalanceUpdate     = "bu"
	MethodError             = "error"
)

type requestEnvelope struct {
	Req []json.RawMessage `json:"req"`
	Sig []string          `json:"sig"`
}

type responseEnvelope struct {
	Res []json.RawMessage `json:"res"`
}

type transferParams struct {
	Destination string       `json:"destination"`
	Allocations []allocation `json:"allocations"`
}

type allocation struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type balancesParams struct {
	Participant string `json:"participant"`
}

type ledgerBalancesParams struct {
	LedgerBalances []allocation `json:"ledger_balances"`
}

type balanceUpdateParams struct {
	BalanceUpdates []allocation `json:"balance_updates"`
}

type errorParams struct {
	Error string `json:"error"`
}

// MarshalMessage encodes an outbound request. The signature list is always
// empty.
func MarshalMessage(msg paystream.Message, ts time.Time) ([]byte, error) {
	var (
		method string
		params any
	)
	switch m := msg.(type) {
	case paystream.TransferRequest:
		asset := paystream.NormalizeAsset(m.Transfer.Asset)
		if _, err := paystream.ParseAmount(m.Transfer.Amount); err != nil {
			return nil, fmt.Errorf("transfer amount: %w", err)
		}
		method = MethodTransfer
		params = transferParams{
			Destination: m.Transfer.Recipient,
			Allocations: []allocation{{
				Asset:  asset,
				Amount: paystream.FromBaseUnits(m.Transfer.Amount, paystream.Decimals(asset)),
			}},
		}
	case paystream.BalancesRequest:
		method = MethodGetLedgerBalances
		params = balancesParams{Participant: m.Participant}
	default:
		return nil, fmt.Errorf("unknown message type: %T", msg)
	}
	payload, err := envelopeArray(msg.RequestID(), method, params, ts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(requestEnvelope{Req: payload, Sig: []string{}})
}

// UnmarshalMessage decodes a request produced by MarshalMessage.
func UnmarshalMessage(data []byte) (paystream.Message, error) {
	var env requestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	id, method, params, err := splitArray(env.Req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	switch method {
	case MethodTransfer:
		var p transferParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("transfer params: %w", err)
		}
		if len(p.Allocations) != 1 {
			return nil, fmt.Errorf("transfer must have one allocation, got %d: %w", len(p.Allocations), paystream.ErrValidation)
		}
		a := p.Allocations[0]
		asset := paystream.NormalizeAsset(a.Asset)
		amount, err := paystream.ToBaseUnits(a.Amount, paystream.Decimals(asset))
		if err != nil {
			return nil, fmt.Errorf("transfer amount: %w", err)
		}
		return paystream.TransferRequest{
			ID:       id,
			Transfer: paystream.Transfer{Recipient: p.Destination, Amount: amount, Asset: asset},
		}, nil
	case MethodGetLedgerBalances:
		var p balancesParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("balances params: %w", err)
		}
		return paystream.BalancesRequest{ID: id, Participant: p.Participant}, nil
	default:
		return nil, fmt.Errorf("%q: %w", method, paystream.ErrUnknownMethod)
	}
}

// MarshalEvent encodes an inbound event as the counterparty would send it.
// EventTransferAccepted and EventRequestFailed need the ID of the request
// they answer; balance events are sent with an empty ID.
func MarshalEvent(e paystream.Event, ts time.Time) ([]byte, error) {
	var (
		id     string
		method string
		params any
	)
	switch ev := e.(type) {
	case paystream.EventTransferAccepted:
		id, method, params = ev.RequestID, MethodTransfer, struct{}{}
	case paystream.EventRequestFailed:
		id, method, params = ev.RequestID, MethodError, errorParams{Error: ev.Reason}
	case paystream.EventBalances:
		list := toAllocations(ev.Balances)
		if ev.Update {
			method, params = MethodBalanceUpdate, balanceUpdateParams{BalanceUpdates: list}
		} else {
			method, params = MethodGetLedgerBalances, ledgerBalancesParams{LedgerBalances: list}
		}
	default:
		return nil, fmt.Errorf("event %T has no wire form", e)
	}
	payload, err := envelopeArray(id, method, params, ts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(responseEnvelope{Res: payload})
}

// UnmarshalEvent decodes a response frame. Methods this package does not
// know yield an error wrapping ErrUnknownMethod, which callers may ignore.
func UnmarshalEvent(data []byte) (paystream.Event, error) {
	var env responseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	id, method, params, err := splitArray(env.Res)
	if err != nil {
		return nil, fmt.Errorf("response: %w", err)
	}
	switch method {
	case MethodTransfer:
		return paystream.EventTransferAccepted{RequestID: id}, nil
	case MethodError:
		var p errorParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("error params: %w", err)
		}
		return paystream.EventRequestFailed{RequestID: id, Reason: p.Error}, nil
	case MethodGetLedgerBalances:
		var p ledgerBalancesParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("ledger balances params: %w", err)
		}
		return paystream.EventBalances{Balances: fromAllocations(p.LedgerBalances)}, nil
	case MethodBalanceUpdate:
		var p balanceUpdateParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("balance update params: %w", err)
		}
		return paystream.EventBalances{Balances: fromAllocations(p.BalanceUpdates), Update: true}, nil
	default:
		return nil, fmt.Errorf("%q: %w", method, paystream.ErrUnknownMethod)
	}
}

func envelopeArray(id, method string, params any, ts time.Time) ([]json.RawMessage, error) {
	p, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	idRaw, _ := json.Marshal(id)
	methodRaw, _ := json.Marshal(method)
	tsRaw, _ := json.Marshal(ts.UnixMilli())
	return []json.RawMessage{idRaw, methodRaw, p, tsRaw}, nil
}

// splitArray unpacks [id, method, params, ts]. Numeric IDs are accepted and
// rendered in decimal.
func splitArray(parts []json.RawMessage) (id, method string, params json.RawMessage, err error) {
	if len(parts) != 4 {
		return "", "", nil, fmt.Errorf("expected 4 elements, got %d: %w", len(parts), paystream.ErrValidation)
	}
	if err := json.Unmarshal(parts[0], &id); err != nil {
		var n json.Number
		if err := json.Unmarshal(parts[0], &n); err != nil {
			return "", "", nil, fmt.Errorf("request id: %w", err)
		}
		id = n.String()
	}
	if err := json.Unmarshal(parts[1], &method); err != nil {
		return "", "", nil, fmt.Errorf("method: %w", err)
	}
	return id, method, parts[2], nil
}

func toAllocations(balances map[string]string) []allocation {
	list := make([]allocation, 0, len(balances))
	for asset, amount := range balances {
		a := paystream.NormalizeAsset(asset)
		list = append(list, allocation{Asset: a, Amount: paystream.FromBaseUnits(amount, paystream.Decimals(a))})
	}
	return list
}

// fromAllocations converts wire balances to base units. Entries whose amount
// is not a non-negative decimal are dropped.
func fromAllocations(list []allocation) map[string]string {
	out := make(map[string]string, len(list))
	for _, a := range list {
		asset := paystream.NormalizeAsset(strings.TrimSpace(a.Asset))
		amount, err := paystream.ToBaseUnits(a.Amount, paystream.Decimals(asset))
		if err != nil {
			continue
		}
		out[asset] = amount
	}
	return out
}
