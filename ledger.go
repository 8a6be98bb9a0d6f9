package paystream

import (
	"maps"
	"sync"
)

// Ledger tracks the caller's off-chain balances as reported by the
// counterparty. It is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]string
}

// Apply records the balances in e. A reply replaces the whole ledger; an
// update only overwrites the assets it mentions.
func (l *Ledger) Apply(e EventBalances) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances == nil || !e.Update {
		l.balances = make(map[string]string, len(e.Balances))
	}
	for asset, amount := range e.Balances {
		if _, err := ParseAmount(amount); err != nil {
			continue
		}
		l.balances[NormalizeAsset(asset)] = amount
	}
}

// Available returns the balance of asset in base units, "0" when unknown.
func (l *Ledger) Available(asset string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[NormalizeAsset(asset)]; ok {
		return b
	}
	return "0"
}

// Snapshot returns a copy of all known balances.
func (l *Ledger) Snapshot() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.balances)
}
