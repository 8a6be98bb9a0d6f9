package paystream

import "context"

// Controller runs metered payment sessions. stream.Controller is the
// implementation; the player depends only on this interface.
type Controller interface {
	Start(ctx context.Context, cfg StreamConfig) error
	Stop()
	State() State
	OnStateChange(fn func(State)) (unsubscribe func())
}
