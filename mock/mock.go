// Package mock provides test doubles for paystream interfaces using function fields.
package mock

import (
	"context"

	"github.com/fwojciec/paystream"
)

// Interface compliance checks.
var (
	_ paystream.Transferer = (*Transferer)(nil)
	_ paystream.Gate       = (*Gate)(nil)
	_ paystream.Bus        = (*Bus)(nil)
	_ paystream.Controller = (*Controller)(nil)
)

// Transferer is a test double for paystream.Transferer.
// Set TransferFn before calling Transfer.
type Transferer struct {
	TransferFn func(ctx context.Context, t paystream.Transfer) error
}

// Transfer delegates to TransferFn.
func (m *Transferer) Transfer(ctx context.Context, t paystream.Transfer) error {
	return m.TransferFn(ctx, t)
}

// Gate is a test double for paystream.Gate. CanTransfer returns true when
// CanTransferFn is nil, since most tests exercise an authenticated session.
type Gate struct {
	CanTransferFn func() bool
}

// CanTransfer delegates to CanTransferFn.
func (m *Gate) CanTransfer() bool {
	if m.CanTransferFn == nil {
		return true
	}
	return m.CanTransferFn()
}

// Bus is a test double for paystream.Bus.
// SendFn panics when nil to catch missing setup. SubscribeFn is nil-safe and
// returns a no-op unsubscribe.
type Bus struct {
	SendFn      func(ctx context.Context, msg paystream.Message) error
	SubscribeFn func(match func(paystream.Event) bool, fn func(paystream.Event)) func()
}

// Send delegates to SendFn.
func (m *Bus) Send(ctx context.Context, msg paystream.Message) error {
	return m.SendFn(ctx, msg)
}

// Subscribe delegates to SubscribeFn.
func (m *Bus) Subscribe(match func(paystream.Event) bool, fn func(paystream.Event)) func() {
	if m.SubscribeFn == nil {
		return func() {}
	}
	return m.SubscribeFn(match, fn)
}

// Controller is a test double for paystream.Controller.
// StartFn panics when nil. StopFn is nil-safe. StateFn returns the zero
// State when nil. OnStateChangeFn returns a no-op unsubscribe when nil.
type Controller struct {
	StartFn         func(ctx context.Context, cfg paystream.StreamConfig) error
	StopFn          func()
	StateFn         func() paystream.State
	OnStateChangeFn func(fn func(paystream.State)) func()
}

// Start delegates to StartFn.
func (m *Controller) Start(ctx context.Context, cfg paystream.StreamConfig) error {
	return m.StartFn(ctx, cfg)
}

// Stop delegates to StopFn.
func (m *Controller) Stop() {
	if m.StopFn != nil {
		m.StopFn()
	}
}

// State delegates to StateFn.
func (m *Controller) State() paystream.State {
	if m.StateFn == nil {
		return paystream.State{}
	}
	return m.StateFn()
}

// OnStateChange delegates to OnStateChangeFn.
func (m *Controller) OnStateChange(fn func(paystream.State)) func() {
	if m.OnStateChangeFn == nil {
		return func() {}
	}
	return m.OnStateChangeFn(fn)
}
