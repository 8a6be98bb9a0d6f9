// Package stream drives a metered payment session: one transfer immediately
// on start, then one per interval until the budget is spent, a transfer
// fails, or the session is stopped.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fwojciec/paystream"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var _ paystream.Controller = (*Controller)(nil)

// Controller owns at most one active payment session. It is safe for
// concurrent use.
type Controller struct {
	transferer  paystream.Transferer
	gate        paystream.Gate
	clock       clockwork.Clock
	log         zerolog.Logger
	tickTimeout time.Duration

	mu     sync.Mutex
	state  paystream.State
	sess   *session
	closed bool

	notify *notifier
}

// session is the per-start context. A session is active while it is the
// controller's current one; anything completing for an inactive session is
// discarded.
type session struct {
	id     string
	cfg    paystream.StreamConfig
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // nil until the ticker goroutine is started
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock that drives ticks and timeouts.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithTickTimeout bounds every transfer. A transfer that has not settled
// within d fails the session. Zero means no bound.
func WithTickTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.tickTimeout = d
	}
}

// New creates a Controller that pays through t and asks g before every start.
func New(t paystream.Transferer, g paystream.Gate, opts ...Option) *Controller {
	c := &Controller{
		transferer: t,
		gate:       g,
		clock:      clockwork.NewRealClock(),
		log:        zerolog.Nop(),
		state:      paystream.State{TotalSent: "0"},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.notify = newNotifier()
	return c
}

// Start begins a new session with cfg, replacing any previous one. The first
// transfer is made before Start returns; later ones follow every
// cfg.Interval.
//
// Start returns ErrNotAuthenticated when the gate refuses, an error wrapping
// ErrValidation for a bad config, an error wrapping ErrTransfer when the
// first transfer fails, and ErrStreamStopped when the session was stopped or
// replaced while the first transfer was in flight.
func (c *Controller) Start(ctx context.Context, cfg paystream.StreamConfig) error {
	cfg = cfg.WithDefaults()
	allowed := c.gate.CanTransfer()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return paystream.ErrClosed
	}
	c.stopLocked()

	if !allowed {
		c.idleLocked(cfg, paystream.AuthRequiredMessage)
		c.mu.Unlock()
		c.log.Warn().Str("recipient", cfg.Recipient).Msg("stream refused: not authenticated")
		return paystream.ErrNotAuthenticated
	}
	if err := cfg.Validate(); err != nil {
		c.idleLocked(cfg, err.Error())
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("stream refused: invalid config")
		return err
	}

	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{id: uuid.NewString(), cfg: cfg, ctx: sctx, cancel: cancel}
	c.sess = sess
	c.state = paystream.State{
		Phase:     paystream.PhaseStreaming,
		Streaming: true,
		TotalSent: "0",
		SessionID: sess.id,
		Config:    cfg,
	}
	c.publishLocked()
	c.mu.Unlock()

	c.log.Info().
		Str("session", sess.id).
		Str("recipient", cfg.Recipient).
		Str("asset", cfg.Asset).
		Str("amount_per_tick", cfg.AmountPerTick).
		Str("threshold", cfg.ThresholdTotal).
		Dur("interval", cfg.Interval).
		Msg("stream started")

	// Validated above, so Min cannot fail.
	amount, _ := paystream.Min(cfg.AmountPerTick, cfg.ThresholdTotal)
	err := c.transfer(ctx, sess, amount)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		c.log.Debug().Str("session", sess.id).Msg("first transfer result discarded")
		return paystream.ErrStreamStopped
	}
	if err != nil {
		c.state.TotalSent = paidBeforeFailure(err, amount)
		c.failLocked(err)
		return transferError(err)
	}
	c.state.TotalSent = amount
	c.state.Transfers = 1
	if paystream.GTE(amount, cfg.ThresholdTotal) {
		c.endLocked("budget reached")
		return nil
	}

	ticker := c.clock.NewTicker(cfg.Interval)
	sess.done = make(chan struct{})
	go c.run(sess, ticker)
	c.publishLocked()
	return nil
}

// Stop ends the active session. It is idempotent. After Stop returns no new
// transfer is started and the result of any in-flight one is discarded.
// TotalSent and LastError are kept.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Close stops the active session, waits for its ticker goroutine to exit and
// stops delivering state changes. Start fails with ErrClosed afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.sess
	c.stopLocked()
	c.mu.Unlock()

	if sess != nil && sess.done != nil {
		<-sess.done
	}
	c.notify.close()
	return nil
}

// State returns a snapshot of the current session.
func (c *Controller) State() paystream.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn to receive every state snapshot, in the order
// the changes happened. fn runs on a dedicated goroutine and may call back
// into the controller. The returned function removes the registration.
func (c *Controller) OnStateChange(fn func(paystream.State)) (unsubscribe func()) {
	return c.notify.subscribe(fn)
}

func (c *Controller) run(sess *session, ticker clockwork.Ticker) {
	defer close(sess.done)
	defer ticker.Stop()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.Chan():
			if !c.tick(sess) {
				return
			}
		}
	}
}

// tick performs one recurring transfer and reports whether the session is
// still running.
func (c *Controller) tick(sess *session) bool {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return false
	}
	total := c.state.TotalSent
	c.mu.Unlock()

	cfg := sess.cfg
	amount := cfg.AmountPerTick
	final := false

	projected, err := paystream.Add(total, cfg.AmountPerTick)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.sess == sess {
			c.failLocked(err)
		}
		return false
	}
	if paystream.GTE(projected, cfg.ThresholdTotal) {
		final = true
		remaining, err := paystream.Sub(cfg.ThresholdTotal, total)
		if err != nil || paystream.IsZero(remaining) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.sess == sess {
				c.endLocked("budget reached")
			}
			return false
		}
		amount = remaining
	}

	err = c.transfer(sess.ctx, sess, amount)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		c.log.Debug().Str("session", sess.id).Str("amount", amount).Msg("tick result discarded")
		return false
	}
	if err != nil {
		if paid := paidBeforeFailure(err, amount); !paystream.IsZero(paid) {
			if sent, aerr := paystream.Add(c.state.TotalSent, paid); aerr == nil {
				c.state.TotalSent = sent
			}
		}
		c.failLocked(err)
		return false
	}
	sent, err := paystream.Add(c.state.TotalSent, amount)
	if err != nil {
		c.failLocked(err)
		return false
	}
	c.state.TotalSent = sent
	c.state.Transfers++
	if final {
		c.endLocked("budget reached")
		return false
	}
	c.publishLocked()
	return true
}

// transfer sends amount to the session's recipient. It is aborted when ctx
// ends, when the session is stopped, or when the tick timeout elapses.
func (c *Controller) transfer(ctx context.Context, sess *session, amount string) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(sess.ctx, func() { cancel(paystream.ErrStreamStopped) })
	defer stop()
	if c.tickTimeout > 0 {
		timeout := c.tickTimeout
		timer := c.clock.NewTimer(timeout)
		defer timer.Stop()
		go func() {
			select {
			case <-timer.Chan():
				cancel(fmt.Errorf("transfer not settled within %s", timeout))
			case <-ctx.Done():
			}
		}()
	}

	t := paystream.Transfer{Recipient: sess.cfg.Recipient, Amount: amount, Asset: sess.cfg.Asset}
	err := c.transferer.Transfer(ctx, t)
	if err != nil && ctx.Err() != nil {
		var partial *paystream.PartialTransferError
		if errors.As(err, &partial) {
			err = &paystream.PartialTransferError{Sent: partial.Sent, Err: context.Cause(ctx)}
		} else {
			err = context.Cause(ctx)
		}
	}
	if err != nil {
		c.log.Error().Err(err).Str("session", sess.id).Str("amount", amount).Msg("transfer failed")
		return err
	}
	c.log.Info().Str("session", sess.id).Str("amount", amount).Str("asset", t.Asset).Msg("transfer sent")
	return nil
}

// stopLocked tears down the active session, if any.
func (c *Controller) stopLocked() {
	if c.sess == nil {
		return
	}
	c.endLocked("stopped")
}

// endLocked ends the active session, keeping TotalSent and LastError.
func (c *Controller) endLocked(reason string) {
	if c.sess != nil {
		c.sess.cancel()
		c.log.Info().Str("session", c.sess.id).Str("total_sent", c.state.TotalSent).Msg("stream " + reason)
		c.sess = nil
	}
	c.state.Phase = paystream.PhaseStopped
	c.state.Streaming = false
	c.publishLocked()
}

func (c *Controller) failLocked(err error) {
	c.state.LastError = err.Error()
	c.endLocked("failed")
}

// idleLocked records a start that never began.
func (c *Controller) idleLocked(cfg paystream.StreamConfig, reason string) {
	c.state = paystream.State{
		Phase:     paystream.PhaseIdle,
		TotalSent: "0",
		LastError: reason,
		Config:    cfg,
	}
	c.publishLocked()
}

func (c *Controller) publishLocked() {
	c.notify.publish(c.state)
}

// paidBeforeFailure returns how much of amount a failed transfer had already
// paid, never more than amount.
func paidBeforeFailure(err error, amount string) string {
	var partial *paystream.PartialTransferError
	if !errors.As(err, &partial) {
		return "0"
	}
	if _, perr := paystream.ParseAmount(partial.Sent); perr != nil {
		return "0"
	}
	paid, _ := paystream.Min(partial.Sent, amount)
	return paid
}

func transferError(err error) error {
	if errors.Is(err, paystream.ErrTransfer) {
		return err
	}
	return fmt.Errorf("%w: %w", paystream.ErrTransfer, err)
}
