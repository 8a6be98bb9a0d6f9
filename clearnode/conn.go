// Package clearnode connects to a clearnode over a websocket and exposes it
// as a paystream.Bus, plus a Transferer that pays through any Bus.
package clearnode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fwojciec/paystream"
	psjson "github.com/fwojciec/paystream/json"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// Interface compliance checks.
var (
	_ paystream.Bus  = (*Conn)(nil)
	_ paystream.Gate = (*Conn)(nil)
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultMinBackoff       = 500 * time.Millisecond
	defaultMaxBackoff       = 30 * time.Second
)

// Conn is a reconnecting websocket connection to a clearnode. Inbound frames
// are decoded and handed to subscribers in arrival order on the read
// goroutine. Conn is safe for concurrent use.
type Conn struct {
	url        string
	dialer     *websocket.Dialer
	log        zerolog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	now        func() time.Time

	writeMu sync.Mutex

	mu     sync.Mutex
	ws     *websocket.Conn
	status paystream.ConnStatus
	subs   []subscription
	nextID int
}

type subscription struct {
	id    int
	match func(paystream.Event) bool
	fn    func(paystream.Event)
}

// Option configures a [Conn].
type Option func(*Conn)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Conn) { c.log = log }
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(c *Conn) {
		c.minBackoff = minDelay
		c.maxBackoff = maxDelay
	}
}

// New creates a [Conn] for the websocket url. Nothing is dialed until Run.
func New(url string, opts ...Option) *Conn {
	c := &Conn{
		url:        url,
		dialer:     &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		log:        zerolog.Nop(),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run dials the clearnode and reads from it until ctx ends, reconnecting with
// jittered exponential backoff whenever the connection drops. It returns nil
// once ctx is done.
func (c *Conn) Run(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    c.minBackoff,
		Max:    c.maxBackoff,
		Factor: 2,
		Jitter: true,
	}
	for {
		c.setStatus(paystream.StatusConnecting)
		ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			b.Reset()
			c.attach(ws)
			c.log.Info().Str("url", c.url).Msg("connected")
			err = c.read(ctx, ws)
			c.detach(ws)
		}
		c.setStatus(paystream.StatusDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		delay := b.Duration()
		c.log.Warn().Err(err).Dur("retry_in", delay).Msg("connection lost")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Status returns the current connection status.
func (c *Conn) Status() paystream.ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// CanTransfer reports whether the connection is up.
func (c *Conn) CanTransfer() bool {
	return c.Status() == paystream.StatusConnected
}

// Send encodes msg and writes it to the clearnode. It fails with
// ErrNotConnected while the connection is down.
func (c *Conn) Send(ctx context.Context, msg paystream.Message) error {
	data, err := psjson.MarshalMessage(msg, c.now())
	if err != nil {
		return fmt.Errorf("clearnode: %w", err)
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("clearnode: %w", paystream.ErrNotConnected)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetWriteDeadline(deadline)
		defer ws.SetWriteDeadline(time.Time{})
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("clearnode: write: %w", err)
	}
	c.log.Debug().Str("id", msg.RequestID()).Msgf("sent %T", msg)
	return nil
}

// Subscribe registers fn for inbound events accepted by match (nil accepts
// all). Handlers run on the read goroutine and must not block.
func (c *Conn) Subscribe(match func(paystream.Event) bool, fn func(paystream.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, subscription{id: id, match: match, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *Conn) read(ctx context.Context, ws *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		e, err := psjson.UnmarshalEvent(data)
		if errors.Is(err, paystream.ErrUnknownMethod) {
			c.log.Debug().Err(err).Msg("ignoring frame")
			continue
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("malformed frame")
			continue
		}
		c.dispatch(e)
	}
}

func (c *Conn) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setStatus(paystream.StatusConnected)
}

func (c *Conn) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	ws.Close()
}

func (c *Conn) setStatus(s paystream.ConnStatus) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.dispatch(paystream.EventConnection{Status: s})
}

func (c *Conn) dispatch(e paystream.Event) {
	c.mu.Lock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		if s.match == nil || s.match(e) {
			s.fn(e)
		}
	}
}
