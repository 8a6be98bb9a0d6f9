package stream_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fwojciec/paystream"
	"github.com/fwojciec/paystream/mock"
	"github.com/fwojciec/paystream/stream"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	waitFor = 2 * time.Second
	polling = time.Millisecond
)

// recorder is a Transferer that records every transfer it is asked to make.
// failAt maps a 1-based call number to the error that call returns.
type recorder struct {
	mu        sync.Mutex
	transfers []paystream.Transfer
	failAt    map[int]error
}

func (r *recorder) Transfer(_ context.Context, t paystream.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, t)
	if err, ok := r.failAt[len(r.transfers)]; ok {
		return err
	}
	return nil
}

func (r *recorder) amounts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.transfers))
	for _, t := range r.transfers {
		out = append(out, t.Amount)
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func scenarioConfig() paystream.StreamConfig {
	return paystream.StreamConfig{
		Recipient:      "0xcreator",
		AmountPerTick:  "1000000",
		Interval:       time.Second,
		ThresholdTotal: "2500000",
		Asset:          "usdc",
	}
}

func newController(t *testing.T, tr paystream.Transferer, g paystream.Gate, opts ...stream.Option) *stream.Controller {
	t.Helper()
	c := stream.New(tr, g, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestController_Start(t *testing.T) {
	t.Parallel()

	t.Run("streams until the budget is spent exactly", func(t *testing.T) {
		t.Parallel()
		fc := clockwork.NewFakeClock()
		rec := &recorder{}
		c := newController(t, rec, &mock.Gate{}, stream.WithClock(fc))

		require.NoError(t, c.Start(context.Background(), scenarioConfig()))

		s := c.State()
		assert.True(t, s.Streaming)
		assert.Equal(t, paystream.PhaseStreaming, s.Phase)
		assert.Equal(t, "1000000", s.TotalSent)
		assert.NotEmpty(t, s.SessionID)
		assert.Equal(t, []string{"1000000"}, rec.amounts())

		fc.BlockUntil(1)
		fc.Advance(time.Second)
		require.Eventually(t, func() bool { return c.State().Transfers == 2 }, waitFor, polling)
		assert.Equal(t, "2000000", c.State().TotalSent)

		fc.BlockUntil(1)
		fc.Advance(time.Second)
		require.Eventually(t, func() bool { return c.State().Phase == paystream.PhaseStopped }, waitFor, polling)

		s = c.State()
		assert.False(t, s.Streaming)
		assert.Equal(t, "2500000", s.TotalSent)
		assert.Empty(t, s.LastError)
		assert.Equal(t, "0", s.Remaining())
		assert.Equal(t, []string{"1000000", "1000000", "500000"}, rec.amounts())

		fc.Advance(5 * time.Second)
		assert.Never(t, func() bool { return rec.count() > 3 }, 50*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("first transfer is clamped to the budget", func(t *testing.T) {
		t.Parallel()
		fc := clockwork.NewFakeClock()
		rec := &recorder{}
		c := newController(t, rec, &mock.Gate{}, stream.WithClock(fc))

		cfg := scenarioConfig()
		cfg.AmountPerTick = "5"
		cfg.ThresholdTotal = "3"
		require.NoError(t, c.Start(context.Background(), cfg))

		s := c.State()
		assert.Equal(t, []string{"3"}, rec.amounts())
		assert.Equal(t, "3", s.TotalSent)
		assert.False(t, s.Streaming)
		assert.Equal(t, paystream.PhaseStopped, s.Phase)
	})

	t.Run("transfers carry recipient and normalized asset", func(t *testing.T) {
		t.Parallel()
		var got paystream.Transfer
		tr := &mock.Transferer{
			TransferFn: func(_ context.Context, tr paystream.Transfer) error {
				got = tr
				return nil
			},
		}
		c := newController(t, tr, &mock.Gate{}, stream.WithClock(clockwork.NewFakeClock()))

		cfg := scenarioConfig()
		cfg.Asset = ""
		require.NoError(t, c.Start(context.Background(), cfg))
		assert.Equal(t, paystream.Transfer{Recipient: "0xcreator", Amount: "1000000", Asset: "usdc"}, got)
	})

	t.Run("refuses without an authenticated session", func(t *testing.T) {
		t.Parallel()
		rec := &recorder{}
		gate := &mock.Gate{CanTransferFn: func() bool { return false }}
		c := newController(t, rec, gate, stream.WithClock(clockwork.NewFakeClock()))

		err := c.Start(context.Background(), scenarioConfig())
		require.ErrorIs(t, err, paystream.ErrNotAuthenticated)

		s := c.State()
		assert.Equal(t, "Please authenticate first", s.LastError)
		assert.False(t, s.Streaming)
		assert.Equal(t, "0", s.TotalSent)
		assert.Equal(t, paystream.PhaseIdle, s.Phase)
		assert.Zero(t, rec.count())
	})

	t.Run("refuses an invalid config", func(t *testing.T) {
		t.Parallel()
		rec := &recorder{}
		c := newController(t, rec, &mock.Gate{}, stream.WithClock(clockwork.NewFakeClock()))

		cfg := scenarioConfig()
		cfg.Recipient = ""
		err := c.Start(context.Background(), cfg)
		require.ErrorIs(t, err, paystream.ErrValidation)

		s := c.State()
		assert.Equal(t, paystream.PhaseIdle, s.Phase)
		assert.Contains(t, s.LastError, "recipient")
		assert.Zero(t, rec.count())
	})

	t.Run("failed first transfer stops without a ticker", func(t *testing.T) {
		t.Parallel()
		fc := clockwork.NewFakeClock()
		rec := &recorder{failAt: map[int]error{1: errors.New("insufficient balance")}}
		c := newController(t, rec, &mock.Gate{}, stream.WithClock(fc))

		err := c.Start(context.Background(), scenarioConfig())
		require.ErrorIs(t, err, paystream.ErrTransfer)

		s := c.State()
		assert.False(t, s.Streaming)
		assert.Equal(t, "insufficient balance", s.LastError)
		assert.Equal(t, "0", s.TotalSent)

		fc.Advance(10 * time.Second)
		assert.Never(t, func() bool { return rec.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("failed tick stops the stream without retry", func(t *testing.T) {
		t.Parallel()
		fc := clockwork.NewFakeClock()
		rec := &recorder{failAt: map[int]error{2: errors.New("channel closed")}}
		c := newController(t, rec, &mock.Gate{}, stream.WithClock(fc))

		require.NoError(t, c.Start(context.Background(), scenarioConfig()))
		fc.BlockUntil(1)
		fc.Advance(time.Second)
		require.Eventually(t, func() bool { return !c.State().Streaming }, waitFor, polling)

		s := c.State()
		assert.Equal(t, "channel closed", s.LastError)
		assert.Equal(t, "1000000", s.TotalSent)
		assert.Equal(t, paystream.PhaseStopped, s.Phase)

		fc.Advance(10 * time.Second)
		assert.Never(t, func() bool { return rec.count() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("failed final clamped transfer keeps the total", func(t *testing.T) {
		t.Parallel()
		fc := clockwork.NewFakeClock()
		rec := &recorder{failAt: map[int]error{3: errors.New("insufficient balance")}}
		c := newController(t, rec, &mock.Gate{}, stream.WithClock(fc))

		require.NoError(t, c.Start(context.Background(), scenarioConfig()))
		fc.BlockUntil(1)
		fc.Advance(time.Second)
		require.Eventually(t, func() bool { return c.State().Transfers == 2 }, waitFor, polling)
		fc.BlockUntil(1)
		fc.Advance(time.Second)
		require.Eventually(t, func() bool { return !c.State().Streaming }, waitFor, polling)

		s := c.State()
		assert.Equal(t, "2000000", s.TotalSent)
		assert.Equal(t, "insufficient balance", s.LastError)
		assert.Equal(t, paystream.PhaseStopped, s.Phase)
		assert.Equal(t, []string{"1000000", "1000000", "500000"}, rec.amounts())

		fc.Advance(10 * time.Second)
		assert.Never(t, func() bool { return rec.count() > 3 }, 50*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("counts the paid creator share when the platform fee fails", func(t *testing.T) {
		t.Parallel()
		tr := &mock.Transferer{
			TransferFn: func(_ context.Context, tr paystream.Transfer) error {
				if tr.Recipient == "0xplatform" {
					return errors.New("fee rejected")
				}
				return nil
			},
		}
		splitter := &paystream.FeeSplitter{Next: tr, Platform: "0xplatform", Percent: 5}
		c := newController(t, splitter, &mock.Gate{}, stream.WithClock(clockwork.NewFakeClock()))

		err := c.Start(context.Background(), scenarioConfig())
		require.ErrorIs(t, err, paystream.ErrTransfer)

		s := c.State()
		assert.False(t, s.Streaming)
		assert.Equal(t, "950000", s.TotalSent)
		assert.Equal(t, "platform fee: fee rejected", s.LastError)
	})

	t.Run("counts the paid creator share when a tick's fee fails", func(t *testing.T) {
		t.Parallel()
		fc := clockwork.NewFakeClock()
		var mu sync.Mutex
		feeCalls := 0
		tr := &mock.Transferer{
			TransferFn: func(_ context.Context, tr paystream.Transfer) error {
				if tr.Recipient != "0xplatform" {
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				feeCalls++
				if feeCalls == 2 {
					return errors.New("fee rejected")
				}
				return nil
			},
		}
		splitter := &paystream.FeeSplitter{Next: tr, Platform: "0xplatform", Percent: 5}
		c := newController(t, splitter, &mock.Gate{}, stream.WithClock(fc))

		require.NoError(t, c.Start(context.Background(), scenarioConfig()))
		fc.BlockUntil(1)
		fc.Advance(time.Second)
		require.Eventually(t, func() bool { return !c.State().Streaming }, waitFor, polling)

		s := c.State()
		assert.Equal(t, "1950000", s.TotalSent)
		assert.Equal(t, 1, s.Transfers)
		assert.Equal(t, "platform fee: fee rejected", s.LastError)
	})

	t.Run("restart resets the session", func(t *testing.T) {
		t.Parallel()
		fc := clockwork.NewFakeClock()
		rec := &recorder{failAt: map[int]error{2: errors.New("boom")}}
		c := newController(t, rec, &mock.Gate{}, stream.WithClock(fc))

		require.NoError(t, c.Start(context.Background(), scenarioConfig()))
		first := c.State().SessionID
		fc.BlockUntil(1)
		fc.Advance(time.Second)
		require.Eventually(t, func() bool { return c.State().LastError != "" }, waitFor, polling)

		require.NoError(t, c.Start(context.Background(), scenarioConfig()))
		s := c.State()
		assert.Empty(t, s.LastError)
		assert.Equal(t, "1000000", s.TotalSent)
		assert.Equal(t, 1, s.Transfers)
		assert.NotEqual(t, first, s.SessionID)
	})
}

func TestController_Stop(t *testing.T) {
	t.Parallel()

	t.Run("is idempotent and keeps the total", func(t *testing.T) {
		t.Parallel()
		fc := clockwork.NewFakeClock()
		rec := &recorder{}
		c := newController(t, rec, &mock.Gate{}, stream.WithClock(fc))

		c.Stop()
		require.NoError(t, c.Start(context.Background(), scenarioConfig()))
		c.Stop()
		c.Stop()

		s := c.State()
		assert.False(t, s.Streaming)
		assert.Equal(t, paystream.PhaseStopped, s.Phase)
		assert.Equal(t, "1000000", s.TotalSent)

		fc.Advance(10 * time.Second)
		assert.Never(t, func() bool { return rec.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("discards an in-flight first transfer", func(t *testing.T) {
		t.Parallel()
		entered := make(chan struct{})
		release := make(chan struct{})
		tr := &mock.Transferer{
			TransferFn: func(context.Context, paystream.Transfer) error {
				close(entered)
				<-release
				return nil
			},
		}
		c := newController(t, tr, &mock.Gate{}, stream.WithClock(clockwork.NewFakeClock()))

		errc := make(chan error, 1)
		go func() { errc <- c.Start(context.Background(), scenarioConfig()) }()

		<-entered
		c.Stop()
		close(release)

		require.ErrorIs(t, <-errc, paystream.ErrStreamStopped)
		s := c.State()
		assert.False(t, s.Streaming)
		assert.Equal(t, "0", s.TotalSent)
		assert.Zero(t, s.Transfers)
	})

	t.Run("cancels an in-flight transfer", func(t *testing.T) {
		t.Parallel()
		entered := make(chan struct{})
		canceled := make(chan error, 1)
		tr := &mock.Transferer{
			TransferFn: func(ctx context.Context, _ paystream.Transfer) error {
				close(entered)
				<-ctx.Done()
				canceled <- ctx.Err()
				return ctx.Err()
			},
		}
		c := newController(t, tr, &mock.Gate{}, stream.WithClock(clockwork.NewFakeClock()))

		go func() { _ = c.Start(context.Background(), scenarioConfig()) }()
		<-entered
		c.Stop()

		select {
		case err := <-canceled:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(waitFor):
			t.Fatal("transfer context was not canceled")
		}
	})
}

// holdingTransferer blocks its holdAt-th call until release is closed and
// records the highest number of calls in flight at once.
type holdingTransferer struct {
	holdAt  int
	held    chan struct{}
	release chan struct{}

	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
}

func (h *holdingTransferer) Transfer(context.Context, paystream.Transfer) error {
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.active++
	h.maxActive = max(h.maxActive, h.active)
	h.mu.Unlock()

	if n == h.holdAt {
		close(h.held)
		<-h.release
	}

	h.mu.Lock()
	h.active--
	h.mu.Unlock()
	return nil
}

func (h *holdingTransferer) stats() (calls, maxActive int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls, h.maxActive
}

func TestController_SlowTransferDoesNotOverlap(t *testing.T) {
	t.Parallel()
	fc := clockwork.NewFakeClock()
	tr := &holdingTransferer{holdAt: 2, held: make(chan struct{}), release: make(chan struct{})}
	c := newController(t, tr, &mock.Gate{}, stream.WithClock(fc))

	cfg := scenarioConfig()
	cfg.ThresholdTotal = "100000000"
	require.NoError(t, c.Start(context.Background(), cfg))

	fc.BlockUntil(1)
	fc.Advance(time.Second)
	<-tr.held

	for range 5 {
		fc.Advance(time.Second)
	}
	calls, _ := tr.stats()
	assert.Equal(t, 2, calls)

	close(tr.release)
	require.Eventually(t, func() bool {
		calls, _ := tr.stats()
		return calls == 3
	}, waitFor, polling)
	assert.Never(t, func() bool {
		calls, _ := tr.stats()
		return calls > 3
	}, 50*time.Millisecond, 5*time.Millisecond)

	_, maxActive := tr.stats()
	assert.Equal(t, 1, maxActive)
	require.Eventually(t, func() bool { return c.State().Transfers == 3 }, waitFor, polling)
	assert.Equal(t, "3000000", c.State().TotalSent)
}

func TestController_SupersedingStart(t *testing.T) {
	t.Parallel()
	fc := clockwork.NewFakeClock()
	rec := &recorder{}
	c := newController(t, rec, &mock.Gate{}, stream.WithClock(fc))

	first := scenarioConfig()
	first.Recipient = "0xold"
	require.NoError(t, c.Start(context.Background(), first))

	second := scenarioConfig()
	second.Recipient = "0xnew"
	second.ThresholdTotal = "10000000"
	require.NoError(t, c.Start(context.Background(), second))

	fc.BlockUntil(1)
	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return c.State().Transfers == 2 }, waitFor, polling)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.transfers, 3)
	assert.Equal(t, "0xold", rec.transfers[0].Recipient)
	assert.Equal(t, "0xnew", rec.transfers[1].Recipient)
	assert.Equal(t, "0xnew", rec.transfers[2].Recipient)
}

func TestController_TickTimeout(t *testing.T) {
	t.Parallel()
	tr := &mock.Transferer{
		TransferFn: func(ctx context.Context, _ paystream.Transfer) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	c := newController(t, tr, &mock.Gate{}, stream.WithTickTimeout(20*time.Millisecond))

	err := c.Start(context.Background(), scenarioConfig())
	require.ErrorIs(t, err, paystream.ErrTransfer)

	s := c.State()
	assert.False(t, s.Streaming)
	assert.Contains(t, s.LastError, "not settled within 20ms")
}

func TestController_OnStateChange(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	c := newController(t, rec, &mock.Gate{}, stream.WithClock(clockwork.NewFakeClock()))

	var mu sync.Mutex
	var got []paystream.State
	unsubscribe := c.OnStateChange(func(s paystream.State) {
		// Observers may call back into the controller.
		_ = c.State()
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	cfg := scenarioConfig()
	cfg.ThresholdTotal = cfg.AmountPerTick
	require.NoError(t, c.Start(context.Background(), cfg))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, waitFor, polling)

	mu.Lock()
	assert.True(t, got[0].Streaming)
	assert.Equal(t, "0", got[0].TotalSent)
	assert.False(t, got[1].Streaming)
	assert.Equal(t, "1000000", got[1].TotalSent)
	assert.Equal(t, paystream.PhaseStopped, got[1].Phase)
	mu.Unlock()

	unsubscribe()
	c.Stop()
	require.ErrorIs(t, c.Start(context.Background(), paystream.StreamConfig{}), paystream.ErrValidation)
	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 2
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestController_Close(t *testing.T) {
	t.Parallel()
	fc := clockwork.NewFakeClock()
	rec := &recorder{}
	c := stream.New(rec, &mock.Gate{}, stream.WithClock(fc))

	require.NoError(t, c.Start(context.Background(), scenarioConfig()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.False(t, c.State().Streaming)
	assert.ErrorIs(t, c.Start(context.Background(), scenarioConfig()), paystream.ErrClosed)
	assert.Equal(t, 1, rec.count())
}

func TestController_BudgetInvariant(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		amount := rapid.Int64Range(1, 1_000_000).Draw(t, "amount")
		ticks := rapid.Int64Range(1, 6).Draw(t, "ticks")
		// threshold in ((ticks-1)*amount, ticks*amount]
		threshold := (ticks-1)*amount + rapid.Int64Range(1, amount).Draw(t, "last")

		fc := clockwork.NewFakeClock()
		rec := &recorder{}
		c := stream.New(rec, &mock.Gate{}, stream.WithClock(fc))
		defer func() { _ = c.Close() }()

		cfg := paystream.StreamConfig{
			Recipient:      "0xcreator",
			AmountPerTick:  formatInt(amount),
			Interval:       time.Second,
			ThresholdTotal: formatInt(threshold),
		}
		require.NoError(t, c.Start(context.Background(), cfg))

		for i := int64(1); i < ticks; i++ {
			fc.BlockUntil(1)
			fc.Advance(time.Second)
			want := int(i + 1)
			require.Eventually(t, func() bool { return c.State().Transfers == want }, waitFor, polling)
		}

		s := c.State()
		assert.Equal(t, paystream.PhaseStopped, s.Phase)
		assert.Equal(t, cfg.ThresholdTotal, s.TotalSent)

		sum := "0"
		for _, a := range rec.amounts() {
			assert.True(t, paystream.GTE(cfg.AmountPerTick, a), "transfer %s exceeds amount per tick", a)
			var err error
			sum, err = paystream.Add(sum, a)
			require.NoError(t, err)
		}
		assert.Equal(t, cfg.ThresholdTotal, sum)
		assert.Len(t, rec.amounts(), int(ticks))
	})
}
