package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fwojciec/paystream"
	bt "github.com/fwojciec/paystream/bubbletea"
	"github.com/fwojciec/paystream/clearnode"
	psjson "github.com/fwojciec/paystream/json"
	"github.com/fwojciec/paystream/prometheus"
	"github.com/fwojciec/paystream/stream"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const balancesTimeout = 10 * time.Second

func newWatchCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Play a video and stream payments while it plays",
		Long: `watch connects to the clearnode, fetches the ledger balances of the
participant and opens the player. Press space to play or pause, s to stop and
q to quit. Payments flow only while the video plays.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, cmd.Flags())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runWatch(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("clearnode-url", "", "clearnode websocket URL")
	f.String("recipient", "", "creator address receiving the payments")
	f.String("participant", "", "your address on the clearnode")
	f.String("asset", paystream.DefaultAsset, "asset to pay in")
	f.String("rate-per-minute", defaultRatePerMinute, "price per minute of playback, in asset units")
	f.Int("tick-seconds", defaultTickSeconds, "seconds between payments")
	f.String("budget", "", "spending cap in asset units (default: the whole ledger balance)")
	f.Int("fee-percent", 0, "platform fee taken from every payment")
	f.String("platform-address", "", "address receiving the platform fee")
	f.String("video-title", defaultVideoTitle, "title shown in the player")
	f.Duration("video-duration", defaultVideoDuration, "length of the video")
	f.String("log-file", "", "write JSON logs to this file")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.String("receipt-file", "", "save a session receipt to this file on exit")
	return cmd
}

func runWatch(ctx context.Context, cfg appConfig) error {
	if err := cfg.validateWatch(); err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog.Close()
	log.Info().Str("config", cfg.ConfigPath).Str("clearnode", cfg.ClearnodeURL).Msg("starting")

	conn := clearnode.New(cfg.ClearnodeURL,
		clearnode.WithLogger(log.With().Str("component", "clearnode").Logger()))
	metrics := prometheus.New()

	var transferer paystream.Transferer = clearnode.NewTransferer(conn,
		clearnode.WithConfirmTimeout(cfg.ConfirmTimeout))
	if cfg.FeePercent > 0 {
		transferer = &paystream.FeeSplitter{
			Next:     transferer,
			Platform: cfg.PlatformAddress,
			Percent:  cfg.FeePercent,
		}
	}
	transferer = metrics.Instrument(transferer)

	ctrl := stream.New(transferer, conn,
		stream.WithLogger(log.With().Str("component", "stream").Logger()),
		stream.WithTickTimeout(cfg.TickTimeout))
	defer ctrl.Close()
	defer ctrl.OnStateChange(metrics.Observe)()

	ledger := &paystream.Ledger{}
	defer conn.Subscribe(nil, syncLedger(ctx, conn, ledger, cfg.Participant, log))()

	plan := cfg.plan()
	planFn := func() (paystream.StreamConfig, error) {
		return plan.Config(cfg.Recipient, ledger.Available(plan.Asset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return conn.Run(gctx)
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		})
	}

	video := bt.Video{Title: cfg.VideoTitle, Duration: cfg.VideoDuration}
	model := bt.New(ctrl, planFn, video, paystream.DefaultTheme())
	g.Go(func() error {
		defer cancel()
		if err := bt.Run(gctx, model); err != nil {
			return fmt.Errorf("TUI: %w", err)
		}
		return nil
	})

	err = g.Wait()
	ctrl.Stop()

	state := ctrl.State()
	log.Info().Str("total_sent", state.TotalSent).Int("transfers", state.Transfers).Msg("exiting")
	if cfg.ReceiptFile != "" && state.SessionID != "" {
		r := psjson.Receipt{State: state, SavedAt: time.Now()}
		if serr := psjson.Save(cfg.ReceiptFile, r); serr != nil {
			return errors.Join(err, fmt.Errorf("save receipt: %w", serr))
		}
		fmt.Fprintf(os.Stderr, "Receipt saved to %s\n", cfg.ReceiptFile)
	}
	return err
}

// syncLedger returns a clearnode handler that asks for the participant's
// balances on every (re)connect and applies whatever comes back.
func syncLedger(ctx context.Context, bus paystream.Bus, ledger *paystream.Ledger, participant string, log zerolog.Logger) func(paystream.Event) {
	return func(e paystream.Event) {
		switch e := e.(type) {
		case paystream.EventConnection:
			if e.Status != paystream.StatusConnected {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(ctx, balancesTimeout)
				defer cancel()
				if err := clearnode.RequestBalances(ctx, bus, participant); err != nil {
					log.Warn().Err(err).Msg("requesting balances")
				}
			}()
		case paystream.EventBalances:
			ledger.Apply(e)
			log.Debug().Interface("balances", ledger.Snapshot()).Bool("update", e.Update).Msg("ledger updated")
		}
	}
}

// newLogger opens a JSON logger on path. The TUI owns the terminal, so with
// no path nothing is logged.
func newLogger(path, level string) (zerolog.Logger, io.Closer, error) {
	if path == "" {
		return zerolog.Nop(), io.NopCloser(nil), nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("log level: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("log file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("log file: %w", err)
	}
	return zerolog.New(f).Level(lvl).With().Timestamp().Logger(), f, nil
}
