// Package prometheus exposes stream and transfer metrics.
package prometheus

import (
	"context"
	"net/http"
	"time"

	"github.com/fwojciec/paystream"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "paystream"

// Metrics holds the collectors for one process. Each Metrics has its own
// registry.
type Metrics struct {
	registry *prom.Registry

	transfers *prom.CounterVec
	duration  *prom.HistogramVec
	streaming prom.Gauge
	totalSent *prom.GaugeVec
	sessions  prom.Counter

	lastSession string
}

// New creates a Metrics with all collectors registered, including the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prom.NewRegistry(),
		transfers: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfers",
				Name:      "total",
				Help:      "Total number of transfers attempted.",
			},
			[]string{"asset", "status"},
		),
		duration: prom.NewHistogramVec(
			prom.HistogramOpts{
				Namespace: namespace,
				Subsystem: "transfers",
				Name:      "duration_seconds",
				Help:      "Time from sending a transfer to its settlement.",
				Buckets:   prom.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"status"},
		),
		streaming: prom.NewGauge(
			prom.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "active",
				Help:      "1 while a stream is running.",
			},
		),
		totalSent: prom.NewGaugeVec(
			prom.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "sent",
				Help:      "Amount sent in the current session, in whole asset units.",
			},
			[]string{"asset"},
		),
		sessions: prom.NewCounter(
			prom.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "sessions_total",
				Help:      "Total number of sessions started.",
			},
		),
	}
	m.registry.MustRegister(
		m.transfers,
		m.duration,
		m.streaming,
		m.totalSent,
		m.sessions,
		prom.NewProcessCollector(prom.ProcessCollectorOpts{}),
		prom.NewGoCollector(),
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prom.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument wraps next so every transfer is counted and timed.
func (m *Metrics) Instrument(next paystream.Transferer) paystream.Transferer {
	return paystream.TransferFunc(func(ctx context.Context, t paystream.Transfer) error {
		start := time.Now()
		err := next.Transfer(ctx, t)
		status := "ok"
		if err != nil {
			status = "failed"
		}
		m.transfers.WithLabelValues(paystream.NormalizeAsset(t.Asset), status).Inc()
		m.duration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		return err
	})
}

// Observe records a controller state snapshot. It is meant to be registered
// with OnStateChange, which delivers snapshots one at a time.
func (m *Metrics) Observe(s paystream.State) {
	if s.Streaming {
		m.streaming.Set(1)
	} else {
		m.streaming.Set(0)
	}
	if s.SessionID != "" && s.SessionID != m.lastSession {
		m.lastSession = s.SessionID
		m.sessions.Inc()
	}
	asset := paystream.NormalizeAsset(s.Config.Asset)
	sent, err := decimal.NewFromString(paystream.FromBaseUnits(s.TotalSent, paystream.Decimals(asset)))
	if err != nil {
		return
	}
	m.totalSent.WithLabelValues(asset).Set(sent.InexactFloat64())
}
