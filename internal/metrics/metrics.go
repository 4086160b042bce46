// Package metrics exposes poll cycle and notification counters.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Cycle outcomes.
const (
	OutcomeColdStart = "cold_start"
	OutcomeNotified  = "notified"
	OutcomeCommitted = "committed"
	OutcomeNoOp      = "noop"
	OutcomeFailed    = "failed"
)

// Notification results.
const (
	ResultSent   = "sent"
	ResultFailed = "failed"
)

// Metrics groups the bot's collectors.
type Metrics struct {
	FeedCycles    *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	LiveStake     prometheus.Gauge

	registry *prometheus.Registry
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		FeedCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balancebot_feed_cycles_total",
				Help: "Feed poll cycles by outcome",
			},
			[]string{"feed", "outcome"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balancebot_notifications_total",
				Help: "Notification delivery attempts by result",
			},
			[]string{"feed", "result"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "balancebot_feed_cycle_duration_seconds",
				Help:    "Wall time of one feed cycle",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"feed"},
		),
		LiveStake: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "balancebot_live_stake_ada",
				Help: "Last fetched pool live stake",
			},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.FeedCycles, m.Notifications, m.CycleDuration, m.LiveStake)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
