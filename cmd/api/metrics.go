package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/davidleathers/live-auction-backend/internal/metrics"
)

// Engine metrics scraped from /metrics. The OpenTelemetry registry receives
// the same observations for OTLP export.
var (
	bidProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "auction",
			Subsystem: "bid",
			Name:      "processing_duration_seconds",
			Help:      "Duration of bid processing",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15),
		},
		[]string{"outcome"},
	)

	bidProcessingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "bid",
			Name:      "processing_total",
			Help:      "Total number of bids processed",
		},
		[]string{"outcome", "reason"},
	)

	finalizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "lifecycle",
			Name:      "finalizations_total",
			Help:      "Auctions finalized, by trigger",
		},
		[]string{"trigger"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "auction",
			Subsystem: "lifecycle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
	)

	openAuctions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "lifecycle",
			Name:      "open",
			Help:      "Open auctions seen by the last sweep",
		},
	)

	feedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Current live feed subscriptions",
		},
	)

	effectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "effects",
			Name:      "failures_total",
			Help:      "Side effects moved to the dead-letter queue",
		},
		[]string{"effect"},
	)

	effectOverflow = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "effects",
			Name:      "overflow_total",
			Help:      "Side effects run outside the worker pool because the queue was full",
		},
	)

	dispatchQueue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "effects",
			Name:      "queue_depth",
			Help:      "Side effects waiting for a worker",
		},
	)

	dbConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "connections",
			Help:      "Current number of connections in the pool",
		},
		[]string{"state"},
	)

	dbConnectionPoolMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "max_conns",
			Help:      "Maximum number of connections in the pool",
		},
	)
)

// engineMetrics feeds both the OpenTelemetry registry and Prometheus.
type engineMetrics struct {
	otel *metrics.Registry
}

func (m engineMetrics) RecordBid(ctx context.Context, elapsed time.Duration, reason string) {
	m.otel.RecordBid(ctx, elapsed, reason)
	outcome := "accepted"
	if reason != "" {
		outcome = "rejected"
	}
	bidProcessingDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	bidProcessingTotal.WithLabelValues(outcome, reason).Inc()
}

func (m engineMetrics) RecordFinalization(ctx context.Context, trigger string) {
	m.otel.RecordFinalization(ctx, trigger)
	finalizationsTotal.WithLabelValues(trigger).Inc()
}

func (m engineMetrics) RecordSweep(ctx context.Context, elapsed time.Duration, finalized int) {
	m.otel.RecordSweep(ctx, elapsed, finalized)
	sweepDuration.Observe(elapsed.Seconds())
}

func (m engineMetrics) SetOpenAuctions(n int64) {
	m.otel.SetOpenAuctions(n)
	openAuctions.Set(float64(n))
}

func (m engineMetrics) AddFeedSubscribers(delta int64) {
	m.otel.AddFeedSubscribers(delta)
	feedSubscribers.Add(float64(delta))
}

func (m engineMetrics) RecordEffectFailure(ctx context.Context, effect string) {
	m.otel.RecordEffectFailure(ctx, effect)
	effectFailures.WithLabelValues(effect).Inc()
}

func (m engineMetrics) RecordEffectOverflow(ctx context.Context) {
	m.otel.RecordEffectOverflow(ctx)
	effectOverflow.Inc()
}

func (m engineMetrics) SetDispatchQueue(n int64) {
	m.otel.SetDispatchQueue(n)
	dispatchQueue.Set(float64(n))
}

// reportPoolStats publishes pool statistics until ctx is done.
func reportPoolStats(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			dbConnectionPoolSize.WithLabelValues("active").Set(float64(stat.AcquiredConns()))
			dbConnectionPoolSize.WithLabelValues("idle").Set(float64(stat.IdleConns()))
			dbConnectionPoolSize.WithLabelValues("total").Set(float64(stat.TotalConns()))
			dbConnectionPoolMax.Set(float64(stat.MaxConns()))
		}
	}
}
