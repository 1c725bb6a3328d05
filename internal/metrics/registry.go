package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the auction engine instruments.
type Registry struct {
	meter metric.Meter

	BidDuration     metric.Float64Histogram
	BidsAccepted    metric.Int64Counter
	BidsRejected    metric.Int64Counter
	Finalizations   metric.Int64Counter
	EffectFailures  metric.Int64Counter
	EffectsOverflow metric.Int64Counter
	SweepDuration   metric.Float64Histogram
	OpenAuctions    metric.Int64ObservableGauge
	DispatchQueue   metric.Int64ObservableGauge
	FeedSubscribers metric.Int64ObservableGauge

	openAuctions    atomic.Int64
	dispatchQueue   atomic.Int64
	feedSubscribers atomic.Int64
}

// NewRegistry creates the instruments on the global meter provider.
func NewRegistry(meterName string) (*Registry, error) {
	return NewRegistryWithMeter(otel.Meter(meterName))
}

// NewRegistryWithMeter creates the instruments on meter.
func NewRegistryWithMeter(meter metric.Meter) (*Registry, error) {
	r := &Registry{meter: meter}

	if err := r.initBidMetrics(); err != nil {
		return nil, err
	}
	if err := r.initLifecycleMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initBidMetrics() error {
	var err error

	r.BidDuration, err = r.meter.Float64Histogram(
		"auction.bid.processing_duration",
		metric.WithDescription("Duration of bid processing in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100),
	)
	if err != nil {
		return err
	}

	r.BidsAccepted, err = r.meter.Int64Counter(
		"auction.bid.accepted_total",
		metric.WithDescription("Total number of accepted bids"),
	)
	if err != nil {
		return err
	}

	r.BidsRejected, err = r.meter.Int64Counter(
		"auction.bid.rejected_total",
		metric.WithDescription("Total number of rejected bids by reason"),
	)
	return err
}

func (r *Registry) initLifecycleMetrics() error {
	var err error

	r.Finalizations, err = r.meter.Int64Counter(
		"auction.finalizations_total",
		metric.WithDescription("Auctions moved to the finalized state by trigger"),
	)
	if err != nil {
		return err
	}

	r.EffectFailures, err = r.meter.Int64Counter(
		"auction.effect.failures_total",
		metric.WithDescription("Side effects that failed after finalization or a leader change"),
	)
	if err != nil {
		return err
	}

	r.EffectsOverflow, err = r.meter.Int64Counter(
		"auction.effect.overflow_total",
		metric.WithDescription("Side effects run outside the worker pool because the queue was full"),
	)
	if err != nil {
		return err
	}

	r.SweepDuration, err = r.meter.Float64Histogram(
		"auction.sweep.duration",
		metric.WithDescription("Duration of an expiry sweep in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	r.OpenAuctions, err = r.meter.Int64ObservableGauge(
		"auction.open_total",
		metric.WithDescription("Auctions currently open"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.openAuctions.Load())
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.DispatchQueue, err = r.meter.Int64ObservableGauge(
		"auction.effect.queue_depth",
		metric.WithDescription("Side effects waiting for a worker"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.dispatchQueue.Load())
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.FeedSubscribers, err = r.meter.Int64ObservableGauge(
		"auction.feed.subscribers",
		metric.WithDescription("Live feed subscriptions"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.feedSubscribers.Load())
			return nil
		}),
	)
	return err
}

// RecordBid records one bid submission. reason is empty for accepted bids.
func (r *Registry) RecordBid(ctx context.Context, elapsed time.Duration, reason string) {
	r.BidDuration.Record(ctx, float64(elapsed.Microseconds())/1000)
	if reason == "" {
		r.BidsAccepted.Add(ctx, 1)
		return
	}
	r.BidsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFinalization counts a committed Open to Finalized flip.
func (r *Registry) RecordFinalization(ctx context.Context, trigger string) {
	r.Finalizations.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

func (r *Registry) RecordEffectFailure(ctx context.Context, effect string) {
	r.EffectFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("effect", effect)))
}

func (r *Registry) RecordEffectOverflow(ctx context.Context) {
	r.EffectsOverflow.Add(ctx, 1)
}

func (r *Registry) RecordSweep(ctx context.Context, elapsed time.Duration, finalized int) {
	r.SweepDuration.Record(ctx, float64(elapsed.Microseconds())/1000,
		metric.WithAttributes(attribute.Int("finalized", finalized)))
}

func (r *Registry) SetOpenAuctions(n int64) { r.openAuctions.Store(n) }
func (r *Registry) SetDispatchQueue(n int64) { r.dispatchQueue.Store(n) }
func (r *Registry) AddFeedSubscribers(d int64) { r.feedSubscribers.Add(d) }
