package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/config"
	"github.com/davidleathers/live-auction-backend/internal/metrics"
	"github.com/davidleathers/live-auction-backend/internal/testutil/fixtures"
)

func TestOpenStorage_FileDriver(t *testing.T) {
	cfg := config.Defaults()
	cfg.Persistence.DataDir = t.TempDir()

	stores, err := openStorage(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer stores.close()

	ctx := context.Background()
	require.NoError(t, stores.gateway.SaveAll(ctx, []auction.Auction{fixtures.NewAuctionBuilder().Build()}))

	loaded, err := stores.gateway.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "A1", loaded[0].ID)

	ok, err := stores.scores.IncrementWin(ctx, "nobody@x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineMetrics_FeedsOpenTelemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	registry, err := metrics.NewRegistryWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	m := engineMetrics{otel: registry}
	ctx := context.Background()
	m.RecordBid(ctx, time.Millisecond, "")
	m.RecordBid(ctx, time.Millisecond, "self_bid")
	m.RecordFinalization(ctx, "cap")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			names[metric.Name] = true
		}
	}
	assert.True(t, names["auction.bid.accepted_total"])
	assert.True(t, names["auction.bid.rejected_total"])
	assert.True(t, names["auction.finalizations_total"])
}
