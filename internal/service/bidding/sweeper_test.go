package bidding_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
	"github.com/davidleathers/live-auction-backend/internal/testutil"
	"github.com/davidleathers/live-auction-backend/internal/testutil/fixtures"
)

func TestSweeper_FinalizesOnTick(t *testing.T) {
	h := newHarness(t, bidding.Options{},
		fixtures.NewAuctionBuilder().WithLeader("c@x", "b@x").WithEndsAt(testutil.Epoch.Add(time.Minute)).Build())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		bidding.NewSweeper(h.engine, 5*time.Millisecond, zaptest.NewLogger(t)).Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	snap, _ := h.store.Get("A1")
	assert.Equal(t, auction.StatusOpen, snap.Status)

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		snap, _ := h.store.Get("A1")
		return snap.Status == auction.StatusFinalized
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	h.dispatcher.Wait()
	assert.Equal(t, 1, h.notifier.Count(bidding.NotifyGotIt, "c@x"))
	assert.Equal(t, 1, h.notifier.Count(bidding.NotifyAuctionLost, "b@x"))
}
