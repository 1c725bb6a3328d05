package bidding

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/testutil"
	"github.com/davidleathers/live-auction-backend/internal/testutil/fixtures"
)

type countingGateway struct {
	loads   atomic.Int32
	set     []auction.Auction
	err     error
	release chan struct{}
}

func (g *countingGateway) LoadAll(context.Context) ([]auction.Auction, error) {
	g.loads.Add(1)
	if g.release != nil {
		<-g.release
	}
	return g.set, g.err
}

func (g *countingGateway) SaveAll(context.Context, []auction.Auction) error { return nil }

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore(nil)
	require.True(t, s.insert(fixtures.NewAuctionBuilder().WithLeader("b@x").Build()))

	snap, ok := s.Get("A1")
	require.True(t, ok)
	snap.Participants[0] = "z@x"
	snap.CurrentPrice = snap.CurrentPrice.Add(snap.Increment)

	again, _ := s.Get("A1")
	assert.Equal(t, []string{"b@x"}, again.Participants)
	assert.True(t, again.CurrentPrice.Equal(snap.CurrentPrice.Sub(snap.Increment)))

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_LoadNeverOverwritesLive(t *testing.T) {
	s := NewStore(nil)
	require.True(t, s.insert(fixtures.NewAuctionBuilder().WithLeader("b@x").Build()))

	stale := fixtures.NewAuctionBuilder().Build()
	added := s.Load([]auction.Auction{stale, fixtures.NewAuctionBuilder().WithID("A2").Build(), {}})
	assert.Equal(t, 1, added)

	live, _ := s.Get("A1")
	assert.Equal(t, "b@x", live.HighestBidder)
	assert.Equal(t, 2, s.Len())
}

func TestStore_EnsureHydratesOnce(t *testing.T) {
	g := &countingGateway{
		set:     []auction.Auction{fixtures.NewAuctionBuilder().Build()},
		release: make(chan struct{}),
	}
	s := NewStore(g)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.Ensure(context.Background(), "A1")
			assert.NoError(t, err)
			results[i] = ok
		}()
	}
	require.Eventually(t, func() bool { return g.loads.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(g.release)
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), g.loads.Load())

	_, ok, err := s.Ensure(context.Background(), "A1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), g.loads.Load(), "live ids never hit the gateway")
}

func TestStore_EnsureGatewayError(t *testing.T) {
	s := NewStore(&countingGateway{err: stderrors.New("disk gone")})

	_, ok, err := s.Ensure(context.Background(), "A1")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "disk gone")
}

func TestStore_DueForFinalization(t *testing.T) {
	now := testutil.Epoch
	s := NewStore(nil)
	s.Load([]auction.Auction{
		fixtures.NewAuctionBuilder().WithID("past").WithEndsAt(now.Add(-time.Minute)).Build(),
		fixtures.NewAuctionBuilder().WithID("edge").WithEndsAt(now).Build(),
		fixtures.NewAuctionBuilder().WithID("future").WithEndsAt(now.Add(time.Minute)).Build(),
		fixtures.NewAuctionBuilder().WithID("cap-only").Build(),
		fixtures.NewAuctionBuilder().WithID("done").WithEndsAt(now.Add(-time.Hour)).Finalized().Build(),
	})

	due, open := s.dueForFinalization(now)
	assert.Equal(t, []string{"edge", "past"}, due)
	assert.Equal(t, 4, open)
}
