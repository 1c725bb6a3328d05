package bidding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
)

func event(id string, version uint64) Event {
	return Event{Type: EventUpdate, Snapshot: auction.Snapshot{ID: id, Version: version}}
}

func TestFeed_DeliversToTopicOnly(t *testing.T) {
	f := NewFeed(4, nil)
	a := f.Subscribe("A1")
	b := f.Subscribe("A2")
	defer a.Close()
	defer b.Close()

	assert.Equal(t, 1, f.Publish("A1", event("A1", 2)))

	require.Len(t, a.C, 1)
	assert.Empty(t, b.C)
}

func TestFeed_DropsStaleVersions(t *testing.T) {
	f := NewFeed(4, nil)
	sub := f.Subscribe("A1")
	defer sub.Close()

	f.Publish("A1", event("A1", 3))
	assert.Zero(t, f.Publish("A1", event("A1", 2)))
	assert.Zero(t, f.Publish("A1", event("A1", 3)))
	f.Publish("A1", event("A1", 4))

	assert.Equal(t, uint64(3), (<-sub.C).Snapshot.Version)
	assert.Equal(t, uint64(4), (<-sub.C).Snapshot.Version)
	assert.Empty(t, sub.C)
}

func TestFeed_LatestWinsWhenBufferFull(t *testing.T) {
	f := NewFeed(2, nil)
	sub := f.Subscribe("A1")
	defer sub.Close()

	for v := uint64(1); v <= 5; v++ {
		assert.Equal(t, 1, f.Publish("A1", event("A1", v)))
	}

	assert.Equal(t, uint64(4), (<-sub.C).Snapshot.Version)
	assert.Equal(t, uint64(5), (<-sub.C).Snapshot.Version)
}

func TestFeed_LobbyTracksVersionsPerAuction(t *testing.T) {
	f := NewFeed(4, nil)
	sub := f.Subscribe(LobbyTopic)
	defer sub.Close()

	f.Publish(LobbyTopic, Event{Type: EventAuctionNew, Snapshot: auction.Snapshot{ID: "A1", Version: 1}})
	f.Publish(LobbyTopic, Event{Type: EventAuctionNew, Snapshot: auction.Snapshot{ID: "A2", Version: 1}})

	assert.Len(t, sub.C, 2)
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	f := NewFeed(1, nil)
	sub := f.Subscribe("A1")
	assert.Equal(t, 1, f.Subscribers("A1"))

	sub.Close()
	sub.Close()

	assert.Zero(t, f.Subscribers("A1"))
	_, open := <-sub.C
	assert.False(t, open)
	assert.Zero(t, f.Publish("A1", event("A1", 9)))
}
