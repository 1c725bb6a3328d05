package bidding

import (
	"sync"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
)

// LobbyTopic carries newly registered auctions.
const LobbyTopic = "auctions"

type EventType string

const (
	EventUpdate     EventType = "update"
	EventAuctionNew EventType = "auction:new"
)

// Event is one snapshot delivered to subscribers of a topic.
type Event struct {
	Type     EventType        `json:"type"`
	Snapshot auction.Snapshot `json:"snapshot"`
}

// Subscription receives the events of one topic on C until Close.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	id    uint64
	topic string
	feed  *Feed
	once  sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.feed.remove(s) })
}

// Feed fans auction snapshots out to topic subscribers. Delivery never
// blocks the publisher: a subscriber whose buffer is full loses its oldest
// queued event. A snapshot older than one already published for the same
// auction on the same topic is dropped.
type Feed struct {
	buffer  int
	metrics Metrics

	mu     sync.Mutex
	topics map[string]map[uint64]*Subscription
	last   map[string]uint64
	nextID uint64
}

func NewFeed(buffer int, metrics Metrics) *Feed {
	if buffer <= 0 {
		buffer = 16
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Feed{
		buffer:  buffer,
		metrics: metrics,
		topics:  make(map[string]map[uint64]*Subscription),
		last:    make(map[string]uint64),
	}
}

func (f *Feed) Subscribe(topic string) *Subscription {
	ch := make(chan Event, f.buffer)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	sub := &Subscription{C: ch, ch: ch, id: f.nextID, topic: topic, feed: f}
	subs, ok := f.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		f.topics[topic] = subs
	}
	subs[sub.id] = sub
	f.metrics.AddFeedSubscribers(1)
	return sub
}

func (f *Feed) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs := f.topics[sub.topic]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(f.topics, sub.topic)
	}
	close(sub.ch)
	f.metrics.AddFeedSubscribers(-1)
}

// Publish delivers ev to the current subscribers of topic and returns how
// many received it. Stale snapshots are not delivered.
func (f *Feed) Publish(topic string, ev Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := topic + "\x00" + ev.Snapshot.ID
	if ev.Snapshot.Version <= f.last[key] {
		return 0
	}
	f.last[key] = ev.Snapshot.Version

	delivered := 0
	for _, sub := range f.topics[topic] {
		if offer(sub.ch, ev) {
			delivered++
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers of topic.
func (f *Feed) Subscribers(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topics[topic])
}

// offer enqueues ev, evicting the oldest queued event when ch is full.
func offer(ch chan Event, ev Event) bool {
	for i := 0; i < 2; i++ {
		select {
		case ch <- ev:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}
