package bidding

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
)

// entry guards one auction. Every read-modify-write of the auction happens
// with mu held; different auctions never share a lock.
type entry struct {
	mu sync.Mutex
	a  *auction.Auction
}

func (e *entry) snapshot() auction.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.a.Clone()
}

// Store is the authoritative in-process auction table. The store lock only
// guards the map itself.
type Store struct {
	gateway AuctionGateway

	mu      sync.RWMutex
	entries map[string]*entry

	hydrate singleflight.Group
}

// NewStore creates an empty store. gateway may be nil, in which case
// Ensure never hydrates.
func NewStore(gateway AuctionGateway) *Store {
	return &Store{
		gateway: gateway,
		entries: make(map[string]*entry),
	}
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

// Get returns a copy of the auction.
func (s *Store) Get(id string) (auction.Snapshot, bool) {
	e := s.lookup(id)
	if e == nil {
		return auction.Snapshot{}, false
	}
	return e.snapshot(), true
}

// insert adds a when no auction with its id exists.
func (s *Store) insert(a auction.Auction) bool {
	a.Normalize()
	cp := a.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[a.ID]; ok {
		return false
	}
	s.entries[a.ID] = &entry{a: &cp}
	return true
}

// Load hydrates the store in bulk. Auctions already live are kept; loaded
// copies never overwrite them. It returns how many auctions were added.
func (s *Store) Load(set []auction.Auction) int {
	added := 0
	for _, a := range set {
		if a.ID == "" {
			continue
		}
		if s.insert(a) {
			added++
		}
	}
	return added
}

// Ensure returns the auction, hydrating the store from the gateway when the
// id is unknown. Concurrent misses share one gateway load.
func (s *Store) Ensure(ctx context.Context, id string) (auction.Snapshot, bool, error) {
	if snap, ok := s.Get(id); ok {
		return snap, true, nil
	}
	if s.gateway == nil {
		return auction.Snapshot{}, false, nil
	}

	_, err, _ := s.hydrate.Do("load", func() (interface{}, error) {
		set, err := s.gateway.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("hydrating auctions: %w", err)
		}
		return s.Load(set), nil
	})
	if err != nil {
		return auction.Snapshot{}, false, err
	}

	snap, ok := s.Get(id)
	return snap, ok, nil
}

// All returns a point-in-time copy of every auction, sorted by id.
func (s *Store) All() []auction.Snapshot {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]auction.Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of auctions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// dueForFinalization lists open auctions whose end time is at or before now,
// and the number of auctions still open.
func (s *Store) dueForFinalization(now time.Time) (due []string, open int) {
	s.mu.RLock()
	entries := make(map[string]*entry, len(s.entries))
	for id, e := range s.entries {
		entries[id] = e
	}
	s.mu.RUnlock()

	for id, e := range entries {
		e.mu.Lock()
		if e.a.IsOpen() {
			open++
			if e.a.IsExpired(now) {
				due = append(due, id)
			}
		}
		e.mu.Unlock()
	}
	sort.Strings(due)
	return due, open
}
