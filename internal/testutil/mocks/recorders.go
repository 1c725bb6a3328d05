package mocks

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/domain/user"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
)

// RecordingNotifier keeps every notification it is asked to send.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []bidding.Notification
	err  error
}

func (r *RecordingNotifier) Notify(_ context.Context, n bidding.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

// Fail makes every following Notify return err until Fail(nil).
func (r *RecordingNotifier) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Sent returns a copy of everything sent so far.
func (r *RecordingNotifier) Sent() []bidding.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

// Recipients returns the recipients of notifications of kind, in send order.
func (r *RecordingNotifier) Recipients(kind bidding.NotificationKind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n.Recipient)
		}
	}
	return out
}

// Count returns how many notifications of kind went to recipient.
func (r *RecordingNotifier) Count(kind bidding.NotificationKind, recipient string) int {
	n := 0
	for _, got := range r.Recipients(kind) {
		if got == recipient {
			n++
		}
	}
	return n
}

// MemoryScoreStore is an in-memory ScoreStore over a fixed set of users.
type MemoryScoreStore struct {
	mu    sync.Mutex
	users map[string]*user.User
}

func NewMemoryScoreStore(identities ...string) *MemoryScoreStore {
	s := &MemoryScoreStore{users: make(map[string]*user.User)}
	for _, id := range identities {
		id = auction.NormalizeIdentity(id)
		s.users[id] = &user.User{Email: id}
	}
	return s
}

func (s *MemoryScoreStore) IncrementWin(_ context.Context, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[auction.NormalizeIdentity(identity)]
	if !ok {
		return false, nil
	}
	u.Score.Win++
	return true, nil
}

func (s *MemoryScoreStore) AddCurrentWin(_ context.Context, identity, auctionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[auction.NormalizeIdentity(identity)]
	if !ok {
		return false, nil
	}
	return u.AddCurrentWin(auctionID, at), nil
}

func (s *MemoryScoreStore) IncrementLose(_ context.Context, identities []string, exclude []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[auction.NormalizeIdentity(e)] = true
	}
	seen := make(map[string]bool, len(identities))
	updated := 0
	for _, id := range identities {
		id = auction.NormalizeIdentity(id)
		if id == "" || skip[id] || seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := s.users[id]; ok {
			u.Score.Lose++
			updated++
		}
	}
	return updated, nil
}

// User returns a copy of the user record.
func (s *MemoryScoreStore) User(identity string) (user.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[auction.NormalizeIdentity(identity)]
	if !ok {
		return user.User{}, false
	}
	cp := *u
	cp.CurrentWins = slices.Clone(u.CurrentWins)
	return cp, true
}

// MemoryGateway is an in-memory AuctionGateway that counts saves.
type MemoryGateway struct {
	mu     sync.Mutex
	stored []auction.Auction
	saves  int
}

func NewMemoryGateway(initial ...auction.Auction) *MemoryGateway {
	return &MemoryGateway{stored: cloneAll(initial)}
}

func (g *MemoryGateway) LoadAll(context.Context) ([]auction.Auction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneAll(g.stored), nil
}

func (g *MemoryGateway) SaveAll(_ context.Context, auctions []auction.Auction) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stored = cloneAll(auctions)
	g.saves++
	return nil
}

// Stored returns the last saved table.
func (g *MemoryGateway) Stored() []auction.Auction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneAll(g.stored)
}

func (g *MemoryGateway) Saves() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saves
}

func cloneAll(in []auction.Auction) []auction.Auction {
	out := make([]auction.Auction, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
