package auction

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an auction. The only transition is
// Open -> Finalized and it happens at most once.
type Status int

const (
	StatusOpen Status = iota
	StatusFinalized
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// MarshalText keeps the persisted and broadcast form readable.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "finalized":
		*s = StatusFinalized
	default:
		*s = StatusOpen
	}
	return nil
}

// Auction is the authoritative record of one auction. It is owned by the
// auction store; callers outside the store only ever see Snapshots.
type Auction struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`

	CurrentPrice decimal.Decimal `json:"current_price"`
	Increment    decimal.Decimal `json:"increment"`
	PriceCap     decimal.Decimal `json:"price_cap"`

	Owner         string   `json:"owner"`
	HighestBidder string   `json:"highest_bidder,omitempty"`
	Participants  []string `json:"participants"`
	BidCount      int64    `json:"bid_count"`

	StartedAt   time.Time  `json:"started_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	Status      Status     `json:"status"`

	// Version increases on every mutation.
	Version uint64 `json:"version"`
}

// Snapshot is a point-in-time copy of an auction's public fields.
type Snapshot = Auction

// NormalizeIdentity folds an identity (an email address) to its canonical form.
func NormalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsExpired reports whether the auction's time window has elapsed at now.
// Cap-only auctions never expire.
func (a *Auction) IsExpired(now time.Time) bool {
	if a.EndsAt == nil {
		return false
	}
	return !now.Before(*a.EndsAt)
}

func (a *Auction) IsOpen() bool {
	return a.Status == StatusOpen
}

// HasParticipant reports whether identity has ever bid on this auction.
func (a *Auction) HasParticipant(identity string) bool {
	return slices.Contains(a.Participants, NormalizeIdentity(identity))
}

// AddParticipant records identity as a participant; repeated calls are no-ops.
func (a *Auction) AddParticipant(identity string) {
	id := NormalizeIdentity(identity)
	if id == "" || slices.Contains(a.Participants, id) {
		return
	}
	a.Participants = append(a.Participants, id)
}

// Losers returns every participant except the winner.
func (a *Auction) Losers() []string {
	winner := NormalizeIdentity(a.HighestBidder)
	out := make([]string, 0, len(a.Participants))
	for _, p := range a.Participants {
		if p != "" && p != winner {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand across goroutines.
func (a *Auction) Clone() Auction {
	c := *a
	c.Participants = slices.Clone(a.Participants)
	if a.EndsAt != nil {
		t := *a.EndsAt
		c.EndsAt = &t
	}
	if a.FinalizedAt != nil {
		t := *a.FinalizedAt
		c.FinalizedAt = &t
	}
	return c
}

// Normalize folds identities and removes duplicate participants. It is applied
// to records coming from persistence, which may predate normalization.
func (a *Auction) Normalize() {
	a.Owner = NormalizeIdentity(a.Owner)
	a.HighestBidder = NormalizeIdentity(a.HighestBidder)
	participants := make([]string, 0, len(a.Participants))
	for _, p := range a.Participants {
		p = NormalizeIdentity(p)
		if p != "" && !slices.Contains(participants, p) {
			participants = append(participants, p)
		}
	}
	a.Participants = participants
	if a.HighestBidder != "" && !slices.Contains(a.Participants, a.HighestBidder) {
		a.Participants = append(a.Participants, a.HighestBidder)
	}
}
