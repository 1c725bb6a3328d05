package fixtures

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/testutil"
)

// AuctionBuilder builds test auctions. The defaults match the canonical
// A1 auction: price 100, increment 10, cap 120, owner o@x, no end time.
type AuctionBuilder struct {
	a auction.Auction
}

func NewAuctionBuilder() *AuctionBuilder {
	return &AuctionBuilder{a: auction.Auction{
		ID:           "A1",
		Title:        "Vintage camera",
		Category:     "electronics",
		CurrentPrice: decimal.NewFromInt(100),
		Increment:    decimal.NewFromInt(10),
		PriceCap:     decimal.NewFromInt(120),
		Owner:        "o@x",
		Participants: []string{},
		StartedAt:    testutil.Epoch,
		Status:       auction.StatusOpen,
		Version:      1,
	}}
}

func (b *AuctionBuilder) WithID(id string) *AuctionBuilder {
	b.a.ID = id
	return b
}

func (b *AuctionBuilder) WithOwner(owner string) *AuctionBuilder {
	b.a.Owner = owner
	return b
}

// WithPrices sets current price, increment and cap.
func (b *AuctionBuilder) WithPrices(current, increment, priceCap int64) *AuctionBuilder {
	b.a.CurrentPrice = decimal.NewFromInt(current)
	b.a.Increment = decimal.NewFromInt(increment)
	b.a.PriceCap = decimal.NewFromInt(priceCap)
	return b
}

func (b *AuctionBuilder) WithEndsAt(t time.Time) *AuctionBuilder {
	b.a.EndsAt = &t
	return b
}

// WithLeader sets the highest bidder and adds the given participants.
func (b *AuctionBuilder) WithLeader(leader string, participants ...string) *AuctionBuilder {
	for _, p := range participants {
		b.a.AddParticipant(p)
	}
	b.a.AddParticipant(leader)
	b.a.HighestBidder = leader
	b.a.BidCount = int64(len(b.a.Participants))
	return b
}

func (b *AuctionBuilder) Finalized() *AuctionBuilder {
	b.a.Status = auction.StatusFinalized
	at := testutil.Epoch
	b.a.FinalizedAt = &at
	return b
}

func (b *AuctionBuilder) Build() auction.Auction {
	return b.a.Clone()
}
