package rest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
)

// CreateAuctionRequest registers a new listing. Prices accept JSON numbers
// or strings.
type CreateAuctionRequest struct {
	Title        string          `json:"title" validate:"required,max=200"`
	Description  string          `json:"description" validate:"max=5000"`
	Category     string          `json:"category" validate:"max=100"`
	Owner        string          `json:"owner" validate:"required,max=254"`
	StartPrice   decimal.Decimal `json:"start_price"`
	Increment    decimal.Decimal `json:"increment"`
	PriceCap     decimal.Decimal `json:"price_cap"`
	DurationDays int             `json:"duration_days" validate:"gte=0,lte=365"`
	EndsAt       *time.Time      `json:"ends_at,omitempty"`
}

func (r CreateAuctionRequest) listing() auction.NewAuction {
	return auction.NewAuction{
		Title:        r.Title,
		Description:  r.Description,
		Category:     r.Category,
		Owner:        r.Owner,
		StartPrice:   r.StartPrice,
		Increment:    r.Increment,
		PriceCap:     r.PriceCap,
		DurationDays: r.DurationDays,
		EndsAt:       r.EndsAt,
	}
}

// PlaceBidRequest submits a bid. Mode defaults to standard; Value is read
// for custom bids only.
type PlaceBidRequest struct {
	Bidder string `json:"bidder" validate:"max=254"`
	Mode   string `json:"mode" validate:"omitempty,oneof=standard custom"`
	Value  string `json:"value" validate:"required_if=Mode custom"`
}

func (r PlaceBidRequest) mode() auction.BidMode {
	if r.Mode == auction.BidCustom.String() {
		return auction.BidCustom
	}
	return auction.BidStandard
}
