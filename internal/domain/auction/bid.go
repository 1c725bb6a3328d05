package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidMode selects how the new price of a bid is computed.
type BidMode int

const (
	// BidStandard adds the auction's fixed increment to the current price.
	BidStandard BidMode = iota
	// BidCustom sets the price to a caller supplied value.
	BidCustom
)

func (m BidMode) String() string {
	switch m {
	case BidStandard:
		return "standard"
	case BidCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// BidRequest is one bid submission. Value is the raw custom amount as it came
// off the wire and is only read for BidCustom.
type BidRequest struct {
	AuctionID string
	Bidder    string
	Mode      BidMode
	Value     string
}

// Outcome of a bid submission.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeRejected
)

func (o Outcome) String() string {
	if o == OutcomeAccepted {
		return "accepted"
	}
	return "rejected"
}

// RejectReason explains why a bid had no effect.
type RejectReason string

const (
	RejectNone         RejectReason = ""
	RejectNotFound     RejectReason = "not_found"
	RejectClosed       RejectReason = "closed"
	RejectSelfBid      RejectReason = "self_bid"
	RejectInvalidInput RejectReason = "invalid_input"
)

// Silent reports whether the rejection is a no-op that transports do not
// surface to the bidder unless explicit rejections are enabled.
func (r RejectReason) Silent() bool {
	return r == RejectNotFound || r == RejectClosed || r == RejectSelfBid
}

// BidResult is what the bid engine reports back to the submitter.
type BidResult struct {
	Outcome   Outcome      `json:"outcome"`
	Reason    RejectReason `json:"reason,omitempty"`
	Finalized bool         `json:"finalized"`
	Snapshot  *Snapshot    `json:"snapshot,omitempty"`
}

func (r BidResult) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

// Rejected builds a rejected result.
func Rejected(reason RejectReason) BidResult {
	return BidResult{Outcome: OutcomeRejected, Reason: reason}
}

// NewAuction carries a listing accepted by the catalog flow.
type NewAuction struct {
	ID           string
	Title        string
	Description  string
	Category     string
	Owner        string
	StartPrice   decimal.Decimal
	Increment    decimal.Decimal
	PriceCap     decimal.Decimal
	DurationDays int
	EndsAt       *time.Time
}

// Build materializes the listing into an open auction starting at now.
// An explicit EndsAt wins over DurationDays; neither means cap-only.
func (n NewAuction) Build(id string, now time.Time) *Auction {
	a := &Auction{
		ID:           id,
		Title:        n.Title,
		Description:  n.Description,
		Category:     n.Category,
		CurrentPrice: n.StartPrice,
		Increment:    n.Increment,
		PriceCap:     n.PriceCap,
		Owner:        NormalizeIdentity(n.Owner),
		Participants: []string{},
		StartedAt:    now,
		Status:       StatusOpen,
		Version:      1,
	}
	switch {
	case n.EndsAt != nil:
		t := n.EndsAt.UTC()
		a.EndsAt = &t
	case n.DurationDays > 0:
		t := now.Add(time.Duration(n.DurationDays) * 24 * time.Hour)
		a.EndsAt = &t
	}
	return a
}
