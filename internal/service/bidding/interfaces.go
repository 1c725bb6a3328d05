package bidding

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/dispatch"
)

// AuctionGateway loads and saves the whole auction table.
type AuctionGateway interface {
	// LoadAll returns every stored auction.
	LoadAll(ctx context.Context) ([]auction.Auction, error)
	// SaveAll writes auctions, replacing stored copies with the same id.
	SaveAll(ctx context.Context, auctions []auction.Auction) error
}

// ScoreStore updates user outcome records. Unknown identities are no-ops,
// reported through the boolean or count results rather than errors.
type ScoreStore interface {
	// IncrementWin adds one win to the user.
	IncrementWin(ctx context.Context, identity string) (bool, error)
	// AddCurrentWin records that the user won auctionID. Recording the same
	// auction twice leaves one record.
	AddCurrentWin(ctx context.Context, identity, auctionID string, at time.Time) (bool, error)
	// IncrementLose adds one loss to every identity not in exclude and
	// returns how many users were updated.
	IncrementLose(ctx context.Context, identities []string, exclude []string) (int, error)
}

// Notifier delivers user facing notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Dispatcher runs side effects off the bid path.
type Dispatcher interface {
	Submit(ctx context.Context, task dispatch.Task)
}

// Metrics receives engine measurements.
type Metrics interface {
	RecordBid(ctx context.Context, elapsed time.Duration, reason string)
	RecordFinalization(ctx context.Context, trigger string)
	RecordSweep(ctx context.Context, elapsed time.Duration, finalized int)
	SetOpenAuctions(n int64)
	AddFeedSubscribers(delta int64)
}

type NotificationKind string

const (
	NotifyOutBid      NotificationKind = "OutBid"
	NotifyTopBidder   NotificationKind = "TopBidder"
	NotifyCanSell     NotificationKind = "CanSell"
	NotifyGotIt       NotificationKind = "GotIt"
	NotifyAuctionLost NotificationKind = "AuctionLost"
)

// Notification is one message to one recipient about one auction.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Recipient string           `json:"recipient"`
	AuctionID string           `json:"auction_id"`
	Title     string           `json:"title,omitempty"`
	Price     decimal.Decimal  `json:"price"`
	CreatedAt time.Time        `json:"created_at"`
}

type noopMetrics struct{}

func (noopMetrics) RecordBid(context.Context, time.Duration, string) {}
func (noopMetrics) RecordFinalization(context.Context, string) {}
func (noopMetrics) RecordSweep(context.Context, time.Duration, int) {}
func (noopMetrics) SetOpenAuctions(int64) {}
func (noopMetrics) AddFeedSubscribers(int64) {}
