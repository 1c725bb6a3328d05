package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
)

// AuctionGateway mock
type AuctionGateway struct {
	mock.Mock
}

func (m *AuctionGateway) LoadAll(ctx context.Context) ([]auction.Auction, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]auction.Auction), args.Error(1)
}

func (m *AuctionGateway) SaveAll(ctx context.Context, auctions []auction.Auction) error {
	args := m.Called(ctx, auctions)
	return args.Error(0)
}

// Notifier mock
type Notifier struct {
	mock.Mock
}

func (m *Notifier) Notify(ctx context.Context, n bidding.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// ScoreStore mock
type ScoreStore struct {
	mock.Mock
}

func (m *ScoreStore) IncrementWin(ctx context.Context, identity string) (bool, error) {
	args := m.Called(ctx, identity)
	return args.Bool(0), args.Error(1)
}

func (m *ScoreStore) AddCurrentWin(ctx context.Context, identity, auctionID string, at time.Time) (bool, error) {
	args := m.Called(ctx, identity, auctionID, at)
	return args.Bool(0), args.Error(1)
}

func (m *ScoreStore) IncrementLose(ctx context.Context, identities []string, exclude []string) (int, error) {
	args := m.Called(ctx, identities, exclude)
	return args.Int(0), args.Error(1)
}
