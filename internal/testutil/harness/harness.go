// Package harness wires a complete in-memory bidding engine for transport
// tests.
package harness

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/dispatch"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
	"github.com/davidleathers/live-auction-backend/internal/testutil"
	"github.com/davidleathers/live-auction-backend/internal/testutil/mocks"
)

type Harness struct {
	Engine     *bidding.Engine
	Store      *bidding.Store
	Dispatcher *dispatch.Dispatcher
	Gateway    *mocks.MemoryGateway
	Notifier   *mocks.RecordingNotifier
	Scores     *mocks.MemoryScoreStore
	Clock      *testutil.Clock
}

// New starts an engine over the given auctions. Everything is stopped when
// the test ends.
func New(t *testing.T, opts bidding.Options, auctions ...auction.Auction) *Harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &Harness{
		Gateway:  mocks.NewMemoryGateway(),
		Notifier: &mocks.RecordingNotifier{},
		Scores:   mocks.NewMemoryScoreStore("o@x", "b@x", "c@x", "d@x"),
		Clock:    testutil.NewClock(testutil.Epoch),
	}
	h.Store = bidding.NewStore(h.Gateway)
	h.Store.Load(auctions)
	h.Dispatcher = dispatch.New(dispatch.Config{Workers: 2, QueueSize: 32, MaxAttempts: 1}, nil, logger, nil)
	h.Dispatcher.Start()

	persister := bidding.NewPersister(h.Gateway, h.Store.All, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go persister.Run(ctx)

	t.Cleanup(func() {
		cancel()
		<-persister.Done()
		_ = h.Dispatcher.Shutdown(context.Background())
	})

	if opts.Now == nil {
		opts.Now = h.Clock.Now
	}
	h.Engine = bidding.NewEngine(bidding.Deps{
		Store:      h.Store,
		Feed:       bidding.NewFeed(16, nil),
		Persister:  persister,
		Dispatcher: h.Dispatcher,
		Notifier:   h.Notifier,
		Scores:     h.Scores,
		Logger:     logger,
	}, opts)
	return h
}
