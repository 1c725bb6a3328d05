// Package bidding holds the authoritative auction state and applies bids,
// finalization and expiry to it.
package bidding

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/dispatch"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/telemetry"
)

// Options tune engine behavior.
type Options struct {
	// StrictCustomBids rejects custom bids at or below the current price.
	StrictCustomBids bool
	// SweepConcurrency bounds parallel finalizations during a sweep.
	SweepConcurrency int
	// Now overrides the clock.
	Now func() time.Time
}

// Deps are the collaborators of the engine. Metrics may be nil.
type Deps struct {
	Store      *Store
	Feed       *Feed
	Persister  *Persister
	Dispatcher Dispatcher
	Notifier   Notifier
	Scores     ScoreStore
	Metrics    Metrics
	Logger     *zap.Logger
}

type Engine struct {
	store      *Store
	feed       *Feed
	persister  *Persister
	dispatcher Dispatcher
	notifier   Notifier
	scores     ScoreStore
	metrics    Metrics
	logger     *zap.Logger
	tracer     trace.Tracer

	strictCustom     bool
	sweepConcurrency int
	now              func() time.Time
}

func NewEngine(deps Deps, opts Options) *Engine {
	e := &Engine{
		store:            deps.Store,
		feed:             deps.Feed,
		persister:        deps.Persister,
		dispatcher:       deps.Dispatcher,
		notifier:         deps.Notifier,
		scores:           deps.Scores,
		metrics:          deps.Metrics,
		logger:           deps.Logger,
		tracer:           telemetry.Tracer("auction.bidding"),
		strictCustom:     opts.StrictCustomBids,
		sweepConcurrency: opts.SweepConcurrency,
		now:              opts.Now,
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sweepConcurrency <= 0 {
		e.sweepConcurrency = 8
	}
	return e
}

// SubmitBid applies one bid. Only malformed input is returned as an error;
// bids on unknown or closed auctions and bids by the owner are rejected
// without side effects and a nil error.
func (e *Engine) SubmitBid(ctx context.Context, req auction.BidRequest) (auction.BidResult, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "bidding.SubmitBid", trace.WithAttributes(
		attribute.String("auction.id", req.AuctionID),
		attribute.String("bid.mode", req.Mode.String()),
	))
	defer span.End()

	result, err := e.submitBid(ctx, req)
	telemetry.RecordError(span, err)
	span.SetAttributes(
		attribute.String("bid.outcome", result.Outcome.String()),
		attribute.Bool("auction.finalized", result.Finalized),
	)
	e.metrics.RecordBid(ctx, time.Since(started), string(result.Reason))
	return result, err
}

func (e *Engine) submitBid(ctx context.Context, req auction.BidRequest) (auction.BidResult, error) {
	bidder := auction.NormalizeIdentity(req.Bidder)
	if bidder == "" {
		return auction.Rejected(auction.RejectInvalidInput),
			errors.NewValidationError("INVALID_BIDDER", "bidder identity is required")
	}

	var custom decimal.Decimal
	switch req.Mode {
	case auction.BidStandard:
	case auction.BidCustom:
		v, err := decimal.NewFromString(strings.TrimSpace(req.Value))
		if err != nil {
			return auction.Rejected(auction.RejectInvalidInput),
				errors.NewValidationError("INVALID_AMOUNT", "custom bid amount is not a number").WithCause(err)
		}
		if v.IsNegative() {
			return auction.Rejected(auction.RejectInvalidInput),
				errors.NewValidationError("INVALID_AMOUNT", "custom bid amount must not be negative")
		}
		custom = v
	default:
		return auction.Rejected(auction.RejectInvalidInput),
			errors.NewValidationError("INVALID_MODE", "unknown bid mode")
	}

	ent := e.store.lookup(req.AuctionID)
	if ent == nil {
		return auction.Rejected(auction.RejectNotFound), nil
	}

	ent.mu.Lock()
	a := ent.a
	if !a.IsOpen() {
		ent.mu.Unlock()
		return auction.Rejected(auction.RejectClosed), nil
	}
	if bidder == a.Owner {
		ent.mu.Unlock()
		return auction.Rejected(auction.RejectSelfBid), nil
	}

	var price decimal.Decimal
	if req.Mode == auction.BidStandard {
		price = a.CurrentPrice.Add(a.Increment)
	} else {
		if e.strictCustom && custom.LessThanOrEqual(a.CurrentPrice) {
			ent.mu.Unlock()
			return auction.Rejected(auction.RejectInvalidInput),
				errors.NewValidationError("BID_TOO_LOW", "custom bid must exceed the current price").
					WithDetails(map[string]interface{}{"current_price": a.CurrentPrice.String()})
		}
		price = custom
	}

	previous := a.HighestBidder
	a.CurrentPrice = price
	a.HighestBidder = bidder
	a.AddParticipant(bidder)
	a.BidCount++
	a.Version++

	now := e.now()
	trigger := ""
	switch {
	case price.GreaterThanOrEqual(a.PriceCap):
		trigger = "cap"
	case a.IsExpired(now):
		trigger = "expiry"
	}
	finalized := trigger != ""
	if finalized {
		markFinalized(a, now)
	}
	snap := a.Clone()
	ent.mu.Unlock()

	if previous != bidder {
		e.leaderChanged(ctx, snap, previous, finalized)
	}

	if finalized {
		e.afterFinalize(ctx, snap, trigger)
	} else {
		e.persister.MarkDirty()
		e.feed.Publish(snap.ID, Event{Type: EventUpdate, Snapshot: snap})
	}

	e.logger.Debug("bid accepted",
		zap.String("auction_id", snap.ID),
		zap.String("bidder", bidder),
		zap.String("price", snap.CurrentPrice.String()),
		zap.Bool("finalized", finalized),
	)
	return auction.BidResult{Outcome: auction.OutcomeAccepted, Finalized: finalized, Snapshot: &snap}, nil
}

// leaderChanged notifies the displaced leader, and the new leader while the
// auction is still running.
func (e *Engine) leaderChanged(ctx context.Context, snap auction.Snapshot, previous string, finalized bool) {
	if previous != "" {
		e.notify(ctx, NotifyOutBid, previous, snap)
	}
	if !finalized {
		e.notify(ctx, NotifyTopBidder, snap.HighestBidder, snap)
	}
}

// Register validates a new listing, stores it as an open auction and
// announces it on the lobby topic.
func (e *Engine) Register(ctx context.Context, listing auction.NewAuction) (auction.Snapshot, error) {
	if err := validateListing(listing); err != nil {
		return auction.Snapshot{}, err
	}

	id := strings.TrimSpace(listing.ID)
	if id == "" {
		id = uuid.NewString()
	}

	a := listing.Build(id, e.now())
	if !e.store.insert(*a) {
		return auction.Snapshot{}, errors.NewConflictError("auction " + id + " already exists")
	}
	snap, _ := e.store.Get(id)

	e.persister.MarkDirty()
	e.feed.Publish(LobbyTopic, Event{Type: EventAuctionNew, Snapshot: snap})

	e.logger.Info("auction registered",
		zap.String("auction_id", id),
		zap.String("owner", snap.Owner),
		zap.String("price_cap", snap.PriceCap.String()),
	)
	return snap, nil
}

func validateListing(n auction.NewAuction) error {
	invalid := func(code, msg string) error { return errors.NewValidationError(code, msg) }

	switch {
	case strings.TrimSpace(n.Title) == "":
		return invalid("INVALID_TITLE", "title is required")
	case auction.NormalizeIdentity(n.Owner) == "":
		return invalid("INVALID_OWNER", "owner is required")
	case !n.StartPrice.IsPositive():
		return invalid("INVALID_START_PRICE", "start price must be positive")
	case !n.Increment.IsPositive():
		return invalid("INVALID_INCREMENT", "increment must be positive")
	case n.PriceCap.LessThan(n.StartPrice):
		return invalid("INVALID_PRICE_CAP", "price cap must not be below the start price")
	case n.DurationDays < 0:
		return invalid("INVALID_DURATION", "duration must not be negative")
	}
	return nil
}

// ListAuctions returns a point-in-time copy of every auction, sorted by id.
func (e *Engine) ListAuctions() []auction.Snapshot {
	return e.store.All()
}

// GetAuction returns one auction, hydrating the store on a miss.
func (e *Engine) GetAuction(ctx context.Context, id string) (auction.Snapshot, error) {
	snap, ok, err := e.store.Ensure(ctx, id)
	if err != nil {
		return auction.Snapshot{}, errors.NewExternalError("auction store", "failed to load auctions").WithCause(err)
	}
	if !ok {
		return auction.Snapshot{}, errors.NewNotFoundError("auction")
	}
	return snap, nil
}

// Subscribe registers for updates of one auction and returns its current
// snapshot. The subscription is taken before the snapshot is read, so no
// update published after the snapshot is missed. An expired auction that is
// still open is finalized on the way. The subscription closes when ctx is
// done.
func (e *Engine) Subscribe(ctx context.Context, id string) (auction.Snapshot, *Subscription, error) {
	sub := e.feed.Subscribe(id)

	snap, err := e.GetAuction(ctx, id)
	if err != nil {
		sub.Close()
		return auction.Snapshot{}, nil, err
	}

	if snap.IsOpen() && snap.IsExpired(e.now()) {
		e.finalize(ctx, id, "join")
		snap, _ = e.store.Get(id)
	}

	context.AfterFunc(ctx, sub.Close)
	return snap, sub, nil
}

// SubscribeLobby registers for newly registered auctions.
func (e *Engine) SubscribeLobby(ctx context.Context) *Subscription {
	sub := e.feed.Subscribe(LobbyTopic)
	context.AfterFunc(ctx, sub.Close)
	return sub
}

func (e *Engine) notify(ctx context.Context, kind NotificationKind, recipient string, snap auction.Snapshot) {
	n := Notification{
		ID:        uuid.New(),
		Kind:      kind,
		Recipient: recipient,
		AuctionID: snap.ID,
		Title:     snap.Title,
		Price:     snap.CurrentPrice,
		CreatedAt: e.now(),
	}
	e.submit(ctx, "notify."+string(kind), snap.ID, func(ctx context.Context) error {
		return e.notifier.Notify(ctx, n)
	})
}

func (e *Engine) submit(ctx context.Context, effect, subject string, run func(ctx context.Context) error) {
	e.dispatcher.Submit(ctx, dispatch.Task{Effect: effect, Subject: subject, Run: run})
}
