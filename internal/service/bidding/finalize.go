package bidding

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
)

// markFinalized flips a to Finalized. The caller holds the entry lock.
func markFinalized(a *auction.Auction, now time.Time) {
	a.Status = auction.StatusFinalized
	a.FinalizedAt = &now
	a.Version++
}

// Finalize closes an auction. It reports whether this call performed the
// transition; finalizing an already finalized auction is a no-op.
func (e *Engine) Finalize(ctx context.Context, id string) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "bidding.Finalize", trace.WithAttributes(attribute.String("auction.id", id)))
	defer span.End()

	if e.store.lookup(id) == nil {
		err := errors.NewNotFoundError("auction")
		span.RecordError(err)
		return false, err
	}
	return e.finalize(ctx, id, "manual"), nil
}

func (e *Engine) finalize(ctx context.Context, id, trigger string) bool {
	ent := e.store.lookup(id)
	if ent == nil {
		return false
	}

	ent.mu.Lock()
	if !ent.a.IsOpen() {
		ent.mu.Unlock()
		return false
	}
	markFinalized(ent.a, e.now())
	snap := ent.a.Clone()
	ent.mu.Unlock()

	e.afterFinalize(ctx, snap, trigger)
	return true
}

// afterFinalize dispatches the consequences of a committed flip. Each one is
// an independent task, so one failing never stops the others.
func (e *Engine) afterFinalize(ctx context.Context, snap auction.Snapshot, trigger string) {
	e.metrics.RecordFinalization(ctx, trigger)

	winner := snap.HighestBidder
	wonAt := e.now()
	if snap.FinalizedAt != nil {
		wonAt = *snap.FinalizedAt
	}

	if winner != "" {
		e.submit(ctx, "score.win", snap.ID, func(ctx context.Context) error {
			ok, err := e.scores.IncrementWin(ctx, winner)
			if err == nil && !ok {
				e.logger.Warn("winner has no user record", zap.String("auction_id", snap.ID), zap.String("winner", winner))
			}
			return noRetry(err)
		})
		e.submit(ctx, "score.current_win", snap.ID, func(ctx context.Context) error {
			_, err := e.scores.AddCurrentWin(ctx, winner, snap.ID, wonAt)
			return err
		})
		e.notify(ctx, NotifyCanSell, snap.Owner, snap)
		e.notify(ctx, NotifyGotIt, winner, snap)
	}

	for _, loser := range snap.Losers() {
		e.notify(ctx, NotifyAuctionLost, loser, snap)
	}

	if len(snap.Participants) > 0 {
		participants := append([]string(nil), snap.Participants...)
		e.submit(ctx, "score.lose", snap.ID, func(ctx context.Context) error {
			_, err := e.scores.IncrementLose(ctx, participants, []string{winner})
			return noRetry(err)
		})
	}

	e.feed.Publish(snap.ID, Event{Type: EventUpdate, Snapshot: snap})
	e.persister.MarkDirty()

	e.logger.Info("auction finalized",
		zap.String("auction_id", snap.ID),
		zap.String("trigger", trigger),
		zap.String("winner", winner),
		zap.String("price", snap.CurrentPrice.String()),
		zap.Int("participants", len(snap.Participants)),
	)
}

// Sweep finalizes every open auction whose end time has passed and returns
// how many it finalized.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "bidding.Sweep")
	defer span.End()

	due, open := e.store.dueForFinalization(e.now())

	var finalized atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.sweepConcurrency)
	for _, id := range due {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if e.finalize(gctx, id, "sweep") {
				finalized.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	n := int(finalized.Load())
	e.metrics.SetOpenAuctions(int64(open - n))
	e.metrics.RecordSweep(ctx, time.Since(started), n)
	span.SetAttributes(attribute.Int("sweep.finalized", n))
	if err != nil {
		span.RecordError(err)
		return n, err
	}
	return n, nil
}

// noRetry marks a failed score increment as permanent. Increments are not
// idempotent, so a failure goes to the dead-letter queue for an operator.
func noRetry(err error) error {
	if err == nil {
		return nil
	}
	appErr := errors.NewExternalError("score store", err.Error()).WithCause(err)
	appErr.Retryable = false
	return appErr
}
