package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
)

// Client is one connected browser.
type Client struct {
	id       uuid.UUID
	identity string
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte
	limiter  *rate.Limiter
	logger   *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu     sync.Mutex
	joined map[string]context.CancelFunc
}

// start sends the current listing and follows newly registered auctions.
func (c *Client) start() {
	c.enqueue(ServerMessage{Type: MsgAuctionsInit, Data: c.hub.engine.ListAuctions()})

	lobby := c.hub.engine.SubscribeLobby(c.ctx)
	c.hub.goClient(func() {
		for ev := range lobby.C {
			c.enqueue(ServerMessage{Type: MsgAuctionNew, AuctionID: ev.Snapshot.ID, Data: ev.Snapshot})
		}
	})
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.hub.unregister(c)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongTimeout))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(ServerMessage{Type: MsgError, Message: "malformed message"})
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(c.hub.config.WriteTimeout))
			return
		}
	}
}

// enqueue blocks until the writer takes the frame or the client goes away.
// Snapshot loss under load is handled upstream by the feed.
func (c *Client) enqueue(msg ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode websocket message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	ctx, span := c.hub.tracer.Start(c.ctx, "websocket.handle_message",
		trace.WithAttributes(
			attribute.String("message_type", msg.Type),
			attribute.String("auction_id", msg.AuctionID),
		),
	)
	defer span.End()

	switch msg.Type {
	case MsgJoin:
		c.handleJoin(ctx, msg.AuctionID)
	case MsgLeave:
		c.leave(msg.AuctionID)
	case MsgIncrement:
		c.handleBid(ctx, msg, auction.BidStandard)
	case MsgCustomIncrement:
		c.handleBid(ctx, msg, auction.BidCustom)
	case MsgPing:
		c.enqueue(ServerMessage{Type: MsgPong})
	default:
		c.enqueue(ServerMessage{Type: MsgError, Message: "unknown message type"})
	}
}

func (c *Client) handleJoin(ctx context.Context, id string) {
	if id == "" {
		c.enqueue(ServerMessage{Type: MsgUpdateError, Message: "Auction id required"})
		return
	}
	c.leave(id)

	subCtx, cancel := context.WithCancel(c.ctx)
	snap, sub, err := c.hub.engine.Subscribe(subCtx, id)
	if err != nil {
		cancel()
		message := "Auction unavailable"
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			message = "Auction not found"
		} else {
			c.logger.Warn("join failed", zap.String("auction_id", id), zap.Error(err))
		}
		c.enqueue(ServerMessage{Type: MsgUpdateError, AuctionID: id, Message: message})
		return
	}

	c.mu.Lock()
	c.joined[id] = cancel
	c.mu.Unlock()

	c.enqueue(ServerMessage{Type: MsgUpdate, AuctionID: id, Data: snap})
	c.hub.goClient(func() { c.forward(subCtx, sub, snap.Version) })
}

// forward relays updates newer than the snapshot already sent until the
// auction is left.
func (c *Client) forward(ctx context.Context, sub *bidding.Subscription, sent uint64) {
	for ev := range sub.C {
		if ctx.Err() != nil || ev.Snapshot.Version <= sent {
			continue
		}
		sent = ev.Snapshot.Version
		c.enqueue(ServerMessage{Type: MsgUpdate, AuctionID: ev.Snapshot.ID, Data: ev.Snapshot})
	}
}

func (c *Client) leave(id string) {
	c.mu.Lock()
	cancel, ok := c.joined[id]
	delete(c.joined, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Client) handleBid(ctx context.Context, msg *ClientMessage, mode auction.BidMode) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.enqueue(ServerMessage{
			Type:      MsgBidRejected,
			AuctionID: msg.AuctionID,
			Reason:    "rate_limited",
			Message:   "Too many bids, slow down",
		})
		return
	}

	bidder := msg.Bidder
	if c.identity != "" {
		bidder = c.identity
	}
	req := auction.BidRequest{AuctionID: msg.AuctionID, Bidder: bidder, Mode: mode}
	if mode == auction.BidCustom {
		req.Value = msg.customValue()
	}

	result, err := c.hub.engine.SubmitBid(ctx, req)
	if err != nil {
		reason := string(auction.RejectInvalidInput)
		if !errors.IsType(err, errors.ErrorTypeValidation) {
			reason = "error"
			c.logger.Error("bid failed", zap.String("auction_id", msg.AuctionID), zap.Error(err))
		}
		c.enqueue(ServerMessage{Type: MsgBidRejected, AuctionID: msg.AuctionID, Reason: reason, Message: err.Error()})
		return
	}

	if !result.Accepted() && (!result.Reason.Silent() || c.hub.config.ExplicitRejections) {
		c.enqueue(ServerMessage{Type: MsgBidRejected, AuctionID: msg.AuctionID, Reason: string(result.Reason)})
	}
}
