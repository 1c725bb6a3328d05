package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/auth"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/config"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
	"github.com/davidleathers/live-auction-backend/internal/testutil"
	"github.com/davidleathers/live-auction-backend/internal/testutil/fixtures"
	"github.com/davidleathers/live-auction-backend/internal/testutil/harness"
)

type frame struct {
	Type      string          `json:"type"`
	AuctionID string          `json:"auction_id"`
	Data      json.RawMessage `json:"data"`
	Reason    string          `json:"reason"`
	Message   string          `json:"message"`
}

func (f frame) snapshot(t *testing.T) auction.Snapshot {
	t.Helper()
	var s auction.Snapshot
	require.NoError(t, json.Unmarshal(f.Data, &s))
	return s
}

type testServer struct {
	hub     *Hub
	server  *httptest.Server
	harness *harness.Harness
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	h := harness.New(t, bidding.Options{}, fixtures.NewAuctionBuilder().Build())

	if cfg.WebSocketConfig == (config.WebSocketConfig{}) {
		cfg.WebSocketConfig = config.Defaults().WebSocket
	}
	hub := NewHub(h.Engine, cfg, zaptest.NewLogger(t))
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Shutdown(context.Background())
		srv.Close()
	})
	return &testServer{hub: hub, server: srv, harness: h}
}

func (s *testServer) url(query string) string {
	u := "ws" + strings.TrimPrefix(s.server.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url(query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	init := next(t, conn)
	require.Equal(t, MsgAuctionsInit, init.Type)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func next(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// nextOf skips frames until one of type typ arrives.
func nextOf(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for {
		f := next(t, conn)
		if f.Type == typ {
			return f
		}
	}
}

func TestHub_InitListsAuctions(t *testing.T) {
	s := newTestServer(t, Config{})

	conn, _, err := websocket.DefaultDialer.Dial(s.url(""), nil)
	require.NoError(t, err)
	defer conn.Close()

	f := next(t, conn)
	require.Equal(t, MsgAuctionsInit, f.Type)

	var list []auction.Snapshot
	require.NoError(t, json.Unmarshal(f.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "A1", list[0].ID)
}

func TestHub_JoinAndReceiveUpdates(t *testing.T) {
	s := newTestServer(t, Config{})
	watcher := s.dial(t, "")
	bidder := s.dial(t, "")

	send(t, watcher, ClientMessage{Type: MsgJoin, AuctionID: "A1"})
	joined := nextOf(t, watcher, MsgUpdate)
	assert.True(t, joined.snapshot(t).CurrentPrice.Equal(decimal.NewFromInt(100)))

	send(t, bidder, ClientMessage{Type: MsgIncrement, AuctionID: "A1", Bidder: "b@x"})

	update := nextOf(t, watcher, MsgUpdate)
	snap := update.snapshot(t)
	assert.Equal(t, "A1", update.AuctionID)
	assert.True(t, snap.CurrentPrice.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, "b@x", snap.HighestBidder)
	assert.Equal(t, int64(1), snap.BidCount)
}

func TestHub_CapFinalizationIsPushed(t *testing.T) {
	s := newTestServer(t, Config{})
	conn := s.dial(t, "")

	send(t, conn, ClientMessage{Type: MsgJoin, AuctionID: "A1"})
	nextOf(t, conn, MsgUpdate)

	send(t, conn, ClientMessage{Type: MsgCustomIncrement, AuctionID: "A1", Bidder: "c@x", Value: json.RawMessage(`"130"`)})

	snap := nextOf(t, conn, MsgUpdate).snapshot(t)
	assert.Equal(t, auction.StatusFinalized, snap.Status)
	assert.Equal(t, "c@x", snap.HighestBidder)
}

func TestHub_JoinUnknownAuction(t *testing.T) {
	s := newTestServer(t, Config{})
	conn := s.dial(t, "")

	send(t, conn, ClientMessage{Type: MsgJoin, AuctionID: "nope"})
	f := nextOf(t, conn, MsgUpdateError)
	assert.Equal(t, "nope", f.AuctionID)
	assert.Equal(t, "Auction not found", f.Message)
}

func TestHub_LeaveStopsUpdates(t *testing.T) {
	s := newTestServer(t, Config{})
	conn := s.dial(t, "")

	send(t, conn, ClientMessage{Type: MsgJoin, AuctionID: "A1"})
	nextOf(t, conn, MsgUpdate)
	send(t, conn, ClientMessage{Type: MsgLeave, AuctionID: "A1"})
	send(t, conn, ClientMessage{Type: MsgPing})
	require.Equal(t, MsgPong, next(t, conn).Type)

	_, err := s.harness.Engine.SubmitBid(testutil.TestContext(t), auction.BidRequest{AuctionID: "A1", Bidder: "b@x"})
	require.NoError(t, err)

	send(t, conn, ClientMessage{Type: MsgPing})
	assert.Equal(t, MsgPong, next(t, conn).Type)
}

func TestHub_SilentRejections(t *testing.T) {
	t.Run("hidden by default", func(t *testing.T) {
		s := newTestServer(t, Config{})
		conn := s.dial(t, "")

		send(t, conn, ClientMessage{Type: MsgIncrement, AuctionID: "A1", Bidder: "o@x"})
		send(t, conn, ClientMessage{Type: MsgPing})
		assert.Equal(t, MsgPong, next(t, conn).Type)
	})

	t.Run("explicit", func(t *testing.T) {
		s := newTestServer(t, Config{ExplicitRejections: true})
		conn := s.dial(t, "")

		send(t, conn, ClientMessage{Type: MsgIncrement, AuctionID: "A1", Bidder: "o@x"})
		f := next(t, conn)
		assert.Equal(t, MsgBidRejected, f.Type)
		assert.Equal(t, "self_bid", f.Reason)

		send(t, conn, ClientMessage{Type: MsgIncrement, AuctionID: "missing", Bidder: "b@x"})
		assert.Equal(t, "not_found", next(t, conn).Reason)
	})
}

func TestHub_InvalidCustomBidIsRejected(t *testing.T) {
	s := newTestServer(t, Config{})
	conn := s.dial(t, "")

	send(t, conn, ClientMessage{Type: MsgCustomIncrement, AuctionID: "A1", Bidder: "b@x", Value: json.RawMessage(`"abc"`)})
	f := next(t, conn)
	assert.Equal(t, MsgBidRejected, f.Type)
	assert.Equal(t, "invalid_input", f.Reason)

	snap, ok := s.harness.Store.Get("A1")
	require.True(t, ok)
	assert.Zero(t, snap.BidCount)
}

func TestHub_RateLimitsBids(t *testing.T) {
	cfg := config.Defaults().WebSocket
	cfg.BidsPerSecond = 0.01
	cfg.BidBurst = 1
	s := newTestServer(t, Config{WebSocketConfig: cfg})
	conn := s.dial(t, "")

	send(t, conn, ClientMessage{Type: MsgIncrement, AuctionID: "A1", Bidder: "b@x"})
	send(t, conn, ClientMessage{Type: MsgIncrement, AuctionID: "A1", Bidder: "c@x"})

	f := nextOf(t, conn, MsgBidRejected)
	assert.Equal(t, "rate_limited", f.Reason)

	snap, _ := s.harness.Store.Get("A1")
	assert.Equal(t, int64(1), snap.BidCount)
	assert.Equal(t, "b@x", snap.HighestBidder)
}

func TestHub_TokenIdentity(t *testing.T) {
	verifier := auth.NewVerifier("s3cret", "")
	s := newTestServer(t, Config{Verifier: verifier})

	_, resp, err := websocket.DefaultDialer.Dial(s.url(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := verifier.Issue("d@x", time.Minute)
	require.NoError(t, err)
	conn := s.dial(t, "token="+token)

	send(t, conn, ClientMessage{Type: MsgIncrement, AuctionID: "A1", Bidder: "b@x"})
	send(t, conn, ClientMessage{Type: MsgPing})
	nextOf(t, conn, MsgPong)

	snap, _ := s.harness.Store.Get("A1")
	assert.Equal(t, "d@x", snap.HighestBidder)
}

func TestHub_AuctionNewIsBroadcast(t *testing.T) {
	s := newTestServer(t, Config{})
	conn := s.dial(t, "")

	created, err := s.harness.Engine.Register(testutil.TestContext(t), auction.NewAuction{
		Title:      "Lamp",
		Owner:      "o@x",
		StartPrice: decimal.NewFromInt(20),
		Increment:  decimal.NewFromInt(2),
		PriceCap:   decimal.NewFromInt(50),
	})
	require.NoError(t, err)

	f := nextOf(t, conn, MsgAuctionNew)
	assert.Equal(t, created.ID, f.AuctionID)
	assert.Equal(t, "Lamp", f.snapshot(t).Title)
}

func TestHub_UnknownAndMalformedMessages(t *testing.T) {
	s := newTestServer(t, Config{})
	conn := s.dial(t, "")

	send(t, conn, ClientMessage{Type: "dance"})
	assert.Equal(t, MsgError, next(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	f := next(t, conn)
	assert.Equal(t, MsgError, f.Type)
	assert.Equal(t, "malformed message", f.Message)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, Config{AllowedOrigins: []string{"http://localhost:5173"}})

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(s.url(""), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_ShutdownDisconnectsClients(t *testing.T) {
	s := newTestServer(t, Config{})
	conn := s.dial(t, "")
	require.Eventually(t, func() bool { return s.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.hub.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, s.hub.Clients())
}

func TestClientMessage_CustomValue(t *testing.T) {
	assert.Equal(t, "150", ClientMessage{Value: json.RawMessage(`150`)}.customValue())
	assert.Equal(t, "150.5", ClientMessage{Value: json.RawMessage(`"150.5"`)}.customValue())
	assert.Equal(t, "", ClientMessage{}.customValue())
}
