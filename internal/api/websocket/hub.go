// Package websocket pushes live auction state to browsers and accepts bids
// over a single websocket connection per client.
package websocket

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/auth"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/config"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
)

// Engine is the part of the bidding engine the websocket transport drives.
type Engine interface {
	SubmitBid(ctx context.Context, req auction.BidRequest) (auction.BidResult, error)
	Subscribe(ctx context.Context, id string) (auction.Snapshot, *bidding.Subscription, error)
	SubscribeLobby(ctx context.Context) *bidding.Subscription
	ListAuctions() []auction.Snapshot
}

// Config holds websocket settings.
type Config struct {
	config.WebSocketConfig
	AllowedOrigins []string
	// ExplicitRejections surfaces silent bid rejections to the bidder.
	ExplicitRejections bool
	// Verifier, when set, is required to resolve the bidder identity.
	Verifier *auth.Verifier
}

// Hub accepts websocket connections and tracks the connected clients.
type Hub struct {
	engine   Engine
	config   Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
	tracer   trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
}

func NewHub(engine Engine, cfg Config, logger *zap.Logger) *Hub {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 64
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongTimeout {
		cfg.PingPeriod = cfg.PongTimeout * 9 / 10
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		engine:  engine,
		config:  cfg,
		logger:  logger,
		tracer:  telemetry.Tracer("api.websocket"),
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[uuid.UUID]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.config.AllowedOrigins, "*") || slices.Contains(h.config.AllowedOrigins, origin)
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "websocket.connect")
	defer span.End()

	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	var identity string
	if h.config.Verifier != nil {
		email, err := h.config.Verifier.Identity(auth.TokenFromRequest(r))
		if err != nil {
			telemetry.RecordError(span, err)
			h.logger.Debug("websocket token rejected", zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		identity = email
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := h.newClient(conn, identity)
	span.SetAttributes(attribute.String("client_id", client.id.String()))

	h.register(client)
	client.start()
	h.goClient(client.writePump)
	h.goClient(client.readPump)
}

func (h *Hub) goClient(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

func (h *Hub) newClient(conn *websocket.Conn, identity string) *Client {
	ctx, cancel := context.WithCancel(h.ctx)
	c := &Client{
		id:       uuid.New(),
		identity: identity,
		conn:     conn,
		hub:      h,
		send:     make(chan []byte, h.config.SendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		joined:   make(map[string]context.CancelFunc),
		logger:   h.logger,
	}
	if h.config.BidsPerSecond > 0 {
		burst := h.config.BidBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(h.config.BidsPerSecond), burst)
	}
	c.logger = h.logger.With(zap.String("client_id", c.id.String()))
	return c
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	c.logger.Debug("websocket client connected", zap.Int("clients", n))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	c.logger.Debug("websocket client disconnected", zap.Int("clients", n))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every client and waits for their goroutines to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
