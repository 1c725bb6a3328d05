package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/api/rest"
	"github.com/davidleathers/live-auction-backend/internal/api/websocket"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/auth"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/config"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/dispatch"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/notification"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/persistence"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/live-auction-backend/internal/metrics"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("auction engine stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	provider, err := telemetry.InitializeOpenTelemetry(ctx, cfg.Telemetry, cfg.Version, cfg.Environment)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.ExportTimeout)
		defer cancel()
		err = multierr.Append(err, provider.Shutdown(shutdownCtx))
	}()

	registry, err := metrics.NewRegistry("auction-engine")
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}
	recorder := engineMetrics{otel: registry}

	stores, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	notifier, err := notification.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	if closer, ok := notifier.(notification.Closer); ok {
		defer func() { err = multierr.Append(err, closer.Close()) }()
	}

	dispatcher := dispatch.New(dispatch.Config{
		Workers:   cfg.Auction.DispatchWorkers,
		QueueSize: cfg.Auction.DispatchQueue,
		Timeout:   cfg.Auction.EffectTimeout,
	}, dispatch.NewDeadLetterQueue(cfg.Auction.DeadLetterSize, logger), logger, recorder)
	dispatcher.Start()

	auctions, err := stores.gateway.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load auctions: %w", err)
	}
	store := bidding.NewStore(stores.gateway)
	store.Load(auctions)
	logger.Info("auctions loaded", zap.Int("count", store.Len()), zap.String("driver", cfg.Persistence.Driver))

	persistCtx, stopPersister := context.WithCancel(context.WithoutCancel(ctx))
	persister := bidding.NewPersister(stores.gateway, store.All, logger)
	go persister.Run(persistCtx)

	engine := bidding.NewEngine(bidding.Deps{
		Store:      store,
		Feed:       bidding.NewFeed(cfg.WebSocket.SendBufferSize, recorder),
		Persister:  persister,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Scores:     stores.scores,
		Metrics:    recorder,
		Logger:     logger,
	}, bidding.Options{
		StrictCustomBids: cfg.Auction.StrictCustomBids,
	})

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		bidding.NewSweeper(engine, cfg.Auction.SweepInterval, logger).Run(ctx)
	}()

	var verifier *auth.Verifier
	if cfg.Security.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
	}

	hub := websocket.NewHub(engine, websocket.Config{
		WebSocketConfig:    cfg.WebSocket,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		ExplicitRejections: cfg.Auction.ExplicitRejections,
		Verifier:           verifier,
	}, logger)

	router := rest.NewRouter(rest.RouterConfig{
		Engine:         engine,
		DeadLetters:    dispatcher,
		WebSocket:      hub,
		Verifier:       verifier,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
		Version:        cfg.Version,
		Logger:         logger,
	})

	serveErr := rest.NewServer(cfg.Server, router, logger).Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = multierr.Combine(
		serveErr,
		hub.Shutdown(shutdownCtx),
		waitFor(shutdownCtx, sweeperDone),
		dispatcher.Shutdown(shutdownCtx),
	)
	stopPersister()
	<-persister.Done()

	logger.Info("auction engine stopped")
	return err
}

func waitFor(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type storage struct {
	gateway bidding.AuctionGateway
	scores  bidding.ScoreStore
	close   func()
}

// openStorage builds the auction gateway and score store of the configured
// persistence driver.
func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	switch cfg.Persistence.Driver {
	case "postgres":
		pool, err := persistence.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		statsCtx, stopStats := context.WithCancel(context.Background())
		go reportPoolStats(statsCtx, pool, 15*time.Second)
		return &storage{
			gateway: persistence.NewPostgresGateway(pool, logger),
			scores:  persistence.NewPostgresScoreStore(pool),
			close: func() {
				stopStats()
				pool.Close()
			},
		}, nil

	default:
		gateway, err := persistence.NewFileGateway(cfg.Persistence.DataDir, logger)
		if err != nil {
			return nil, err
		}
		scores, err := persistence.NewFileScoreStore(cfg.Persistence.DataDir)
		if err != nil {
			return nil, err
		}
		return &storage{gateway: gateway, scores: scores, close: func() {}}, nil
	}
}
