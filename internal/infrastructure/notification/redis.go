package notification

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/config"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
)

// RedisNotifier appends notifications as JSON to a Redis list consumed by
// the mailer.
type RedisNotifier struct {
	client *redis.Client
	queue  string
	logger *zap.Logger
}

func NewRedisNotifier(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis notifier initialized",
		zap.String("addr", cfg.URL),
		zap.String("queue", cfg.NotificationQueue),
	)
	return &RedisNotifier{client: client, queue: cfg.NotificationQueue, logger: logger}, nil
}

func (n *RedisNotifier) Notify(ctx context.Context, msg bidding.Notification) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	if err := n.client.RPush(ctx, n.queue, data).Err(); err != nil {
		return errors.NewExternalError("redis", "failed to enqueue notification").WithCause(err)
	}
	return nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
