// Package notification delivers auction notifications to users through a
// log, a Redis list or a Kafka topic. Rendering and sending the actual
// messages is left to the consumers of those queues.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/config"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
)

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg bidding.Notification) error {
	n.logger.Info("notification",
		zap.String("notification_id", msg.ID.String()),
		zap.String("kind", string(msg.Kind)),
		zap.String("recipient", msg.Recipient),
		zap.String("auction_id", msg.AuctionID),
		zap.String("price", msg.Price.String()),
	)
	return nil
}

// Closer is implemented by notifiers holding connections.
type Closer interface {
	Close() error
}

// New builds the notifier selected by cfg.Notifier.Driver.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (bidding.Notifier, error) {
	switch cfg.Notifier.Driver {
	case "", "log":
		return NewLogNotifier(logger), nil
	case "redis":
		return NewRedisNotifier(ctx, cfg.Redis, logger)
	case "kafka":
		return NewKafkaNotifier(cfg.Kafka, logger)
	default:
		return nil, fmt.Errorf("unknown notifier driver %q", cfg.Notifier.Driver)
	}
}

func encode(msg bidding.Notification) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode notification").WithCause(err)
	}
	return data, nil
}
