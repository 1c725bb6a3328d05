package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/config"
	"github.com/davidleathers/live-auction-backend/internal/service/bidding"
)

// KafkaNotifier produces notifications to a topic, keyed by recipient so
// that one user's notifications stay ordered within a partition.
type KafkaNotifier struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

func NewKafkaNotifier(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}

	logger.Info("kafka notifier initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return &KafkaNotifier{client: client, topic: cfg.Topic, logger: logger}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, msg bidding.Notification) error {
	rec, err := record(n.topic, msg)
	if err != nil {
		return err
	}
	if err := n.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return errors.NewExternalError("kafka", "failed to produce notification").WithCause(err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	n.client.Close()
	return nil
}

func record(topic string, msg bidding.Notification) (*kgo.Record, error) {
	data, err := encode(msg)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(msg.Recipient),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(msg.Kind)},
			{Key: "auction_id", Value: []byte(msg.AuctionID)},
		},
		Timestamp: msg.CreatedAt,
	}, nil
}
