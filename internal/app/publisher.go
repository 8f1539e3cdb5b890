package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/infrastructure/redpanda"
	"github.com/drfirst/go-tdm/internal/observability/metrics"
)

// Producer is what Publisher needs from the Redpanda producer.
type Producer interface {
	PublishWithHeaders(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// Publisher counts the messages it hands to a producer.
type Publisher struct {
	producer Producer
	metrics  *metrics.Metrics
}

// NewPublisher wraps p. m may be nil.
func NewPublisher(p Producer, m *metrics.Metrics) *Publisher {
	return &Publisher{producer: p, metrics: m}
}

// Publish sends a message without headers.
func (p *Publisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.PublishWithHeaders(ctx, topic, key, value, nil)
}

// PublishWithHeaders sends a message and counts it once acknowledged.
func (p *Publisher) PublishWithHeaders(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := p.producer.PublishWithHeaders(ctx, topic, key, value, headers); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.KafkaMessagesProduced.Inc()
	}
	return nil
}

// NewProducer creates a producer for brokers.
func NewProducer(brokers []string, logger *zap.Logger) (*redpanda.Producer, error) {
	cfg := redpanda.DefaultProducerConfig()
	cfg.Brokers = brokers
	producer, err := redpanda.NewProducer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	logger.Info("producer configured", zap.Strings("brokers", brokers))
	return producer, nil
}
