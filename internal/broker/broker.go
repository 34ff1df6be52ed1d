package broker

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"riskcfg/internal/config"
	"riskcfg/internal/logger"
	"riskcfg/pkg/models"
)

// Producer publishes version lifecycle notifications. Publish must not return before the
// broker acknowledged the message; the outbox marks rows sent on a nil error.
type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error

type consumerOptions struct {
	groupID     string
	startOffset int64
}

type ConsumerOption func(*consumerOptions)

// WithGroupID overrides the configured consumer group. An empty id reads without a group:
// nothing is committed and reading starts at the newest offset.
func WithGroupID(id string) ConsumerOption {
	return func(o *consumerOptions) {
		o.groupID = id
		if id == "" {
			o.startOffset = kafka.LastOffset
		}
	}
}

// NewProducer returns nil without error when no broker is configured; callers then leave
// notifications in the outbox.
func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "kafka":
		return NewKafkaProducer(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger, opts ...ConsumerOption) (Consumer, error) {
	if cfg.Type != "kafka" {
		return nil, fmt.Errorf("unknown broker type: %q", cfg.Type)
	}
	return NewKafkaConsumer(cfg.Kafka, log, opts...), nil
}
