package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"riskcfg/internal/config"
	"riskcfg/internal/constants"
	"riskcfg/internal/logger"
	"riskcfg/pkg/errors"
	"riskcfg/pkg/logging"
	"riskcfg/pkg/metrics"
	"riskcfg/pkg/models"
	"riskcfg/pkg/retry"
	"riskcfg/pkg/tracing"
)

const headerEventType = "event_type"

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, logger: log}
}

// Publish writes msg synchronously. Messages of the same partition key land on one partition.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := msg.Metadata.PartitionKey
	if key == "" {
		key = msg.ID
	}

	headers := []kafka.Header{{Key: headerEventType, Value: []byte(msg.Metadata.EventType)}}
	headers = tracing.InjectTraceContext(ctx, headers)

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: headers,
		Time:    msg.Timestamp,
	})
	metrics.ObserveKafkaWriteDuration(constants.ServiceName, topic, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(constants.ServiceName, topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg    config.KafkaConfig
	opts   consumerOptions
	reader *kafka.Reader
	logger logger.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger, opts ...ConsumerOption) *KafkaConsumer {
	o := consumerOptions{groupID: cfg.GroupID, startOffset: kafka.FirstOffset}
	for _, opt := range opts {
		opt(&o)
	}
	return &KafkaConsumer{cfg: cfg, opts: o, logger: log}
}

func (c *KafkaConsumer) commit(ctx context.Context, m kafka.Message) error {
	if c.opts.groupID == "" {
		return nil
	}
	return c.reader.CommitMessages(ctx, m)
}

// Consume blocks until ctx is done. With a group, offsets are committed after the handler
// returns, even when it failed after all retries, so one poison message never stalls the group.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		GroupID:     c.opts.groupID,
		Topic:       topic,
		StartOffset: c.opts.startOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	c.logger.InfowCtx(ctx, "Started consuming", "topic", topic, "group_id", c.opts.groupID)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(ctx, "Stopped consuming", "topic", topic)
				return ctx.Err()
			}
			c.logger.ErrorwCtx(ctx, "Error fetching kafka message", "error", err, "topic", topic)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		metrics.IncKafkaMessagesRead(constants.ServiceName, topic)

		var envelope models.MessageEnvelope
		if err := json.Unmarshal(m.Value, &envelope); err != nil {
			c.logger.ErrorwCtx(ctx, "Failed to unmarshal message", "error", err, "topic", topic, "offset", m.Offset)
			_ = c.commit(ctx, m)
			continue
		}

		msgCtx := tracing.ExtractTraceContext(ctx, m.Headers)
		if envelope.Metadata.TraceID != "" {
			msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
		}

		if err := c.handle(msgCtx, envelope, handler); err != nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries", "error", err, "topic", topic)
		}
		if err := c.commit(ctx, m); err != nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to commit message", "error", err, "topic", topic)
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, envelope models.MessageEnvelope, handler HandlerFunc) error {
	policy := retry.DefaultPolicy()
	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime

	return retry.Retry(ctx, policy, func() error {
		return errors.Guard("consume "+envelope.Metadata.EventType, func() error {
			return handler(ctx, envelope)
		})
	}, func(attempt int, err error) {
		c.logger.WarnwCtx(ctx, "Retrying message processing", "attempt", attempt, "error", err)
	})
}

func (c *KafkaConsumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
