package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/ramiqadoumi/go-action-flow/pkg/retry"
)

// Message is the part of a Kafka record handlers see.
type Message struct {
	Topic     string
	Partition int
	Key       []byte
	Value     []byte
	Offset    int64
	Headers   []kafka.Header
}

// HandlerFunc processes a single message. A nil return commits its offset.
type HandlerFunc func(ctx context.Context, msg Message) error

// Consumer reads messages from a Kafka topic.
type Consumer interface {
	Subscribe(ctx context.Context, handler HandlerFunc) error
	Close() error
}

// ConsumerOption configures a consumer.
type ConsumerOption func(*consumer)

// WithHandlerRetry sets how often a failing message is handed to the
// handler again, and the base backoff between tries.
func WithHandlerRetry(attempts int, base time.Duration) ConsumerOption {
	return func(c *consumer) { c.retry.MaxAttempts, c.retry.BaseDelay = attempts, base }
}

type consumer struct {
	reader *kafka.Reader
	retry  retry.Config
	logger *slog.Logger
}

// NewConsumer creates a group consumer on topic with manual commits.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger, opts ...ConsumerOption) Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20, // action requests are small
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	c := &consumer{
		reader: r,
		retry:  retry.Config{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe hands messages to handler in partition order until ctx is
// cancelled. A message the handler keeps failing stops the subscription
// with an error and stays uncommitted: committing any later offset of the
// partition would silently skip it.
func (c *consumer) Subscribe(ctx context.Context, handler HandlerFunc) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		msg := Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Key:       m.Key,
			Value:     m.Value,
			Offset:    m.Offset,
			Headers:   m.Headers,
		}
		carrier := HeaderCarrier(m.Headers)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)

		cfg := c.retry
		cfg.OnRetry = func(attempt int, err error) {
			c.logger.Warn("message handler failed, retrying",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		err = retry.Do(ctx, cfg, func(context.Context) error { return handler(msgCtx, msg) })
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handle %s[%d]@%d: %w", m.Topic, m.Partition, m.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to commit kafka offset",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *consumer) Close() error {
	return c.reader.Close()
}
