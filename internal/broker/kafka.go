package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer, logger: util.GetLogger()}
}

// PublishEvent publishes an event to Kafka. Events sharing a key land on the
// same partition, so per-order ordering is kept.
func (p *Producer) PublishEvent(ctx context.Context, key, eventType string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   eventBytes,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("type", eventType))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader is the part of kafka.Reader the consumer loop needs
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader    messageReader
	topic     string
	logger    *zap.Logger
	retryBase time.Duration
	retryMax  time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{
		reader:    reader,
		topic:     topic,
		logger:    util.GetLogger(),
		retryBase: 500 * time.Millisecond,
		retryMax:  30 * time.Second,
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// ErrPermanent marks a message that can never be handled. It is committed and
// skipped instead of being retried.
var ErrPermanent = errors.New("permanent message failure")

// StartConsuming fetches messages until ctx is cancelled. The reader never
// hands back a message it already returned, so a transient handler failure is
// retried in place with backoff. The next message is only fetched once the
// current one succeeded or failed permanently.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Consumer context cancelled, stopping")
				return ctx.Err()
			}
			c.logger.Warn("Error fetching message", zap.Error(err))
			if err := sleepCtx(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		if err := c.handleWithRetry(ctx, handler, msg); err != nil {
			c.logger.Info("Consumer context cancelled, stopping",
				zap.Int64("uncommitted_offset", msg.Offset))
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message", zap.Error(err))
		}
	}
}

// handleWithRetry runs handler until it succeeds or fails permanently. It only
// returns an error when ctx is cancelled, in which case msg must stay
// uncommitted.
func (c *Consumer) handleWithRetry(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	backoff := c.retryBase
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			c.logger.Warn("Dropping unprocessable message",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}

		c.logger.Error("Error handling message, retrying",
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		if backoff *= 2; backoff > c.retryMax {
			backoff = c.retryMax
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
