package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ConsumerConfig configures a Consumer
type ConsumerConfig struct {
	Broker  string
	Topic   string
	GroupID string
}

// Handler processes one decoded event
type Handler func(ctx context.Context, event identity.Event) error

// Consumer reads identity events from Kafka
type Consumer struct {
	reader  messageReader
	logger  logrus.FieldLogger
	backoff time.Duration
}

// NewConsumer creates a consumer in the given consumer group
func NewConsumer(cfg ConsumerConfig, logger logrus.FieldLogger) *Consumer {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{cfg.Broker},
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})
	return newConsumer(reader, logger)
}

func newConsumer(reader messageReader, logger logrus.FieldLogger) *Consumer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Consumer{
		reader:  reader,
		logger:  logger.WithField("component", "event_consumer"),
		backoff: time.Second,
	}
}

// Run hands every event to handle until ctx is cancelled. Undecodable messages and handler
// failures are logged and skipped.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	c.logger.Info("Starting identity event consumer")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.WithField("error", err).Error("Error reading identity event")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		event, err := DecodeEvent(msg)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"offset": msg.Offset,
				"error":  err,
			}).Warn("Skipping undecodable identity event")
			continue
		}

		if err := handle(ctx, event); err != nil {
			c.logger.WithFields(logrus.Fields{
				"event_type": event.Type,
				"tenant_id":  event.TenantID,
				"error":      err,
			}).Error("Failed to handle identity event")
		}
	}
}

// DecodeEvent parses a message written by EncodeEvent
func DecodeEvent(msg kafka.Message) (identity.Event, error) {
	var event identity.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return identity.Event{}, fmt.Errorf("failed to unmarshal identity event: %w", err)
	}
	if event.Type == "" {
		return identity.Event{}, errors.New("identity event has no type")
	}
	return event, nil
}

// Close closes the reader
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka reader: %w", err)
	}
	return nil
}
