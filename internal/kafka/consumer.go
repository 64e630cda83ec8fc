package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-klippekort/internal/logger"
	"ms-klippekort/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RefundHandler applies one refund outcome. A returned error makes the
// consumer retry the same message; later messages wait until it succeeds.
type RefundHandler func(ctx context.Context, outcome models.RefundOutcome) error

// RefundConsumer reads refund outcomes reported by the payment relay.
type RefundConsumer struct {
	reader messageReader
	logger *logger.Logger

	RetryInitial time.Duration
	RetryMax     time.Duration
}

func NewRefundConsumer(brokers []string, topic, groupID string, log *logger.Logger) *RefundConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &RefundConsumer{
		reader:       reader,
		logger:       log,
		RetryInitial: time.Second,
		RetryMax:     30 * time.Second,
	}
}

// Start consumes until ctx is cancelled.
func (c *RefundConsumer) Start(ctx context.Context, handle RefundHandler) error {
	c.logger.Info("KAFKA", "Refund consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.logger.Info("KAFKA", "Refund consumer stopped")
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading refund message: %v", err))
			continue
		}

		var outcome models.RefundOutcome
		if err := json.Unmarshal(msg.Value, &outcome); err != nil || outcome.OrderReference == "" {
			c.logger.Warn("KAFKA", fmt.Sprintf("Skipping malformed refund message at offset %d", msg.Offset))
			c.commit(ctx, msg)
			continue
		}

		if err := c.applyWithRetry(ctx, handle, outcome); err != nil {
			c.logger.Info("KAFKA", fmt.Sprintf("Refund consumer stopped with %s at offset %d uncommitted", outcome.OrderReference, msg.Offset))
			return nil
		}

		c.logger.LogKafka("CONSUME", msg.Topic, fmt.Sprintf("refund applied to %s", outcome.OrderReference))
		c.commit(ctx, msg)
	}
}

// applyWithRetry runs handle until it succeeds or ctx is cancelled. The
// offset is never committed past a refund that was not applied.
func (c *RefundConsumer) applyWithRetry(ctx context.Context, handle RefundHandler, outcome models.RefundOutcome) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryInitial
	b.MaxInterval = c.RetryMax
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		return handle(ctx, outcome)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.Error("KAFKA", fmt.Sprintf("Refund for %s not applied, retrying in %s: %v", outcome.OrderReference, wait, err))
	})
}

func (c *RefundConsumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
	}
}

func (c *RefundConsumer) Close() error {
	return c.reader.Close()
}
