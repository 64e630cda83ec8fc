package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-klippekort/internal/config"
	"ms-klippekort/internal/logger"
	"ms-klippekort/internal/models"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes ledger events. Messages are keyed by card id, or by order
// reference for issuance, so events of one card stay ordered.
type Producer struct {
	Writer messageWriter
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

func (p *Producer) PublishCardsIssued(ctx context.Context, event models.LedgerEvent) error {
	return p.publish(ctx, p.Topics.CardsIssued, event.OrderReference, event)
}

func (p *Producer) PublishRedeemed(ctx context.Context, event models.LedgerEvent) error {
	return p.publish(ctx, p.Topics.Redeemed, event.CardID, event)
}

func (p *Producer) PublishDeactivated(ctx context.Context, event models.LedgerEvent) error {
	return p.publish(ctx, p.Topics.Deactivated, event.CardID, event)
}

func (p *Producer) publish(ctx context.Context, topic, key string, event models.LedgerEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Type, topic, err)
	}

	p.Logger.LogKafka("PUBLISH", topic, fmt.Sprintf("%s key=%s", event.Type, key))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
