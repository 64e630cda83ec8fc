package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ms-klippekort/internal/config"
	"ms-klippekort/internal/logger"
	"ms-klippekort/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

var topics = config.TopicConfig{
	CardsIssued: "klippekort.cards.issued",
	Redeemed:    "klippekort.redeemed",
	Deactivated: "klippekort.deactivated",
}

func TestProducerRoutesEventsByType(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w, Topics: topics, Logger: logger.NewWithWriter(io.Discard)}
	ctx := context.Background()

	issued := models.NewLedgerEvent("klippekort.cards.issued", "kari@example.no", "ORD-1")
	require.NoError(t, p.PublishCardsIssued(ctx, issued))

	redeemed := models.NewLedgerEvent("klippekort.redeemed", "kari@example.no", "ORD-1")
	redeemed.CardID = "KLK000001AA"
	require.NoError(t, p.PublishRedeemed(ctx, redeemed))

	deactivated := models.NewLedgerEvent("klippekort.deactivated", "kari@example.no", "ORD-1")
	deactivated.CardID = "KLK000001AA"
	require.NoError(t, p.PublishDeactivated(ctx, deactivated))

	require.Len(t, w.messages, 3)
	assert.Equal(t, "klippekort.cards.issued", w.messages[0].Topic)
	assert.Equal(t, "ORD-1", string(w.messages[0].Key))
	assert.Equal(t, "klippekort.redeemed", w.messages[1].Topic)
	assert.Equal(t, "KLK000001AA", string(w.messages[1].Key))
	assert.Equal(t, "klippekort.deactivated", w.messages[2].Topic)

	var decoded models.LedgerEvent
	require.NoError(t, json.Unmarshal(w.messages[1].Value, &decoded))
	assert.Equal(t, redeemed.EventID, decoded.EventID)
	assert.Equal(t, "event_type", w.messages[1].Headers[0].Key)
}

func TestProducerWrapsWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &Producer{Writer: w, Topics: topics, Logger: logger.NewWithWriter(io.Discard)}

	err := p.PublishRedeemed(context.Background(), models.NewLedgerEvent("klippekort.redeemed", "a", "b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "klippekort.redeemed")
	assert.Contains(t, err.Error(), "leader not available")
}

type fakeReader struct {
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func newTestConsumer(reader messageReader) *RefundConsumer {
	return &RefundConsumer{
		reader:       reader,
		logger:       logger.NewWithWriter(io.Discard),
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	}
}

func TestRefundConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		messages: []kafka.Message{
			{Offset: 1, Value: []byte(`{"orderReference":"ORD-1","itemName":"Klippekort","refundQty":1}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 4, Value: []byte(`{"orderReference":"ORD-2","amountValue":120000}`)},
		},
	}
	c := newTestConsumer(reader)

	var applied []models.RefundOutcome
	err := c.Start(ctx, func(_ context.Context, o models.RefundOutcome) error {
		applied = append(applied, o)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, applied, 2)
	assert.Equal(t, "Klippekort", applied[0].ItemName)
	assert.False(t, applied[0].IsFullRefund())
	assert.True(t, applied[1].IsFullRefund())
	assert.Equal(t, []int64{1, 2, 4}, reader.committed)
}

func TestRefundConsumerRetriesFailedRefundBeforeMovingOn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		messages: []kafka.Message{
			{Offset: 10, Value: []byte(`{"orderReference":"ORD-A"}`)},
			{Offset: 11, Value: []byte(`{"orderReference":"ORD-B"}`)},
		},
	}
	c := newTestConsumer(reader)

	attempts := map[string]int{}
	var order []string
	err := c.Start(ctx, func(_ context.Context, o models.RefundOutcome) error {
		attempts[o.OrderReference]++
		if o.OrderReference == "ORD-A" && attempts["ORD-A"] < 3 {
			return errors.New("database unavailable")
		}
		order = append(order, o.OrderReference)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 3, attempts["ORD-A"])
	assert.Equal(t, []string{"ORD-A", "ORD-B"}, order)
	assert.Equal(t, []int64{10, 11}, reader.committed)
}

func TestRefundConsumerStopsWithoutCommittingFailedRefund(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		messages: []kafka.Message{
			{Offset: 10, Value: []byte(`{"orderReference":"ORD-A"}`)},
			{Offset: 11, Value: []byte(`{"orderReference":"ORD-B"}`)},
		},
	}
	c := newTestConsumer(reader)

	var seen []string
	err := c.Start(ctx, func(_ context.Context, o models.RefundOutcome) error {
		seen = append(seen, o.OrderReference)
		if len(seen) == 2 {
			cancel()
		}
		return errors.New("database unavailable")
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ORD-A", "ORD-A"}, seen)
	assert.Empty(t, reader.committed)
	assert.Len(t, reader.messages, 1, "ORD-B must not be fetched while ORD-A is unapplied")
}
