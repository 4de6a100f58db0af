package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"ai-reseller-checkout/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*KafkaPublisher)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes purchase lifecycle events keyed by purchase id,
// so every event of one purchase lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           5 * time.Second,
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w messageWriter, logger *zerolog.Logger) *KafkaPublisher {
	lg := logger.With().Str("component", "events").Logger()
	return &KafkaPublisher{writer: w, logger: &lg}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev adapter.PurchaseEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal purchase event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.PurchaseID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
		Time: ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("purchase_id", ev.PurchaseID).Str("event", string(ev.Type)).Msg("failed to publish purchase event")
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// NoopPublisher drops events; used when no brokers are configured.
type NoopPublisher struct {
	logger *zerolog.Logger
}

func NewNoopPublisher(logger *zerolog.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (n *NoopPublisher) Publish(ctx context.Context, ev adapter.PurchaseEvent) error {
	if n.logger != nil {
		n.logger.Debug().Str("purchase_id", ev.PurchaseID).Str("event", string(ev.Type)).Msg("purchase event (noop publisher)")
	}
	return nil
}

func (n *NoopPublisher) Close() error { return nil }

// New picks the Kafka publisher when brokers are configured.
func New(brokers []string, topic string, logger *zerolog.Logger) adapter.EventPublisher {
	if len(brokers) == 0 {
		return NewNoopPublisher(logger)
	}
	return NewKafkaPublisher(brokers, topic, logger)
}
