package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events as JSON, keyed by event type.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

var _ ports.Notifier = (*KafkaPublisher)(nil)

// NewKafkaPublisher builds a synchronous writer for topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, topic, logger)
}

func newPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger.With("component", "kafka-publisher")}
}

// Publish writes one message for the event.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Type),
		Value: value,
		Time:  event.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s to %s: %w", event.Type, p.topic, err)
	}
	p.logger.Debug("event published", "type", event.Type, "topic", p.topic)
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
