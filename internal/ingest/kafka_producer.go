package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/vehicle-storefront/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes store change events keyed by store name, so every
// change to one store lands on one partition in order.
type KafkaProducer struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewKafkaProducer writes asynchronously; delivery failures are logged from
// the writer's completion callback instead of blocking store mutations.
func NewKafkaProducer(brokers []string, topic string, logger *slog.Logger) *KafkaProducer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error("kafka publish failed", "topic", topic, "messages", len(msgs), "error", err)
			}
		},
	}
	return &KafkaProducer{writer: w, logger: logger}
}

func NewKafkaProducerFromWriter(w MessageWriter, logger *slog.Logger) *KafkaProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaProducer{writer: w, logger: logger}
}

func (k *KafkaProducer) PublishStoreEvent(ev models.StoreEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Store, err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Store), Value: b})
}

// Observe adapts PublishStoreEvent to a store observer, logging failures.
func (k *KafkaProducer) Observe(ev models.StoreEvent) {
	if err := k.PublishStoreEvent(ev); err != nil {
		k.logger.Error("publish store event failed", "store", ev.Store, "error", err)
	}
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
