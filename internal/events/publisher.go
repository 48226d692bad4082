// Package events announces finished acquisition batches on Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-acquisition-service/internal/acquisition"
	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/observability"
)

// Config holds the publisher settings.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic receives one message per finished batch.
	Topic string
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int
	// BatchTimeout is the maximum time to wait for a batch to fill.
	BatchTimeout time.Duration
	// WriteTimeout bounds a single publish.
	WriteTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a batch sink that can be closed on shutdown.
type Publisher interface {
	acquisition.BatchSink
	Close() error
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = NoopPublisher{}
)

// KafkaPublisher writes a domain.Event for each finished batch, keyed by
// batch ID so all events of a batch land on one partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg Config, logger zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(w, cfg.Topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "event_publisher").Str("topic", topic).Logger(),
	}
}

// Name implements acquisition.BatchSink.
func (p *KafkaPublisher) Name() string {
	return "kafka"
}

// HandleBatch implements acquisition.BatchSink by publishing the batch event.
func (p *KafkaPublisher) HandleBatch(ctx context.Context, result *domain.BatchResult) error {
	event, err := domain.NewBatchEvent(result)
	if err != nil {
		return fmt.Errorf("build batch event: %w", err)
	}
	return p.Publish(ctx, event)
}

// Publish writes event to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "event_id", Value: []byte(event.EventID)},
	}
	if reqID := observability.RequestIDFromContext(ctx); reqID != "" {
		headers = append(headers, kafka.Header{Key: "request_id", Value: []byte(reqID)})
	}

	msg := kafka.Message{
		Key:     []byte(event.AggregateID),
		Value:   value,
		Headers: headers,
		Time:    event.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.EventType, p.topic, err)
	}

	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("aggregate_id", event.AggregateID).
		Msg("event published")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info().Msg("closing event publisher")
	return p.writer.Close()
}

// NoopPublisher drops every event. It is used when Kafka is disabled.
type NoopPublisher struct{}

// Name implements acquisition.BatchSink.
func (NoopPublisher) Name() string { return "noop" }

// HandleBatch implements acquisition.BatchSink.
func (NoopPublisher) HandleBatch(context.Context, *domain.BatchResult) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() error { return nil }
