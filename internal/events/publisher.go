// Package events publishes review lifecycle events to Kafka.
//
// Events are JSON-encoded domain.Event values keyed by tracking ID, so every
// event of one job lands on the same partition in order. Publishing is
// best-effort from the pipeline's point of view: a failed publish is logged
// and counted, never turned into a job failure.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/review-pipeline-service/internal/config"
	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/observability"
)

// Publisher sends lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event *domain.Event) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic.
type KafkaPublisher struct {
	writer  messageWriter
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// New returns a KafkaPublisher when Kafka is enabled and a NoopPublisher otherwise.
func New(cfg config.KafkaConfig, metrics *observability.Metrics, logger zerolog.Logger) Publisher {
	if !cfg.Enabled {
		return NoopPublisher{}
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.EventsTopic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, metrics, logger)
}

func newKafkaPublisher(w messageWriter, metrics *observability.Metrics, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  w,
		metrics: metrics,
		logger:  logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish writes one event.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.AggregateID == "" {
		return fmt.Errorf("aggregate_id is required")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
		Time: event.CreatedAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.RecordEventPublished(event.EventType, false)
		return fmt.Errorf("write %s: %w", event.EventType, err)
	}

	p.metrics.RecordEventPublished(event.EventType, true)
	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("tracking_id", event.AggregateID).
		Msg("event published")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards events.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, *domain.Event) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() error { return nil }
