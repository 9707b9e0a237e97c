// Package listener consumes review commands from Kafka.
//
// Other services cancel a review by producing a CancelCommand on the
// commands topic instead of calling the HTTP API.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/review-pipeline-service/internal/config"
	"github.com/helixir/review-pipeline-service/internal/domain"
)

// CancelCommand asks for a review to be cancelled.
type CancelCommand struct {
	TrackingID uuid.UUID `json:"tracking_id"`
	Reason     string    `json:"reason,omitempty"`
}

// Canceller cancels a review on behalf of the system. An empty userID skips
// the ownership check.
type Canceller interface {
	Cancel(ctx context.Context, userID string, trackingID uuid.UUID, reason string) error
}

// messageReader is the subset of *kafka.Reader used by Listener.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Listener consumes cancel commands and routes them to a Canceller.
type Listener struct {
	reader    messageReader
	canceller Canceller
	logger    zerolog.Logger
}

// NewListener creates a command listener reading cfg.CommandsTopic.
func NewListener(cfg config.KafkaConfig, canceller Canceller, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.CommandsTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, canceller, logger)
}

func newListener(reader messageReader, canceller Canceller, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:    reader,
		canceller: canceller,
		logger:    logger.With().Str("component", "command_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting command listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("command listener stopped via context cancellation")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				l.logger.Info().Msg("command listener stopped: reader closed")
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received command")

		var cmd CancelCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to unmarshal cancel command")
			continue
		}

		if err := l.handleCancel(ctx, cmd); err != nil {
			l.logger.Error().Err(err).
				Str("tracking_id", cmd.TrackingID.String()).
				Msg("failed to handle cancel command")
		}
	}
}

// handleCancel applies one command. Jobs that are unknown or already finished
// are logged and skipped.
func (l *Listener) handleCancel(ctx context.Context, cmd CancelCommand) error {
	if cmd.TrackingID == uuid.Nil {
		return fmt.Errorf("%w: tracking_id is required", domain.ErrInvalidInput)
	}

	err := l.canceller.Cancel(ctx, "", cmd.TrackingID, cmd.Reason)
	switch {
	case err == nil:
		l.logger.Info().
			Str("tracking_id", cmd.TrackingID.String()).
			Str("reason", cmd.Reason).
			Msg("review cancelled by command")
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
		l.logger.Warn().Err(err).
			Str("tracking_id", cmd.TrackingID.String()).
			Msg("cancel command skipped")
		return nil
	default:
		return fmt.Errorf("cancel review: %w", err)
	}
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing command listener")
	return l.reader.Close()
}
