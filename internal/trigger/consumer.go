// Package trigger turns RebuildRequested messages from Kafka into rebuild
// triggers, a second entry point next to the HTTP webhook.
package trigger

import (
	"context"
	"log/slog"

	"github.com/brownbaglunch/webhook/internal/rebuild"
	"github.com/brownbaglunch/webhook/pkg/kafka"
)

// RebuildRequested is the optional body of a trigger message. An empty
// message value is a valid request.
type RebuildRequested struct {
	RequestedBy string `json:"requested_by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Scheduler accepts triggers. *rebuild.Scheduler satisfies it.
type Scheduler interface {
	Trigger(ctx context.Context, source string) rebuild.Ack
}

// Consumer drives the scheduler from a Kafka topic.
type Consumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// NewConsumer wraps a Kafka consumer built with HandleMessage.
func NewConsumer(kafkaConsumer *kafka.Consumer) *Consumer {
	return &Consumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "trigger-consumer"),
	}
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("trigger consumer starting")
	return c.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that triggers one rebuild per
// message. Malformed bodies are logged and skipped so the offset advances.
func HandleMessage(s Scheduler) kafka.MessageHandler {
	logger := slog.Default().With("component", "trigger-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		var req RebuildRequested
		if len(value) > 0 {
			decoded, err := kafka.DecodeJSON[RebuildRequested](value)
			if err != nil {
				logger.Error("failed to decode rebuild request",
					"error", err,
					"key", string(key),
				)
				return nil
			}
			req = decoded
		}

		ack := s.Trigger(ctx, rebuild.SourceKafka)
		logger.Info("rebuild requested",
			"outcome", ack.Outcome,
			"run_id", ack.RunID,
			"requested_by", req.RequestedBy,
			"reason", req.Reason,
		)
		return nil
	}
}
