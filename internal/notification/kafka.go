package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter is the subset of *kafka.Writer used to publish.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes messages as JSON keyed by destination, so one user's notifications
// stay ordered within a partition.
type KafkaNotifier struct {
	writer KafkaWriter
	logger *slog.Logger
}

// NewKafkaNotifier wraps a writer whose topic is already configured.
func NewKafkaNotifier(writer KafkaWriter, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, logger: logger}
}

// Send publishes message.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.Destination),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(message.Kind)},
		},
	})
	if err != nil {
		n.logger.Error("publish notification failed", slog.String("kind", message.Kind), slog.String("destination", message.Destination), slog.Any("error", err))
		return fmt.Errorf("publish notification: %w", err)
	}
	n.logger.Debug("notification published", slog.String("kind", message.Kind), slog.String("destination", message.Destination))
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
