package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

const TopicStateChanged = "transaction.state.changed"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers),
		Topic:    TopicStateChanged,
		Balancer: &kafka.LeastBytes{},
	}
}

func NewKafkaPublisher(writer *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// PublishStateChanged keys the message by transaction id so every change of
// one transaction lands on the same partition in order.
func (p *KafkaPublisher) PublishStateChanged(ctx context.Context, event models.StateChangedEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal state event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs events. It is used when KAFKA_BROKERS is unset.
type LogPublisher struct{}

func (LogPublisher) PublishStateChanged(_ context.Context, event models.StateChangedEvent) error {
	telemetry.Logger.Debug("State change event",
		zap.String("transaction_id", event.TransactionID),
		zap.String("state", string(event.State)),
		zap.String("previous_state", string(event.PreviousState)),
	)
	return nil
}
