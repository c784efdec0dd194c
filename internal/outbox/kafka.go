// internal/outbox/kafka.go
package outbox

import (
	"context"
	"strconv"

	"bookstore/pkg/eventstore"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events keyed by aggregate id, so that one aggregate's
// events land on one partition in order.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, event eventstore.Event) error {
	return s.writer.WriteMessages(ctx, kafkaMessage(event))
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func kafkaMessage(event eventstore.Event) kafka.Message {
	return kafka.Message{
		Key:   []byte(event.AggregateID.String()),
		Value: event.EventData,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(strconv.FormatInt(event.ID, 10))},
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "aggregate_type", Value: []byte(event.AggregateType)},
			{Key: "version", Value: []byte(strconv.Itoa(event.Version))},
		},
		Time: event.CreatedAt,
	}
}
