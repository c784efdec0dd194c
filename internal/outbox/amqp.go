// internal/outbox/amqp.go
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bookstore/pkg/eventstore"

	"github.com/streadway/amqp"
)

const publishTimeout = 5 * time.Second

var ErrNotAcknowledged = errors.New("broker did not acknowledge event")

// publisher is the part of *amqp.Channel the sink uses.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events to a topic exchange with routing key
// "<aggregate_type>.<event_type>" and waits for publisher confirms.
type AMQPSink struct {
	conn     *amqp.Connection
	channel  publisher
	confirms <-chan amqp.Confirmation
	exchange string
}

// DialAMQP connects, declares the exchange and puts the channel in confirm mode.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("channel could not be put into confirm mode: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	sink := newAMQPSink(ch, confirms, exchange)
	sink.conn = conn
	return sink, nil
}

func newAMQPSink(ch publisher, confirms <-chan amqp.Confirmation, exchange string) *AMQPSink {
	return &AMQPSink{channel: ch, confirms: confirms, exchange: exchange}
}

func (s *AMQPSink) Publish(ctx context.Context, event eventstore.Event) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    strconv.FormatInt(event.ID, 10),
		Type:         event.EventType,
		Timestamp:    event.CreatedAt,
		Headers: amqp.Table{
			"aggregate_id":   event.AggregateID.String(),
			"aggregate_type": event.AggregateType,
			"version":        int32(event.Version),
		},
		Body: event.EventData,
	}
	if err := s.channel.Publish(s.exchange, routingKey(event), false, false, msg); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case confirm, ok := <-s.confirms:
		if !ok || !confirm.Ack {
			return ErrNotAcknowledged
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("waiting for confirm: %w", ErrNotAcknowledged)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func routingKey(event eventstore.Event) string {
	return event.AggregateType + "." + event.EventType
}
