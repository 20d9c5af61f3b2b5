package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const confirmTimeout = 5 * time.Second

// AMQPPublisher publishes events to a topic exchange with persistent
// deliveries and publisher confirms. The event type doubles as the routing
// key so consumers can bind to the subset they care about.
type AMQPPublisher struct {
	ch       *amqp091.Channel
	exchange string
	confirms chan amqp091.Confirmation
	log      zerolog.Logger
}

// NewAMQPPublisher declares the exchange and puts the channel in confirm
// mode.
func NewAMQPPublisher(conn *amqp091.Connection, exchange string, logger zerolog.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &AMQPPublisher{
		ch:       ch,
		exchange: exchange,
		confirms: ch.NotifyPublish(make(chan amqp091.Confirmation, 1)),
		log:      logger,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         event.Type,
		Body:         body,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	select {
	case confirm := <-p.confirms:
		if !confirm.Ack {
			return fmt.Errorf("publish %s: broker nacked message", event.Type)
		}
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publish %s: confirm timed out", event.Type)
	case <-ctx.Done():
		return ctx.Err()
	}

	p.log.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("event published")
	return nil
}

// Close releases the underlying channel.
func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}
