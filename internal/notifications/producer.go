package notifications

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher is implemented by types that can publish notification events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

// EventProducer publishes events to a durable topic exchange on RabbitMQ.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewEventProducer dials RabbitMQ with a bounded timeout so startup does not
// hang when the broker is down.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

func (p *EventProducer) Publish(ctx context.Context, routingKey string, body any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		},
	)
	if err != nil {
		// One-shot retry on a fresh channel
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return err
		}
		p.channel = ch
		if exErr := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); exErr != nil {
			return err
		}
		return ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		})
	}
	return nil
}

func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NoopProducer is used when RabbitMQ is unreachable at startup. Publishes are
// logged and dropped; money movements must never block on notifications.
type NoopProducer struct{}

func (p *NoopProducer) Publish(ctx context.Context, routingKey string, body any) error {
	log.Printf("[NOTIFY] Broker unavailable, dropping event: %s", routingKey)
	return nil
}

func (p *NoopProducer) Close() {}
