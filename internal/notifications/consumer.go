package notifications

import (
	"context"
	"encoding/json"
	"log"

	"github.com/rabbitmq/amqp091-go"
)

// Consumer drains the notification queue and hands each event to the mailer.
type Consumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	mailer  *Mailer
}

func NewConsumer(amqpURL, queue string, mailer *Mailer) (*Consumer, error) {
	conn, err := amqp091.Dial(amqpURL)
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

	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// One queue, all event types; the routing key is carried per-message.
	for _, key := range []string{RouteTransferCompleted, RouteLoanStatusChanged, RouteKYCStatusChanged, RouteWithdrawalRedeemed} {
		if err := ch.QueueBind(q.Name, key, Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}

	return &Consumer{conn: conn, channel: ch, queue: q.Name, mailer: mailer}, nil
}

// Run blocks until ctx is cancelled or the delivery channel closes. A message
// that fails to dispatch is logged and acked anyway: email is best-effort and
// must not wedge the queue.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	log.Printf("[NOTIFY] Consuming from queue %s", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return amqp091.ErrClosed
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp091.Delivery) {
	defer d.Ack(false)

	var probe struct {
		AccountNo string `json:"accountNo"`
	}
	if err := json.Unmarshal(d.Body, &probe); err != nil {
		log.Printf("[NOTIFY] Dropping malformed event on %s: %v", d.RoutingKey, err)
		return
	}

	if err := c.mailer.Dispatch(ctx, d.RoutingKey, d.Body); err != nil {
		log.Printf("[NOTIFY] Email dispatch failed for %s: %v", d.RoutingKey, err)
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
