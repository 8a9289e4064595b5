package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 3 * time.Second

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	conn *amqp.Connection // nil when built around a bare channel
	ch   channel
}

// Dial connects to url and returns a publisher owning the connection.
func Dial(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	p, err := NewAMQPPublisher(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher opens a channel on conn and declares the exchange so
// publishing never fails on missing infrastructure.
func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := newPublisher(ch)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(ch channel) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare %s: %w", Exchange, err)
	}
	return &AMQPPublisher{ch: ch}, nil
}

// PublishOrderPaid publishes ev with routing key order.paid.
func (p *AMQPPublisher) PublishOrderPaid(ctx context.Context, ev OrderPaid) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal order.paid: %w", err)
	}
	return p.publishJSON(ctx, OrderPaidRoutingKey, ev.EventID, body)
}

func (p *AMQPPublisher) publishJSON(ctx context.Context, routingKey, messageID string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// Close closes the channel and, when owned, the connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
