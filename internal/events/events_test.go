package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
	deadline bool
}

type fakeChannel struct {
	declareErr error
	publishErr error
	declared   []string
	published  []published
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if c.declareErr != nil {
		return c.declareErr
	}
	c.declared = append(c.declared, name+":"+kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	_, hasDeadline := ctx.Deadline()
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg, deadline: hasDeadline})
	return c.publishErr
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestNewPublisherDeclaresExchange(t *testing.T) {
	ch := &fakeChannel{}
	_, err := newPublisher(ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout.events:topic"}, ch.declared)
}

func TestNewPublisherDeclareError(t *testing.T) {
	_, err := newPublisher(&fakeChannel{declareErr: errors.New("access refused")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declare checkout.events")
}

func TestPublishOrderPaid(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch)
	require.NoError(t, err)

	ev := NewOrderPaid("1001", "wc_order_abc", "CHK-1", "TX-1")
	require.NoError(t, p.PublishOrderPaid(context.Background(), ev))

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, Exchange, got.exchange)
	assert.Equal(t, OrderPaidRoutingKey, got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, ev.EventID, got.msg.MessageId)
	assert.True(t, got.deadline, "publish must be bounded by a timeout")

	var body map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	for _, field := range []string{"event_id", "order_id", "order_key", "checkout_id", "transaction_id", "occurred_at"} {
		assert.Contains(t, body, field)
	}
	assert.Equal(t, "wc_order_abc", body["order_key"])
}

func TestPublishOrderPaidError(t *testing.T) {
	p, err := newPublisher(&fakeChannel{publishErr: amqp.ErrClosed})
	require.NoError(t, err)

	err = p.PublishOrderPaid(context.Background(), NewOrderPaid("1", "k", "", "tx"))
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestNewOrderPaid(t *testing.T) {
	a := NewOrderPaid("1", "k", "c", "t")
	b := NewOrderPaid("1", "k", "c", "t")

	assert.NotEmpty(t, a.EventID)
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.WithinDuration(t, time.Now(), a.OccurredAt, time.Minute)
	assert.Equal(t, time.UTC, a.OccurredAt.Location())
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishOrderPaid(context.Background(), OrderPaid{}))
}
