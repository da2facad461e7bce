package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/Easycoder-lin/CHU-sub000/internal/metrics"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes engine events to a topic exchange.
//
// EVENTS PUBLISHED:
//   - order.placed / order.updated / order.cancelled: order state changes
//   - trade.executed: a match, settlement still pending
//   - trade.reverted: a trade compensated after a failed settlement
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewPublisher dials RabbitMQ and declares the topic exchange.
func NewPublisher(amqpURL, exchange string, log logrus.FieldLogger, m *metrics.Metrics) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := newPublisher(ch, exchange, log, m)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, log logrus.FieldLogger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		channel:  ch,
		exchange: exchange,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// Publish wraps payload in a DomainEvent and sends it persistently with
// the event type as routing key.
func (p *Publisher) Publish(eventType EventType, product models.ProductID, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	evt := DomainEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Product:    product,
		OccurredAt: p.now().UTC(),
		Payload:    raw,
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	err = p.channel.Publish(p.exchange, string(eventType), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Type:         string(eventType),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	if p.metrics != nil {
		p.metrics.RecordPublished(p.exchange, string(eventType))
	}
	p.log.WithFields(logrus.Fields{
		"event":   eventType,
		"product": product,
		"id":      evt.ID,
	}).Debug("event published")
	return nil
}

// PublishOrder publishes an order state change.
func (p *Publisher) PublishOrder(o models.Order) error {
	return p.Publish(OrderEventType(o), o.Product, OrderPayload{Order: o})
}

// PublishTrade publishes an executed trade.
func (p *Publisher) PublishTrade(t models.Trade) error {
	return p.Publish(EventTradeExecuted, t.Product, TradePayload{Trade: t})
}

// PublishRevert publishes a compensated trade.
func (p *Publisher) PublishRevert(t models.Trade) error {
	return p.Publish(EventTradeReverted, t.Product, TradePayload{Trade: t})
}

// Close shuts down RabbitMQ resources gracefully.
func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
