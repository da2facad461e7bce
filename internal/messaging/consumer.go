package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	amqp "github.com/streadway/amqp"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/metrics"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// Deduplicator remembers which settlement messages were already applied.
type Deduplicator interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID, eventType string) error
}

// ProcessedMessageStore is the in-memory Deduplicator used when no
// database is configured.
type ProcessedMessageStore struct {
	mu        sync.Mutex
	processed map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewProcessedMessageStore(ttl time.Duration) *ProcessedMessageStore {
	return &ProcessedMessageStore{
		processed: make(map[string]time.Time),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *ProcessedMessageStore) IsProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.processed[id]
	if !ok {
		return false, nil
	}
	if s.now().Sub(t) > s.ttl {
		delete(s.processed, id)
		return false, nil
	}
	return true, nil
}

func (s *ProcessedMessageStore) MarkProcessed(_ context.Context, id, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[id] = s.now()
	return nil
}

// Cleanup removes expired entries.
func (s *ProcessedMessageStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, t := range s.processed {
		if now.Sub(t) > s.ttl {
			delete(s.processed, id)
		}
	}
}

// SettlementHandler applies settlement outcomes to the books.
type SettlementHandler interface {
	ConfirmSettlement(product models.ProductID, tradeID, lockRef string) (models.Trade, error)
	FailSettlement(product models.ProductID, tradeID string) (models.Trade, error)
}

// Consumer reads settlement outcomes from RabbitMQ and feeds them to the
// engine. A failed settlement triggers compensation of the trade.
//
// WORKFLOW:
//  1. The settlement service publishes settlement.confirmed / settlement.failed
//  2. The queue is bound to settlement.* on the engine exchange
//  3. Workers decode, de-duplicate and apply each message
//  4. Malformed messages are dead-lettered, handled ones acked
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	handler SettlementHandler
	queue   string
	workers int
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	dedup   Deduplicator
	memory  *ProcessedMessageStore
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer dials RabbitMQ for a settlement consumer.
func NewConsumer(amqpURL, queue string, workers int, handler SettlementHandler, log logrus.FieldLogger, m *metrics.Metrics) (*Consumer, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// Set QoS for fair dispatch
	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	c := newConsumer(queue, workers, handler, log, m)
	c.conn = conn
	c.channel = ch
	return c, nil
}

func newConsumer(queue string, workers int, handler SettlementHandler, log logrus.FieldLogger, m *metrics.Metrics) *Consumer {
	if workers < 1 {
		workers = 1
	}
	mem := NewProcessedMessageStore(24 * time.Hour)
	return &Consumer{
		handler: handler,
		queue:   queue,
		workers: workers,
		log:     log,
		metrics: m,
		dedup:   mem,
		memory:  mem,
		done:    make(chan struct{}),
	}
}

// UseDeduplicator replaces the in-memory dedup set, typically with a
// database-backed one so restarts do not replay settlements. Call
// before Start.
func (c *Consumer) UseDeduplicator(d Deduplicator) {
	if d != nil {
		c.dedup = d
	}
}

// Start declares the settlement queue, binds it and starts the workers.
func (c *Consumer) Start(exchange string) error {
	if err := c.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	q, err := c.channel.QueueDeclare(
		c.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchange(exchange),
			"x-dead-letter-routing-key": DeadLetterQueue(c.queue),
		},
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}

	if err := c.channel.QueueBind(q.Name, "settlement.*", exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.consume(msgs)
	}

	go c.cleanupLoop(time.Hour)

	c.log.WithFields(logrus.Fields{
		"queue":   q.Name,
		"workers": c.workers,
	}).Info("settlement consumer started")
	return nil
}

func (c *Consumer) consume(msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				c.log.WithField("queue", c.queue).Warn("queue closed")
				return
			}
			c.processMessage(msg)
		}
	}
}

func (c *Consumer) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.memory.Cleanup()
		}
	}
}

// processMessage handles a single delivery. Permanent engine errors are
// logged and acked since retrying cannot change the outcome.
func (c *Consumer) processMessage(msg amqp.Delivery) {
	log := c.log.WithFields(logrus.Fields{
		"routing_key": msg.RoutingKey,
		"message_id":  msg.MessageId,
	})

	var body SettlementMessage
	if err := json.Unmarshal(msg.Body, &body); err != nil || body.TradeID == "" {
		log.WithError(err).Warn("malformed settlement message")
		c.record("rejected")
		msg.Nack(false, false)
		return
	}

	msgID := msg.MessageId
	if msgID == "" {
		msgID = msg.RoutingKey + ":" + body.TradeID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen, err := c.dedup.IsProcessed(ctx, msgID)
	if err != nil {
		log.WithError(err).Error("dedup lookup failed")
		c.record("retry")
		msg.Nack(false, true)
		return
	}
	if seen {
		log.Debug("message already processed, skipping")
		c.record("duplicate")
		msg.Ack(false)
		return
	}

	switch EventType(msg.RoutingKey) {
	case EventSettlementConfirmed:
		_, err = c.handler.ConfirmSettlement(body.Product, body.TradeID, body.LockRef)
	case EventSettlementFailed:
		_, err = c.handler.FailSettlement(body.Product, body.TradeID)
	default:
		log.Warn("unknown settlement event")
		c.record("rejected")
		msg.Nack(false, false)
		return
	}

	switch {
	case err == nil:
		c.record("ack")
	case errors.Is(err, engine.ErrInvalidState), errors.Is(err, engine.ErrNotFound):
		log.WithError(err).WithField("trade", body.TradeID).Warn("settlement message not applicable")
		c.record("ignored")
	default:
		log.WithError(err).WithField("trade", body.TradeID).Error("settlement message rejected")
		c.record("rejected")
		msg.Nack(false, false)
		return
	}

	if err := c.dedup.MarkProcessed(ctx, msgID, msg.RoutingKey); err != nil {
		log.WithError(err).Warn("failed to mark message processed")
	}
	msg.Ack(false)
}

func (c *Consumer) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordConsumed(c.queue, result)
	}
}

// Stop gracefully shuts down the consumer.
func (c *Consumer) Stop() {
	close(c.done)
	c.wg.Wait()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.log.Info("settlement consumer stopped")
}
