package messaging

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	amqp "github.com/streadway/amqp"
)

// DeadLetterExchange names the exchange rejected messages are routed to.
func DeadLetterExchange(exchange string) string {
	return exchange + ".dlx"
}

// DeadLetterQueue names the queue holding rejected messages from queue.
func DeadLetterQueue(queue string) string {
	return queue + ".dlq"
}

// DLQHandler drains the settlement dead letter queue. Messages land there
// when they cannot be decoded or applied; they are logged for manual review
// and acked.
type DLQHandler struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	log     logrus.FieldLogger
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewDLQHandler declares the dead letter exchange and queue for queue.
func NewDLQHandler(amqpURL, exchange, queue string, log logrus.FieldLogger) (*DLQHandler, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	dlx, dlq := DeadLetterExchange(exchange), DeadLetterQueue(queue)

	if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, dlq, dlx, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue %s: %w", dlq, err)
	}

	return &DLQHandler{
		conn:    conn,
		channel: ch,
		queue:   dlq,
		log:     log,
		done:    make(chan struct{}),
	}, nil
}

// Start begins consuming messages from the DLQ.
func (d *DLQHandler) Start() error {
	msgs, err := d.channel.Consume(d.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", d.queue, err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					d.log.WithField("queue", d.queue).Warn("dead letter queue closed")
					return
				}
				d.handle(msg)
			}
		}
	}()

	d.log.WithField("queue", d.queue).Info("dead letter handler started")
	return nil
}

func (d *DLQHandler) handle(msg amqp.Delivery) {
	fields := logrus.Fields{
		"routing_key": msg.RoutingKey,
		"message_id":  msg.MessageId,
		"body":        string(msg.Body),
	}

	var body SettlementMessage
	if err := json.Unmarshal(msg.Body, &body); err == nil {
		fields["product"] = body.Product
		fields["trade"] = body.TradeID
	}

	d.log.WithFields(fields).Error("settlement message dead-lettered")
	msg.Ack(false)
}

// Stop gracefully shuts down the DLQ handler.
func (d *DLQHandler) Stop() {
	close(d.done)
	d.wg.Wait()

	if d.channel != nil {
		d.channel.Close()
	}
	if d.conn != nil {
		d.conn.Close()
	}
}
