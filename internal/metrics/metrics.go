package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "seatbook"

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Engine metrics
	OrdersPlaced    *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	BookLiquidity   *prometheus.GaugeVec
	BookSpread      *prometheus.GaugeVec

	// Trade metrics
	TradesTotal     *prometheus.CounterVec
	TradeQuantity   *prometheus.CounterVec
	TradeNotional   *prometheus.CounterVec
	TradesReverted  *prometheus.CounterVec
	SettlementsDone *prometheus.CounterVec

	// WebSocket metrics
	WSConnections  prometheus.Gauge
	WSMessagesSent *prometheus.CounterVec

	// RabbitMQ metrics
	MQMessagesPublished *prometheus.CounterVec
	MQMessagesConsumed  *prometheus.CounterVec

	// Sink metrics
	CacheErrors *prometheus.CounterVec
	StoreWrites *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Engine metrics
		OrdersPlaced: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_placed_total",
				Help:      "Total number of orders accepted by the engine",
			},
			[]string{"product", "side", "actor"},
		),
		OrdersCancelled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_cancelled_total",
				Help:      "Total number of orders cancelled",
			},
			[]string{"product"},
		),
		OrdersRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_rejected_total",
				Help:      "Total number of orders rejected before matching",
			},
			[]string{"reason"},
		),
		BookLiquidity: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "book_liquidity",
				Help:      "Resting quantity per book side",
			},
			[]string{"product", "side"},
		),
		BookSpread: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "book_spread",
				Help:      "Best ask minus best bid in major units",
			},
			[]string{"product"},
		),

		// Trade metrics
		TradesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Total number of trades executed",
			},
			[]string{"product"},
		),
		TradeQuantity: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trade_quantity_total",
				Help:      "Total seats traded by product",
			},
			[]string{"product"},
		),
		TradeNotional: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trade_notional_total",
				Help:      "Total traded value by product in major units",
			},
			[]string{"product"},
		),
		TradesReverted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_reverted_total",
				Help:      "Total number of trades compensated after a failed settlement",
			},
			[]string{"product"},
		),
		SettlementsDone: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlements_total",
				Help:      "Settlement outcomes reported for trades",
			},
			[]string{"product", "outcome"},
		),

		// WebSocket metrics
		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections_active",
				Help:      "Current number of active WebSocket connections",
			},
		),
		WSMessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_sent_total",
				Help:      "Total number of WebSocket messages sent",
			},
			[]string{"product", "type"},
		),

		// RabbitMQ metrics
		MQMessagesPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mq_messages_published_total",
				Help:      "Total number of messages published to RabbitMQ",
			},
			[]string{"exchange", "routing_key"},
		),
		MQMessagesConsumed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mq_messages_consumed_total",
				Help:      "Total number of messages consumed from RabbitMQ",
			},
			[]string{"queue", "result"},
		),

		// Sink metrics
		CacheErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Total number of failed cache writes",
			},
			[]string{"operation"},
		),
		StoreWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_writes_total",
				Help:      "Persistence sink writes by entity and result",
			},
			[]string{"entity", "result"},
		),
	}
}

// RecordOrderPlaced records an accepted order.
func (m *Metrics) RecordOrderPlaced(product, side, actor string) {
	m.OrdersPlaced.WithLabelValues(product, side, actor).Inc()
}

// RecordOrderRejected records an order refused by validation.
func (m *Metrics) RecordOrderRejected(reason string) {
	m.OrdersRejected.WithLabelValues(reason).Inc()
}

// RecordOrderCancelled records an order cancellation.
func (m *Metrics) RecordOrderCancelled(product string) {
	m.OrdersCancelled.WithLabelValues(product).Inc()
}

// RecordTrade records a trade execution. notional is in major units.
func (m *Metrics) RecordTrade(product string, quantity int64, notional float64) {
	m.TradesTotal.WithLabelValues(product).Inc()
	m.TradeQuantity.WithLabelValues(product).Add(float64(quantity))
	m.TradeNotional.WithLabelValues(product).Add(notional)
}

// RecordRevert records a trade compensated after a failed settlement.
func (m *Metrics) RecordRevert(product string) {
	m.TradesReverted.WithLabelValues(product).Inc()
	m.SettlementsDone.WithLabelValues(product, "failed").Inc()
}

// RecordSettlementConfirmed records a confirmed settlement.
func (m *Metrics) RecordSettlementConfirmed(product string) {
	m.SettlementsDone.WithLabelValues(product, "confirmed").Inc()
}

// SetBookDepth publishes resting quantities and the spread of a book.
// Without a spread the gauge for the product is removed.
func (m *Metrics) SetBookDepth(product string, bidQty, askQty int64, spread float64, hasSpread bool) {
	m.BookLiquidity.WithLabelValues(product, "bid").Set(float64(bidQty))
	m.BookLiquidity.WithLabelValues(product, "ask").Set(float64(askQty))
	if hasSpread {
		m.BookSpread.WithLabelValues(product).Set(spread)
	} else {
		m.BookSpread.DeleteLabelValues(product)
	}
}

// RecordWSSent records a WebSocket message sent.
func (m *Metrics) RecordWSSent(product, msgType string) {
	m.WSMessagesSent.WithLabelValues(product, msgType).Inc()
}

// RecordPublished records a message published to the exchange.
func (m *Metrics) RecordPublished(exchange, routingKey string) {
	m.MQMessagesPublished.WithLabelValues(exchange, routingKey).Inc()
}

// RecordConsumed records a consumed message and how it was handled.
func (m *Metrics) RecordConsumed(queue, result string) {
	m.MQMessagesConsumed.WithLabelValues(queue, result).Inc()
}

// RecordCacheError records a failed cache write.
func (m *Metrics) RecordCacheError(operation string) {
	m.CacheErrors.WithLabelValues(operation).Inc()
}

// RecordStoreWrite records a persistence sink write.
func (m *Metrics) RecordStoreWrite(entity string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreWrites.WithLabelValues(entity, result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
