package ws

import (
	"encoding/json"
	"time"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// EventType is the "type" field of every message pushed to clients.
type EventType string

const (
	EventTypeSnapshot     EventType = "snapshot"
	EventTypeTrade        EventType = "trade"
	EventTypeDepth        EventType = "depth"
	EventTypeOrderUpdate  EventType = "order_update"
	EventTypeSettlement   EventType = "settlement"
	EventTypeHeartbeat    EventType = "heartbeat"
	EventTypeSubscription EventType = "subscription_ack"
	EventTypeError        EventType = "error"
)

// SnapshotEvent is sent once when a client connects.
type SnapshotEvent struct {
	Type      EventType            `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	Product   models.ProductID     `json:"product"`
	Book      engine.DepthSnapshot `json:"book"`
	Trades    []models.Trade       `json:"trades"`
	Sequence  int64                `json:"sequence"`
}

func NewSnapshotEvent(book engine.DepthSnapshot, trades []models.Trade, sequence int64) *SnapshotEvent {
	if trades == nil {
		trades = []models.Trade{}
	}
	return &SnapshotEvent{
		Type:      EventTypeSnapshot,
		Timestamp: time.Now(),
		Product:   book.Product,
		Book:      book,
		Trades:    trades,
		Sequence:  sequence,
	}
}

type TradeEvent struct {
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Product   models.ProductID `json:"product"`
	Trade     models.Trade     `json:"trade"`
}

func NewTradeEvent(trade models.Trade) *TradeEvent {
	return &TradeEvent{
		Type:      EventTypeTrade,
		Timestamp: time.Now(),
		Product:   trade.Product,
		Trade:     trade,
	}
}

// DepthEvent carries the aggregated book after a change.
type DepthEvent struct {
	Type      EventType           `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Product   models.ProductID    `json:"product"`
	Bids      []engine.PriceLevel `json:"bids"`
	Asks      []engine.PriceLevel `json:"asks"`
	Spread    *models.Price       `json:"spread,omitempty"`
	Sequence  int64               `json:"sequence"`
}

func NewDepthEvent(book engine.DepthSnapshot, sequence int64) *DepthEvent {
	return &DepthEvent{
		Type:      EventTypeDepth,
		Timestamp: time.Now(),
		Product:   book.Product,
		Bids:      book.Bids,
		Asks:      book.Asks,
		Spread:    book.Spread,
		Sequence:  sequence,
	}
}

type OrderUpdateEvent struct {
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Product   models.ProductID `json:"product"`
	OrderID   string           `json:"order_id"`
	Side      models.Side      `json:"side"`
	Status    models.Status    `json:"status"`
	Remaining int64            `json:"remaining"`
}

func NewOrderUpdateEvent(o models.Order) *OrderUpdateEvent {
	return &OrderUpdateEvent{
		Type:      EventTypeOrderUpdate,
		Timestamp: time.Now(),
		Product:   o.Product,
		OrderID:   o.ID,
		Side:      o.Side,
		Status:    o.Status,
		Remaining: o.Remaining,
	}
}

type SettlementEvent struct {
	Type       EventType               `json:"type"`
	Timestamp  time.Time               `json:"timestamp"`
	Product    models.ProductID        `json:"product"`
	TradeID    string                  `json:"trade_id"`
	Settlement models.SettlementStatus `json:"settlement"`
}

func NewSettlementEvent(t models.Trade) *SettlementEvent {
	return &SettlementEvent{
		Type:       EventTypeSettlement,
		Timestamp:  time.Now(),
		Product:    t.Product,
		TradeID:    t.ID,
		Settlement: t.Settlement,
	}
}

type HeartbeatEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
}

func NewHeartbeatEvent(sequence int64) *HeartbeatEvent {
	return &HeartbeatEvent{
		Type:      EventTypeHeartbeat,
		Timestamp: time.Now(),
		Sequence:  sequence,
	}
}

type ErrorEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{
		Type:      EventTypeError,
		Timestamp: time.Now(),
		Code:      code,
		Message:   message,
	}
}

// SubscriptionMessage is what clients send to follow more products.
type SubscriptionMessage struct {
	Action   string             `json:"action"` // "subscribe" or "unsubscribe"
	Products []models.ProductID `json:"products"`
}

type SubscriptionAckMessage struct {
	Type      EventType          `json:"type"`
	Action    string             `json:"action"`
	Success   bool               `json:"success"`
	Products  []models.ProductID `json:"products"`
	Message   string             `json:"message,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func NewSubscriptionAck(action string, success bool, products []models.ProductID, message string) *SubscriptionAckMessage {
	return &SubscriptionAckMessage{
		Type:      EventTypeSubscription,
		Action:    action,
		Success:   success,
		Products:  products,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func toJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
