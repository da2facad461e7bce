package messaging

import (
	"encoding/json"
	"time"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// EventType is also the routing key an event is published under.
type EventType string

const (
	EventOrderPlaced    EventType = "order.placed"
	EventOrderUpdated   EventType = "order.updated"
	EventOrderCancelled EventType = "order.cancelled"
	EventTradeExecuted  EventType = "trade.executed"
	EventTradeReverted  EventType = "trade.reverted"

	EventSettlementConfirmed EventType = "settlement.confirmed"
	EventSettlementFailed    EventType = "settlement.failed"
)

// DomainEvent is the envelope for every published message.
type DomainEvent struct {
	ID         string           `json:"id"`
	Type       EventType        `json:"type"`
	Product    models.ProductID `json:"product"`
	OccurredAt time.Time        `json:"occurred_at"`
	Payload    json.RawMessage  `json:"payload"`
}

// OrderPayload carries an order snapshot.
type OrderPayload struct {
	Order models.Order `json:"order"`
}

// TradePayload carries a trade snapshot.
type TradePayload struct {
	Trade models.Trade `json:"trade"`
}

// SettlementMessage is reported by the settlement service once the escrow
// transaction of a trade either landed or failed.
type SettlementMessage struct {
	Product models.ProductID `json:"product"`
	TradeID string           `json:"trade_id"`
	LockRef string           `json:"lock_ref,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}

// OrderEventType picks the routing key for an order state change. An order
// that was never touched after its placement reports as placed, even when
// it filled on arrival.
func OrderEventType(o models.Order) EventType {
	switch {
	case o.Status == models.Cancelled:
		return EventOrderCancelled
	case o.Untouched():
		return EventOrderPlaced
	default:
		return EventOrderUpdated
	}
}
