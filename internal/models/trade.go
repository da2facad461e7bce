package models

import (
	"errors"
	"time"
)

// SettlementStatus tracks the escrow leg of a trade.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementConfirmed SettlementStatus = "CONFIRMED"
	SettlementFailed    SettlementStatus = "FAILED"
)

type Trade struct {
	ID          string           `json:"id"`
	Product     ProductID        `json:"product"`
	BuyOrderID  string           `json:"buy_order_id"`
	SellOrderID string           `json:"sell_order_id"`
	Price       Price            `json:"price"`
	Quantity    int64            `json:"quantity"`
	LockRef     string           `json:"lock_ref,omitempty"`
	Settlement  SettlementStatus `json:"settlement"`
	CreatedAt   time.Time        `json:"created_at"`
}

func (t *Trade) Validate() error {
	if t.BuyOrderID == "" {
		return errors.New("buy_order_id is required")
	}
	if t.SellOrderID == "" {
		return errors.New("sell_order_id is required")
	}
	if t.BuyOrderID == t.SellOrderID {
		return errors.New("buy_order_id and sell_order_id must be different")
	}
	if t.Price <= 0 {
		return errors.New("price must be greater than 0")
	}
	if t.Quantity <= 0 {
		return errors.New("quantity must be greater than 0")
	}
	return nil
}

// Notional is price times quantity in minor units.
func (t *Trade) Notional() Price {
	return t.Price * Price(t.Quantity)
}

type AllocationState string

const (
	AllocationActive     AllocationState = "ACTIVE"
	AllocationExited     AllocationState = "EXITED"
	AllocationTerminated AllocationState = "TERMINATED"
)

// Allocation is the wallet-facing record of a match.
type Allocation struct {
	ID           string          `json:"id"`
	TradeID      string          `json:"trade_id"`
	Product      ProductID       `json:"market_id"`
	BuyerWallet  string          `json:"buyer_wallet,omitempty"`
	SellerWallet string          `json:"seller_wallet,omitempty"`
	Price        Price           `json:"price"`
	Quantity     int64           `json:"quantity"`
	State        AllocationState `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MatchEvent is the append-only engine audit record of a trade.
type MatchEvent struct {
	ID           string    `json:"id"`
	Product      ProductID `json:"product"`
	TradeID      string    `json:"trade_id"`
	BidOrderID   string    `json:"bid_order_id"`
	OfferOrderID string    `json:"offer_order_id"`
	Price        Price     `json:"price"`
	Quantity     int64     `json:"quantity"`
	CreatedAt    time.Time `json:"created_at"`
}
