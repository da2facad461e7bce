package models

import (
	"errors"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type Status string

const (
	Open      Status = "OPEN"
	Partial   Status = "PARTIAL"
	Filled    Status = "FILLED"
	Cancelled Status = "CANCELLED"
)

// Role is the actor that submitted an order. Sponsors provide seat
// liquidity, members only buy it.
type Role string

const (
	Sponsor Role = "SPONSOR"
	Member  Role = "MEMBER"
)

type Order struct {
	ID          string    `json:"id"`
	Product     ProductID `json:"product"`
	Side        Side      `json:"side"`
	Price       Price     `json:"price"`
	Quantity    int64     `json:"quantity"`
	Remaining   int64     `json:"remaining"`
	Status      Status    `json:"status"`
	Actor       Role      `json:"actor"`
	Wallet      string    `json:"wallet,omitempty"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Seq         uint64    `json:"seq"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeriveStatus maps (quantity, remaining) to a fill status.
func DeriveStatus(quantity, remaining int64) Status {
	switch {
	case remaining <= 0:
		return Filled
	case remaining < quantity:
		return Partial
	default:
		return Open
	}
}

// Live reports whether the order can still be matched against.
func (o *Order) Live() bool {
	return (o.Status == Open || o.Status == Partial) && o.Remaining > 0
}

// Terminal reports whether the order is frozen.
func (o *Order) Terminal() bool {
	return o.Status == Filled || o.Status == Cancelled
}

// Untouched reports whether the order is unchanged since placement. An
// order that filled on arrival still counts as untouched.
func (o *Order) Untouched() bool {
	return o.UpdatedAt.Equal(o.CreatedAt)
}

// Filled returns the quantity executed so far.
func (o *Order) Filled() int64 {
	return o.Quantity - o.Remaining
}

// Fill consumes qty from the remaining quantity and re-derives the status.
func (o *Order) Fill(qty int64, at time.Time) {
	o.Remaining -= qty
	o.Status = DeriveStatus(o.Quantity, o.Remaining)
	o.UpdatedAt = at
}

func (o *Order) Validate() error {
	if o.Product == "" {
		return errors.New("product is required")
	}
	if !o.Side.IsValid() {
		return errors.New("side must be 'BUY' or 'SELL'")
	}
	if !o.Actor.IsValid() {
		return errors.New("actor must be 'SPONSOR' or 'MEMBER'")
	}
	if o.Price <= 0 {
		return errors.New("price must be greater than 0")
	}
	if o.Quantity <= 0 {
		return errors.New("quantity must be greater than 0")
	}
	if o.Remaining < 0 {
		return errors.New("remaining quantity cannot be negative")
	}
	if o.Remaining > o.Quantity {
		return errors.New("remaining quantity cannot exceed total quantity")
	}
	if !o.Status.IsValid() {
		return errors.New("invalid status")
	}
	return nil
}

func (s Side) IsValid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the contra side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (st Status) IsValid() bool {
	return st == Open || st == Partial || st == Filled || st == Cancelled
}

func (r Role) IsValid() bool {
	return r == Sponsor || r == Member
}

// CanPlace reports whether the role may submit orders on side s.
func (r Role) CanPlace(s Side) bool {
	switch r {
	case Sponsor:
		return s == Buy || s == Sell
	case Member:
		return s == Buy
	}
	return false
}
