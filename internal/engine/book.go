package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// Book holds every order, trade and allocation of one product.
// All mutations happen under mu, so a placement is observed either
// entirely or not at all.
type Book struct {
	product models.ProductID

	// emit is held from commit until the callbacks for that commit return.
	emit sync.Mutex

	mu          sync.RWMutex
	orders      []models.Order
	orderIndex  map[string]int
	trades      []models.Trade
	tradeIndex  map[string]int
	allocations []models.Allocation
	events      []models.MatchEvent
}

// OrderFilter narrows an order listing. Empty fields match everything.
type OrderFilter struct {
	Side   models.Side
	Status models.Status
}

func (f OrderFilter) matches(o *models.Order) bool {
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	return true
}

// Execution is one trade together with the ledger records derived from it.
type Execution struct {
	Trade      models.Trade      `json:"trade"`
	Allocation models.Allocation `json:"allocation"`
	Event      models.MatchEvent `json:"event"`
}

// placement is what a committed order produced.
type placement struct {
	order      models.Order
	trades     []models.Trade
	executions []Execution
	touched    []models.Order
}

func NewBook(product models.ProductID) *Book {
	return &Book{
		product:    product,
		orderIndex: make(map[string]int),
		tradeIndex: make(map[string]int),
	}
}

func (b *Book) Product() models.ProductID {
	return b.product
}

// serialize orders a mutation and its notifications against every other
// mutation of this book. Readers only take mu, so callbacks may still read
// the book; they must not mutate it.
func (b *Book) serialize() (release func()) {
	b.emit.Lock()
	return b.emit.Unlock
}

// place matches order against the live contra side and commits the result.
func (b *Book) place(order models.Order, at time.Time) placement {
	b.mu.Lock()
	defer b.mu.Unlock()

	contra := order.Side.Opposite()
	resting := make([]models.Order, 0, len(b.orders))
	for i := range b.orders {
		if b.orders[i].Side == contra && b.orders[i].Live() {
			resting = append(resting, b.orders[i])
		}
	}

	result := Match(order, resting, at)

	for _, updated := range result.Resting {
		b.orders[b.orderIndex[updated.ID]] = updated
	}

	byID := make(map[string]*models.Order, len(result.Resting)+1)
	byID[result.Incoming.ID] = &result.Incoming
	for i := range result.Resting {
		byID[result.Resting[i].ID] = &result.Resting[i]
	}

	executions := make([]Execution, 0, len(result.Trades))
	for _, trade := range result.Trades {
		exec := Execution{
			Trade:      trade,
			Allocation: allocationFor(trade, byID[trade.BuyOrderID], byID[trade.SellOrderID]),
			Event:      matchEventFor(trade),
		}
		b.tradeIndex[trade.ID] = len(b.trades)
		b.trades = append(b.trades, trade)
		b.allocations = append(b.allocations, exec.Allocation)
		b.events = append(b.events, exec.Event)
		executions = append(executions, exec)
	}

	b.orderIndex[result.Incoming.ID] = len(b.orders)
	b.orders = append(b.orders, result.Incoming)

	return placement{
		order:      result.Incoming,
		trades:     result.Trades,
		executions: executions,
		touched:    result.Resting,
	}
}

// cancel moves a live order to CANCELLED and zeroes its remaining quantity.
func (b *Book) cancel(orderID string, at time.Time) (models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.orderIndex[orderID]
	if !ok {
		return models.Order{}, &NotFoundError{Kind: "order", ID: orderID, Product: b.product}
	}

	o := &b.orders[idx]
	if o.Terminal() {
		return models.Order{}, &InvalidStateError{Kind: "order", ID: orderID, State: string(o.Status)}
	}

	o.Status = models.Cancelled
	o.Remaining = 0
	o.UpdatedAt = at
	return *o, nil
}

// Order returns a copy of one order.
func (b *Book) Order(orderID string) (models.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	idx, ok := b.orderIndex[orderID]
	if !ok {
		return models.Order{}, false
	}
	return b.orders[idx], true
}

// Orders returns the matching orders, newest first.
func (b *Book) Orders(filter OrderFilter) []models.Order {
	b.mu.RLock()
	out := make([]models.Order, 0, len(b.orders))
	for i := range b.orders {
		if filter.matches(&b.orders[i]) {
			out = append(out, b.orders[i])
		}
	}
	b.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].Seq, out[j].Seq)
	})
	return out
}

// Trades returns every trade, newest first.
func (b *Book) Trades() []models.Trade {
	b.mu.RLock()
	out := make([]models.Trade, len(b.trades))
	copy(out, b.trades)
	b.mu.RUnlock()

	// trades are appended in execution order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Trade returns a copy of one trade.
func (b *Book) Trade(tradeID string) (models.Trade, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	idx, ok := b.tradeIndex[tradeID]
	if !ok {
		return models.Trade{}, false
	}
	return b.trades[idx], true
}

// LastTrade returns the most recent trade, if any.
func (b *Book) LastTrade() (models.Trade, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.trades) == 0 {
		return models.Trade{}, false
	}
	return b.trades[len(b.trades)-1], true
}

// Allocations returns the allocations where wallet is buyer or seller.
// An empty wallet returns all of them.
func (b *Book) Allocations(wallet string) []models.Allocation {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.Allocation, 0)
	for _, a := range b.allocations {
		if wallet == "" || a.BuyerWallet == wallet || a.SellerWallet == wallet {
			out = append(out, a)
		}
	}
	return out
}

// Events returns the match audit log in execution order.
func (b *Book) Events() []models.MatchEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.MatchEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Snapshot aggregates the live orders into depth levels.
func (b *Book) Snapshot() DepthSnapshot {
	b.mu.RLock()
	live := make([]models.Order, 0, len(b.orders))
	for i := range b.orders {
		if b.orders[i].Live() {
			live = append(live, b.orders[i])
		}
	}
	var last *models.Trade
	if n := len(b.trades); n > 0 {
		t := b.trades[n-1]
		last = &t
	}
	b.mu.RUnlock()

	return Aggregate(b.product, live, last)
}

// OrderCount returns the number of orders ever placed in the book.
func (b *Book) OrderCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}

func newer(a, b time.Time, seqA, seqB uint64) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return seqA > seqB
}

func allocationFor(trade models.Trade, buy, sell *models.Order) models.Allocation {
	a := models.Allocation{
		ID:        uuid.NewString(),
		TradeID:   trade.ID,
		Product:   trade.Product,
		Price:     trade.Price,
		Quantity:  trade.Quantity,
		State:     models.AllocationActive,
		CreatedAt: trade.CreatedAt,
	}
	if buy != nil {
		a.BuyerWallet = buy.Wallet
	}
	if sell != nil {
		a.SellerWallet = sell.Wallet
	}
	return a
}

func matchEventFor(trade models.Trade) models.MatchEvent {
	return models.MatchEvent{
		ID:           uuid.NewString(),
		Product:      trade.Product,
		TradeID:      trade.ID,
		BidOrderID:   trade.BuyOrderID,
		OfferOrderID: trade.SellOrderID,
		Price:        trade.Price,
		Quantity:     trade.Quantity,
		CreatedAt:    trade.CreatedAt,
	}
}
