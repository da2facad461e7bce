package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// Registry owns one Book per product.
//
// THREAD SAFETY:
//   - Each book has its own lock, so products match in parallel
//   - The books map is guarded by mu with double-checked lazy creation
//   - Callbacks run after the book lock is released but while the book's
//     emit lock is held, so observers see one book's events in commit order
type Registry struct {
	mu    sync.RWMutex
	books map[models.ProductID]*Book

	products       []models.Product
	known          map[models.ProductID]struct{}
	defaultProduct models.ProductID

	now func() time.Time
	seq atomic.Uint64
	log logrus.FieldLogger

	cbMu         sync.RWMutex
	onTrade      func(Execution)
	onOrder      func(models.Order)
	onSettlement func(models.Trade)
}

type Option func(*Registry)

// WithProducts replaces the tradable product set.
func WithProducts(products ...models.Product) Option {
	return func(r *Registry) {
		r.products = products
	}
}

func WithDefaultProduct(id models.ProductID) Option {
	return func(r *Registry) {
		r.defaultProduct = id
	}
}

// WithClock makes timestamps deterministic in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		books:    make(map[models.ProductID]*Book),
		products: models.DefaultProducts,
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.known = make(map[models.ProductID]struct{}, len(r.products))
	for _, p := range r.products {
		r.known[p.ID] = struct{}{}
	}
	if _, ok := r.known[r.defaultProduct]; !ok && len(r.products) > 0 {
		r.defaultProduct = r.products[0].ID
	}
	return r
}

// Products returns the configured product set.
func (r *Registry) Products() []models.Product {
	out := make([]models.Product, len(r.products))
	copy(out, r.products)
	return out
}

func (r *Registry) DefaultProduct() models.ProductID {
	return r.defaultProduct
}

// IsKnown reports whether id belongs to the configured product set.
func (r *Registry) IsKnown(id models.ProductID) bool {
	_, ok := r.known[id]
	return ok
}

// Resolve returns the book for product, creating it on first use.
// Unknown products resolve to the default product.
func (r *Registry) Resolve(product models.ProductID) *Book {
	if !r.IsKnown(product) {
		product = r.defaultProduct
	}

	r.mu.RLock()
	b, exists := r.books[product]
	r.mu.RUnlock()
	if exists {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, exists = r.books[product]; exists {
		return b
	}
	b = NewBook(product)
	r.books[product] = b
	return b
}

// lookup resolves a product on a write path, where unknown ids are errors.
func (r *Registry) lookup(product models.ProductID) (*Book, error) {
	if !r.IsKnown(product) {
		return nil, &ValidationError{Field: "product", Message: "unknown product " + string(product)}
	}
	return r.Resolve(product), nil
}

// PlaceOrderInput is a new limit order as submitted by a caller.
type PlaceOrderInput struct {
	Product     models.ProductID
	Side        models.Side
	Price       models.Price
	Quantity    int64
	Actor       models.Role
	Wallet      string
	ExternalRef string
}

// PlaceOrderResult is the incoming order's final state and the trades it produced.
type PlaceOrderResult struct {
	Order  models.Order   `json:"order"`
	Trades []models.Trade `json:"trades"`
}

func (in PlaceOrderInput) validate(r *Registry) error {
	switch {
	case !r.IsKnown(in.Product):
		return &ValidationError{Field: "product", Message: "unknown product " + string(in.Product)}
	case !in.Side.IsValid():
		return &ValidationError{Field: "side", Message: "must be BUY or SELL"}
	case !in.Actor.IsValid():
		return &ValidationError{Field: "actor", Message: "must be SPONSOR or MEMBER"}
	case !in.Actor.CanPlace(in.Side):
		return &ValidationError{Field: "side", Message: string(in.Actor) + " may not place " + string(in.Side) + " orders"}
	case in.Price <= 0:
		return &ValidationError{Field: "price", Message: "must be greater than 0"}
	case in.Quantity <= 0:
		return &ValidationError{Field: "quantity", Message: "must be greater than 0"}
	}
	return nil
}

// PlaceOrder validates, matches and commits a new order.
func (r *Registry) PlaceOrder(in PlaceOrderInput) (PlaceOrderResult, error) {
	if err := in.validate(r); err != nil {
		return PlaceOrderResult{}, err
	}
	defer r.Resolve(in.Product).serialize()()

	p, err := r.place(in, r.now())
	if err != nil {
		return PlaceOrderResult{}, err
	}

	r.log.WithFields(logrus.Fields{
		"product": p.order.Product,
		"order":   p.order.ID,
		"side":    p.order.Side,
		"price":   p.order.Price.String(),
		"qty":     p.order.Quantity,
		"trades":  len(p.trades),
		"status":  p.order.Status,
	}).Debug("order placed")

	r.notifyPlacement(p)
	return PlaceOrderResult{Order: p.order, Trades: p.trades}, nil
}

func (r *Registry) place(in PlaceOrderInput, at time.Time) (placement, error) {
	if err := in.validate(r); err != nil {
		return placement{}, err
	}

	order := models.Order{
		ID:          uuid.NewString(),
		Product:     in.Product,
		Side:        in.Side,
		Price:       in.Price,
		Quantity:    in.Quantity,
		Remaining:   in.Quantity,
		Status:      models.Open,
		Actor:       in.Actor,
		Wallet:      in.Wallet,
		ExternalRef: in.ExternalRef,
		Seq:         r.seq.Add(1),
		CreatedAt:   at,
		UpdatedAt:   at,
	}

	return r.Resolve(in.Product).place(order, at), nil
}

// CancelOrder cancels a live order.
func (r *Registry) CancelOrder(product models.ProductID, orderID string) (models.Order, error) {
	if !r.IsKnown(product) {
		return models.Order{}, &NotFoundError{Kind: "order", ID: orderID, Product: product}
	}

	b := r.Resolve(product)
	defer b.serialize()()

	order, err := b.cancel(orderID, r.now())
	if err != nil {
		return models.Order{}, err
	}

	r.log.WithFields(logrus.Fields{
		"product": product,
		"order":   orderID,
	}).Debug("order cancelled")

	if cb := r.orderCallback(); cb != nil {
		cb(order)
	}
	return order, nil
}

// Order returns one order by id.
func (r *Registry) Order(product models.ProductID, orderID string) (models.Order, error) {
	o, ok := r.Resolve(product).Order(orderID)
	if !ok {
		return models.Order{}, &NotFoundError{Kind: "order", ID: orderID, Product: product}
	}
	return o, nil
}

// Orders lists a product's orders, newest first.
func (r *Registry) Orders(product models.ProductID, filter OrderFilter) []models.Order {
	return r.Resolve(product).Orders(filter)
}

// Trades lists a product's trades, newest first.
func (r *Registry) Trades(product models.ProductID) []models.Trade {
	return r.Resolve(product).Trades()
}

// AllocationsByWallet returns the wallet's allocations. An empty product
// searches every configured product.
func (r *Registry) AllocationsByWallet(wallet string, product models.ProductID) []models.Allocation {
	if product != "" {
		return r.Resolve(product).Allocations(wallet)
	}

	out := make([]models.Allocation, 0)
	for _, p := range r.products {
		out = append(out, r.Resolve(p.ID).Allocations(wallet)...)
	}
	return out
}

// Snapshot returns the depth of a product's book.
func (r *Registry) Snapshot(product models.ProductID) DepthSnapshot {
	return r.Resolve(product).Snapshot()
}

// MarketSummaries returns the top of book for every configured product.
func (r *Registry) MarketSummaries() []MarketSummary {
	out := make([]MarketSummary, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, r.Resolve(p.ID).Snapshot().Summary())
	}
	return out
}

// ConfirmSettlement records that a trade's escrow settled.
func (r *Registry) ConfirmSettlement(product models.ProductID, tradeID, lockRef string) (models.Trade, error) {
	b, err := r.lookup(product)
	if err != nil {
		return models.Trade{}, err
	}
	defer b.serialize()()

	trade, err := b.confirmSettlement(tradeID, lockRef)
	if err != nil {
		return models.Trade{}, err
	}

	r.log.WithFields(logrus.Fields{
		"product":  product,
		"trade":    tradeID,
		"lock_ref": lockRef,
	}).Info("settlement confirmed")

	if cb := r.settlementCallback(); cb != nil {
		cb(trade)
	}
	return trade, nil
}

// FailSettlement compensates a trade whose escrow failed: both orders get
// the traded quantity back and the allocation is terminated.
func (r *Registry) FailSettlement(product models.ProductID, tradeID string) (models.Trade, error) {
	b, err := r.lookup(product)
	if err != nil {
		return models.Trade{}, err
	}
	defer b.serialize()()

	out, err := b.failSettlement(tradeID, r.now())
	if err != nil {
		return models.Trade{}, err
	}

	r.log.WithFields(logrus.Fields{
		"product": product,
		"trade":   tradeID,
		"qty":     out.trade.Quantity,
	}).Warn("settlement failed, trade reverted")

	if cb := r.orderCallback(); cb != nil {
		cb(out.buy)
		cb(out.sell)
	}
	if cb := r.settlementCallback(); cb != nil {
		cb(out.trade)
	}
	return out.trade, nil
}

// BookCount returns how many books have been created.
func (r *Registry) BookCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.books)
}

// SetTradeCallback sets the callback for executed trades.
func (r *Registry) SetTradeCallback(cb func(Execution)) *Registry {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.onTrade = cb
	return r
}

// SetOrderCallback sets the callback for order state changes.
func (r *Registry) SetOrderCallback(cb func(models.Order)) *Registry {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.onOrder = cb
	return r
}

// SetSettlementCallback sets the callback for confirmed and failed
// settlements. A failed one has already been compensated when it fires.
func (r *Registry) SetSettlementCallback(cb func(models.Trade)) *Registry {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.onSettlement = cb
	return r
}

func (r *Registry) settlementCallback() func(models.Trade) {
	r.cbMu.RLock()
	defer r.cbMu.RUnlock()
	return r.onSettlement
}

func (r *Registry) orderCallback() func(models.Order) {
	r.cbMu.RLock()
	defer r.cbMu.RUnlock()
	return r.onOrder
}

func (r *Registry) notifyPlacement(p placement) {
	r.cbMu.RLock()
	onOrder, onTrade := r.onOrder, r.onTrade
	r.cbMu.RUnlock()

	if onOrder != nil {
		onOrder(p.order)
		for _, o := range p.touched {
			onOrder(o)
		}
	}
	if onTrade != nil {
		for _, exec := range p.executions {
			onTrade(exec)
		}
	}
}
