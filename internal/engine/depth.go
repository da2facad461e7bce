package engine

import (
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// PriceLevel is the aggregated liquidity resting at one price.
type PriceLevel struct {
	Price    models.Price `json:"price"`
	Quantity int64        `json:"quantity"`
	Orders   int          `json:"orders"`
}

// DepthSnapshot is a read-only projection of a book. Bids are sorted best
// (highest) first, asks best (lowest) first.
type DepthSnapshot struct {
	Product   models.ProductID `json:"product"`
	Bids      []PriceLevel     `json:"bids"`
	Asks      []PriceLevel     `json:"asks"`
	BestBid   *PriceLevel      `json:"best_bid,omitempty"`
	BestAsk   *PriceLevel      `json:"best_ask,omitempty"`
	Spread    *models.Price    `json:"spread,omitempty"`
	LastTrade *models.Trade    `json:"last_trade,omitempty"`
}

// MarketSummary is the top of book for one product.
type MarketSummary struct {
	Product  models.ProductID `json:"product"`
	BestBid  *models.Price    `json:"best_bid,omitempty"`
	BestAsk  *models.Price    `json:"best_ask,omitempty"`
	Spread   *models.Price    `json:"spread,omitempty"`
	CanCross bool             `json:"can_cross"`
}

// Aggregate groups live orders by exact price. Orders that are not live
// are ignored.
func Aggregate(product models.ProductID, orders []models.Order, lastTrade *models.Trade) DepthSnapshot {
	bids := redblacktree.NewWith(utils.Int64Comparator)
	asks := redblacktree.NewWith(utils.Int64Comparator)

	for i := range orders {
		o := &orders[i]
		if !o.Live() {
			continue
		}
		tree := bids
		if o.Side == models.Sell {
			tree = asks
		}

		key := int64(o.Price)
		if v, found := tree.Get(key); found {
			lvl := v.(*PriceLevel)
			lvl.Quantity += o.Remaining
			lvl.Orders++
			continue
		}
		tree.Put(key, &PriceLevel{Price: o.Price, Quantity: o.Remaining, Orders: 1})
	}

	snap := DepthSnapshot{
		Product:   product,
		Bids:      make([]PriceLevel, 0, bids.Size()),
		Asks:      make([]PriceLevel, 0, asks.Size()),
		LastTrade: lastTrade,
	}

	it := bids.Iterator()
	for it.End(); it.Prev(); {
		snap.Bids = append(snap.Bids, *it.Value().(*PriceLevel))
	}
	for _, v := range asks.Values() {
		snap.Asks = append(snap.Asks, *v.(*PriceLevel))
	}

	if len(snap.Bids) > 0 {
		best := snap.Bids[0]
		snap.BestBid = &best
	}
	if len(snap.Asks) > 0 {
		best := snap.Asks[0]
		snap.BestAsk = &best
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := snap.BestAsk.Price - snap.BestBid.Price
		snap.Spread = &spread
	}

	return snap
}

// Summary reduces a snapshot to its top of book. CanCross is set when the
// best bid meets or exceeds the best ask.
func (s DepthSnapshot) Summary() MarketSummary {
	sum := MarketSummary{Product: s.Product, Spread: s.Spread}
	if s.BestBid != nil {
		p := s.BestBid.Price
		sum.BestBid = &p
	}
	if s.BestAsk != nil {
		p := s.BestAsk.Price
		sum.BestAsk = &p
	}
	if sum.BestBid != nil && sum.BestAsk != nil {
		sum.CanCross = *sum.BestBid >= *sum.BestAsk
	}
	return sum
}
