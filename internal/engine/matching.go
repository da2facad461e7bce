package engine

import (
	"container/heap"
	"time"

	"github.com/google/uuid"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// MatchResult is the outcome of matching one incoming order.
// Resting holds the updated copies of the resting orders that traded,
// in the order they were filled.
type MatchResult struct {
	Trades   []models.Trade
	Incoming models.Order
	Resting  []models.Order
}

// Match fills incoming against the resting contra-side orders using
// price-time priority. Every trade executes at the resting order's price.
// Neither argument is modified; the caller commits the result.
func Match(incoming models.Order, resting []models.Order, at time.Time) MatchResult {
	result := MatchResult{Incoming: incoming}
	if incoming.Remaining <= 0 {
		return result
	}

	candidates := make([]*models.Order, 0, len(resting))
	for i := range resting {
		o := resting[i]
		if !o.Live() || o.Side == incoming.Side || o.Product != incoming.Product {
			continue
		}
		candidates = append(candidates, &o)
	}

	taker := &result.Incoming
	q := newContraQueue(taker.Side, candidates)

	for taker.Remaining > 0 && q.Len() > 0 {
		maker := heap.Pop(q).(*models.Order)
		if !crosses(taker, maker) {
			break
		}

		qty := min(taker.Remaining, maker.Remaining)
		taker.Fill(qty, at)
		maker.Fill(qty, at)

		result.Trades = append(result.Trades, executeTrade(taker, maker, qty, at))
		result.Resting = append(result.Resting, *maker)
	}

	return result
}

func crosses(taker, maker *models.Order) bool {
	if taker.Side == models.Buy {
		return taker.Price >= maker.Price
	}
	return taker.Price <= maker.Price
}

func executeTrade(taker, maker *models.Order, qty int64, at time.Time) models.Trade {
	buy, sell := taker, maker
	if taker.Side == models.Sell {
		buy, sell = maker, taker
	}

	return models.Trade{
		ID:          uuid.NewString(),
		Product:     taker.Product,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Price:       maker.Price,
		Quantity:    qty,
		Settlement:  models.SettlementPending,
		CreatedAt:   at,
	}
}
