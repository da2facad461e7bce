package engine

import (
	"time"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// RevertOrdersForFailedTrade gives quantity back to both sides of a trade
// whose settlement failed. Remaining is capped at the original quantity,
// so reverting twice cannot inflate an order. Cancelled orders are
// returned unchanged and a non-positive quantity is a no-op.
func RevertOrdersForFailedTrade(buy, sell models.Order, quantity int64, at time.Time) (models.Order, models.Order) {
	return revertOrder(buy, quantity, at), revertOrder(sell, quantity, at)
}

func revertOrder(o models.Order, quantity int64, at time.Time) models.Order {
	if quantity <= 0 || o.Status == models.Cancelled {
		return o
	}
	o.Remaining = min(o.Quantity, o.Remaining+quantity)
	o.Status = models.DeriveStatus(o.Quantity, o.Remaining)
	o.UpdatedAt = at
	return o
}

// settlementOutcome carries the records touched by a settlement transition.
type settlementOutcome struct {
	trade models.Trade
	buy   models.Order
	sell  models.Order
}

// confirmSettlement marks a pending trade as settled on the external ledger.
func (b *Book) confirmSettlement(tradeID, lockRef string) (models.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.pendingTrade(tradeID)
	if err != nil {
		return models.Trade{}, err
	}
	t.Settlement = models.SettlementConfirmed
	if lockRef != "" {
		t.LockRef = lockRef
	}
	return *t, nil
}

// failSettlement marks a pending trade as failed, reverts its fill on both
// orders and terminates the allocation derived from it.
func (b *Book) failSettlement(tradeID string, at time.Time) (settlementOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.pendingTrade(tradeID)
	if err != nil {
		return settlementOutcome{}, err
	}

	buyIdx, okBuy := b.orderIndex[t.BuyOrderID]
	sellIdx, okSell := b.orderIndex[t.SellOrderID]
	if !okBuy || !okSell {
		return settlementOutcome{}, &NotFoundError{Kind: "order", ID: t.BuyOrderID + "/" + t.SellOrderID, Product: b.product}
	}

	buy, sell := RevertOrdersForFailedTrade(b.orders[buyIdx], b.orders[sellIdx], t.Quantity, at)
	b.orders[buyIdx] = buy
	b.orders[sellIdx] = sell

	t.Settlement = models.SettlementFailed
	for i := range b.allocations {
		if b.allocations[i].TradeID == t.ID {
			b.allocations[i].State = models.AllocationTerminated
			break
		}
	}

	return settlementOutcome{trade: *t, buy: buy, sell: sell}, nil
}

// pendingTrade must be called with mu held.
func (b *Book) pendingTrade(tradeID string) (*models.Trade, error) {
	idx, ok := b.tradeIndex[tradeID]
	if !ok {
		return nil, &NotFoundError{Kind: "trade", ID: tradeID, Product: b.product}
	}
	t := &b.trades[idx]
	if t.Settlement != models.SettlementPending {
		return nil, &InvalidStateError{Kind: "trade", ID: tradeID, State: string(t.Settlement)}
	}
	return t, nil
}
