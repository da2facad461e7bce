package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

func filledOrder(side models.Side, qty int64) models.Order {
	o := restingOrder(side, 9000, qty, 0)
	o.Remaining = 0
	o.Status = models.Filled
	return o
}

func TestRevertOrdersForFailedTrade(t *testing.T) {
	b, s := RevertOrdersForFailedTrade(filledOrder(models.Buy, 2), filledOrder(models.Sell, 2), 1, testEpoch)

	assert.Equal(t, int64(1), b.Remaining)
	assert.Equal(t, models.Partial, b.Status)
	assert.Equal(t, int64(1), s.Remaining)
	assert.Equal(t, models.Partial, s.Status)
	assert.Equal(t, testEpoch, b.UpdatedAt)
}

func TestRevertOrdersForFailedTrade_Bound(t *testing.T) {
	for _, qty := range []int64{1, 2, 3, 1000} {
		b, s := RevertOrdersForFailedTrade(filledOrder(models.Buy, 2), filledOrder(models.Sell, 3), qty, testEpoch)
		assert.LessOrEqual(t, b.Remaining, b.Quantity)
		assert.LessOrEqual(t, s.Remaining, s.Quantity)
	}

	b, _ := RevertOrdersForFailedTrade(filledOrder(models.Buy, 2), filledOrder(models.Sell, 2), 5, testEpoch)
	assert.Equal(t, int64(2), b.Remaining)
	assert.Equal(t, models.Open, b.Status)

	// applying the same revert twice stays capped
	b, s := RevertOrdersForFailedTrade(filledOrder(models.Buy, 2), filledOrder(models.Sell, 2), 2, testEpoch)
	b, s = RevertOrdersForFailedTrade(b, s, 2, testEpoch)
	assert.Equal(t, int64(2), b.Remaining)
	assert.Equal(t, int64(2), s.Remaining)
}

func TestRevertOrdersForFailedTrade_CancelledUnchanged(t *testing.T) {
	cancelled := restingOrder(models.Sell, 9000, 2, 0)
	cancelled.Status = models.Cancelled
	cancelled.Remaining = 0

	buyer := filledOrder(models.Buy, 2)
	b, s := RevertOrdersForFailedTrade(buyer, cancelled, 1, testEpoch)

	assert.Equal(t, cancelled, s)
	assert.Equal(t, models.Partial, b.Status)
}

func TestRevertOrdersForFailedTrade_NonPositiveQuantity(t *testing.T) {
	buyer, seller := filledOrder(models.Buy, 2), filledOrder(models.Sell, 2)

	b, s := RevertOrdersForFailedTrade(buyer, seller, 0, testEpoch)
	assert.Equal(t, buyer, b)
	assert.Equal(t, seller, s)

	b, s = RevertOrdersForFailedTrade(buyer, seller, -3, testEpoch)
	assert.Equal(t, buyer, b)
	assert.Equal(t, seller, s)
}

func TestRegistry_FailSettlement(t *testing.T) {
	r := newTestRegistry()

	var reverted []models.Trade
	r.SetSettlementCallback(func(tr models.Trade) { reverted = append(reverted, tr) })

	ask, err := r.PlaceOrder(sell(9000, 2))
	require.NoError(t, err)
	bid, err := r.PlaceOrder(buy(9000, 2))
	require.NoError(t, err)
	require.Len(t, bid.Trades, 1)
	tradeID := bid.Trades[0].ID

	trade, err := r.FailSettlement(testProduct, tradeID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementFailed, trade.Settlement)
	require.Len(t, reverted, 1)
	assert.Equal(t, tradeID, reverted[0].ID)

	for _, id := range []string{ask.Order.ID, bid.Order.ID} {
		o, err := r.Order(testProduct, id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), o.Remaining)
		assert.Equal(t, models.Open, o.Status)
	}

	allocs := r.AllocationsByWallet("0xmember", testProduct)
	require.Len(t, allocs, 1)
	assert.Equal(t, models.AllocationTerminated, allocs[0].State)

	// a second failure report must not revert again
	_, err = r.FailSettlement(testProduct, tradeID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Len(t, reverted, 1)

	// reverted liquidity is matchable again
	again, err := r.PlaceOrder(buy(9000, 1))
	require.NoError(t, err)
	require.Len(t, again.Trades, 1)
	assert.Equal(t, ask.Order.ID, again.Trades[0].SellOrderID)
}

func TestRegistry_FailSettlement_CancelledSideStaysDead(t *testing.T) {
	r := newTestRegistry()

	ask, err := r.PlaceOrder(sell(9000, 3))
	require.NoError(t, err)
	bid, err := r.PlaceOrder(buy(9000, 1))
	require.NoError(t, err)
	_, err = r.CancelOrder(testProduct, ask.Order.ID)
	require.NoError(t, err)

	_, err = r.FailSettlement(testProduct, bid.Trades[0].ID)
	require.NoError(t, err)

	o, err := r.Order(testProduct, ask.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Cancelled, o.Status)
	assert.Zero(t, o.Remaining)

	b, err := r.Order(testProduct, bid.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Open, b.Status)
	assert.Equal(t, int64(1), b.Remaining)
}

func TestRegistry_ConfirmSettlement(t *testing.T) {
	r := newTestRegistry()

	_, err := r.PlaceOrder(sell(9000, 1))
	require.NoError(t, err)
	bid, err := r.PlaceOrder(buy(9000, 1))
	require.NoError(t, err)
	tradeID := bid.Trades[0].ID

	var settled []models.Trade
	r.SetSettlementCallback(func(tr models.Trade) { settled = append(settled, tr) })

	trade, err := r.ConfirmSettlement(testProduct, tradeID, "0xlock")
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, models.SettlementConfirmed, settled[0].Settlement)
	assert.Equal(t, models.SettlementConfirmed, trade.Settlement)
	assert.Equal(t, "0xlock", trade.LockRef)

	_, err = r.FailSettlement(testProduct, tradeID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = r.ConfirmSettlement(testProduct, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.ConfirmSettlement("HULU-1Y", tradeID, "")
	assert.ErrorIs(t, err, ErrValidation)
}
