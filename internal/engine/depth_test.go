package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

func TestAggregate(t *testing.T) {
	cancelled := restingOrder(models.Buy, 9900, 4, 0)
	cancelled.Status = models.Cancelled

	orders := []models.Order{
		restingOrder(models.Buy, 9000, 2, 0),
		restingOrder(models.Buy, 9500, 1, 1),
		restingOrder(models.Buy, 9000, 3, 2),
		restingOrder(models.Sell, 10500, 1, 3),
		restingOrder(models.Sell, 10000, 2, 4),
		restingOrder(models.Sell, 10000, 1, 5),
		cancelled,
	}

	snap := Aggregate(testProduct, orders, nil)

	assert.Equal(t, []PriceLevel{
		{Price: 9500, Quantity: 1, Orders: 1},
		{Price: 9000, Quantity: 5, Orders: 2},
	}, snap.Bids)
	assert.Equal(t, []PriceLevel{
		{Price: 10000, Quantity: 3, Orders: 2},
		{Price: 10500, Quantity: 1, Orders: 1},
	}, snap.Asks)

	require.NotNil(t, snap.BestBid)
	require.NotNil(t, snap.BestAsk)
	require.NotNil(t, snap.Spread)
	assert.Equal(t, models.Price(9500), snap.BestBid.Price)
	assert.Equal(t, models.Price(10000), snap.BestAsk.Price)
	assert.Equal(t, models.Price(500), *snap.Spread)
	assert.Nil(t, snap.LastTrade)

	sum := snap.Summary()
	assert.False(t, sum.CanCross)
	assert.Equal(t, models.Price(500), *sum.Spread)
}

func TestAggregate_OneSided(t *testing.T) {
	snap := Aggregate(testProduct, []models.Order{restingOrder(models.Sell, 10000, 1, 0)}, nil)

	assert.Empty(t, snap.Bids)
	assert.Nil(t, snap.BestBid)
	assert.Nil(t, snap.Spread)
	assert.NotNil(t, snap.BestAsk)
	assert.False(t, snap.Summary().CanCross)
}

func TestDepthSnapshot_SummaryCanCross(t *testing.T) {
	snap := Aggregate(testProduct, []models.Order{
		restingOrder(models.Buy, 10000, 1, 0),
		restingOrder(models.Sell, 10000, 1, 1),
	}, nil)

	sum := snap.Summary()
	assert.True(t, sum.CanCross)
	assert.Equal(t, models.Price(0), *sum.Spread)
}

func TestRegistry_SnapshotLastTrade(t *testing.T) {
	r := newTestRegistry()

	_, err := r.PlaceOrder(sell(9000, 3))
	require.NoError(t, err)
	res, err := r.PlaceOrder(buy(9000, 1))
	require.NoError(t, err)

	snap := r.Snapshot(testProduct)
	require.NotNil(t, snap.LastTrade)
	assert.Equal(t, res.Trades[0].ID, snap.LastTrade.ID)
	assert.Equal(t, []PriceLevel{{Price: 9000, Quantity: 2, Orders: 1}}, snap.Asks)
}

func TestRegistry_SeedAndMarketSummaries(t *testing.T) {
	r := newTestRegistry()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, r.Seed(DefaultSeed(models.ProductIDs(r.Products()), now)))

	sums := r.MarketSummaries()
	require.Len(t, sums, len(models.DefaultProducts))
	for i, sum := range sums {
		base := models.Price(8000 + 1000*int64(i))
		require.NotNil(t, sum.BestBid)
		require.NotNil(t, sum.BestAsk)
		assert.Equal(t, base-500, *sum.BestBid)
		assert.Equal(t, base+500, *sum.BestAsk)
		assert.Equal(t, models.Price(1000), *sum.Spread)
		assert.False(t, sum.CanCross)

		snap := r.Snapshot(sum.Product)
		assert.Len(t, snap.Asks, 2)
		assert.Len(t, snap.Bids, 2)
		assert.Equal(t, PriceLevel{Price: base + 500, Quantity: 4, Orders: 2}, snap.Asks[0])

		trades := r.Trades(sum.Product)
		require.Len(t, trades, 1)
		assert.Equal(t, models.SettlementConfirmed, trades[0].Settlement)
		assert.Equal(t, SeedLockRef, trades[0].LockRef)
		assert.True(t, trades[0].CreatedAt.Before(now))
	}
}

func TestRegistry_SeedRejectsInvalidOrders(t *testing.T) {
	r := newTestRegistry()

	err := r.Seed([]SeedOrder{{Input: PlaceOrderInput{Product: "HULU-1Y"}, At: testEpoch}})
	assert.ErrorIs(t, err, ErrValidation)
}
