package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func TestMetrics_Orders(t *testing.T) {
	m := newTestMetrics()

	m.RecordOrderPlaced("SPOTIFY-PREMIUM-1Y", "BUY", "MEMBER")
	m.RecordOrderPlaced("SPOTIFY-PREMIUM-1Y", "BUY", "MEMBER")
	m.RecordOrderCancelled("SPOTIFY-PREMIUM-1Y")
	m.RecordOrderRejected("side")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrdersPlaced.WithLabelValues("SPOTIFY-PREMIUM-1Y", "BUY", "MEMBER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersCancelled.WithLabelValues("SPOTIFY-PREMIUM-1Y")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersRejected.WithLabelValues("side")))
}

func TestMetrics_Trades(t *testing.T) {
	m := newTestMetrics()

	m.RecordTrade("NETFLIX-STANDARD-1Y", 3, 270.5)
	m.RecordTrade("NETFLIX-STANDARD-1Y", 1, 90)
	m.RecordRevert("NETFLIX-STANDARD-1Y")
	m.RecordSettlementConfirmed("NETFLIX-STANDARD-1Y")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("NETFLIX-STANDARD-1Y")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TradeQuantity.WithLabelValues("NETFLIX-STANDARD-1Y")))
	assert.Equal(t, 360.5, testutil.ToFloat64(m.TradeNotional.WithLabelValues("NETFLIX-STANDARD-1Y")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesReverted.WithLabelValues("NETFLIX-STANDARD-1Y")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettlementsDone.WithLabelValues("NETFLIX-STANDARD-1Y", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettlementsDone.WithLabelValues("NETFLIX-STANDARD-1Y", "confirmed")))
}

func TestMetrics_BookDepth(t *testing.T) {
	m := newTestMetrics()

	m.SetBookDepth("A", 3, 5, 1.5, true)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BookLiquidity.WithLabelValues("A", "bid")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BookLiquidity.WithLabelValues("A", "ask")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BookSpread))

	m.SetBookDepth("A", 0, 5, 0, false)
	assert.Equal(t, 0, testutil.CollectAndCount(m.BookSpread))
}

func TestMetrics_Sinks(t *testing.T) {
	m := newTestMetrics()

	m.RecordStoreWrite("order", nil)
	m.RecordStoreWrite("order", errors.New("boom"))
	m.RecordCacheError("depth")
	m.RecordPublished("seatbook.events", "trade.executed")
	m.RecordConsumed("settlement.events", "ack")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreWrites.WithLabelValues("order", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreWrites.WithLabelValues("order", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues("depth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MQMessagesPublished.WithLabelValues("seatbook.events", "trade.executed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MQMessagesConsumed.WithLabelValues("settlement.events", "ack")))
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		newTestMetrics()
		newTestMetrics()
	})
}

func TestRecorder_FollowsRegistryCallbacks(t *testing.T) {
	m := newTestMetrics()
	log, _ := test.NewNullLogger()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reg := engine.NewRegistry(engine.WithLogger(log), engine.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	rec := NewRecorder(m, reg)
	reg.SetOrderCallback(rec.OnOrder)
	reg.SetTradeCallback(rec.OnExecution)
	reg.SetSettlementCallback(rec.OnSettlement)

	const product = "SPOTIFY-PREMIUM-1Y"
	sell, err := reg.PlaceOrder(engine.PlaceOrderInput{
		Product: product, Side: models.Sell, Price: 1000, Quantity: 3, Actor: models.Sponsor,
	})
	require.NoError(t, err)
	buy, err := reg.PlaceOrder(engine.PlaceOrderInput{
		Product: product, Side: models.Buy, Price: 1000, Quantity: 1, Actor: models.Member,
	})
	require.NoError(t, err)
	require.Len(t, buy.Trades, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersPlaced.WithLabelValues(product, "SELL", "SPONSOR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersPlaced.WithLabelValues(product, "BUY", "MEMBER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues(product)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.TradeNotional.WithLabelValues(product)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BookLiquidity.WithLabelValues(product, "ask")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BookLiquidity.WithLabelValues(product, "bid")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.BookSpread))

	_, err = reg.FailSettlement(product, buy.Trades[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesReverted.WithLabelValues(product)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersPlaced.WithLabelValues(product, "SELL", "SPONSOR")), "reverts are not placements")

	_, err = reg.CancelOrder(product, sell.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersCancelled.WithLabelValues(product)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BookLiquidity.WithLabelValues(product, "ask")))
}
