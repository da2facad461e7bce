package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

const testProduct models.ProductID = "SPOTIFY-PREMIUM-1Y"

var testEpoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// stepClock advances one second per call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: testEpoch}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRegistry() *Registry {
	return NewRegistry(WithClock(newStepClock().Now))
}

var orderSeq uint64

// restingOrder builds a live order created offset seconds after testEpoch.
func restingOrder(side models.Side, price models.Price, qty int64, offset int) models.Order {
	orderSeq++
	at := testEpoch.Add(time.Duration(offset) * time.Second)
	actor := models.Sponsor
	if side == models.Buy {
		actor = models.Member
	}
	return models.Order{
		ID:        fmt.Sprintf("%s-%d", side, orderSeq),
		Product:   testProduct,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Remaining: qty,
		Status:    models.Open,
		Actor:     actor,
		Seq:       orderSeq,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func sell(price models.Price, qty int64) PlaceOrderInput {
	return PlaceOrderInput{Product: testProduct, Side: models.Sell, Price: price, Quantity: qty, Actor: models.Sponsor, Wallet: "0xsponsor"}
}

func buy(price models.Price, qty int64) PlaceOrderInput {
	return PlaceOrderInput{Product: testProduct, Side: models.Buy, Price: price, Quantity: qty, Actor: models.Member, Wallet: "0xmember"}
}
