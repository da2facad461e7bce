package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// SeedOrder is one bootstrap order placed at a fixed time.
type SeedOrder struct {
	Input PlaceOrderInput
	At    time.Time
}

// SeedLockRef marks trades produced by seeding as already settled.
const SeedLockRef = "seed"

// DefaultSeed returns the bootstrap liquidity for each product: a crossed
// sponsor/member pair that leaves one historical trade, then three sponsor
// asks and two member bids that do not cross.
func DefaultSeed(products []models.ProductID, now time.Time) []SeedOrder {
	var out []SeedOrder
	start := now.Add(-time.Hour)

	for i, product := range products {
		base := models.Price(8000 + 1000*int64(i))
		sponsor := fmt.Sprintf("seed-sponsor-%d", i+1)
		member := fmt.Sprintf("seed-member-%d", i+1)

		orders := []PlaceOrderInput{
			{Side: models.Sell, Price: base, Quantity: 1, Actor: models.Sponsor, Wallet: sponsor},
			{Side: models.Buy, Price: base, Quantity: 1, Actor: models.Member, Wallet: member},
			{Side: models.Sell, Price: base + 500, Quantity: 3, Actor: models.Sponsor, Wallet: sponsor},
			{Side: models.Sell, Price: base + 1000, Quantity: 2, Actor: models.Sponsor, Wallet: sponsor},
			{Side: models.Sell, Price: base + 500, Quantity: 1, Actor: models.Sponsor, Wallet: sponsor},
			{Side: models.Buy, Price: base - 500, Quantity: 2, Actor: models.Member, Wallet: member},
			{Side: models.Buy, Price: base - 1000, Quantity: 1, Actor: models.Member, Wallet: member},
		}
		for j, in := range orders {
			in.Product = product
			out = append(out, SeedOrder{Input: in, At: start.Add(time.Duration(j) * time.Minute)})
		}
	}
	return out
}

// Seed places orders directly into the books without firing callbacks.
// Trades they produce are marked as settled.
func (r *Registry) Seed(orders []SeedOrder) error {
	var trades int
	for _, so := range orders {
		p, err := r.place(so.Input, so.At)
		if err != nil {
			return fmt.Errorf("seed %s %s: %w", so.Input.Product, so.Input.Side, err)
		}
		book := r.Resolve(so.Input.Product)
		for _, t := range p.trades {
			if _, err := book.confirmSettlement(t.ID, SeedLockRef); err != nil {
				return fmt.Errorf("seed settle %s: %w", t.ID, err)
			}
			trades++
		}
	}

	r.log.WithFields(logrus.Fields{
		"orders": len(orders),
		"trades": trades,
	}).Info("books seeded")
	return nil
}
