package engine

import (
	"container/heap"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// contraQueue orders resting orders by price-time priority for one taker side.
// Asks come out cheapest first, bids highest first; equal prices are
// released oldest first.
type contraQueue struct {
	items []*models.Order
	asks  bool
}

func (q contraQueue) Len() int { return len(q.items) }

func (q contraQueue) Less(i, j int) bool {
	oi := q.items[i]
	oj := q.items[j]

	if oi.Price == oj.Price {
		if !oi.CreatedAt.Equal(oj.CreatedAt) {
			return oi.CreatedAt.Before(oj.CreatedAt)
		}
		return oi.Seq < oj.Seq
	}

	if q.asks {
		return oi.Price < oj.Price
	}
	return oi.Price > oj.Price
}

func (q contraQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *contraQueue) Push(x interface{}) {
	q.items = append(q.items, x.(*models.Order))
}

func (q *contraQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

// newContraQueue builds the queue an incoming order on takerSide matches against.
func newContraQueue(takerSide models.Side, resting []*models.Order) *contraQueue {
	q := &contraQueue{
		items: resting,
		asks:  takerSide == models.Buy,
	}
	heap.Init(q)
	return q
}
