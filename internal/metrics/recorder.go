package metrics

import (
	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// DepthSource reads the current depth of a book.
type DepthSource interface {
	Snapshot(product models.ProductID) engine.DepthSnapshot
}

// Recorder turns engine callbacks into metric updates.
type Recorder struct {
	m      *Metrics
	source DepthSource
}

func NewRecorder(m *Metrics, source DepthSource) *Recorder {
	return &Recorder{m: m, source: source}
}

func (r *Recorder) OnOrder(o models.Order) {
	product := string(o.Product)
	switch {
	case o.Status == models.Cancelled:
		r.m.RecordOrderCancelled(product)
	case o.Untouched():
		r.m.RecordOrderPlaced(product, string(o.Side), string(o.Actor))
	}
	r.refreshDepth(o.Product)
}

func (r *Recorder) OnExecution(e engine.Execution) {
	t := e.Trade
	notional, _ := t.Notional().Decimal().Float64()
	r.m.RecordTrade(string(t.Product), t.Quantity, notional)
}

func (r *Recorder) OnSettlement(t models.Trade) {
	switch t.Settlement {
	case models.SettlementConfirmed:
		r.m.RecordSettlementConfirmed(string(t.Product))
	case models.SettlementFailed:
		r.m.RecordRevert(string(t.Product))
		r.refreshDepth(t.Product)
	}
}

func (r *Recorder) refreshDepth(product models.ProductID) {
	snap := r.source.Snapshot(product)

	var bidQty, askQty int64
	for _, lvl := range snap.Bids {
		bidQty += lvl.Quantity
	}
	for _, lvl := range snap.Asks {
		askQty += lvl.Quantity
	}

	var spread float64
	if snap.Spread != nil {
		spread, _ = snap.Spread.Decimal().Float64()
	}
	r.m.SetBookDepth(string(product), bidQty, askQty, spread, snap.Spread != nil)
}
