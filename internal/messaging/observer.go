package messaging

import (
	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// Observer consumes engine state changes.
type Observer interface {
	OnOrder(o models.Order)
	OnExecution(e engine.Execution)
	OnSettlement(t models.Trade)
}

// Attach installs the registry callbacks. Every event is handed to the
// observers on the dispatcher worker owning its product, in the order the
// registry emitted it.
func (d *Dispatcher) Attach(reg *engine.Registry, observers ...Observer) {
	reg.SetOrderCallback(func(o models.Order) {
		d.Submit(string(o.Product), func() {
			for _, ob := range observers {
				ob.OnOrder(o)
			}
		})
	})
	reg.SetTradeCallback(func(e engine.Execution) {
		d.Submit(string(e.Trade.Product), func() {
			for _, ob := range observers {
				ob.OnExecution(e)
			}
		})
	})
	reg.SetSettlementCallback(func(t models.Trade) {
		d.Submit(string(t.Product), func() {
			for _, ob := range observers {
				ob.OnSettlement(t)
			}
		})
	})
}

func (p *Publisher) OnOrder(o models.Order) {
	p.report(p.PublishOrder(o), o.Product)
}

func (p *Publisher) OnExecution(e engine.Execution) {
	p.report(p.PublishTrade(e.Trade), e.Trade.Product)
}

// OnSettlement announces compensated trades. Confirmations are not
// republished since they originate from the settlement service.
func (p *Publisher) OnSettlement(t models.Trade) {
	if t.Settlement == models.SettlementFailed {
		p.report(p.PublishRevert(t), t.Product)
	}
}

func (p *Publisher) report(err error, product models.ProductID) {
	if err != nil {
		p.log.WithError(err).WithField("product", product).Error("publish failed")
	}
}
