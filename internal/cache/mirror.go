package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/metrics"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// MirrorWriter is the write side of RedisCache used by Mirror.
type MirrorWriter interface {
	SetDepth(ctx context.Context, snap engine.DepthSnapshot) error
	AddRecentTrade(ctx context.Context, trade models.Trade) error
	SetOrderStatus(ctx context.Context, o models.Order) error
}

// DepthSource returns the current depth of a book.
type DepthSource interface {
	Snapshot(product models.ProductID) engine.DepthSnapshot
}

// Guard wraps each cache call, typically a circuit breaker.
type Guard interface {
	Execute(fn func() error) error
}

// Mirror keeps the cache in step with engine callbacks.
type Mirror struct {
	w       MirrorWriter
	source  DepthSource
	guard   Guard
	timeout time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewMirror(w MirrorWriter, source DepthSource, log logrus.FieldLogger, m *metrics.Metrics) *Mirror {
	return &Mirror{w: w, source: source, timeout: 2 * time.Second, log: log, metrics: m}
}

func (m *Mirror) UseGuard(g Guard) *Mirror {
	m.guard = g
	return m
}

func (m *Mirror) OnOrder(o models.Order) {
	m.do("set_order_status", func(ctx context.Context) error { return m.w.SetOrderStatus(ctx, o) })
	m.refreshDepth(o.Product)
}

func (m *Mirror) OnExecution(e engine.Execution) {
	m.do("add_recent_trade", func(ctx context.Context) error { return m.w.AddRecentTrade(ctx, e.Trade) })
	m.refreshDepth(e.Trade.Product)
}

// OnSettlement refreshes depth after a failure revived liquidity.
func (m *Mirror) OnSettlement(t models.Trade) {
	if t.Settlement == models.SettlementFailed {
		m.refreshDepth(t.Product)
	}
}

func (m *Mirror) refreshDepth(product models.ProductID) {
	snap := m.source.Snapshot(product)
	m.do("set_depth", func(ctx context.Context) error { return m.w.SetDepth(ctx, snap) })
}

func (m *Mirror) do(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var err error
	if m.guard != nil {
		err = m.guard.Execute(func() error { return fn(ctx) })
	} else {
		err = fn(ctx)
	}
	if err == nil {
		return
	}

	if m.metrics != nil {
		m.metrics.RecordCacheError(op)
	}
	m.log.WithError(err).WithField("operation", op).Warn("cache write failed")
}
