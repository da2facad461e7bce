package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/metrics"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// Writer persists engine state changes.
type Writer interface {
	SaveOrder(ctx context.Context, o models.Order) error
	SaveExecution(ctx context.Context, e engine.Execution) error
	SaveSettlement(ctx context.Context, t models.Trade) error
}

// Guard wraps each write, typically a circuit breaker.
type Guard interface {
	Execute(fn func() error) error
}

// Sink adapts engine callbacks to a Writer. Failures are logged and
// counted; the in-memory book stays authoritative.
type Sink struct {
	w       Writer
	guard   Guard
	timeout time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewSink(w Writer, log logrus.FieldLogger, m *metrics.Metrics) *Sink {
	return &Sink{w: w, timeout: 5 * time.Second, log: log, metrics: m}
}

// UseGuard routes every write through g.
func (s *Sink) UseGuard(g Guard) *Sink {
	s.guard = g
	return s
}

func (s *Sink) OnOrder(o models.Order) {
	s.write("order", logrus.Fields{"order": o.ID, "status": o.Status}, func(ctx context.Context) error {
		return s.w.SaveOrder(ctx, o)
	})
}

func (s *Sink) OnExecution(e engine.Execution) {
	s.write("trade", logrus.Fields{"trade": e.Trade.ID, "product": e.Trade.Product}, func(ctx context.Context) error {
		return s.w.SaveExecution(ctx, e)
	})
}

func (s *Sink) OnSettlement(t models.Trade) {
	s.write("settlement", logrus.Fields{"trade": t.ID, "settlement": t.Settlement}, func(ctx context.Context) error {
		return s.w.SaveSettlement(ctx, t)
	})
}

func (s *Sink) write(entity string, fields logrus.Fields, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	if s.guard != nil {
		err = s.guard.Execute(func() error { return fn(ctx) })
	} else {
		err = fn(ctx)
	}
	if s.metrics != nil {
		s.metrics.RecordStoreWrite(entity, err)
	}
	if err != nil {
		s.log.WithFields(fields).WithError(err).Errorf("failed to persist %s", entity)
	}
}
