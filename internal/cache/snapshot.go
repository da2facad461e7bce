package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// MarketSnapshot is a point-in-time copy of every book's depth.
type MarketSnapshot struct {
	Version   int64                                      `json:"version"`
	Timestamp time.Time                                  `json:"timestamp"`
	Books     map[models.ProductID]*engine.DepthSnapshot `json:"books"`
	Orders    int                                        `json:"orders"`
}

// BookSource is the engine view the snapshot manager reads.
type BookSource interface {
	Products() []models.Product
	Snapshot(product models.ProductID) engine.DepthSnapshot
}

// SnapshotStore persists market snapshots.
type SnapshotStore interface {
	SaveMarketSnapshot(ctx context.Context, snap *MarketSnapshot) error
}

// SnapshotManager periodically writes a market snapshot. The engine itself
// reseeds on restart, so snapshots serve external readers and audits.
type SnapshotManager struct {
	store    SnapshotStore
	source   BookSource
	interval time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
	done     chan struct{}
}

// NewSnapshotManager creates a snapshot manager.
func NewSnapshotManager(store SnapshotStore, source BookSource, interval time.Duration, log logrus.FieldLogger) *SnapshotManager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SnapshotManager{
		store:    store,
		source:   source,
		interval: interval,
		log:      log,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Run writes snapshots until ctx is done or Stop is called.
func (s *SnapshotManager) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).Info("auto snapshot started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			snap, err := s.CreateSnapshot(ctx)
			if err != nil {
				s.log.WithError(err).Warn("failed to create snapshot")
				continue
			}
			s.log.WithFields(logrus.Fields{
				"version": snap.Version,
				"books":   len(snap.Books),
			}).Debug("snapshot created")
		}
	}
}

// Stop stops the automatic snapshot process.
func (s *SnapshotManager) Stop() {
	close(s.done)
}

// CreateSnapshot captures and stores the depth of every product.
func (s *SnapshotManager) CreateSnapshot(ctx context.Context) (*MarketSnapshot, error) {
	snap := &MarketSnapshot{
		Timestamp: s.now().UTC(),
		Books:     make(map[models.ProductID]*engine.DepthSnapshot),
	}

	for _, p := range s.source.Products() {
		depth := s.source.Snapshot(p.ID)
		for _, lvl := range depth.Bids {
			snap.Orders += lvl.Orders
		}
		for _, lvl := range depth.Asks {
			snap.Orders += lvl.Orders
		}
		snap.Books[p.ID] = &depth
	}

	if err := s.store.SaveMarketSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
