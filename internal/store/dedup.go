package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DedupStore records settlement messages that were already applied so a
// redelivered message cannot revert a trade twice across restarts.
type DedupStore struct {
	db          *sql.DB
	ttl         time.Duration
	log         logrus.FieldLogger
	cleanupDone chan struct{}
}

type DedupConfig struct {
	MessageTTL      time.Duration
	CleanupInterval time.Duration
}

func DefaultDedupConfig() *DedupConfig {
	return &DedupConfig{
		MessageTTL:      7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

func NewDedupStore(db *sql.DB, config *DedupConfig, log logrus.FieldLogger) *DedupStore {
	if config == nil {
		config = DefaultDedupConfig()
	}

	store := &DedupStore{
		db:          db,
		ttl:         config.MessageTTL,
		log:         log,
		cleanupDone: make(chan struct{}),
	}

	go store.startCleanup(config.CleanupInterval)

	return store
}

func (s *DedupStore) Stop() {
	close(s.cleanupDone)
}

func (s *DedupStore) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupDone:
			s.log.Debug("dedup cleanup stopped")
			return
		case <-ticker.C:
			count, err := s.CleanupExpired(context.Background())
			if err != nil {
				s.log.WithError(err).Warn("failed to cleanup expired messages")
			} else if count > 0 {
				s.log.WithField("count", count).Info("cleaned up expired message records")
			}
		}
	}
}

func (s *DedupStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM processed_messages
			WHERE message_id = $1 AND expires_at > NOW()
		)
	`
	var exists bool
	err := s.db.QueryRowContext(ctx, query, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message processed status: %w", err)
	}
	return exists, nil
}

func (s *DedupStore) MarkProcessed(ctx context.Context, messageID, eventType string) error {
	query := `
		INSERT INTO processed_messages (message_id, event_type, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, messageID, eventType, time.Now().Add(s.ttl))
	if err != nil {
		return fmt.Errorf("failed to mark message as processed: %w", err)
	}
	return nil
}

func (s *DedupStore) CleanupExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM processed_messages WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired messages: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(count), nil
}

type DedupStats struct {
	TotalCount   int              `json:"total_count"`
	ExpiredCount int              `json:"expired_count"`
	ByEventType  []EventTypeCount `json:"by_event_type"`
}

type EventTypeCount struct {
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
}

func (s *DedupStore) GetStats(ctx context.Context) (*DedupStats, error) {
	stats := &DedupStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE expires_at < NOW())
		FROM processed_messages
	`).Scan(&stats.TotalCount, &stats.ExpiredCount)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) AS count
		FROM processed_messages
		GROUP BY event_type
		ORDER BY event_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c EventTypeCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			return nil, err
		}
		stats.ByEventType = append(stats.ByEventType, c)
	}

	return stats, rows.Err()
}
