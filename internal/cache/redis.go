package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Easycoder-lin/CHU-sub000/internal/config"
	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// RedisCache mirrors engine read models into Redis for readers outside
// the process. The engine stays the source of truth.
//
// CACHING STRATEGY:
//   - Top of book: hash per product, refreshed on every book change
//   - Depth: JSON snapshot per product with a short TTL
//   - Recent trades: capped list per product
//   - Order status: short-lived key per order
type RedisCache struct {
	client     redis.UniversalClient
	depthTTL   time.Duration
	tradesTTL  time.Duration
	statusTTL  time.Duration
	tradesKeep int64
}

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// NewRedisCache initializes a Redis connection.
func NewRedisCache(ctx context.Context, cfg *config.Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.GetRedisAddr(), err)
	}

	return newRedisCache(client), nil
}

func newRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{
		client:     client,
		depthTTL:   30 * time.Second,
		tradesTTL:  24 * time.Hour,
		statusTTL:  time.Minute,
		tradesKeep: 100,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func bestKey(p models.ProductID) string   { return "book:best:" + string(p) }
func depthKey(p models.ProductID) string  { return "book:depth:" + string(p) }
func tradesKey(p models.ProductID) string { return "trades:recent:" + string(p) }
func statusKey(id string) string          { return "order:status:" + id }

const (
	snapshotVersionKey = "book:snapshot:version"
	snapshotPrefix     = "book:snapshot:v"
)

// bestFields flattens a summary into hash fields. Missing sides are empty.
func bestFields(s engine.MarketSummary) map[string]interface{} {
	fields := map[string]interface{}{
		"best_bid":  "",
		"best_ask":  "",
		"spread":    "",
		"can_cross": strconv.FormatBool(s.CanCross),
	}
	if s.BestBid != nil {
		fields["best_bid"] = s.BestBid.String()
	}
	if s.BestAsk != nil {
		fields["best_ask"] = s.BestAsk.String()
	}
	if s.Spread != nil {
		fields["spread"] = s.Spread.String()
	}
	return fields
}

// SetDepth caches the depth snapshot and top of book of a product.
func (c *RedisCache) SetDepth(ctx context.Context, snap engine.DepthSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal depth %s: %w", snap.Product, err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, depthKey(snap.Product), data, c.depthTTL)
	pipe.HSet(ctx, bestKey(snap.Product), bestFields(snap.Summary()))
	pipe.Expire(ctx, bestKey(snap.Product), c.depthTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache depth %s: %w", snap.Product, err)
	}
	return nil
}

// GetDepth retrieves a cached depth snapshot.
func (c *RedisCache) GetDepth(ctx context.Context, product models.ProductID) (*engine.DepthSnapshot, error) {
	data, err := c.client.Get(ctx, depthKey(product)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}

	var snap engine.DepthSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode depth %s: %w", product, err)
	}
	return &snap, nil
}

// GetBest retrieves the cached top of book as raw hash fields.
func (c *RedisCache) GetBest(ctx context.Context, product models.ProductID) (map[string]string, error) {
	fields, err := c.client.HGetAll(ctx, bestKey(product)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}
	return fields, nil
}

// AddRecentTrade pushes a trade onto the product's recent trades list.
func (c *RedisCache) AddRecentTrade(ctx context.Context, trade models.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal trade %s: %w", trade.ID, err)
	}

	key := tradesKey(trade.Product)
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, c.tradesKeep-1)
	pipe.Expire(ctx, key, c.tradesTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// GetRecentTrades retrieves up to limit recent trades, newest first.
func (c *RedisCache) GetRecentTrades(ctx context.Context, product models.ProductID, limit int64) ([]models.Trade, error) {
	values, err := c.client.LRange(ctx, tradesKey(product), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	return decodeTrades(values), nil
}

func decodeTrades(values []string) []models.Trade {
	trades := make([]models.Trade, 0, len(values))
	for _, v := range values {
		var trade models.Trade
		if err := json.Unmarshal([]byte(v), &trade); err != nil {
			continue
		}
		trades = append(trades, trade)
	}
	return trades
}

// SetOrderStatus caches an order's status.
func (c *RedisCache) SetOrderStatus(ctx context.Context, o models.Order) error {
	return c.client.Set(ctx, statusKey(o.ID), string(o.Status), c.statusTTL).Err()
}

// GetOrderStatus retrieves cached order status.
func (c *RedisCache) GetOrderStatus(ctx context.Context, orderID string) (models.Status, error) {
	s, err := c.client.Get(ctx, statusKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return models.Status(s), err
}

// SaveMarketSnapshot stores a versioned snapshot of every book.
func (c *RedisCache) SaveMarketSnapshot(ctx context.Context, snap *MarketSnapshot) error {
	version, err := c.client.Incr(ctx, snapshotVersionKey).Result()
	if err != nil {
		return fmt.Errorf("snapshot version: %w", err)
	}
	snap.Version = version

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, snapshotPrefix+strconv.FormatInt(version, 10), data, 24*time.Hour)
	if version > 1 {
		pipe.Del(ctx, snapshotPrefix+strconv.FormatInt(version-1, 10))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// LoadMarketSnapshot loads the latest snapshot.
func (c *RedisCache) LoadMarketSnapshot(ctx context.Context) (*MarketSnapshot, error) {
	version, err := c.client.Get(ctx, snapshotVersionKey).Int64()
	if errors.Is(err, redis.Nil) || version == 0 {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}

	data, err := c.client.Get(ctx, snapshotPrefix+strconv.FormatInt(version, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}

	var snap MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot v%d: %w", version, err)
	}
	return &snap, nil
}
