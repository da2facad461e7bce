package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a per-caller token bucket. Authenticated callers are
// keyed by wallet, everyone else by client IP.
type RateLimiter struct {
	rate      float64
	burst     int
	skipPaths []string
	store     *InMemoryRateStore
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	Enabled           bool
	SkipPrefixes      []string
}

func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             100,
		Enabled:           true,
		SkipPrefixes:      []string{"/admin/health", "/metrics"},
	}
}

func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	var store *InMemoryRateStore
	if config.Enabled && config.RequestsPerSecond > 0 && config.Burst > 0 {
		store = NewInMemoryRateStore()
	}

	return &RateLimiter{
		rate:      config.RequestsPerSecond,
		burst:     config.Burst,
		skipPaths: config.SkipPrefixes,
		store:     store,
	}
}

func (r *RateLimiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.store == nil {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		for _, prefix := range r.skipPaths {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		remaining, resetTime, allowed := r.store.Take(r.key(c), r.rate, r.burst)

		c.Header("X-RateLimit-Limit", strconv.Itoa(r.burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", resetTime.Format(time.RFC3339))

		if !allowed {
			retryAfter := time.Until(resetTime)
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, please retry later",
				"code":  "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		c.Next()
	}
}

func (r *RateLimiter) key(c *gin.Context) string {
	if claims, ok := GetClaims(c); ok && claims.Wallet != "" {
		return "wallet:" + claims.Wallet
	}
	return "ip:" + c.ClientIP()
}

// InMemoryRateStore holds one bucket per key. It is process-local.
type InMemoryRateStore struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	now     func() time.Time
}

type TokenBucket struct {
	Tokens     float64
	LastRefill time.Time
}

func NewInMemoryRateStore() *InMemoryRateStore {
	return &InMemoryRateStore{
		buckets: make(map[string]*TokenBucket),
		now:     time.Now,
	}
}

// Take consumes one token for key. It returns the tokens left, when the
// next token becomes available and whether the request is allowed.
func (s *InMemoryRateStore) Take(key string, rate float64, burst int) (int, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	bucket, exists := s.buckets[key]
	if !exists {
		bucket = &TokenBucket{Tokens: float64(burst), LastRefill: now}
		s.buckets[key] = bucket
	}

	bucket.Tokens += now.Sub(bucket.LastRefill).Seconds() * rate
	if bucket.Tokens > float64(burst) {
		bucket.Tokens = float64(burst)
	}
	bucket.LastRefill = now

	if bucket.Tokens >= 1 {
		bucket.Tokens--
		return int(bucket.Tokens), now, true
	}

	wait := time.Duration((1 - bucket.Tokens) / rate * float64(time.Second))
	return 0, now.Add(wait), false
}

func (s *InMemoryRateStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
}
