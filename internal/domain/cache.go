package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// GetRiskMetrics returns the cached latest metrics for a merchant, or nil.
	GetRiskMetrics(ctx context.Context, merchantID string) (*RiskMetrics, error)

	// SetRiskMetrics caches the latest metrics for a merchant.
	SetRiskMetrics(ctx context.Context, m *RiskMetrics, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for rate limiting dataset generation.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis

	// MetricsTTL is how long the latest RiskMetrics stay cached.
	MetricsTTL time.Duration
}
