package domain

import (
	"context"
	"time"
)

// Cache stores serialized context statistics between scans.
// Backed by a local LRU (Community), Redis (Pro), or both.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// DeletePrefix drops every key starting with prefix, e.g. all statistics of one customer.
	DeletePrefix(ctx context.Context, prefix string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type" toml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int `json:"localMaxSize" yaml:"local_max_size" toml:"local_max_size"`
	LocalTTLSec  int `json:"localTtlSec" yaml:"local_ttl_sec" toml:"local_ttl_sec"`

	// Redis settings (Pro tier)
	RedisAddr      string `json:"redisAddr" yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword  string `json:"-" yaml:"redis_password" toml:"redis_password"`
	RedisDB        int    `json:"redisDb" yaml:"redis_db" toml:"redis_db"`
	RedisNamespace string `json:"redisNamespace" yaml:"redis_namespace" toml:"redis_namespace"` // key prefix, default "kestrel"

	// EnableTwoPhase reads the local LRU before Redis.
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enable_two_phase" toml:"enable_two_phase"`

	// StatsTTLSec bounds how long customer statistics are reused across scans.
	StatsTTLSec int `json:"statsTtlSec" yaml:"stats_ttl_sec" toml:"stats_ttl_sec"`
}

// LocalTTL returns the L1 TTL as a duration.
func (c CacheConfig) LocalTTL() time.Duration {
	return time.Duration(c.LocalTTLSec) * time.Second
}

// StatsTTL returns the statistics TTL as a duration.
func (c CacheConfig) StatsTTL() time.Duration {
	return time.Duration(c.StatsTTLSec) * time.Second
}
