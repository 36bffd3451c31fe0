package domain

import (
	"context"
	"time"
)

// Cache stores serialized analysis results keyed by upload content hash.
// Two-phase caching is supported: local LRU in front of Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetResult retrieves a cached file result.
	GetResult(ctx context.Context, digest string) (*FileResult, error)

	// SetResult caches a file result.
	SetResult(ctx context.Context, digest string, result *FileResult, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory", "redis" or "none"
	Type string `koanf:"type" validate:"oneof=memory redis none"`

	// Local LRU cache settings
	LocalMaxSize int           `koanf:"localmaxsize"`
	LocalTTL     time.Duration `koanf:"localttl"`

	// Redis settings
	RedisAddr     string `koanf:"redisaddr"`
	RedisPassword string `koanf:"redispassword"`
	RedisDB       int    `koanf:"redisdb"`

	// EnableTwoPhase checks the local LRU first, then Redis.
	EnableTwoPhase bool `koanf:"enabletwophase"`

	// ResultTTL is how long a finished analysis stays cached.
	ResultTTL time.Duration `koanf:"resultttl"`
}
