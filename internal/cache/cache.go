package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// resultPrefix namespaces cached analysis results by their result key.
const resultPrefix = "result:"

// New creates a new cache based on configuration.
// "memory" returns an LRU cache, "redis" returns Redis (optionally behind
// a local LRU) and "none" disables caching.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	case "none", "":
		return Noop{}, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

type getter func(ctx context.Context, key string) ([]byte, error)

type setter func(ctx context.Context, key string, value []byte, ttl time.Duration) error

func getResult(ctx context.Context, get getter, digest string) (*domain.FileResult, error) {
	data, err := get(ctx, resultPrefix+digest)
	if err != nil || data == nil {
		return nil, err
	}

	var res domain.FileResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding cached result %s: %w", digest, err)
	}
	return &res, nil
}

func setResult(ctx context.Context, set setter, digest string, res *domain.FileResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return set(ctx, resultPrefix+digest, data, ttl)
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis shared by every node
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// GetResult retrieves a cached analysis result.
func (c *TwoPhaseCache) GetResult(ctx context.Context, digest string) (*domain.FileResult, error) {
	return getResult(ctx, c.Get, digest)
}

// SetResult caches an analysis result in both L1 and L2.
func (c *TwoPhaseCache) SetResult(ctx context.Context, digest string, res *domain.FileResult, ttl time.Duration) error {
	return setResult(ctx, c.Set, digest, res, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// Noop is a cache that stores nothing. Every lookup misses.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error)                   { return nil, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error      { return nil }
func (Noop) Delete(context.Context, string) error                          { return nil }
func (Noop) GetResult(context.Context, string) (*domain.FileResult, error) { return nil, nil }
func (Noop) Ping(context.Context) error                                    { return nil }
func (Noop) Close() error                                                  { return nil }
func (Noop) SetResult(context.Context, string, *domain.FileResult, time.Duration) error {
	return nil
}
