// Package redis implements the engine's Redis-backed components:
// the profile read cache, per-student item exposure tracking, and the
// pub/sub transport behind the cross-instance event bus.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss means the key is absent. Callers fall through to
	// the store of record.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection wraps a failed connection attempt.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization wraps a JSON encode/decode failure.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	// ErrCacheKeyEmpty rejects operations on an empty key.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")

	// ErrCacheNilValue rejects caching nil.
	ErrCacheNilValue = errors.New("cache: value cannot be nil")
)

// Key prefixes. Every engine key is namespaced so a shared Redis
// instance stays legible.
const (
	PrefixProfile  = "profile:"
	PrefixExposure = "exposure:"
)

const (
	// TTLProfileCache bounds profile staleness. The cache is
	// invalidated on every commit; the TTL only matters when an
	// invalidation is lost.
	TTLProfileCache = 10 * time.Minute

	// TTLExposureWindow is how long exposure records persist.
	// Exposures older than this no longer influence the recency
	// tie-break in item selection.
	TTLExposureWindow = 30 * 24 * time.Hour
)

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// Addr renders host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Cache wraps a Redis client with JSON serialization. The typed
// caches in this package (ProfileCache, ExposureTracker) are built on
// top of it.
type Cache struct {
	client *redis.Client
	config Config
}

// NewCache connects to Redis and verifies the connection with a ping.
func NewCache(cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return &Cache{client: client, config: cfg}, nil
}

// Client exposes the underlying go-redis client for operations the
// JSON wrapper does not cover (sorted sets, pub/sub).
func (c *Cache) Client() *redis.Client { return c.client }

// Ping checks reachability.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Cache) Close() error { return c.client.Close() }

// ══════════════════════════════════════════════════════════════════════════════
// JSON OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Set stores value under key as JSON with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	switch {
	case key == "":
		return ErrCacheKeyEmpty
	case value == nil:
		return ErrCacheNilValue
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get loads key into dest. Returns ErrCacheMiss when absent.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

// Delete removes keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeleteByPattern removes every key matching pattern, deleting in
// batches as the SCAN cursor advances.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) error {
	if pattern == "" {
		return ErrCacheKeyEmpty
	}

	const batch = 100
	iter := c.client.Scan(ctx, 0, pattern, batch).Iterator()

	pending := make([]string, 0, batch)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := c.client.Del(ctx, pending...).Err()
		pending = pending[:0]
		return err
	}

	for iter.Next(ctx) {
		pending = append(pending, iter.Val())
		if len(pending) == batch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// KEY BUILDERS
// ══════════════════════════════════════════════════════════════════════════════

// ProfileKey is the cache key for one (student, skill) profile.
func ProfileKey(studentID, skillID string) string {
	return PrefixProfile + studentID + ":" + skillID
}

// StudentProfilePattern matches every cached profile for a student.
func StudentProfilePattern(studentID string) string {
	return PrefixProfile + studentID + ":*"
}

// ExposureKey is the sorted-set key holding a student's item exposures.
func ExposureKey(studentID string) string {
	return PrefixExposure + studentID
}
