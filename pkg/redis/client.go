// Package redis wraps go-redis with the pool settings and primitives the
// ad-slot service relies on: hash counters, optimistic transactions and locks.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/adslot/internal/config"
)

// ErrLockHeld is returned when another holder owns the lock
var ErrLockHeld = errors.New("redis: lock already held")

// ErrTxConflict is returned when a watched key changed before EXEC
var ErrTxConflict = errors.New("redis: transaction conflict")

// Nil is returned by reads of missing keys
const Nil = redis.Nil

// releaseLua deletes the lock key only when it still holds the caller's token
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Client wraps a Redis connection pool
type Client struct {
	client    *redis.Client
	releaseSc *redis.Script
}

// ClientConfig holds configuration for the Redis client
type ClientConfig struct {
	PoolSize     int
	MinIdleConns int
	MaxConnAge   time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultClientConfig returns production-ready configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		PoolSize:     config.RedisPoolSize,
		MinIdleConns: 10,
		MaxConnAge:   30 * time.Minute,
		DialTimeout:  5 * time.Second,
		// wallet writes sit on the billing path, keep socket timeouts short
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolTimeout:  2 * time.Second,
	}
}

// New creates a new Redis client from a URL with default configuration
func New(redisURL string) (*Client, error) {
	return NewWithConfig(redisURL, DefaultClientConfig())
}

// NewWithConfig creates a new Redis client with custom configuration
func NewWithConfig(redisURL string, cfg *ClientConfig) (*Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is empty")
	}

	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.ConnMaxLifetime = cfg.MaxConnAge
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Not fatal: commands retry on their own connections
		log.Warn().Err(err).Str("address", opts.Addr).Msg("Redis connection test failed")
	} else {
		log.Info().
			Str("address", opts.Addr).
			Int("pool_size", cfg.PoolSize).
			Msg("Redis connected")
	}

	return &Client{client: client, releaseSc: redis.NewScript(releaseLua)}, nil
}

// Get returns a string value, "" when missing
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	result, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return result, err
}

// HGet returns a hash field, "" when missing
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	result, err := c.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return result, err
}

// HSet sets hash fields
func (c *Client) HSet(ctx context.Context, key string, values ...interface{}) error {
	return c.client.HSet(ctx, key, values...).Err()
}

// HGetAll gets all fields and values from a hash
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.client.HGetAll(ctx, key).Result()
}

// HIncrBy atomically increments an integer hash field
func (c *Client) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return c.client.HIncrBy(ctx, key, field, incr).Result()
}

// HIncrByFloat atomically increments a float hash field
func (c *Client) HIncrByFloat(ctx context.Context, key, field string, incr float64) (float64, error) {
	return c.client.HIncrByFloat(ctx, key, field, incr).Result()
}

// Optimistic runs fn inside WATCH on keys. fn reads through tx and returns the
// writes to queue; they are applied with MULTI/EXEC. ErrTxConflict is returned
// when a watched key changed in between.
func (c *Client) Optimistic(ctx context.Context, fn func(tx *redis.Tx) (func(redis.Pipeliner) error, error), keys ...string) error {
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		writes, err := fn(tx)
		if err != nil {
			return err
		}
		if writes == nil {
			return nil
		}
		_, err = tx.TxPipelined(ctx, writes)
		return err
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrTxConflict
	}
	return err
}

// Pipelined sends the commands queued by fn in one round trip
func (c *Client) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	_, err := c.client.Pipelined(ctx, fn)
	return err
}

// Acquire takes a lock on key for ttl. The returned release func is safe to
// call more than once. ErrLockHeld is returned when the lock is taken.
func (c *Client) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := "lock:" + key

	ok, err := c.client.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// caller's context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.releaseSc.Run(releaseCtx, c.client, []string{lk}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to release redis lock")
		}
	}
	return release, nil
}

// Ping tests the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.client.Close()
}

// PoolStats returns connection pool statistics for monitoring
func (c *Client) PoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}
