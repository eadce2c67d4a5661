package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/extend_lock.lua
var extendLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	extendScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		extendScript:  redis.NewScript(extendLockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock tries to take a lock. On success it returns the owner token
// needed to release it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, lockName(lockKey), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a lock if token still owns it. A lock that already
// expired or was taken over is left alone.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	if _, err := c.releaseScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, token).Result(); err != nil {
		return fmt.Errorf("release lock %s: %w", lockKey, err)
	}
	return nil
}

// ExtendLock pushes the expiry of a lock still owned by token
func (c *Client) ExtendLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	res, err := c.extendScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", lockKey, err)
	}
	return res == 1, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyName(key), value, ttl).Err()
}

// GetIdempotencyKey returns the value stored for an idempotency key
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyName(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func lockName(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

func idempotencyName(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}
