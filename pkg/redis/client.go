// Package redis wraps go-redis/v9 with the one primitive the webhook needs: a
// TTL-bounded mutual-exclusion lock shared by every webhook replica.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brownbaglunch/webhook/pkg/config"
	"github.com/brownbaglunch/webhook/pkg/logger"
)

// ErrLockLost is returned by an unlock function when the lock expired and
// was taken by another holder before release.
var ErrLockLost = errors.New("lock no longer held")

// releaseScript deletes the key only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's TTL only when it still holds the caller's
// token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// TryLock takes key for ttl if nobody holds it. When acquired is false the
// returned unlock is nil. While held, the key's TTL is renewed every ttl/3 so
// a run longer than ttl keeps the lock; ttl only bounds how long a crashed
// holder blocks others. Unlock stops renewal and releases the key only if
// this holder still owns it.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	refresh := func(ctx context.Context) (bool, error) {
		n, err := refreshScript.Run(ctx, c.rdb, []string{key}, token, ttl.Milliseconds()).Int()
		if err != nil {
			return false, fmt.Errorf("renewing lock %s: %w", key, err)
		}
		return n == 1, nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(context.WithoutCancel(ctx), key, ttl/3, refresh, stop)
	}()

	var once sync.Once
	unlock = func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		<-done
		released, err := releaseScript.Run(ctx, c.rdb, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("releasing lock %s: %w", key, err)
		}
		if released == 0 {
			return ErrLockLost
		}
		return nil
	}
	return unlock, true, nil
}

// keepAlive calls refresh every interval until stop is closed or the lock is
// found to belong to someone else. Transient errors are logged and retried on
// the next tick.
func keepAlive(ctx context.Context, key string, interval time.Duration, refresh func(context.Context) (bool, error), stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			held, err := refresh(ctx)
			if err != nil {
				logger.FromContext(ctx).Warn("lock renewal failed", "key", key, "error", err)
				continue
			}
			if !held {
				logger.FromContext(ctx).Error("lock lost while held", "key", key)
				return
			}
		}
	}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
