package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// Deletes or extends the key only while it still holds the caller's token.
var (
	unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
)

// LockManager hands out SET NX locks with a TTL. The trading app takes one
// per wallet so two instances never trade the same funds.
type LockManager struct {
	c *Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.c.Key("lock:" + key)
}

// Acquire takes the lock or returns domain.ErrLockHeld. The unlock func
// releases it only if this holder still owns it and is safe to call twice.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.lockKey(key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context is usually cancelled by now.
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = unlockScript.Run(uctx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Hold acquires key and keeps extending it every ttl/3 until ctx is done,
// then releases it. It returns domain.ErrLockHeld if another holder owns
// the key, or when ownership is lost while holding.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) error {
	token := uuid.NewString()
	lk := lm.lockKey(key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return domain.ErrLockHeld
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = unlockScript.Run(uctx, lm.c.rdb, []string{lk}, token).Err()
	}()

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := extendScript.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("redis: extend lock %s: %w", key, err)
			}
			if n == 0 {
				return fmt.Errorf("redis: lock %s lost: %w", key, domain.ErrLockHeld)
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
