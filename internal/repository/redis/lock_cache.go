package redis

import (
	"context"
	"fmt"
	"time"

	"policy-core/internal/client"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const lockPrefix = "policy_core:lock:"

// releaseScript deletes the lock only while it still holds the caller's token.
const releaseScript = `
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`

// LockCache is a single-holder lock with an expiry, used to keep scheduled
// jobs from running on more than one instance at a time.
type LockCache struct {
	client *client.RedisClient
	logger *zap.Logger
}

func NewLockCache(client *client.RedisClient, logger *zap.Logger) *LockCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockCache{client: client, logger: logger}
}

// TryLock takes key for ttl. acquired is false when another holder has it.
func (c *LockCache) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, lockPrefix+key, token, ttl)
	if err != nil {
		c.logger.Error("Failed to set lock", zap.String("key", key), zap.Duration("ttl", ttl), zap.Error(err))
		return "", false, fmt.Errorf("failed to set lock: %w", err)
	}
	if !ok {
		c.logger.Debug("Lock held elsewhere", zap.String("key", key))
		return "", false, nil
	}
	c.logger.Debug("Lock acquired", zap.String("key", key), zap.Duration("ttl", ttl))
	return token, true, nil
}

// Unlock releases key if token still owns it. A lock that expired and was
// taken by someone else is left alone.
func (c *LockCache) Unlock(ctx context.Context, key, token string) error {
	res, err := c.client.Eval(ctx, releaseScript, []string{lockPrefix + key}, token)
	if err != nil {
		c.logger.Error("Failed to release lock", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		c.logger.Warn("Lock was no longer held at release", zap.String("key", key))
	}
	return nil
}
