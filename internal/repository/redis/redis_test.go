package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"policy-core/internal/client"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) (*client.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return client.NewRedisClientFrom(rdb, zap.NewNop()), mr
}

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	rc, _ := newTestClient(t)
	locks := NewLockCache(rc, nil)
	ctx := context.Background()

	token, ok, err := locks.TryLock(ctx, "archival", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = locks.TryLock(ctx, "archival", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locks.Unlock(ctx, "archival", token))

	_, ok, err = locks.TryLock(ctx, "archival", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockWithStaleTokenKeepsNewHolder(t *testing.T) {
	rc, mr := newTestClient(t)
	locks := NewLockCache(rc, nil)
	ctx := context.Background()

	stale, ok, err := locks.TryLock(ctx, "archival", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locks.TryLock(ctx, "archival", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locks.Unlock(ctx, "archival", stale))
	assert.True(t, mr.Exists(lockPrefix+"archival"))
}

type countingTarget struct{ n atomic.Int32 }

func (c *countingTarget) Invalidate() { c.n.Add(1) }

func TestPolicyBroadcastReachesPeersOnly(t *testing.T) {
	rc, _ := newTestClient(t)
	self := NewPolicyBroadcast(rc, nil)
	peer := NewPolicyBroadcast(rc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	selfTarget, peerTarget := &countingTarget{}, &countingTarget{}
	selfReady, peerReady := make(chan struct{}), make(chan struct{})
	go func() { _ = self.Listen(ctx, selfTarget, selfReady) }()
	go func() { _ = peer.Listen(ctx, peerTarget, peerReady) }()
	<-selfReady
	<-peerReady

	self.Invalidate()

	assert.Eventually(t, func() bool { return peerTarget.n.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), selfTarget.n.Load())
}
