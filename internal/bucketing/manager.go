package bucketing

import (
	"hash"
	"sync"
	"time"

	"policy-core/internal/config"

	"github.com/spaolacci/murmur3"
)

// Manager maps keys onto fixed bucket ranges with murmur3. The same key
// always lands in the same bucket for a given bucket count.
type Manager struct {
	limiterShards int
	eventBuckets  int
	hasherPool    sync.Pool
}

func NewManager(cfg config.BucketingConfig) *Manager {
	return New(cfg.LimiterShards, cfg.EventBuckets)
}

func New(limiterShards, eventBuckets int) *Manager {
	if limiterShards <= 0 {
		limiterShards = 1
	}
	if eventBuckets <= 0 {
		eventBuckets = 1
	}
	m := &Manager{
		limiterShards: limiterShards,
		eventBuckets:  eventBuckets,
	}

	// Pooled hashers avoid an allocation per lookup on the request path.
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return m
}

// LimiterShard returns the rate-limiter shard (0 to LimiterShards-1) for a
// client fingerprint.
func (m *Manager) LimiterShard(key string) int {
	return m.getBucket(key, m.limiterShards)
}

// EventBucket returns the security-event partition for an identity key.
func (m *Manager) EventBucket(key string) int {
	return m.getBucket(key, m.eventBuckets)
}

// DateBucket returns the UTC day partition for t.
func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (m *Manager) LimiterShards() int {
	return m.limiterShards
}

func (m *Manager) EventBuckets() int {
	return m.eventBuckets
}

func (m *Manager) getBucket(key string, numBuckets int) int {
	return int(m.getHash(key) % uint64(numBuckets))
}

func (m *Manager) getHash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}
