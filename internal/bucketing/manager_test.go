package bucketing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucketsAreStableAndInRange(t *testing.T) {
	m := New(8, 4)

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("client-%d", i)
		shard := m.LimiterShard(key)
		assert.GreaterOrEqual(t, shard, 0)
		assert.Less(t, shard, 8)
		assert.Equal(t, shard, m.LimiterShard(key))

		bucket := m.EventBucket(key)
		assert.GreaterOrEqual(t, bucket, 0)
		assert.Less(t, bucket, 4)
	}
}

func TestKeysSpreadAcrossShards(t *testing.T) {
	m := New(16, 1)
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		seen[m.LimiterShard(fmt.Sprintf("fp-%d", i))] = true
	}
	assert.Greater(t, len(seen), 8)
}

func TestNonPositiveCountsFallBackToOne(t *testing.T) {
	m := New(0, -3)
	assert.Equal(t, 1, m.LimiterShards())
	assert.Equal(t, 1, m.EventBuckets())
	assert.Equal(t, 0, m.LimiterShard("anything"))
}

func TestDateBucketIsUTC(t *testing.T) {
	m := New(1, 1)
	loc := time.FixedZone("UTC+10", 10*3600)
	ts := time.Date(2024, 3, 2, 5, 0, 0, 0, loc)
	assert.Equal(t, "2024-03-01", m.DateBucket(ts))
}
