package ratelimit

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"policy-core/internal/bucketing"
	"policy-core/internal/hashing"

	"go.uber.org/zap"
)

// Decision describes the outcome of one Check.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type counter struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu       sync.Mutex
	counters map[string]*counter
}

// Limiter is a process-local fixed-window limiter. Counters are partitioned
// into shards by key hash; callers sharing a fingerprint serialize on one
// shard mutex while unrelated fingerprints rarely contend.
type Limiter struct {
	buckets *bucketing.Manager
	shards  []*shard
	now     func() time.Time
	logger  *zap.Logger
}

func NewLimiter(buckets *bucketing.Manager, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		buckets: buckets,
		shards:  make([]*shard, buckets.LimiterShards()),
		now:     time.Now,
		logger:  logger,
	}
	for i := range l.shards {
		l.shards[i] = &shard{counters: make(map[string]*counter)}
	}
	return l
}

// Allow reports whether one more request from fingerprint fits in the
// current window.
func (l *Limiter) Allow(fingerprint string, limit int, window time.Duration) bool {
	return l.Check(fingerprint, limit, window).Allowed
}

// Check opens a fresh window on first use or once now is past the window
// end, and otherwise counts the request while the count is below limit.
// A rejected request does not advance the counter.
func (l *Limiter) Check(fingerprint string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	now := l.now()

	s := l.shardFor(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[fingerprint]
	switch {
	case !ok || now.After(c.resetAt):
		c = &counter{count: 1, resetAt: now.Add(window)}
		s.counters[fingerprint] = c
	case c.count < limit:
		c.count++
	default:
		return Decision{Allowed: false, Count: c.count, Limit: limit, ResetAt: c.resetAt}
	}

	return Decision{
		Allowed:   true,
		Count:     c.count,
		Limit:     limit,
		Remaining: limit - c.count,
		ResetAt:   c.resetAt,
	}
}

// Sweep drops counters whose window has already ended and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for k, c := range s.counters {
			if now.After(c.resetAt) {
				delete(s.counters, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					l.logger.Debug("Swept expired rate limit counters", zap.Int("removed", n))
				}
			}
		}
	}()
}

// Len returns the number of live counters.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.counters)
		s.mu.Unlock()
	}
	return n
}

func (l *Limiter) shardFor(key string) *shard {
	return l.shards[l.buckets.LimiterShard(key)]
}

// Fingerprint derives the limiter key for a caller from its network
// address (port stripped), user agent and client-supplied id.
func Fingerprint(f *hashing.Fingerprinter, remoteAddr, userAgent, clientID string) string {
	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return f.Fingerprint(host, strings.TrimSpace(userAgent), strings.TrimSpace(clientID))
}
