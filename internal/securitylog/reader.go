package securitylog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"policy-core/internal/apperrors"
	"policy-core/internal/bucketing"
	"policy-core/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500

	maxBucketReads = 8
)

// Source reads one bucket of one day, newest first.
type Source interface {
	ListSecurityEvents(ctx context.Context, bucket int, date string, limit int) ([]models.SecurityEvent, error)
}

// Reader merges the per-bucket partitions of a day into one timeline.
type Reader struct {
	source  Source
	buckets *bucketing.Manager
	logger  *zap.Logger
}

// NewReader accepts a nil source; Recent then fails with
// apperrors.ErrUnavailable.
func NewReader(source Source, buckets *bucketing.Manager, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{source: source, buckets: buckets, logger: logger}
}

// Recent returns up to limit events recorded on the UTC day of day, newest
// first. limit is clamped to [1, MaxListLimit].
func (r *Reader) Recent(ctx context.Context, day time.Time, limit int) ([]models.SecurityEvent, error) {
	if r.source == nil {
		return nil, fmt.Errorf("security events: %w", apperrors.ErrUnavailable)
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	date := r.buckets.DateBucket(day)

	n := r.buckets.EventBuckets()
	parts := make([][]models.SecurityEvent, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBucketReads)
	for bucket := 0; bucket < n; bucket++ {
		bucket := bucket
		g.Go(func() error {
			events, err := r.source.ListSecurityEvents(gctx, bucket, date, limit)
			if err != nil {
				return fmt.Errorf("bucket %d: %w", bucket, err)
			}
			parts[bucket] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("Failed to read security events", zap.String("date", date), zap.Error(err))
		return nil, err
	}

	var out []models.SecurityEvent
	for _, p := range parts {
		out = append(out, p...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventTime.After(out[j].EventTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
