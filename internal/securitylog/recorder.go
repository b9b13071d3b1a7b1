package securitylog

import (
	"context"
	"strings"
	"sync"
	"time"

	"policy-core/internal/bucketing"
	"policy-core/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists security events.
type Store interface {
	InsertSecurityEvent(ctx context.Context, evt models.SecurityEvent) error
}

// Recorder writes security events in the background. Losing an event never
// affects the request that produced it. A nil *Recorder drops everything.
type Recorder struct {
	store   Store
	buckets *bucketing.Manager
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewRecorder(store Store, buckets *bucketing.Manager, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:   store,
		buckets: buckets,
		timeout: 2 * time.Second,
		now:     time.Now,
		logger:  logger,
	}
}

// Record fills in the partition keys, id and timestamp and writes evt.
func (r *Recorder) Record(evt models.SecurityEvent) {
	if r == nil || r.store == nil {
		return
	}
	now := r.now().UTC()
	evt.EventTime = now
	evt.EventDate = r.buckets.DateBucket(now)
	evt.EventID = uuid.NewString()
	evt.EventBucket = r.buckets.EventBucket(partitionKey(evt))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.store.InsertSecurityEvent(ctx, evt); err != nil {
			r.logger.Warn("Failed to record security event",
				zap.String("event_type", string(evt.EventType)),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every queued write has finished.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

func partitionKey(evt models.SecurityEvent) string {
	switch {
	case evt.IdentityID != "":
		return evt.IdentityID
	case evt.Email != "":
		return strings.ToLower(evt.Email)
	default:
		return evt.Fingerprint
	}
}
